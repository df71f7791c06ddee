// Package population owns pool membership: leasing agents to callers,
// termination with knowledge harvesting, genesis spawning, reproduction,
// and the scale-up/scale-down pass.
package population

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/config"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/evolution"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/knowledge"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/logging"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/notify"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/store"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/types"
)

// ErrNoAgent is returned by RequestAgent when no idle agent can serve the
// role. Callers leave their task unassigned and retry later.
var ErrNoAgent = errors.New("population: no idle agent for role")

// ScaleResult summarizes one scaling pass.
type ScaleResult struct {
	Current int
	Pending int
	Target  int
	Spawned int // Genesis spawns this pass
	Bred    int // Single-parent offspring this pass
}

// Manager is the population authority. All membership changes go through it
// so harvesting and audit trails are never skipped.
type Manager struct {
	mu sync.Mutex

	cfg       config.PopulationConfig
	existence config.ExistenceConfig
	engine    *evolution.Engine
	harvester *knowledge.Harvester
	st        store.Store
	notifier  notify.Notifier
}

// NewManager wires a population manager.
func NewManager(cfg config.PopulationConfig, exi config.ExistenceConfig, engine *evolution.Engine, h *knowledge.Harvester, st store.Store, n notify.Notifier) *Manager {
	return &Manager{
		cfg:       cfg,
		existence: exi,
		engine:    engine,
		harvester: h,
		st:        st,
		notifier:  n,
	}
}

// RequestAgent leases the most viable idle agent for the role: highest
// existence first, score breaking ties, with the role ladder as fallback
// when nobody holds the exact role. The returned agent is already marked
// busy; the lease is released by ReleaseAgent or consumed by a task
// assignment.
func (m *Manager) RequestAgent(ctx context.Context, role types.Role) (*types.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idle, err := m.st.ListAgents(ctx, store.AgentFilter{Status: types.AgentIdle})
	if err != nil {
		return nil, fmt.Errorf("failed to list idle agents: %w", err)
	}

	candidate := pickByRole(idle, role)
	if candidate == nil {
		return nil, ErrNoAgent
	}

	// Reserved: busy with no task yet. The dual-write invariant only binds
	// once a task is actually assigned.
	candidate.Status = types.AgentBusy
	candidate.UpdatedAt = time.Now()
	if err := m.st.UpdateAgent(ctx, candidate); err != nil {
		return nil, fmt.Errorf("failed to reserve agent %s: %w", candidate.ID, err)
	}
	logging.PopulationDebug("Agent %s (%s) reserved for role %s", candidate.ID, candidate.Role, role)
	m.notifier.AgentUpdated(candidate)
	return candidate, nil
}

// pickByRole searches the exact role, then ladder neighbors, then the
// developer generalists for developer roles. Viability orders each rung.
func pickByRole(idle []*types.Agent, role types.Role) *types.Agent {
	accept := []func(r types.Role) bool{
		func(r types.Role) bool { return r == role },
	}
	if next, ok := types.NextRole(role); ok {
		accept = append(accept, func(r types.Role) bool { return r == next })
	}
	if prev, ok := types.PrevRole(role); ok {
		accept = append(accept, func(r types.Role) bool { return r == prev })
	}
	if types.IsDeveloper(role) {
		accept = append(accept, types.IsDeveloper)
	}

	for _, ok := range accept {
		var pool []*types.Agent
		for _, a := range idle {
			if ok(a.Role) {
				pool = append(pool, a)
			}
		}
		if len(pool) == 0 {
			continue
		}
		sort.SliceStable(pool, func(i, j int) bool {
			if pool[i].ExistencePotential != pool[j].ExistencePotential {
				return pool[i].ExistencePotential > pool[j].ExistencePotential
			}
			return pool[i].Score > pool[j].Score
		})
		return pool[0]
	}
	return nil
}

// ReleaseAgent returns a leased agent to the pool, unless its existence has
// reached the termination floor, in which case it is terminated (with
// harvesting) instead of being put back in a state that would qualify it
// for death next cycle anyway.
func (m *Manager) ReleaseAgent(ctx context.Context, id string) error {
	a, err := m.st.GetAgent(ctx, id)
	if err != nil {
		return err
	}
	if !a.Alive() {
		// Already terminated, nothing to release.
		return nil
	}
	if a.ExistencePotential <= m.existence.Floor {
		return m.Terminate(ctx, id,
			fmt.Sprintf("existence depleted at release (E=%.1f)", a.ExistencePotential),
			types.ModeApply)
	}

	a.Status = types.AgentIdle
	a.CurrentTaskID = ""
	a.UpdatedAt = time.Now()
	if err := m.st.UpdateAgent(ctx, a); err != nil {
		return fmt.Errorf("failed to release agent %s: %w", id, err)
	}
	m.notifier.AgentUpdated(a)
	return nil
}

// Terminate harvests the agent's knowledge, then removes it: offline,
// existence zeroed, held tasks requeued, audit trail appended. In dry-run
// mode the decision is logged and nothing is mutated.
func (m *Manager) Terminate(ctx context.Context, agentID, reason string, mode types.ExecutionMode) error {
	a, err := m.st.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	nugget := m.harvester.Harvest(a)

	if mode == types.ModeDryRun {
		logging.Population("DRY RUN: would terminate agent %s (%s): %s (nugget: %v)",
			agentID, a.Role, reason, nugget != nil)
		return nil
	}

	requeued, err := m.st.TerminateAgent(ctx, agentID, nugget)
	if err != nil {
		return fmt.Errorf("failed to terminate agent %s: %w", agentID, err)
	}
	logging.Population("Agent %s (%s) terminated: %s (requeued %d tasks, harvested: %v)",
		agentID, a.Role, reason, len(requeued), nugget != nil)
	m.notifier.Event("agent.terminated", fmt.Sprintf("%s: %s", agentID, reason))
	return nil
}

// SpawnGenesisAgent creates a generation-0 agent with the role's default
// genome and full genesis existence.
func (m *Manager) SpawnGenesisAgent(ctx context.Context, role types.Role) (*types.Agent, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("population: cannot spawn unknown role %q", role)
	}
	now := time.Now()
	a := &types.Agent{
		ID:                 uuid.NewString(),
		Role:               role,
		Specialization:     defaultSpecialization(role),
		Status:             types.AgentIdle,
		RiskLevel:          types.RiskLow,
		ExistencePotential: m.existence.GenesisInitial,
		Generation:         0,
		Genome:             DefaultGenome(role),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := m.st.CreateAgent(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to spawn genesis %s: %w", role, err)
	}
	logging.Population("Genesis agent %s spawned as %s", a.ID, role)
	m.notifier.AgentUpdated(a)
	return a, nil
}

// BreedOffspring performs single-parent, mutation-only reproduction. The
// child starts below genesis existence; its lineage is unproven.
func (m *Manager) BreedOffspring(ctx context.Context, parent *types.Agent) (*types.Agent, error) {
	genome := m.engine.Mutate(parent.Genome)
	genome.ParentIDs = []string{parent.ID}
	return m.admit(ctx, genome, parent.Generation+1, parent.ID, parent.Role)
}

// AddOffspring admits an already-bred genome (two-parent crossover) into
// the pool.
func (m *Manager) AddOffspring(ctx context.Context, genome types.Genome, generation int, parentID string, role types.Role) (*types.Agent, error) {
	return m.admit(ctx, genome, generation, parentID, role)
}

func (m *Manager) admit(ctx context.Context, genome types.Genome, generation int, parentID string, role types.Role) (*types.Agent, error) {
	now := time.Now()
	a := &types.Agent{
		ID:                 uuid.NewString(),
		Role:               role,
		Specialization:     defaultSpecialization(role),
		Status:             types.AgentIdle,
		RiskLevel:          types.RiskLow,
		ExistencePotential: m.existence.OffspringE,
		Generation:         generation,
		ParentID:           parentID,
		Genome:             genome,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := m.st.CreateAgent(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to admit offspring of %s: %w", parentID, err)
	}
	logging.Population("Offspring %s admitted as %s (gen %d, parent %s)", a.ID, role, generation, parentID)
	m.notifier.AgentUpdated(a)
	return a, nil
}

// ScalePopulation sizes the pool against demand. Target is
// ceil(pending/TasksPerAgent) clamped to [MinSize, MaxSize]. Under target
// it breeds from the healthiest elites, or spawns genesis agents when too
// few elites exist. Over target it never kills: attrition through
// governance shrinks the pool. Fast up, conservative down.
func (m *Manager) ScalePopulation(ctx context.Context) (*ScaleResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	timer := logging.StartTimer(logging.CategoryPopulation, "ScalePopulation")
	defer timer.Stop()

	living, err := m.st.ListAgents(ctx, store.AgentFilter{Alive: true})
	if err != nil {
		return nil, fmt.Errorf("failed to count population: %w", err)
	}
	pending, err := m.st.ListTasks(ctx, store.TaskFilter{
		Statuses: []types.TaskStatus{types.TaskQueued, types.TaskNeedsRevision},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count pending tasks: %w", err)
	}

	target := int(math.Ceil(float64(len(pending)) / m.cfg.TasksPerAgent))
	if target < m.cfg.MinSize {
		target = m.cfg.MinSize
	}
	if target > m.cfg.MaxSize {
		target = m.cfg.MaxSize
	}

	res := &ScaleResult{Current: len(living), Pending: len(pending), Target: target}

	switch {
	case len(living) < target:
		need := target - len(living)
		if need > m.cfg.MaxSpawnPerCycle {
			need = m.cfg.MaxSpawnPerCycle
		}
		m.growLocked(ctx, living, need, res)

	case len(living) > target+m.cfg.ScaleDownSlack:
		// Oversized, but healthy idle agents are never force-killed.
		// Governance and existence decay shrink the pool on their own.
		logging.PopulationWarn("Population %d exceeds target %d; relying on attrition", len(living), target)
	}

	if res.Spawned > 0 || res.Bred > 0 {
		logging.Population("Scale pass: current=%d pending=%d target=%d spawned=%d bred=%d",
			res.Current, res.Pending, res.Target, res.Spawned, res.Bred)
	}
	return res, nil
}

// growLocked adds up to need agents, breeding from the elite bench when it
// is deep enough and falling back to genesis spawning otherwise.
func (m *Manager) growLocked(ctx context.Context, living []*types.Agent, need int, res *ScaleResult) {
	var elites []*types.Agent
	for _, a := range living {
		if a.ExistencePotential > m.cfg.EliteMinE {
			elites = append(elites, a)
		}
	}
	sort.SliceStable(elites, func(i, j int) bool {
		if elites[i].ExistencePotential != elites[j].ExistencePotential {
			return elites[i].ExistencePotential > elites[j].ExistencePotential
		}
		return elites[i].Score > elites[j].Score
	})
	if len(elites) > m.cfg.MaxSpawnPerCycle {
		elites = elites[:m.cfg.MaxSpawnPerCycle]
	}

	if len(elites) < m.cfg.MinElites {
		for i := 0; i < need; i++ {
			role := genesisRoleForSlot(i)
			if _, err := m.SpawnGenesisAgent(ctx, role); err != nil {
				logging.Get(logging.CategoryPopulation).Error("Genesis spawn failed: %v", err)
				continue
			}
			res.Spawned++
		}
		return
	}

	for i := 0; i < need; i++ {
		parent := elites[i%len(elites)]
		if _, err := m.BreedOffspring(ctx, parent); err != nil {
			logging.Get(logging.CategoryPopulation).Error("Breeding from %s failed: %v", parent.ID, err)
			continue
		}
		res.Bred++
	}
}

// genesisRoleForSlot rotates through the developer rungs so emergency
// spawns cover the roles most tasks ask for.
func genesisRoleForSlot(i int) types.Role {
	rotation := []types.Role{types.RoleMidDev, types.RoleJuniorDev, types.RoleSeniorDev, types.RoleQA}
	return rotation[i%len(rotation)]
}

// Bootstrap populates an empty pool from the configured genesis roster.
// A non-empty pool is left alone.
func (m *Manager) Bootstrap(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	living, err := m.st.ListAgents(ctx, store.AgentFilter{Alive: true})
	if err != nil {
		return 0, err
	}
	if len(living) > 0 {
		logging.Population("Bootstrap skipped: %d agents already alive", len(living))
		return 0, nil
	}

	// Deterministic roster order.
	roles := make([]string, 0, len(m.cfg.GenesisRoster))
	for r := range m.cfg.GenesisRoster {
		roles = append(roles, r)
	}
	sort.Strings(roles)

	spawned := 0
	for _, r := range roles {
		role := types.Role(r)
		if !role.Valid() {
			logging.PopulationWarn("Bootstrap roster has unknown role %q, skipping", r)
			continue
		}
		for i := 0; i < m.cfg.GenesisRoster[r]; i++ {
			if _, err := m.SpawnGenesisAgent(ctx, role); err != nil {
				return spawned, err
			}
			spawned++
		}
	}
	logging.Population("Bootstrap complete: %d genesis agents", spawned)
	return spawned, nil
}

// LivingCount reports the size of the living population.
func (m *Manager) LivingCount(ctx context.Context) (int, error) {
	living, err := m.st.ListAgents(ctx, store.AgentFilter{Alive: true})
	if err != nil {
		return 0, err
	}
	return len(living), nil
}

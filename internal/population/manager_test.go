package population

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/config"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/evolution"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/knowledge"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/notify"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/store"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/types"
)

func newTestManager(t *testing.T) (*Manager, *store.MemoryStore) {
	t.Helper()
	cfg := config.DefaultConfig()
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })
	engine := evolution.NewEngine(cfg.Evolution, rand.New(rand.NewSource(11)))
	h := knowledge.NewHarvester(cfg.Population.HarvestMinSuccesses, cfg.Population.HarvestFullQualityAt)
	return NewManager(cfg.Population, cfg.Existence, engine, h, st, notify.Nop{}), st
}

func poolAgent(id string, role types.Role, e, score float64) *types.Agent {
	now := time.Now()
	return &types.Agent{
		ID:                 id,
		Role:               role,
		Status:             types.AgentIdle,
		Score:              score,
		ExistencePotential: e,
		Genome:             DefaultGenome(role),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func TestRequestAgentPicksMostViable(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	require.NoError(t, st.CreateAgent(ctx, poolAgent("low", types.RoleMidDev, 40, 90)))
	require.NoError(t, st.CreateAgent(ctx, poolAgent("high", types.RoleMidDev, 80, 10)))

	a, err := m.RequestAgent(ctx, types.RoleMidDev)
	require.NoError(t, err)
	assert.Equal(t, "high", a.ID, "existence outranks score")
	assert.Equal(t, types.AgentBusy, a.Status)

	stored, err := st.GetAgent(ctx, "high")
	require.NoError(t, err)
	assert.Equal(t, types.AgentBusy, stored.Status)
	assert.Empty(t, stored.CurrentTaskID, "reserved, not yet assigned")
}

func TestRequestAgentScoreBreaksTies(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	require.NoError(t, st.CreateAgent(ctx, poolAgent("dull", types.RoleQA, 70, 20)))
	require.NoError(t, st.CreateAgent(ctx, poolAgent("sharp", types.RoleQA, 70, 80)))

	a, err := m.RequestAgent(ctx, types.RoleQA)
	require.NoError(t, err)
	assert.Equal(t, "sharp", a.ID)
}

func TestRequestAgentLadderFallback(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	// Nobody holds mid_dev; the adjacent rung serves.
	require.NoError(t, st.CreateAgent(ctx, poolAgent("senior", types.RoleSeniorDev, 60, 50)))

	a, err := m.RequestAgent(ctx, types.RoleMidDev)
	require.NoError(t, err)
	assert.Equal(t, "senior", a.ID)
}

func TestRequestAgentNoneAvailable(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	busy := poolAgent("busy", types.RoleMidDev, 60, 50)
	busy.Status = types.AgentBusy
	require.NoError(t, st.CreateAgent(ctx, busy))

	_, err := m.RequestAgent(ctx, types.RoleMidDev)
	assert.ErrorIs(t, err, ErrNoAgent)
}

func TestReleaseAgentReturnsToIdle(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	a := poolAgent("a1", types.RoleMidDev, 60, 50)
	a.Status = types.AgentBusy
	require.NoError(t, st.CreateAgent(ctx, a))

	require.NoError(t, m.ReleaseAgent(ctx, "a1"))
	stored, err := st.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentIdle, stored.Status)
}

func TestReleaseAtFloorTerminatesInstead(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	a := poolAgent("spent", types.RoleMidDev, 10, 50)
	a.Status = types.AgentBusy
	a.SuccessCount = 5
	require.NoError(t, st.CreateAgent(ctx, a))

	require.NoError(t, m.ReleaseAgent(ctx, "spent"))
	stored, err := st.GetAgent(ctx, "spent")
	require.NoError(t, err)
	assert.Equal(t, types.AgentOffline, stored.Status)
	assert.Zero(t, stored.ExistencePotential)

	// The agent succeeded enough to leave a lesson behind.
	nuggets, err := st.NuggetsByCategory(ctx, "backend")
	require.NoError(t, err)
	require.Len(t, nuggets, 1)
	assert.Equal(t, "spent", nuggets[0].SourceAgentID)
}

func TestTerminateDryRunMutatesNothing(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	a := poolAgent("a1", types.RoleMidDev, 60, 50)
	a.SuccessCount = 10
	require.NoError(t, st.CreateAgent(ctx, a))

	require.NoError(t, m.Terminate(ctx, "a1", "testing rules", types.ModeDryRun))

	stored, err := st.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentIdle, stored.Status)
	assert.Equal(t, 60.0, stored.ExistencePotential)

	nuggets, err := st.NuggetsByCategory(ctx, "backend", "general")
	require.NoError(t, err)
	assert.Empty(t, nuggets)
}

func TestTerminateRequeuesHeldTask(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	a := poolAgent("a1", types.RoleMidDev, 60, 50)
	require.NoError(t, st.CreateAgent(ctx, a))
	task := &types.Task{
		ID:           "t1",
		Title:        "work",
		RequiredRole: "mid_dev",
		Status:       types.TaskQueued,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, st.CreateTask(ctx, task))
	require.NoError(t, st.AssignTask(ctx, "t1", "a1"))

	require.NoError(t, m.Terminate(ctx, "a1", "misbehaving", types.ModeApply))

	stored, err := st.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskQueued, stored.Status)
	assert.Empty(t, stored.AssignedTo)
}

func TestSpawnGenesisAgent(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	a, err := m.SpawnGenesisAgent(ctx, types.RoleQA)
	require.NoError(t, err)
	assert.Equal(t, 0, a.Generation)
	assert.Equal(t, 100.0, a.ExistencePotential)
	assert.Equal(t, "testing", a.Specialization)
	assert.NotEmpty(t, a.Genome.SystemPrompt)

	_, err = m.SpawnGenesisAgent(ctx, types.Role("wizard"))
	assert.Error(t, err)
}

func TestBreedOffspring(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	parent := poolAgent("p1", types.RoleSeniorDev, 90, 80)
	parent.Generation = 3
	require.NoError(t, st.CreateAgent(ctx, parent))

	child, err := m.BreedOffspring(ctx, parent)
	require.NoError(t, err)
	assert.Equal(t, 4, child.Generation)
	assert.Equal(t, "p1", child.ParentID)
	assert.Equal(t, 80.0, child.ExistencePotential, "unproven lineage starts below genesis")
	assert.Equal(t, parent.Genome.SystemPrompt, child.Genome.SystemPrompt)
}

func TestScaleUpIsCapped(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	// 10 agents, 40 pending tasks: target is 20 but only 5 spawns per pass.
	for i := 0; i < 10; i++ {
		require.NoError(t, st.CreateAgent(ctx, poolAgent(fmt.Sprintf("a%d", i), types.RoleMidDev, 90, 50)))
	}
	for i := 0; i < 40; i++ {
		require.NoError(t, st.CreateTask(ctx, &types.Task{
			ID:           fmt.Sprintf("t%d", i),
			Title:        "work",
			RequiredRole: "mid_dev",
			Status:       types.TaskQueued,
			CreatedAt:    time.Now(),
		}))
	}

	res, err := m.ScalePopulation(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, res.Target)
	assert.Equal(t, 5, res.Bred, "elites are deep enough to breed")
	assert.Equal(t, 0, res.Spawned)

	n, err := m.LivingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 15, n)
}

func TestScaleUpFallsBackToGenesis(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	// Only one elite: below MinElites, so growth is genesis spawning.
	require.NoError(t, st.CreateAgent(ctx, poolAgent("elite", types.RoleMidDev, 90, 50)))
	require.NoError(t, st.CreateAgent(ctx, poolAgent("weak", types.RoleMidDev, 30, 50)))

	res, err := m.ScalePopulation(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Target, "floor applies with an empty queue")
	assert.Equal(t, 5, res.Spawned)
	assert.Equal(t, 0, res.Bred)
}

func TestScaleDownNeverKills(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	// 60 living, 5 pending: far over target, still no destructive action.
	for i := 0; i < 60; i++ {
		require.NoError(t, st.CreateAgent(ctx, poolAgent(fmt.Sprintf("a%d", i), types.RoleMidDev, 70, 50)))
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, st.CreateTask(ctx, &types.Task{
			ID:           fmt.Sprintf("t%d", i),
			Title:        "work",
			RequiredRole: "mid_dev",
			Status:       types.TaskQueued,
			CreatedAt:    time.Now(),
		}))
	}

	res, err := m.ScalePopulation(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Target)
	assert.Equal(t, 0, res.Spawned)
	assert.Equal(t, 0, res.Bred)

	n, err := m.LivingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60, n, "no agent was terminated by scaling")
}

func TestBootstrapFollowsRoster(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	spawned, err := m.Bootstrap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, spawned)

	leads, err := st.ListAgents(ctx, store.AgentFilter{Role: types.RoleTeamLead})
	require.NoError(t, err)
	assert.Len(t, leads, 1)

	// A second bootstrap is a no-op.
	spawned, err = m.Bootstrap(ctx)
	require.NoError(t, err)
	assert.Zero(t, spawned)
}

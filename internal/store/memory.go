package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/types"
)

// MemoryStore is an in-memory Store used by tests and the simulate mode.
// It enforces the same invariants as the SQLite implementation.
type MemoryStore struct {
	mu      sync.RWMutex
	agents  map[string]*types.Agent
	tasks   map[string]*types.Task
	events  []*types.GovernanceEvent
	records []*types.GenerationRecord
	nuggets []*types.KnowledgeNugget
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents: make(map[string]*types.Agent),
		tasks:  make(map[string]*types.Task),
	}
}

func cloneAgent(a *types.Agent) *types.Agent {
	c := *a
	c.Genome = a.Genome.Clone()
	if a.Outcomes != nil {
		c.Outcomes = append([]types.TaskOutcome(nil), a.Outcomes...)
	}
	return &c
}

func cloneTask(t *types.Task) *types.Task {
	c := *t
	if t.Context.History != nil {
		c.Context.History = append([]types.ClarificationEvent(nil), t.Context.History...)
	}
	return &c
}

// CreateAgent stores a new agent.
func (m *MemoryStore) CreateAgent(_ context.Context, a *types.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.agents[a.ID]; exists {
		return fmt.Errorf("agent %s: %w", a.ID, ErrConflict)
	}
	m.agents[a.ID] = cloneAgent(a)
	return nil
}

// GetAgent returns a copy of the agent.
func (m *MemoryStore) GetAgent(_ context.Context, id string) (*types.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	return cloneAgent(a), nil
}

// UpdateAgent overwrites the stored agent. OFFLINE is terminal: a write
// carrying a living status for an agent already terminated is a stale
// snapshot and is rejected.
func (m *MemoryStore) UpdateAgent(_ context.Context, a *types.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.agents[a.ID]
	if !ok {
		return fmt.Errorf("agent %s: %w", a.ID, ErrNotFound)
	}
	if cur.Status == types.AgentOffline && a.Status != types.AgentOffline {
		return fmt.Errorf("agent %s is offline: %w", a.ID, ErrConflict)
	}
	c := cloneAgent(a)
	c.UpdatedAt = time.Now()
	m.agents[a.ID] = c
	return nil
}

// ListAgents returns agents matching the filter, ordered by ID for
// determinism.
func (m *MemoryStore) ListAgents(_ context.Context, f AgentFilter) ([]*types.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.Agent
	for _, a := range m.agents {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Role != "" && a.Role != f.Role {
			continue
		}
		if f.Alive && !a.Alive() {
			continue
		}
		out = append(out, cloneAgent(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateTask stores a new task.
func (m *MemoryStore) CreateTask(_ context.Context, t *types.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[t.ID]; exists {
		return fmt.Errorf("task %s: %w", t.ID, ErrConflict)
	}
	m.tasks[t.ID] = cloneTask(t)
	return nil
}

// GetTask returns a copy of the task.
func (m *MemoryStore) GetTask(_ context.Context, id string) (*types.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return cloneTask(t), nil
}

// UpdateTask overwrites the stored task.
func (m *MemoryStore) UpdateTask(_ context.Context, t *types.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}
	c := cloneTask(t)
	c.UpdatedAt = time.Now()
	m.tasks[t.ID] = c
	return nil
}

// ListTasks returns tasks matching the filter.
func (m *MemoryStore) ListTasks(_ context.Context, f TaskFilter) ([]*types.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statusSet := make(map[types.TaskStatus]bool, len(f.Statuses))
	for _, s := range f.Statuses {
		statusSet[s] = true
	}

	var out []*types.Task
	for _, t := range m.tasks {
		if len(statusSet) > 0 && !statusSet[t.Status] {
			continue
		}
		if f.ProjectID != "" && t.ProjectID != f.ProjectID {
			continue
		}
		out = append(out, cloneTask(t))
	}
	if f.OldestFirst {
		sort.Slice(out, func(i, j int) bool {
			if out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].ID < out[j].ID
			}
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		})
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// AssignTask performs the atomic assignment dual-write.
func (m *MemoryStore) AssignTask(_ context.Context, taskID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	a, ok := m.agents[agentID]
	if !ok {
		return fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}

	if t.Status != types.TaskQueued && t.Status != types.TaskNeedsRevision {
		return fmt.Errorf("task %s is %s: %w", taskID, t.Status, ErrConflict)
	}
	if t.AssignedTo != "" {
		return fmt.Errorf("task %s already assigned to %s: %w", taskID, t.AssignedTo, ErrInvariant)
	}
	if a.Status != types.AgentIdle {
		return fmt.Errorf("agent %s is %s: %w", agentID, a.Status, ErrConflict)
	}

	now := time.Now()
	t.Status = types.TaskAssigned
	t.AssignedTo = agentID
	t.AssignedAt = now
	t.UpdatedAt = now
	a.Status = types.AgentBusy
	a.CurrentTaskID = taskID
	a.UpdatedAt = now
	return nil
}

// ReleaseAssignment atomically severs the task<->agent link.
func (m *MemoryStore) ReleaseAssignment(_ context.Context, taskID string, newStatus types.TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseLocked(taskID, newStatus)
}

func (m *MemoryStore) releaseLocked(taskID string, newStatus types.TaskStatus) error {
	t, ok := m.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if t.AssignedTo != "" {
		a, ok := m.agents[t.AssignedTo]
		if !ok {
			return fmt.Errorf("task %s assigned to unknown agent %s: %w", taskID, t.AssignedTo, ErrInvariant)
		}
		if a.CurrentTaskID != taskID {
			return fmt.Errorf("agent %s holds %q, not %s: %w", a.ID, a.CurrentTaskID, taskID, ErrInvariant)
		}
		a.Status = types.AgentIdle
		a.CurrentTaskID = ""
		a.UpdatedAt = time.Now()
	}
	t.AssignedTo = ""
	t.Status = newStatus
	t.UpdatedAt = time.Now()
	return nil
}

// UpdateAgentAndTask writes both entities atomically. A stale snapshot of
// a terminated agent aborts the whole write, leaving the task untouched.
func (m *MemoryStore) UpdateAgentAndTask(_ context.Context, a *types.Agent, t *types.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.agents[a.ID]
	if !ok {
		return fmt.Errorf("agent %s: %w", a.ID, ErrNotFound)
	}
	if cur.Status == types.AgentOffline && a.Status != types.AgentOffline {
		return fmt.Errorf("agent %s is offline: %w", a.ID, ErrConflict)
	}
	if _, ok := m.tasks[t.ID]; !ok {
		return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}
	now := time.Now()
	ca := cloneAgent(a)
	ca.UpdatedAt = now
	ct := cloneTask(t)
	ct.UpdatedAt = now
	m.agents[a.ID] = ca
	m.tasks[t.ID] = ct
	return nil
}

// TerminateAgent sets the agent offline, requeues held work, and persists
// the nugget, all under one lock so no partial state is observable.
func (m *MemoryStore) TerminateAgent(_ context.Context, agentID string, nugget *types.KnowledgeNugget) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}

	var requeued []string
	for _, t := range m.tasks {
		if t.AssignedTo != agentID {
			continue
		}
		if t.Status == types.TaskAssigned || t.Status == types.TaskInProgress {
			t.Status = types.TaskQueued
			t.AssignedTo = ""
			t.UpdatedAt = time.Now()
			requeued = append(requeued, t.ID)
		}
	}
	sort.Strings(requeued)

	a.Status = types.AgentOffline
	a.CurrentTaskID = ""
	a.ExistencePotential = 0
	a.UpdatedAt = time.Now()

	if nugget != nil {
		n := *nugget
		m.nuggets = append(m.nuggets, &n)
	}
	return requeued, nil
}

// AppendGovernanceEvent appends to the audit trail.
func (m *MemoryStore) AppendGovernanceEvent(_ context.Context, ev *types.GovernanceEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := *ev
	m.events = append(m.events, &e)
	return nil
}

// ListGovernanceEvents returns events for an agent, newest first.
func (m *MemoryStore) ListGovernanceEvents(_ context.Context, agentID string, limit int) ([]*types.GovernanceEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.GovernanceEvent
	for i := len(m.events) - 1; i >= 0; i-- {
		if agentID != "" && m.events[i].AgentID != agentID {
			continue
		}
		e := *m.events[i]
		out = append(out, &e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// AppendGenerationRecord appends an immutable cycle snapshot.
func (m *MemoryStore) AppendGenerationRecord(_ context.Context, rec *types.GenerationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := *rec
	m.records = append(m.records, &r)
	return nil
}

// GenerationCount returns the number of recorded cycles.
func (m *MemoryStore) GenerationCount(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

// ListGenerationRecords returns all cycle snapshots in append order.
func (m *MemoryStore) ListGenerationRecords(_ context.Context) ([]*types.GenerationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.GenerationRecord, 0, len(m.records))
	for _, r := range m.records {
		c := *r
		out = append(out, &c)
	}
	return out, nil
}

// SaveNugget persists a harvested lesson.
func (m *MemoryStore) SaveNugget(_ context.Context, n *types.KnowledgeNugget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *n
	m.nuggets = append(m.nuggets, &c)
	return nil
}

// NuggetsByCategory returns nuggets in any of the given categories,
// best quality first.
func (m *MemoryStore) NuggetsByCategory(_ context.Context, categories ...string) ([]*types.KnowledgeNugget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := make(map[string]bool, len(categories))
	for _, c := range categories {
		want[c] = true
	}

	var out []*types.KnowledgeNugget
	for _, n := range m.nuggets {
		if len(want) > 0 && !want[n.Category] {
			continue
		}
		c := *n
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Quality > out[j].Quality })
	return out, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }

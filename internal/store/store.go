// Package store provides the durable repository for agents, tasks, and audit
// records. All cross-entity mutations that must appear atomic (assignment
// dual-writes, termination with task requeue, harvest-and-remove) are single
// transactions; a failure aborts the whole step and leaves prior state intact
// for retry on the next cycle.
//
// Two implementations ship: SQLiteStore for production and MemoryStore for
// tests. Both enforce the same invariants, so every component depends only on
// the Store interface.
package store

import (
	"context"
	"errors"

	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/types"
)

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict indicates an expected race: the entity moved out of the
	// required state between snapshot and transaction. Callers retry on the
	// next cycle.
	ErrConflict = errors.New("store: state conflict")

	// ErrInvariant indicates the assignment invariant is violated in stored
	// state. The enclosing operation must abort without partial application.
	ErrInvariant = errors.New("store: invariant violation")
)

// AgentFilter narrows ListAgents. Zero values mean "any".
type AgentFilter struct {
	Status types.AgentStatus
	Role   types.Role
	Alive  bool // Only agents not offline
}

// TaskFilter narrows ListTasks. Zero values mean "any".
type TaskFilter struct {
	Statuses    []types.TaskStatus
	ProjectID   string
	OldestFirst bool
	Limit       int
}

// Store is the transactional repository every component operates through.
type Store interface {
	// Agents
	CreateAgent(ctx context.Context, a *types.Agent) error
	GetAgent(ctx context.Context, id string) (*types.Agent, error)
	UpdateAgent(ctx context.Context, a *types.Agent) error
	ListAgents(ctx context.Context, f AgentFilter) ([]*types.Agent, error)

	// Tasks
	CreateTask(ctx context.Context, t *types.Task) error
	GetTask(ctx context.Context, id string) (*types.Task, error)
	UpdateTask(ctx context.Context, t *types.Task) error
	ListTasks(ctx context.Context, f TaskFilter) ([]*types.Task, error)

	// AssignTask performs the atomic assignment dual-write: task must be
	// queued or needs_revision and unassigned, agent must be idle and alive.
	// On success the task is assigned and the agent busy, in one transaction.
	AssignTask(ctx context.Context, taskID, agentID string) error

	// ReleaseAssignment atomically clears the task<->agent link, returns the
	// agent to idle, and moves the task to newStatus.
	ReleaseAssignment(ctx context.Context, taskID string, newStatus types.TaskStatus) error

	// UpdateAgentAndTask writes both entities in one transaction. Used by the
	// work cycle so an outcome never half-applies.
	UpdateAgentAndTask(ctx context.Context, a *types.Agent, t *types.Task) error

	// TerminateAgent sets the agent offline with E forced to 0, requeues any
	// tasks it held in {assigned, in_progress}, and persists the harvested
	// nugget if one was extracted - all in one transaction. Returns the IDs
	// of requeued tasks.
	TerminateAgent(ctx context.Context, agentID string, nugget *types.KnowledgeNugget) ([]string, error)

	// Audit
	AppendGovernanceEvent(ctx context.Context, ev *types.GovernanceEvent) error
	ListGovernanceEvents(ctx context.Context, agentID string, limit int) ([]*types.GovernanceEvent, error)
	AppendGenerationRecord(ctx context.Context, rec *types.GenerationRecord) error
	GenerationCount(ctx context.Context) (int, error)
	ListGenerationRecords(ctx context.Context) ([]*types.GenerationRecord, error)

	// Knowledge
	SaveNugget(ctx context.Context, n *types.KnowledgeNugget) error
	NuggetsByCategory(ctx context.Context, categories ...string) ([]*types.KnowledgeNugget, error)

	Close() error
}

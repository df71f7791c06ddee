// Package types defines the shared domain model for the agent pool: agents,
// tasks, genomes, governance events, generation records, and knowledge
// nuggets. Every other package operates on these types through the store.
package types

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// AGENT
// =============================================================================

// AgentStatus represents the lifecycle state of an agent.
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"    // Available for assignment
	AgentBusy    AgentStatus = "busy"    // Working on exactly one task
	AgentOffline AgentStatus = "offline" // Terminated, excluded from all pools
)

// RiskLevel classifies how risky an agent's recent behavior has been.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Agent is a long-lived worker unit in the pool.
//
// Lifecycle invariant: exactly one of {Idle with CurrentTaskID == "",
// Busy with CurrentTaskID set, Offline} holds at any time. An Offline
// agent's ExistencePotential is forced to 0.
type Agent struct {
	ID             string `json:"id"`
	Role           Role   `json:"role"`
	Specialization string `json:"specialization"`
	ProjectID      string `json:"project_id,omitempty"` // Affinity, not ownership

	Status        AgentStatus `json:"status"`
	CurrentTaskID string      `json:"current_task_id,omitempty"`

	// Performance
	Score        float64   `json:"score"` // Legacy cumulative metric
	SuccessCount int       `json:"success_count"`
	FailCount    int       `json:"fail_count"`
	RiskLevel    RiskLevel `json:"risk_level"`

	// Survival. Bounded [0, MaxExistence]; termination-eligible at the floor.
	ExistencePotential float64 `json:"existence_potential"`

	// Lineage
	Generation int    `json:"generation"`
	ParentID   string `json:"parent_id,omitempty"`
	Genome     Genome `json:"genome"`

	// Economic (circuit breaker inputs)
	CostBaseline float64 `json:"cost_baseline,omitempty"`
	SessionCost  float64 `json:"session_cost"`

	// Recent outcome history, newest last. Governance and fitness read this.
	Outcomes []TaskOutcome `json:"outcomes,omitempty"`

	// Collaboration history: how many joint efforts went well.
	CollabSuccess int `json:"collab_success"`
	CollabTotal   int `json:"collab_total"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Alive reports whether the agent is part of the living population.
func (a *Agent) Alive() bool {
	return a.Status != AgentOffline
}

// TasksHandled is the total number of outcomes the agent has produced.
func (a *Agent) TasksHandled() int {
	return a.SuccessCount + a.FailCount
}

// SuccessRate returns the fraction of handled tasks that succeeded,
// or 0 when the agent has no history.
func (a *Agent) SuccessRate() float64 {
	handled := a.TasksHandled()
	if handled == 0 {
		return 0
	}
	return float64(a.SuccessCount) / float64(handled)
}

// TaskOutcome is one completed work attempt, as reported by the worker
// execution capability.
type TaskOutcome struct {
	TaskID     string    `json:"task_id"`
	Success    bool      `json:"success"`
	Complexity float64   `json:"complexity"` // [0,1]
	Quality    float64   `json:"quality"`    // [0,1]
	Efficiency float64   `json:"efficiency"` // [0,1]
	Timestamp  time.Time `json:"timestamp"`
}

// =============================================================================
// GENOME
// =============================================================================

// Genome is the heritable configuration of an agent. It is an immutable
// value object: crossover and mutation always construct a new Genome and
// never write through a shared reference.
type Genome struct {
	SystemPrompt    string             `json:"system_prompt"`
	Temperature     float64            `json:"temperature"`     // [0, 2]
	RiskTolerance   float64            `json:"risk_tolerance"`  // [0, 1]
	CollabPref      float64            `json:"collab_pref"`     // [0, 1]
	Specializations map[string]float64 `json:"specializations"` // category -> [0,1]
	FitnessHistory  []float64          `json:"fitness_history,omitempty"`
	ParentIDs       []string           `json:"parent_ids,omitempty"`
}

// Clone returns a deep copy so callers can derive a new genome without
// aliasing the parent's maps and slices.
func (g Genome) Clone() Genome {
	c := g
	if g.Specializations != nil {
		c.Specializations = make(map[string]float64, len(g.Specializations))
		for k, v := range g.Specializations {
			c.Specializations[k] = v
		}
	}
	if g.FitnessHistory != nil {
		c.FitnessHistory = append([]float64(nil), g.FitnessHistory...)
	}
	if g.ParentIDs != nil {
		c.ParentIDs = append([]string(nil), g.ParentIDs...)
	}
	return c
}

// =============================================================================
// TASK
// =============================================================================

// TaskStatus represents a task's position in the pipeline.
//
// The pipeline is monotonic (queued -> assigned -> in_progress -> in_review
// -> in_qa -> completed) except for the revision loop: in_review/in_qa ->
// needs_revision -> assigned is allowed until MaxRevisions is exhausted,
// after which the task fails permanently.
type TaskStatus string

const (
	TaskQueued        TaskStatus = "queued"
	TaskAssigned      TaskStatus = "assigned"
	TaskInProgress    TaskStatus = "in_progress"
	TaskInReview      TaskStatus = "in_review"
	TaskInQA          TaskStatus = "in_qa"
	TaskNeedsRevision TaskStatus = "needs_revision"
	TaskBlocked       TaskStatus = "blocked"
	TaskWarRoom       TaskStatus = "war_room"
	TaskCompleted     TaskStatus = "completed"
	TaskFailed        TaskStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Task is a unit of work flowing through the pipeline.
//
// Assignment invariant: AssignedTo == X iff agent X has CurrentTaskID equal
// to this task's ID, while the task is in {assigned, in_progress}. The store
// enforces this with a transactional dual-write.
type Task struct {
	ID           string     `json:"id"`
	ProjectID    string     `json:"project_id,omitempty"`
	Title        string     `json:"title"`
	RequiredRole string     `json:"required_role"` // Raw label, resolved at dispatch
	Status       TaskStatus `json:"status"`
	AssignedTo   string     `json:"assigned_to,omitempty"`

	// Revision control
	RevisionCount int `json:"revision_count"`
	MaxRevisions  int `json:"max_revisions"`

	// Complexity on the 0-100 scale used by the economic circuit breaker.
	// Zero means unknown; consumers substitute the default of 50.
	Complexity float64 `json:"complexity,omitempty"`

	EstimatedCost float64 `json:"estimated_cost,omitempty"`

	Context ContextPacket `json:"context"`

	ErrorMessage  string `json:"error_message,omitempty"`
	BlockedReason string `json:"blocked_reason,omitempty"`
	Deadlocked    bool   `json:"deadlocked,omitempty"` // Set on war-room escalation

	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	AssignedAt time.Time `json:"assigned_at,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
}

// NewTask returns a queued task with a fresh identity.
func NewTask(title, requiredRole, projectID string) *Task {
	now := time.Now()
	return &Task{
		ID:           uuid.NewString(),
		ProjectID:    projectID,
		Title:        title,
		RequiredRole: requiredRole,
		Status:       TaskQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// ContextPacket is the opaque versioned context attached to a task.
// Only the escalation-resolution path mutates it; the dispatcher never does.
type ContextPacket struct {
	Version int                  `json:"version"`
	Summary string               `json:"summary,omitempty"`
	Details string               `json:"details,omitempty"`
	History []ClarificationEvent `json:"history,omitempty"`
}

// ClarificationEvent records one escalation-resolution exchange.
type ClarificationEvent struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
}

// =============================================================================
// AUDIT RECORDS
// =============================================================================

// GovernanceAction is the decision emitted by the rules engine.
type GovernanceAction string

const (
	ActionNone      GovernanceAction = "none"
	ActionWarn      GovernanceAction = "warning"
	ActionPromote   GovernanceAction = "promote"
	ActionDemote    GovernanceAction = "demote"
	ActionTerminate GovernanceAction = "terminate"
)

// GovernanceEvent is an append-only audit record of one governance decision.
// Never mutated after creation.
type GovernanceEvent struct {
	ID           string           `json:"id"`
	AgentID      string           `json:"agent_id"`
	TaskID       string           `json:"task_id,omitempty"`
	Action       GovernanceAction `json:"action"`
	Reason       string           `json:"reason"`
	PreviousRole Role             `json:"previous_role,omitempty"`
	NewRole      Role             `json:"new_role,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

// GenerationRecord is an append-only snapshot of one evolution cycle.
// Written once per cycle, never updated.
type GenerationRecord struct {
	ID             string          `json:"id"`
	Cycle          int             `json:"cycle"`
	PopulationSize int             `json:"population_size"`
	AvgFitness     float64         `json:"avg_fitness"`
	MaxFitness     float64         `json:"max_fitness"`
	MinFitness     float64         `json:"min_fitness"`
	Births         int             `json:"births"`
	Deaths         int             `json:"deaths"`
	Agents         []AgentSnapshot `json:"agents,omitempty"`
	Innovations    []string        `json:"innovations,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// AgentSnapshot is the per-agent fitness/outcome slice recorded with a
// generation.
type AgentSnapshot struct {
	AgentID      string  `json:"agent_id"`
	Role         Role    `json:"role"`
	Generation   int     `json:"generation"`
	Fitness      float64 `json:"fitness"`
	Existence    float64 `json:"existence"`
	SuccessCount int     `json:"success_count"`
	FailCount    int     `json:"fail_count"`
}

// KnowledgeNugget is a lesson harvested from an agent before removal,
// retrievable by category as a prior for future agents.
type KnowledgeNugget struct {
	ID            string    `json:"id"`
	Category      string    `json:"category"`
	Content       string    `json:"content"`
	SourceAgentID string    `json:"source_agent_id"`
	Quality       float64   `json:"quality"` // [0,1], derived from success volume
	CreatedAt     time.Time `json:"created_at"`
}

// =============================================================================
// EXECUTION MODE
// =============================================================================

// ExecutionMode selects whether a mutating operation applies its effects or
// only logs the decision. Threaded explicitly through calls so tests can run
// real and simulated paths side by side.
type ExecutionMode string

const (
	ModeApply  ExecutionMode = "apply"
	ModeDryRun ExecutionMode = "dry_run"
)

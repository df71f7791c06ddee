package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/logging"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/types"
)

// SQLiteStore is the durable Store implementation backed by SQLite.
// Nested value objects (genome, outcomes, context packets, generation
// payloads) are stored as JSON columns; everything the engine filters on is
// a plain column.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (or creates) the database at path and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewSQLiteStore")
	defer timer.Stop()

	logging.Store("Initializing SQLiteStore at path: %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to set sqlite foreign_keys=ON: %v", err)
	}

	s := &SQLiteStore{db: db, dbPath: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logging.StoreDebug("Database schema ready")

	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// TIME / JSON HELPERS
// =============================================================================

func tsOf(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func timeOf(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func marshalJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal: %w", err)
	}
	return string(data), nil
}

// =============================================================================
// AGENTS
// =============================================================================

const agentColumns = `id, role, specialization, project_id, status, current_task_id,
	score, success_count, fail_count, risk_level, existence, generation, parent_id,
	genome, cost_baseline, session_cost, outcomes, collab_success, collab_total,
	created_at, updated_at`

func (s *SQLiteStore) scanAgent(row interface{ Scan(...interface{}) error }) (*types.Agent, error) {
	var a types.Agent
	var genomeJSON, outcomesJSON string
	var createdAt, updatedAt int64
	err := row.Scan(
		&a.ID, &a.Role, &a.Specialization, &a.ProjectID, &a.Status, &a.CurrentTaskID,
		&a.Score, &a.SuccessCount, &a.FailCount, &a.RiskLevel, &a.ExistencePotential,
		&a.Generation, &a.ParentID, &genomeJSON, &a.CostBaseline, &a.SessionCost,
		&outcomesJSON, &a.CollabSuccess, &a.CollabTotal, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(genomeJSON), &a.Genome); err != nil {
		return nil, fmt.Errorf("failed to decode genome for %s: %w", a.ID, err)
	}
	if outcomesJSON != "" && outcomesJSON != "null" {
		if err := json.Unmarshal([]byte(outcomesJSON), &a.Outcomes); err != nil {
			return nil, fmt.Errorf("failed to decode outcomes for %s: %w", a.ID, err)
		}
	}
	a.CreatedAt = timeOf(createdAt)
	a.UpdatedAt = timeOf(updatedAt)
	return &a, nil
}

func agentArgs(a *types.Agent) ([]interface{}, error) {
	genomeJSON, err := marshalJSON(a.Genome)
	if err != nil {
		return nil, err
	}
	outcomesJSON, err := marshalJSON(a.Outcomes)
	if err != nil {
		return nil, err
	}
	return []interface{}{
		a.ID, string(a.Role), a.Specialization, a.ProjectID, string(a.Status), a.CurrentTaskID,
		a.Score, a.SuccessCount, a.FailCount, string(a.RiskLevel), a.ExistencePotential,
		a.Generation, a.ParentID, genomeJSON, a.CostBaseline, a.SessionCost,
		outcomesJSON, a.CollabSuccess, a.CollabTotal, tsOf(a.CreatedAt), tsOf(a.UpdatedAt),
	}, nil
}

// CreateAgent inserts a new agent row.
func (s *SQLiteStore) CreateAgent(ctx context.Context, a *types.Agent) error {
	args, err := agentArgs(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO agents (`+agentColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, args...)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("agent %s: %w", a.ID, ErrConflict)
		}
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	return nil
}

// GetAgent fetches one agent by ID.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := s.scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	return a, err
}

// UpdateAgent rewrites the full agent row. OFFLINE is terminal: a write
// carrying a living status for an agent already terminated is a stale
// snapshot and is rejected with ErrConflict.
func (s *SQLiteStore) UpdateAgent(ctx context.Context, a *types.Agent) error {
	if err := checkAgentWritable(ctx, s.db, a); err != nil {
		return err
	}
	a.UpdatedAt = time.Now()
	return s.updateAgentExec(ctx, s.db, a)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Terminated agents stay terminated. A write that would move an offline
// agent back to a living status carries a stale snapshot.
func checkAgentWritable(ctx context.Context, q rowQueryer, a *types.Agent) error {
	var cur string
	err := q.QueryRowContext(ctx, `SELECT status FROM agents WHERE id = ?`, a.ID).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("agent %s: %w", a.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read agent %s: %w", a.ID, err)
	}
	if cur == string(types.AgentOffline) && a.Status != types.AgentOffline {
		return fmt.Errorf("agent %s is offline: %w", a.ID, ErrConflict)
	}
	return nil
}

func (s *SQLiteStore) updateAgentExec(ctx context.Context, ex execer, a *types.Agent) error {
	args, err := agentArgs(a)
	if err != nil {
		return err
	}
	// Shift ID to the WHERE clause.
	args = append(args[1:], a.ID)
	res, err := ex.ExecContext(ctx, `UPDATE agents SET
		role=?, specialization=?, project_id=?, status=?, current_task_id=?,
		score=?, success_count=?, fail_count=?, risk_level=?, existence=?,
		generation=?, parent_id=?, genome=?, cost_baseline=?, session_cost=?,
		outcomes=?, collab_success=?, collab_total=?, created_at=?, updated_at=?
		WHERE id=?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent %s: %w", a.ID, ErrNotFound)
	}
	return nil
}

// ListAgents returns agents matching the filter, ordered by ID.
func (s *SQLiteStore) ListAgents(ctx context.Context, f AgentFilter) ([]*types.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE 1=1`
	var args []interface{}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	if f.Role != "" {
		query += " AND role = ?"
		args = append(args, string(f.Role))
	}
	if f.Alive {
		query += " AND status != ?"
		args = append(args, string(types.AgentOffline))
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var out []*types.Agent
	for rows.Next() {
		a, err := s.scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// TASKS
// =============================================================================

const taskColumns = `id, project_id, title, required_role, status, assigned_to,
	revision_count, max_revisions, complexity, estimated_cost, context,
	error_message, blocked_reason, deadlocked, created_at, updated_at, assigned_at, started_at`

func (s *SQLiteStore) scanTask(row interface{ Scan(...interface{}) error }) (*types.Task, error) {
	var t types.Task
	var contextJSON string
	var deadlocked int
	var createdAt, updatedAt, assignedAt, startedAt int64
	err := row.Scan(
		&t.ID, &t.ProjectID, &t.Title, &t.RequiredRole, &t.Status, &t.AssignedTo,
		&t.RevisionCount, &t.MaxRevisions, &t.Complexity, &t.EstimatedCost, &contextJSON,
		&t.ErrorMessage, &t.BlockedReason, &deadlocked, &createdAt, &updatedAt, &assignedAt, &startedAt,
	)
	if err != nil {
		return nil, err
	}
	if contextJSON != "" && contextJSON != "null" {
		if err := json.Unmarshal([]byte(contextJSON), &t.Context); err != nil {
			return nil, fmt.Errorf("failed to decode context for %s: %w", t.ID, err)
		}
	}
	t.Deadlocked = deadlocked != 0
	t.CreatedAt = timeOf(createdAt)
	t.UpdatedAt = timeOf(updatedAt)
	t.AssignedAt = timeOf(assignedAt)
	t.StartedAt = timeOf(startedAt)
	return &t, nil
}

func taskArgs(t *types.Task) ([]interface{}, error) {
	contextJSON, err := marshalJSON(t.Context)
	if err != nil {
		return nil, err
	}
	deadlocked := 0
	if t.Deadlocked {
		deadlocked = 1
	}
	return []interface{}{
		t.ID, t.ProjectID, t.Title, t.RequiredRole, string(t.Status), t.AssignedTo,
		t.RevisionCount, t.MaxRevisions, t.Complexity, t.EstimatedCost, contextJSON,
		t.ErrorMessage, t.BlockedReason, deadlocked,
		tsOf(t.CreatedAt), tsOf(t.UpdatedAt), tsOf(t.AssignedAt), tsOf(t.StartedAt),
	}, nil
}

// CreateTask inserts a new task row.
func (s *SQLiteStore) CreateTask(ctx context.Context, t *types.Task) error {
	args, err := taskArgs(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, args...)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("task %s: %w", t.ID, ErrConflict)
		}
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// GetTask fetches one task by ID.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*types.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := s.scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, err
}

// UpdateTask rewrites the full task row.
func (s *SQLiteStore) UpdateTask(ctx context.Context, t *types.Task) error {
	t.UpdatedAt = time.Now()
	return s.updateTaskExec(ctx, s.db, t)
}

func (s *SQLiteStore) updateTaskExec(ctx context.Context, ex execer, t *types.Task) error {
	args, err := taskArgs(t)
	if err != nil {
		return err
	}
	args = append(args[1:], t.ID)
	res, err := ex.ExecContext(ctx, `UPDATE tasks SET
		project_id=?, title=?, required_role=?, status=?, assigned_to=?,
		revision_count=?, max_revisions=?, complexity=?, estimated_cost=?, context=?,
		error_message=?, blocked_reason=?, deadlocked=?,
		created_at=?, updated_at=?, assigned_at=?, started_at=?
		WHERE id=?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

// ListTasks returns tasks matching the filter.
func (s *SQLiteStore) ListTasks(ctx context.Context, f TaskFilter) ([]*types.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	var args []interface{}
	if len(f.Statuses) > 0 {
		placeholders := strings.Repeat("?,", len(f.Statuses))
		query += " AND status IN (" + placeholders[:len(placeholders)-1] + ")"
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if f.ProjectID != "" {
		query += " AND project_id = ?"
		args = append(args, f.ProjectID)
	}
	if f.OldestFirst {
		query += " ORDER BY created_at ASC, id ASC"
	} else {
		query += " ORDER BY id"
	}
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []*types.Task
	for rows.Next() {
		t, err := s.scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTIONAL MULTI-ROW OPERATIONS
// =============================================================================

// AssignTask performs the atomic assignment dual-write inside one transaction.
func (s *SQLiteStore) AssignTask(ctx context.Context, taskID, agentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin assign tx: %w", err)
	}
	defer tx.Rollback()

	task, err := s.scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID))
	if err == sql.ErrNoRows {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	agent, err := s.scanAgent(tx.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, agentID))
	if err == sql.ErrNoRows {
		return fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}
	if err != nil {
		return err
	}

	if task.Status != types.TaskQueued && task.Status != types.TaskNeedsRevision {
		return fmt.Errorf("task %s is %s: %w", taskID, task.Status, ErrConflict)
	}
	if task.AssignedTo != "" {
		return fmt.Errorf("task %s already assigned to %s: %w", taskID, task.AssignedTo, ErrInvariant)
	}
	if agent.Status != types.AgentIdle {
		return fmt.Errorf("agent %s is %s: %w", agentID, agent.Status, ErrConflict)
	}

	now := time.Now()
	task.Status = types.TaskAssigned
	task.AssignedTo = agentID
	task.AssignedAt = now
	task.UpdatedAt = now
	agent.Status = types.AgentBusy
	agent.CurrentTaskID = taskID
	agent.UpdatedAt = now

	if err := s.updateTaskExec(ctx, tx, task); err != nil {
		return err
	}
	if err := s.updateAgentExec(ctx, tx, agent); err != nil {
		return err
	}
	return tx.Commit()
}

// ReleaseAssignment atomically severs the task<->agent link and moves the
// task to newStatus.
func (s *SQLiteStore) ReleaseAssignment(ctx context.Context, taskID string, newStatus types.TaskStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin release tx: %w", err)
	}
	defer tx.Rollback()

	task, err := s.scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID))
	if err == sql.ErrNoRows {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return err
	}

	if task.AssignedTo != "" {
		agent, err := s.scanAgent(tx.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, task.AssignedTo))
		if err == sql.ErrNoRows {
			return fmt.Errorf("task %s assigned to unknown agent %s: %w", taskID, task.AssignedTo, ErrInvariant)
		}
		if err != nil {
			return err
		}
		if agent.CurrentTaskID != taskID {
			return fmt.Errorf("agent %s holds %q, not %s: %w", agent.ID, agent.CurrentTaskID, taskID, ErrInvariant)
		}
		agent.Status = types.AgentIdle
		agent.CurrentTaskID = ""
		agent.UpdatedAt = time.Now()
		if err := s.updateAgentExec(ctx, tx, agent); err != nil {
			return err
		}
	}

	task.AssignedTo = ""
	task.Status = newStatus
	task.UpdatedAt = time.Now()
	if err := s.updateTaskExec(ctx, tx, task); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateAgentAndTask writes both entities in one transaction. A stale
// snapshot of a terminated agent aborts the whole write, leaving the task
// untouched.
func (s *SQLiteStore) UpdateAgentAndTask(ctx context.Context, a *types.Agent, t *types.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin update tx: %w", err)
	}
	defer tx.Rollback()

	if err := checkAgentWritable(ctx, tx, a); err != nil {
		return err
	}
	now := time.Now()
	a.UpdatedAt = now
	t.UpdatedAt = now
	if err := s.updateAgentExec(ctx, tx, a); err != nil {
		return err
	}
	if err := s.updateTaskExec(ctx, tx, t); err != nil {
		return err
	}
	return tx.Commit()
}

// TerminateAgent sets the agent offline (E forced to 0), requeues tasks it
// held in {assigned, in_progress}, and persists the harvested nugget, all in
// one transaction.
func (s *SQLiteStore) TerminateAgent(ctx context.Context, agentID string, nugget *types.KnowledgeNugget) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin terminate tx: %w", err)
	}
	defer tx.Rollback()

	agent, err := s.scanAgent(tx.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, agentID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `SELECT id FROM tasks WHERE assigned_to = ? AND status IN (?, ?)`,
		agentID, string(types.TaskAssigned), string(types.TaskInProgress))
	if err != nil {
		return nil, fmt.Errorf("failed to query held tasks: %w", err)
	}
	var requeued []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		requeued = append(requeued, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := tsOf(time.Now())
	for _, id := range requeued {
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, assigned_to = '', updated_at = ? WHERE id = ?`,
			string(types.TaskQueued), now, id); err != nil {
			return nil, fmt.Errorf("failed to requeue task %s: %w", id, err)
		}
	}

	agent.Status = types.AgentOffline
	agent.CurrentTaskID = ""
	agent.ExistencePotential = 0
	agent.UpdatedAt = time.Now()
	if err := s.updateAgentExec(ctx, tx, agent); err != nil {
		return nil, err
	}

	if nugget != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO knowledge_nuggets (id, category, content, source_agent_id, quality, created_at)
			VALUES (?,?,?,?,?,?)`,
			nugget.ID, nugget.Category, nugget.Content, nugget.SourceAgentID, nugget.Quality, tsOf(nugget.CreatedAt)); err != nil {
			return nil, fmt.Errorf("failed to persist nugget: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return requeued, nil
}

// =============================================================================
// AUDIT
// =============================================================================

// AppendGovernanceEvent appends to the append-only audit trail.
func (s *SQLiteStore) AppendGovernanceEvent(ctx context.Context, ev *types.GovernanceEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO governance_events (id, agent_id, task_id, action, reason, previous_role, new_role, timestamp)
		VALUES (?,?,?,?,?,?,?,?)`,
		ev.ID, ev.AgentID, ev.TaskID, string(ev.Action), ev.Reason,
		string(ev.PreviousRole), string(ev.NewRole), tsOf(ev.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to append governance event: %w", err)
	}
	return nil
}

// ListGovernanceEvents returns events for an agent, newest first.
func (s *SQLiteStore) ListGovernanceEvents(ctx context.Context, agentID string, limit int) ([]*types.GovernanceEvent, error) {
	query := `SELECT id, agent_id, task_id, action, reason, previous_role, new_role, timestamp
		FROM governance_events`
	var args []interface{}
	if agentID != "" {
		query += " WHERE agent_id = ?"
		args = append(args, agentID)
	}
	query += " ORDER BY timestamp DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list governance events: %w", err)
	}
	defer rows.Close()

	var out []*types.GovernanceEvent
	for rows.Next() {
		var ev types.GovernanceEvent
		var ts int64
		if err := rows.Scan(&ev.ID, &ev.AgentID, &ev.TaskID, &ev.Action, &ev.Reason,
			&ev.PreviousRole, &ev.NewRole, &ts); err != nil {
			return nil, err
		}
		ev.Timestamp = timeOf(ts)
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// AppendGenerationRecord appends an immutable evolution cycle snapshot.
func (s *SQLiteStore) AppendGenerationRecord(ctx context.Context, rec *types.GenerationRecord) error {
	payload, err := marshalJSON(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO generation_records (id, cycle, payload, timestamp) VALUES (?,?,?,?)`,
		rec.ID, rec.Cycle, payload, tsOf(rec.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to append generation record: %w", err)
	}
	return nil
}

// GenerationCount returns the number of recorded evolution cycles.
func (s *SQLiteStore) GenerationCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM generation_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count generation records: %w", err)
	}
	return n, nil
}

// ListGenerationRecords returns all cycle snapshots in cycle order.
func (s *SQLiteStore) ListGenerationRecords(ctx context.Context) ([]*types.GenerationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM generation_records ORDER BY cycle ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list generation records: %w", err)
	}
	defer rows.Close()

	var out []*types.GenerationRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec types.GenerationRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode generation record: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// =============================================================================
// KNOWLEDGE
// =============================================================================

// SaveNugget persists a harvested lesson.
func (s *SQLiteStore) SaveNugget(ctx context.Context, n *types.KnowledgeNugget) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_nuggets (id, category, content, source_agent_id, quality, created_at)
		VALUES (?,?,?,?,?,?)`,
		n.ID, n.Category, n.Content, n.SourceAgentID, n.Quality, tsOf(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save nugget: %w", err)
	}
	return nil
}

// NuggetsByCategory returns nuggets in any of the given categories, best
// quality first.
func (s *SQLiteStore) NuggetsByCategory(ctx context.Context, categories ...string) ([]*types.KnowledgeNugget, error) {
	query := `SELECT id, category, content, source_agent_id, quality, created_at FROM knowledge_nuggets`
	var args []interface{}
	if len(categories) > 0 {
		placeholders := strings.Repeat("?,", len(categories))
		query += " WHERE category IN (" + placeholders[:len(placeholders)-1] + ")"
		for _, c := range categories {
			args = append(args, c)
		}
	}
	query += " ORDER BY quality DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query nuggets: %w", err)
	}
	defer rows.Close()

	var out []*types.KnowledgeNugget
	for rows.Next() {
		var n types.KnowledgeNugget
		var ts int64
		if err := rows.Scan(&n.ID, &n.Category, &n.Content, &n.SourceAgentID, &n.Quality, &ts); err != nil {
			return nil, err
		}
		n.CreatedAt = timeOf(ts)
		out = append(out, &n)
	}
	return out, rows.Err()
}

package store

import (
	"fmt"

	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/logging"
)

// Schema versions:
// v1: agents, tasks, governance_events, generation_records, knowledge_nuggets
const CurrentSchemaVersion = 1

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		role TEXT NOT NULL,
		specialization TEXT NOT NULL DEFAULT '',
		project_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		current_task_id TEXT NOT NULL DEFAULT '',
		score REAL NOT NULL DEFAULT 0,
		success_count INTEGER NOT NULL DEFAULT 0,
		fail_count INTEGER NOT NULL DEFAULT 0,
		risk_level TEXT NOT NULL DEFAULT 'low',
		existence REAL NOT NULL DEFAULT 0,
		generation INTEGER NOT NULL DEFAULT 0,
		parent_id TEXT NOT NULL DEFAULT '',
		genome TEXT NOT NULL DEFAULT '{}',
		cost_baseline REAL NOT NULL DEFAULT 0,
		session_cost REAL NOT NULL DEFAULT 0,
		outcomes TEXT NOT NULL DEFAULT '[]',
		collab_success INTEGER NOT NULL DEFAULT 0,
		collab_total INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status)`,
	`CREATE INDEX IF NOT EXISTS idx_agents_role ON agents(role, status)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		required_role TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		assigned_to TEXT NOT NULL DEFAULT '',
		revision_count INTEGER NOT NULL DEFAULT 0,
		max_revisions INTEGER NOT NULL DEFAULT 3,
		complexity REAL NOT NULL DEFAULT 0,
		estimated_cost REAL NOT NULL DEFAULT 0,
		context TEXT NOT NULL DEFAULT '{}',
		error_message TEXT NOT NULL DEFAULT '',
		blocked_reason TEXT NOT NULL DEFAULT '',
		deadlocked INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0,
		assigned_at INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_assigned ON tasks(assigned_to)`,
	`CREATE TABLE IF NOT EXISTS governance_events (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		task_id TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		previous_role TEXT NOT NULL DEFAULT '',
		new_role TEXT NOT NULL DEFAULT '',
		timestamp INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_gov_agent ON governance_events(agent_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS generation_records (
		id TEXT PRIMARY KEY,
		cycle INTEGER NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		timestamp INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS knowledge_nuggets (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL DEFAULT 'general',
		content TEXT NOT NULL DEFAULT '',
		source_agent_id TEXT NOT NULL DEFAULT '',
		quality REAL NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_nuggets_category ON knowledge_nuggets(category, quality)`,
}

// migrate applies the schema and records the version.
func (s *SQLiteStore) migrate() error {
	timer := logging.StartTimer(logging.CategoryStore, "migrate")
	defer timer.Stop()

	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}

	var version int
	err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version < CurrentSchemaVersion {
		if _, err := s.db.Exec(
			`INSERT INTO schema_version (version, applied_at) VALUES (?, strftime('%s','now'))`,
			CurrentSchemaVersion); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
		logging.Store("Schema migrated: v%d -> v%d", version, CurrentSchemaVersion)
	}
	return nil
}

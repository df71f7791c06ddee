// Package config centralizes every threshold the governance, evolution,
// population, budget, and driver components use. All magic numbers are
// declared once here and injected, so each rule is independently testable.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all pool engine configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Workspace root; state lives under <workspace>/.tholai/
	Workspace string `yaml:"workspace"`

	// SQLite database path. Empty means <workspace>/.tholai/pool.db.
	DatabasePath string `yaml:"database_path"`

	Existence  ExistenceConfig  `yaml:"existence"`
	Governance GovernanceConfig `yaml:"governance"`
	Evolution  EvolutionConfig  `yaml:"evolution"`
	Population PopulationConfig `yaml:"population"`
	Budget     BudgetConfig     `yaml:"budget"`
	Driver     DriverConfig     `yaml:"driver"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ExistenceConfig parameterizes the existence model (E-values).
type ExistenceConfig struct {
	Max            float64 `yaml:"max"`              // Upper bound on E
	Floor          float64 `yaml:"floor"`            // Termination-eligible at or below
	PanicThreshold float64 `yaml:"panic_threshold"`  // Urgency ramps below this
	GenesisInitial float64 `yaml:"genesis_initial"`  // E for generation-0 agents
	OffspringE     float64 `yaml:"offspring_e"`      // E for bred agents (unproven lineage)
	DecayPerMinute float64 `yaml:"decay_per_minute"` // Metabolic cost

	// Reward shape
	SuccessBase      float64 `yaml:"success_base"`
	FailurePenalty   float64 `yaml:"failure_penalty"` // Applied as-is (negative)
	ComplexityWeight float64 `yaml:"complexity_weight"`
	QualityWeight    float64 `yaml:"quality_weight"`
	EfficiencyWeight float64 `yaml:"efficiency_weight"`
}

// GovernanceConfig parameterizes the rules engine.
type GovernanceConfig struct {
	// Minimum recent outcomes before an agent is evaluated at all.
	MinOutcomes int `yaml:"min_outcomes"`

	// Economic circuit breaker
	CostDeviationLimit float64 `yaml:"cost_deviation_limit"` // sessionCost/adjustedBaseline above this terminates
	DefaultComplexity  float64 `yaml:"default_complexity"`   // 0-100 scale
	MinBaselineScale   float64 `yaml:"min_baseline_scale"`   // Floor on complexity/DefaultComplexity

	// Hard termination
	TerminateFailCount int     `yaml:"terminate_fail_count"`
	TerminateScore     float64 `yaml:"terminate_score"`
	TerminateRiskScore float64 `yaml:"terminate_risk_score"` // With RiskHigh

	// Promotion
	PromoteMinTasks    int     `yaml:"promote_min_tasks"`
	PromoteScore       float64 `yaml:"promote_score"`
	PromoteSuccessRate float64 `yaml:"promote_success_rate"`

	// Demotion
	DemoteScore     float64 `yaml:"demote_score"`
	DemoteFailCount int     `yaml:"demote_fail_count"`
	DemoteRiskScore float64 `yaml:"demote_risk_score"` // With RiskHigh

	// Warning
	WarnScore float64 `yaml:"warn_score"` // With RiskMedium
}

// EvolutionConfig parameterizes fitness and breeding.
type EvolutionConfig struct {
	BaseFitness      float64 `yaml:"base_fitness"`   // Empty-history fitness
	MinFitness       float64 `yaml:"min_fitness"`    // Floor for any non-empty history
	SuccessWeight    float64 `yaml:"success_weight"` // Complexity-weighted success rate
	EfficiencyWeight float64 `yaml:"efficiency_weight"`
	QualityWeight    float64 `yaml:"quality_weight"`
	CollabWeight     float64 `yaml:"collab_weight"`
	DefaultCollab    float64 `yaml:"default_collab"` // Collaboration ratio with no history

	TournamentSize  int     `yaml:"tournament_size"`
	ElitePercent    float64 `yaml:"elite_percent"`    // Top fraction eligible to breed
	BreedingPairs   int     `yaml:"breeding_pairs"`   // Pairs formed per cycle
	MutationRate    float64 `yaml:"mutation_rate"`    // Per-field perturbation probability
	MutationDelta   float64 `yaml:"mutation_delta"`   // Max symmetric perturbation
	PromptDominance float64 `yaml:"prompt_dominance"` // Influence share above which the prompt is inherited verbatim

	OutcomeWindow int `yaml:"outcome_window"` // Recent outcomes considered for fitness
}

// PopulationConfig parameterizes pool sizing.
type PopulationConfig struct {
	MinSize          int            `yaml:"min_size"`
	MaxSize          int            `yaml:"max_size"`
	TasksPerAgent    float64        `yaml:"tasks_per_agent"`  // Target = ceil(pending / this)
	ScaleDownSlack   int            `yaml:"scale_down_slack"` // Over target+slack still takes no action
	MaxSpawnPerCycle int            `yaml:"max_spawn_per_cycle"`
	EliteMinE        float64        `yaml:"elite_min_e"`    // Minimum E to be breeding stock for scale-up
	MinElites        int            `yaml:"min_elites"`     // Fewer than this falls back to genesis spawning
	GenesisRoster    map[string]int `yaml:"genesis_roster"` // role -> count for bootstrap

	// Knowledge harvesting
	HarvestMinSuccesses  int     `yaml:"harvest_min_successes"`   // Below this an agent leaves no nugget
	HarvestFullQualityAt float64 `yaml:"harvest_full_quality_at"` // Successes at which quality saturates to 1.0
}

// BudgetConfig parameterizes spend ceilings.
type BudgetConfig struct {
	TaskCeiling float64 `yaml:"task_ceiling"` // Soft warning only
	ProjectCap  float64 `yaml:"project_cap"`  // Pauses the project
	DailyCap    float64 `yaml:"daily_cap"`    // Pauses all admission
}

// DriverConfig parameterizes the periodic driver loop.
type DriverConfig struct {
	DispatchInterval   string `yaml:"dispatch_interval"`
	WorkInterval       string `yaml:"work_interval"`
	GovernanceInterval string `yaml:"governance_interval"`
	EvolutionInterval  string `yaml:"evolution_interval"`
	ScaleInterval      string `yaml:"scale_interval"`
	DispatchBatchSize  int    `yaml:"dispatch_batch_size"`
	StaleTaskAfter     string `yaml:"stale_task_after"` // IN_PROGRESS older than this is requeued
	MaxRevisions       int    `yaml:"max_revisions"`    // Default revision cap for new tasks
}

// LoggingConfig mirrors internal/logging's file config.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode" json:"debug_mode"`
	Categories map[string]bool `yaml:"categories" json:"categories"`
	Level      string          `yaml:"level" json:"level"`
}

// DefaultConfig returns the configuration with every threshold at its
// documented default.
func DefaultConfig() *Config {
	return &Config{
		Name:    "tholai-pool",
		Version: "1.0",
		Existence: ExistenceConfig{
			Max:              1000,
			Floor:            10,
			PanicThreshold:   30,
			GenesisInitial:   100,
			OffspringE:       80,
			DecayPerMinute:   0.5,
			SuccessBase:      10,
			FailurePenalty:   -5,
			ComplexityWeight: 10,
			QualityWeight:    10,
			EfficiencyWeight: 5,
		},
		Governance: GovernanceConfig{
			MinOutcomes:        3,
			CostDeviationLimit: 3.0,
			DefaultComplexity:  50,
			MinBaselineScale:   0.2,
			TerminateFailCount: 5,
			TerminateScore:     20,
			TerminateRiskScore: 30,
			PromoteMinTasks:    5,
			PromoteScore:       80,
			PromoteSuccessRate: 0.8,
			DemoteScore:        40,
			DemoteFailCount:    3,
			DemoteRiskScore:    50,
			WarnScore:          50,
		},
		Evolution: EvolutionConfig{
			BaseFitness:      0.1,
			MinFitness:       0.01,
			SuccessWeight:    0.40,
			EfficiencyWeight: 0.20,
			QualityWeight:    0.25,
			CollabWeight:     0.15,
			DefaultCollab:    0.5,
			TournamentSize:   3,
			ElitePercent:     0.20,
			BreedingPairs:    3,
			MutationRate:     0.10,
			MutationDelta:    0.15,
			PromptDominance:  0.70,
			OutcomeWindow:    20,
		},
		Population: PopulationConfig{
			MinSize:          10,
			MaxSize:          50,
			TasksPerAgent:    2,
			ScaleDownSlack:   10,
			MaxSpawnPerCycle: 5,
			EliteMinE:        50,
			MinElites:        2,

			HarvestMinSuccesses:  3,
			HarvestFullQualityAt: 20,
			GenesisRoster: map[string]int{
				"architect":  1,
				"team_lead":  1,
				"senior_dev": 2,
				"mid_dev":    3,
				"junior_dev": 2,
				"qa":         2,
				"senior_qa":  1,
			},
		},
		Budget: BudgetConfig{
			TaskCeiling: 5.0,
			ProjectCap:  100.0,
			DailyCap:    250.0,
		},
		Driver: DriverConfig{
			DispatchInterval:   "15s",
			WorkInterval:       "20s",
			GovernanceInterval: "45s",
			EvolutionInterval:  "5m",
			ScaleInterval:      "1m",
			DispatchBatchSize:  20,
			StaleTaskAfter:     "30m",
			MaxRevisions:       3,
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if ws := os.Getenv("THOLAI_WORKSPACE"); ws != "" {
		c.Workspace = ws
	}
	if path := os.Getenv("THOLAI_DB"); path != "" {
		c.DatabasePath = path
	}
	if v := os.Getenv("THOLAI_DAILY_CAP"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Budget.DailyCap = f
		}
	}
	if v := os.Getenv("THOLAI_PROJECT_CAP"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Budget.ProjectCap = f
		}
	}
	if v := os.Getenv("THOLAI_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
		c.Logging.Level = "debug"
	}
}

// Validate checks internal consistency of the loaded configuration.
func (c *Config) Validate() error {
	if c.Existence.Floor < 0 || c.Existence.Floor >= c.Existence.Max {
		return fmt.Errorf("existence floor %.1f must be in [0, max %.1f)", c.Existence.Floor, c.Existence.Max)
	}
	if c.Population.MinSize <= 0 || c.Population.MinSize > c.Population.MaxSize {
		return fmt.Errorf("population bounds invalid: min=%d max=%d", c.Population.MinSize, c.Population.MaxSize)
	}
	if c.Evolution.TournamentSize < 1 {
		return fmt.Errorf("tournament size must be >= 1, got %d", c.Evolution.TournamentSize)
	}
	if c.Evolution.ElitePercent <= 0 || c.Evolution.ElitePercent > 1 {
		return fmt.Errorf("elite percent must be in (0, 1], got %.2f", c.Evolution.ElitePercent)
	}
	if c.Governance.CostDeviationLimit <= 0 {
		return fmt.Errorf("cost deviation limit must be positive, got %.2f", c.Governance.CostDeviationLimit)
	}
	return nil
}

// ResolveDatabasePath returns the effective SQLite path.
func (c *Config) ResolveDatabasePath() string {
	if c.DatabasePath != "" {
		return c.DatabasePath
	}
	ws := c.Workspace
	if ws == "" {
		ws = "."
	}
	return filepath.Join(ws, ".tholai", "pool.db")
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// GetDispatchInterval returns the dispatch cadence as a duration.
func (c *Config) GetDispatchInterval() time.Duration {
	return parseDuration(c.Driver.DispatchInterval, 15*time.Second)
}

// GetWorkInterval returns the work-cycle cadence as a duration.
func (c *Config) GetWorkInterval() time.Duration {
	return parseDuration(c.Driver.WorkInterval, 20*time.Second)
}

// GetGovernanceInterval returns the governance cadence as a duration.
func (c *Config) GetGovernanceInterval() time.Duration {
	return parseDuration(c.Driver.GovernanceInterval, 45*time.Second)
}

// GetEvolutionInterval returns the evolution cadence as a duration.
func (c *Config) GetEvolutionInterval() time.Duration {
	return parseDuration(c.Driver.EvolutionInterval, 5*time.Minute)
}

// GetScaleInterval returns the population scaling cadence as a duration.
func (c *Config) GetScaleInterval() time.Duration {
	return parseDuration(c.Driver.ScaleInterval, time.Minute)
}

// GetStaleTaskAfter returns the stuck-task recovery ceiling as a duration.
func (c *Config) GetStaleTaskAfter() time.Duration {
	return parseDuration(c.Driver.StaleTaskAfter, 30*time.Minute)
}

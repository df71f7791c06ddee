package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/budget"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/config"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/dispatch"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/driver"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/evolution"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/existence"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/governance"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/knowledge"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/logging"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/notify"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/population"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/router"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/store"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/types"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string
	simulate   bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "tholai",
	Short: "tholai - evolutionary worker-agent pool engine",
	Long: `tholai runs a governed pool of worker agents against a task pipeline.

Agents earn or lose existence potential by the quality of their work,
reproduce through fitness-weighted crossover, and are promoted, demoted
or terminated by a governance rules engine. Tasks flow through dispatch,
execution, review and QA under budget ceilings.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("category logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// engine bundles everything a command needs.
type engine struct {
	cfg  *config.Config
	st   store.Store
	pop  *population.Manager
	loop *driver.Loop
	lim  *budget.Limiter
}

func buildEngine() (*engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if workspace != "" {
		cfg.Workspace = workspace
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.ResolveDatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	model := existence.NewModel(cfg.Existence)
	evoEngine := evolution.NewEngine(cfg.Evolution, rand.New(rand.NewSource(time.Now().UnixNano())))
	harvester := knowledge.NewHarvester(cfg.Population.HarvestMinSuccesses, cfg.Population.HarvestFullQualityAt)
	notifier := notify.LogNotifier{}
	pop := population.NewManager(cfg.Population, cfg.Existence, evoEngine, harvester, st, notifier)
	gov := governance.NewEngine(cfg.Governance, model, st, pop)
	orch := evolution.NewOrchestrator(cfg.Evolution, cfg.Existence.Floor, evoEngine, st, pop)
	rt := router.NewRouter(st, notifier)
	limiter := budget.NewLimiter(cfg.Budget)

	sim := driver.NewSimulatedWorker(time.Now().UnixNano())
	work := driver.NewWorkCycle(cfg.Driver, model, st, pop, rt, limiter, sim, sim, sim, notifier)
	disp := dispatch.NewDispatcher(cfg.Driver, st, notifier)
	loop := driver.NewLoop(cfg, disp, work, gov, orch, pop)

	return &engine{cfg: cfg, st: st, pop: pop, loop: loop, lim: limiter}, nil
}

// runCmd starts the driver loop until interrupted.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pool engine until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !simulate {
			// The real worker-execution capability attaches here once one
			// exists; until then only simulated execution is available and
			// asking for it has to be explicit.
			return fmt.Errorf("no external worker capability is configured; pass --simulate to run with the built-in simulated worker")
		}
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		defer eng.st.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if n, err := eng.pop.Bootstrap(ctx); err != nil {
			return fmt.Errorf("bootstrap failed: %w", err)
		} else if n > 0 {
			logger.Info("bootstrapped genesis population", zap.Int("agents", n))
		}

		// Administrative overrides: budget caps picked up from config
		// edits without a restart. Pauses are still lifted only by resume.
		if configPath != "" {
			err := config.WatchOverrides(ctx, configPath, func(fresh *config.Config) {
				eng.lim.SetCaps(fresh.Budget)
				logger.Info("budget caps updated from config",
					zap.Float64("daily_cap", fresh.Budget.DailyCap),
					zap.Float64("project_cap", fresh.Budget.ProjectCap))
			})
			if err != nil {
				logger.Warn("config watch unavailable", zap.Error(err))
			}
		}

		logger.Info("pool engine running",
			zap.String("workspace", eng.cfg.Workspace),
			zap.String("database", eng.cfg.ResolveDatabasePath()))
		return eng.loop.Run(ctx)
	},
}

// bootstrapCmd seeds the genesis population and exits.
var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Spawn the genesis population into an empty pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		defer eng.st.Close()

		n, err := eng.pop.Bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Println("pool already populated, nothing to do")
			return nil
		}
		fmt.Printf("spawned %d genesis agents\n", n)
		return nil
	},
}

// statusCmd prints a snapshot of the pool and queue.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pool and queue state",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		defer eng.st.Close()
		ctx := cmd.Context()

		agents, err := eng.st.ListAgents(ctx, store.AgentFilter{Alive: true})
		if err != nil {
			return err
		}
		byRole := map[types.Role]int{}
		idle := 0
		for _, a := range agents {
			byRole[a.Role]++
			if a.Status == types.AgentIdle {
				idle++
			}
		}
		fmt.Printf("agents: %d living, %d idle\n", len(agents), idle)
		for _, r := range types.AllRoles {
			if byRole[r] > 0 {
				fmt.Printf("  %-12s %d\n", r, byRole[r])
			}
		}

		tasks, err := eng.st.ListTasks(ctx, store.TaskFilter{})
		if err != nil {
			return err
		}
		byStatus := map[types.TaskStatus]int{}
		for _, t := range tasks {
			byStatus[t.Status]++
		}
		fmt.Printf("tasks: %d total\n", len(tasks))
		for status, n := range byStatus {
			fmt.Printf("  %-16s %d\n", status, n)
		}

		cycles, err := eng.st.GenerationCount(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("evolution cycles recorded: %d\n", cycles)
		return nil
	},
}

// submitCmd enqueues a task.
var submitCmd = &cobra.Command{
	Use:   "submit [title]",
	Short: "Enqueue a task for the pool",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		project, _ := cmd.Flags().GetString("project")
		complexity, _ := cmd.Flags().GetFloat64("complexity")

		eng, err := buildEngine()
		if err != nil {
			return err
		}
		defer eng.st.Close()

		t := types.NewTask(args[0], role, project)
		t.Complexity = complexity
		t.MaxRevisions = eng.cfg.Driver.MaxRevisions
		if err := eng.st.CreateTask(cmd.Context(), t); err != nil {
			return err
		}
		fmt.Printf("queued task %s\n", t.ID)
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config YAML")
	runCmd.Flags().BoolVar(&simulate, "simulate", false, "use the simulated worker capability")
	submitCmd.Flags().String("role", "mid_dev", "required role label")
	submitCmd.Flags().String("project", "", "project affinity")
	submitCmd.Flags().Float64("complexity", 50, "complexity on the 0-100 scale")

	rootCmd.AddCommand(runCmd, bootstrapCmd, statusCmd, submitCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package driver

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/budget"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/config"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/dispatch"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/evolution"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/existence"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/governance"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/knowledge"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/notify"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/population"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/router"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/store"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/types"
)

type harness struct {
	cfg   *config.Config
	st    *store.MemoryStore
	pop   *population.Manager
	work  *WorkCycle
	loop  *Loop
	limit *budget.Limiter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.DefaultConfig()
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })

	model := existence.NewModel(cfg.Existence)
	engine := evolution.NewEngine(cfg.Evolution, rand.New(rand.NewSource(5)))
	harvester := knowledge.NewHarvester(cfg.Population.HarvestMinSuccesses, cfg.Population.HarvestFullQualityAt)
	pop := population.NewManager(cfg.Population, cfg.Existence, engine, harvester, st, notify.Nop{})
	gov := governance.NewEngine(cfg.Governance, model, st, pop)
	evo := evolution.NewOrchestrator(cfg.Evolution, cfg.Existence.Floor, engine, st, pop)
	rt := router.NewRouter(st, notify.Nop{})
	limiter := budget.NewLimiter(cfg.Budget)
	worker := NewSimulatedWorker(5)
	work := NewWorkCycle(cfg.Driver, model, st, pop, rt, limiter, worker, worker, worker, notify.Nop{})
	disp := dispatch.NewDispatcher(cfg.Driver, st, notify.Nop{})

	return &harness{
		cfg:   cfg,
		st:    st,
		pop:   pop,
		work:  work,
		loop:  NewLoop(cfg, disp, work, gov, evo, pop),
		limit: limiter,
	}
}

func seedTask(t *testing.T, st store.Store, id string) *types.Task {
	t.Helper()
	task := &types.Task{
		ID:           id,
		Title:        "implement " + id,
		RequiredRole: "mid_dev",
		Status:       types.TaskQueued,
		Complexity:   50,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, st.CreateTask(context.Background(), task))
	return task
}

func TestPipelineDrivesTasksToTerminalStates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.pop.Bootstrap(ctx)
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		seedTask(t, h.st, "t"+string(rune('a'+i)))
	}

	// Enough alternating dispatch/work rounds for every task to clear the
	// pipeline one way or the other.
	for i := 0; i < 30; i++ {
		require.NoError(t, h.loop.DispatchPass(ctx))
		require.NoError(t, h.loop.WorkPass(ctx))
	}

	tasks, err := h.st.ListTasks(ctx, store.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 6)
	for _, task := range tasks {
		terminal := task.Status.Terminal() || task.Status == types.TaskWarRoom
		assert.True(t, terminal, "task %s stuck in %s", task.ID, task.Status)
		if task.Status == types.TaskCompleted {
			assert.Empty(t, task.AssignedTo)
		}
	}
}

func TestOutcomeUpdatesAgentRecord(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	agent := &types.Agent{
		ID:                 "a1",
		Role:               types.RoleMidDev,
		Status:             types.AgentIdle,
		ExistencePotential: 100,
		Genome:             population.DefaultGenome(types.RoleMidDev),
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
	}
	require.NoError(t, h.st.CreateAgent(ctx, agent))
	seedTask(t, h.st, "t1")

	require.NoError(t, h.loop.DispatchPass(ctx))
	_, err := h.work.RunPass(ctx)
	require.NoError(t, err)

	stored, err := h.st.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, stored.Outcomes, 1)
	assert.Equal(t, 1, stored.TasksHandled())
	assert.NotEqual(t, 100.0, stored.ExistencePotential, "the attempt moved E")
	assert.Greater(t, stored.SessionCost, 0.0)
	assert.Empty(t, stored.CurrentTaskID)
	assert.NotEqual(t, types.AgentBusy, stored.Status)
}

func TestRevisionLimitFailsTask(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	worker := NewSimulatedWorker(5)
	worker.SuccessRate = -1 // every attempt fails
	h.work.runner = worker

	agent := &types.Agent{
		ID:                 "a1",
		Role:               types.RoleMidDev,
		Status:             types.AgentIdle,
		ExistencePotential: 1000,
		Genome:             population.DefaultGenome(types.RoleMidDev),
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
	}
	require.NoError(t, h.st.CreateAgent(ctx, agent))
	task := seedTask(t, h.st, "t1")

	for i := 0; i <= h.cfg.Driver.MaxRevisions+1; i++ {
		require.NoError(t, h.loop.DispatchPass(ctx))
		_, err := h.work.RunPass(ctx)
		require.NoError(t, err)
	}

	stored, err := h.st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "revision limit")
	assert.Equal(t, h.cfg.Driver.MaxRevisions, stored.RevisionCount)
}

func TestRevisionLimitHoldsAgainstSuccess(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	worker := NewSimulatedWorker(5)
	worker.SuccessRate = 2 // every attempt succeeds
	h.work.runner = worker

	agent := &types.Agent{
		ID:                 "a1",
		Role:               types.RoleMidDev,
		Status:             types.AgentIdle,
		ExistencePotential: 100,
		Genome:             population.DefaultGenome(types.RoleMidDev),
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
	}
	require.NoError(t, h.st.CreateAgent(ctx, agent))
	task := seedTask(t, h.st, "t1")

	// The revision budget was spent before this dispatch round.
	task.Status = types.TaskNeedsRevision
	task.RevisionCount = h.cfg.Driver.MaxRevisions
	require.NoError(t, h.st.UpdateTask(ctx, task))

	require.NoError(t, h.loop.DispatchPass(ctx))
	res, err := h.work.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	stored, err := h.st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, stored.Status, "a spent revision budget fails the task whatever the attempt would have produced")
	assert.Contains(t, stored.ErrorMessage, "revision limit")
	assert.Empty(t, stored.AssignedTo)

	freed, err := h.st.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AgentIdle, freed.Status)
}

// terminatingRunner kills its own agent mid-attempt and then reports
// success, the worst-case ordering for the outcome write-back.
type terminatingRunner struct {
	pop *population.Manager
}

func (r *terminatingRunner) Run(ctx context.Context, task *types.Task, agent *types.Agent) (Outcome, error) {
	if err := r.pop.Terminate(ctx, agent.ID, "killed mid-attempt", types.ModeApply); err != nil {
		return Outcome{}, err
	}
	return Outcome{Success: true, Quality: 0.9, Efficiency: 0.9, Cost: 0.5}, nil
}

func TestTerminationDuringAttemptIsNotUndone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.work.runner = &terminatingRunner{pop: h.pop}

	agent := &types.Agent{
		ID:                 "a1",
		Role:               types.RoleMidDev,
		Status:             types.AgentIdle,
		ExistencePotential: 128.5,
		Genome:             population.DefaultGenome(types.RoleMidDev),
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
	}
	require.NoError(t, h.st.CreateAgent(ctx, agent))
	task := seedTask(t, h.st, "t1")

	require.NoError(t, h.loop.DispatchPass(ctx))
	_, err := h.work.RunPass(ctx)
	require.NoError(t, err)

	dead, err := h.st.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AgentOffline, dead.Status, "the stale outcome must not resurrect the agent")
	assert.Zero(t, dead.ExistencePotential)

	requeued, err := h.st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskQueued, requeued.Status)
	assert.Empty(t, requeued.AssignedTo)
}

func TestRevisionAttemptFeedsCollaborationHistory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	worker := NewSimulatedWorker(5)
	worker.SuccessRate = 2 // every attempt succeeds
	h.work.runner = worker

	agent := &types.Agent{
		ID:                 "a1",
		Role:               types.RoleMidDev,
		Status:             types.AgentIdle,
		ExistencePotential: 100,
		Genome:             population.DefaultGenome(types.RoleMidDev),
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
	}
	require.NoError(t, h.st.CreateAgent(ctx, agent))

	// First attempt on a fresh task is solo work.
	seedTask(t, h.st, "t1")
	require.NoError(t, h.loop.DispatchPass(ctx))
	_, err := h.work.RunPass(ctx)
	require.NoError(t, err)

	solo, err := h.st.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Zero(t, solo.CollabTotal)

	// A revision round is a joint effort with the review stages.
	redo := seedTask(t, h.st, "t2")
	redo.Status = types.TaskNeedsRevision
	redo.RevisionCount = 1
	require.NoError(t, h.st.UpdateTask(ctx, redo))

	require.NoError(t, h.loop.DispatchPass(ctx))
	_, err = h.work.RunPass(ctx)
	require.NoError(t, err)

	joint, err := h.st.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, joint.CollabTotal)
	assert.Equal(t, 1, joint.CollabSuccess)
}

func TestStaleTaskRecovered(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	agent := &types.Agent{
		ID:                 "a1",
		Role:               types.RoleMidDev,
		Status:             types.AgentIdle,
		ExistencePotential: 100,
		Genome:             population.DefaultGenome(types.RoleMidDev),
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
	}
	require.NoError(t, h.st.CreateAgent(ctx, agent))
	task := seedTask(t, h.st, "t1")
	require.NoError(t, h.st.AssignTask(ctx, task.ID, agent.ID))

	// Simulate an attempt that started long ago and never reported.
	stuck, err := h.st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	stuck.Status = types.TaskInProgress
	stuck.StartedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, h.st.UpdateTask(ctx, stuck))

	res, err := h.work.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Recovered)

	recovered, err := h.st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskQueued, recovered.Status)
	assert.Empty(t, recovered.AssignedTo)

	freed, err := h.st.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AgentIdle, freed.Status)
}

func TestBudgetPauseHoldsAssignedWork(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	agent := &types.Agent{
		ID:                 "a1",
		Role:               types.RoleMidDev,
		Status:             types.AgentIdle,
		ExistencePotential: 100,
		Genome:             population.DefaultGenome(types.RoleMidDev),
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
	}
	require.NoError(t, h.st.CreateAgent(ctx, agent))
	seedTask(t, h.st, "t1")
	require.NoError(t, h.loop.DispatchPass(ctx))

	// Exhaust the daily budget before the work pass runs.
	h.limit.RecordCost("", "elsewhere", 10_000)

	res, err := h.work.RunPass(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Executed)

	held, err := h.st.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskAssigned, held.Status, "held, not dropped")

	h.limit.ResumeAll()
	res, err = h.work.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Executed)
}

func TestSimulatedWorkerIsDeterministic(t *testing.T) {
	ctx := context.Background()
	task := &types.Task{ID: "t1", RevisionCount: 0}
	agent := &types.Agent{ID: "a1"}

	w1 := NewSimulatedWorker(42)
	w2 := NewSimulatedWorker(42)
	o1, err := w1.Run(ctx, task, agent)
	require.NoError(t, err)
	o2, err := w2.Run(ctx, task, agent)
	require.NoError(t, err)
	assert.Equal(t, o1, o2)
}

func TestLoopStopsCleanly(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after cancellation")
	}
}

// Package driver runs the periodic passes that move tasks and agents
// through the pipeline, and owns the boundary to the worker-execution
// capability.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/budget"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/config"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/existence"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/logging"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/notify"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/population"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/router"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/store"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/types"
)

// WorkResult summarizes one work-cycle pass.
type WorkResult struct {
	Executed  int
	Succeeded int
	Reworked  int
	Failed    int
	Reviewed  int
	Verified  int
	Recovered int // Stale tasks requeued
}

// WorkCycle executes assigned tasks and advances the review and QA stages.
type WorkCycle struct {
	cfg      config.DriverConfig
	model    *existence.Model
	st       store.Store
	pop      *population.Manager
	route    *router.Router
	limiter  *budget.Limiter
	runner   WorkerRunner
	reviewer Reviewer
	verifier Verifier
	notifier notify.Notifier

	staleAfter time.Duration
}

// NewWorkCycle wires the work-cycle engine.
func NewWorkCycle(
	cfg config.DriverConfig,
	model *existence.Model,
	st store.Store,
	pop *population.Manager,
	route *router.Router,
	limiter *budget.Limiter,
	runner WorkerRunner,
	reviewer Reviewer,
	verifier Verifier,
	notifier notify.Notifier,
) *WorkCycle {
	staleAfter, err := time.ParseDuration(cfg.StaleTaskAfter)
	if err != nil || staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	return &WorkCycle{
		cfg:        cfg,
		model:      model,
		st:         st,
		pop:        pop,
		route:      route,
		limiter:    limiter,
		runner:     runner,
		reviewer:   reviewer,
		verifier:   verifier,
		notifier:   notifier,
		staleAfter: staleAfter,
	}
}

// RunPass recovers stale work, executes assigned tasks, then advances the
// review and QA stages. A failure on one task is logged and the pass
// continues with the rest.
func (w *WorkCycle) RunPass(ctx context.Context) (*WorkResult, error) {
	timer := logging.StartTimer(logging.CategoryDriver, "WorkCycle")
	defer timer.Stop()

	res := &WorkResult{}
	if err := w.recoverStale(ctx, res); err != nil {
		return nil, err
	}
	if err := w.executeAssigned(ctx, res); err != nil {
		return nil, err
	}
	if err := w.reviewStage(ctx, res); err != nil {
		return nil, err
	}
	if err := w.qaStage(ctx, res); err != nil {
		return nil, err
	}

	if res.Executed > 0 || res.Reviewed > 0 || res.Verified > 0 || res.Recovered > 0 {
		logging.Driver("Work pass: executed=%d ok=%d rework=%d failed=%d reviewed=%d verified=%d recovered=%d",
			res.Executed, res.Succeeded, res.Reworked, res.Failed, res.Reviewed, res.Verified, res.Recovered)
	}
	return res, nil
}

// recoverStale requeues tasks stuck in progress past the staleness ceiling.
// There is no mid-task preemption; staleness is the only recovery path.
func (w *WorkCycle) recoverStale(ctx context.Context, res *WorkResult) error {
	running, err := w.st.ListTasks(ctx, store.TaskFilter{
		Statuses: []types.TaskStatus{types.TaskInProgress},
	})
	if err != nil {
		return fmt.Errorf("failed to list running tasks: %w", err)
	}
	cutoff := time.Now().Add(-w.staleAfter)
	for _, t := range running {
		if t.StartedAt.IsZero() || t.StartedAt.After(cutoff) {
			continue
		}
		logging.Get(logging.CategoryDriver).Warn("Task %s stale since %s, requeuing", t.ID, t.StartedAt.Format(time.RFC3339))
		if err := w.st.ReleaseAssignment(ctx, t.ID, types.TaskQueued); err != nil {
			logging.DriverError("Failed to recover stale task %s: %v", t.ID, err)
			continue
		}
		res.Recovered++
		if fresh, err := w.st.GetTask(ctx, t.ID); err == nil {
			w.notifier.TaskUpdated(fresh)
		}
	}
	return nil
}

// executeAssigned runs every assigned task through the worker capability
// and applies the outcome: existence reward, history, cost, and the next
// task state.
func (w *WorkCycle) executeAssigned(ctx context.Context, res *WorkResult) error {
	assigned, err := w.st.ListTasks(ctx, store.TaskFilter{
		Statuses:    []types.TaskStatus{types.TaskAssigned},
		OldestFirst: true,
		Limit:       w.cfg.DispatchBatchSize,
	})
	if err != nil {
		return fmt.Errorf("failed to list assigned tasks: %w", err)
	}

	for _, t := range assigned {
		if v := w.limiter.CanProceed(t.ProjectID, t.EstimatedCost); !v.Allowed {
			logging.Get(logging.CategoryDriver).Warn("Task %s held: %s", t.ID, v.Reason)
			continue
		}
		if err := w.executeOne(ctx, t, res); err != nil {
			logging.DriverError("Task %s: %v", t.ID, err)
		}
	}
	return nil
}

func (w *WorkCycle) executeOne(ctx context.Context, t *types.Task, res *WorkResult) error {
	// A task dispatched with its revision budget already spent fails here,
	// whatever another attempt might have produced.
	if t.RevisionCount >= maxRevisions(t, w.cfg) {
		if err := w.st.ReleaseAssignment(ctx, t.ID, types.TaskFailed); err != nil {
			return err
		}
		failed, err := w.st.GetTask(ctx, t.ID)
		if err != nil {
			return err
		}
		failed.ErrorMessage = fmt.Sprintf("revision limit reached (%d attempts)", t.RevisionCount+1)
		if err := w.st.UpdateTask(ctx, failed); err != nil {
			return err
		}
		res.Failed++
		w.notifier.TaskUpdated(failed)
		return nil
	}

	agent, err := w.st.GetAgent(ctx, t.AssignedTo)
	if err != nil {
		return fmt.Errorf("assigned agent %s missing: %w", t.AssignedTo, err)
	}

	t.Status = types.TaskInProgress
	t.StartedAt = time.Now()
	t.UpdatedAt = t.StartedAt
	if err := w.st.UpdateTask(ctx, t); err != nil {
		return err
	}

	outcome, err := w.runner.Run(ctx, t, agent)
	if err != nil {
		// The attempt never produced a result; failure path with the
		// runner's error on record.
		outcome = Outcome{Success: false, ErrorMessage: err.Error()}
	}
	res.Executed++

	complexity := t.Complexity / 100
	delta := w.model.Reward(outcome.Success, complexity, outcome.Quality, outcome.Efficiency)
	agent.ExistencePotential = w.model.Apply(agent.ExistencePotential, delta)
	agent.SessionCost += outcome.Cost
	agent.Outcomes = append(agent.Outcomes, types.TaskOutcome{
		TaskID:     t.ID,
		Success:    outcome.Success,
		Complexity: complexity,
		Quality:    outcome.Quality,
		Efficiency: outcome.Efficiency,
		Timestamp:  time.Now(),
	})
	// Revision attempts are joint efforts with the review stages; the
	// collaboration history feeds fitness.
	if t.RevisionCount > 0 {
		agent.CollabTotal++
		if outcome.Success {
			agent.CollabSuccess++
		}
	}
	if outcome.Success {
		agent.SuccessCount++
		agent.Score += delta
	} else {
		agent.FailCount++
		agent.Score += delta // Negative delta
		if agent.Score < 0 {
			agent.Score = 0
		}
	}

	// Next task state. The agent's claim on the task ends here either way.
	agentID := agent.ID
	agent.CurrentTaskID = ""
	t.AssignedTo = ""
	t.UpdatedAt = time.Now()
	if outcome.Success {
		t.Status = types.TaskInReview
		t.ErrorMessage = ""
		res.Succeeded++
	} else {
		// The cap check at the top of this function guarantees room for
		// another revision here.
		t.Status = types.TaskNeedsRevision
		t.RevisionCount++
		t.ErrorMessage = outcome.ErrorMessage
		res.Reworked++
	}

	if err := w.st.UpdateAgentAndTask(ctx, agent, t); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// The agent was terminated while the attempt ran; the
			// termination already requeued the task and the outcome dies
			// with the agent. The spend still happened.
			logging.Get(logging.CategoryDriver).Warn("Agent %s terminated during attempt on %s, outcome discarded", agentID, t.ID)
			w.limiter.RecordCost(t.ProjectID, t.ID, outcome.Cost)
			return nil
		}
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	w.notifier.TaskUpdated(t)

	// Books the spend; a blown cap pauses future admission, never this
	// already-finished attempt.
	w.limiter.RecordCost(t.ProjectID, t.ID, outcome.Cost)

	// Back to the pool, or to termination if the attempt drained it.
	if err := w.pop.ReleaseAgent(ctx, agentID); err != nil {
		return fmt.Errorf("failed to release agent %s: %w", agentID, err)
	}
	return nil
}

// reviewStage runs the reviewer over everything in review. Clean work
// advances to QA; defects go through the confidence router.
func (w *WorkCycle) reviewStage(ctx context.Context, res *WorkResult) error {
	inReview, err := w.st.ListTasks(ctx, store.TaskFilter{
		Statuses:    []types.TaskStatus{types.TaskInReview},
		OldestFirst: true,
		Limit:       w.cfg.DispatchBatchSize,
	})
	if err != nil {
		return fmt.Errorf("failed to list tasks in review: %w", err)
	}

	for _, t := range inReview {
		report, defect, err := w.reviewer.Review(ctx, t)
		if err != nil {
			logging.DriverError("Review of %s: %v", t.ID, err)
			continue
		}
		res.Reviewed++

		if !defect {
			t.Status = types.TaskInQA
			t.AssignedTo = router.AutomationIdentity
			t.UpdatedAt = time.Now()
			if err := w.st.UpdateTask(ctx, t); err != nil {
				logging.DriverError("Failed to advance %s to QA: %v", t.ID, err)
				continue
			}
			w.notifier.TaskUpdated(t)
			continue
		}

		// A second defect from the senior reviewer sends the work back for
		// revision instead of bouncing between review states.
		if t.AssignedTo == router.ReviewerIdentity {
			w.rework(ctx, t, report.Description)
			continue
		}
		if _, err := w.route.Route(ctx, report); err != nil {
			logging.DriverError("Routing defect on %s: %v", t.ID, err)
		}
	}
	return nil
}

// qaStage runs the automated verification gate over everything in QA.
func (w *WorkCycle) qaStage(ctx context.Context, res *WorkResult) error {
	inQA, err := w.st.ListTasks(ctx, store.TaskFilter{
		Statuses:    []types.TaskStatus{types.TaskInQA},
		OldestFirst: true,
		Limit:       w.cfg.DispatchBatchSize,
	})
	if err != nil {
		return fmt.Errorf("failed to list tasks in QA: %w", err)
	}

	for _, t := range inQA {
		ok, err := w.verifier.Verify(ctx, t)
		if err != nil {
			logging.DriverError("Verification of %s: %v", t.ID, err)
			continue
		}
		res.Verified++

		if ok {
			t.Status = types.TaskCompleted
			t.AssignedTo = ""
			t.UpdatedAt = time.Now()
			if err := w.st.UpdateTask(ctx, t); err != nil {
				logging.DriverError("Failed to complete %s: %v", t.ID, err)
				continue
			}
			logging.Driver("Task %s completed", t.ID)
			w.notifier.TaskUpdated(t)
			continue
		}
		w.rework(ctx, t, "automated verification failed")
	}
	return nil
}

// rework sends a task back for revision, or fails it permanently once the
// revision budget is spent.
func (w *WorkCycle) rework(ctx context.Context, t *types.Task, reason string) {
	t.AssignedTo = ""
	t.UpdatedAt = time.Now()
	if t.RevisionCount >= maxRevisions(t, w.cfg) {
		t.Status = types.TaskFailed
		t.ErrorMessage = fmt.Sprintf("revision limit reached (%d attempts): %s", t.RevisionCount+1, reason)
	} else {
		t.Status = types.TaskNeedsRevision
		t.RevisionCount++
		t.ErrorMessage = reason
	}
	if err := w.st.UpdateTask(ctx, t); err != nil {
		logging.DriverError("Failed to send %s back for revision: %v", t.ID, err)
		return
	}
	w.notifier.TaskUpdated(t)
}

func maxRevisions(t *types.Task, cfg config.DriverConfig) int {
	if t.MaxRevisions > 0 {
		return t.MaxRevisions
	}
	return cfg.MaxRevisions
}

// Package dispatch matches queued tasks to idle agents and performs the
// assignment as an atomic dual-write through the store.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/config"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/logging"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/notify"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/store"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/types"
)

// PassResult summarizes one dispatch pass.
type PassResult struct {
	Considered int
	Assigned   int
	Skipped    int // No candidate this pass; retried next cycle
	Rejected   int // Unresolvable role label
}

// Dispatcher runs periodic assignment passes over the queue.
type Dispatcher struct {
	cfg      config.DriverConfig
	st       store.Store
	notifier notify.Notifier
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(cfg config.DriverConfig, st store.Store, n notify.Notifier) *Dispatcher {
	return &Dispatcher{cfg: cfg, st: st, notifier: n}
}

// RunPass considers queued and revision-bound tasks oldest first, up to the
// configured batch size, and assigns each to the best idle candidate. A task
// with no candidate stays queued; that is not an error, just a retry next
// cycle. A task whose role label cannot be resolved at all is rejected
// loudly and marked blocked so it does not spin in the queue forever.
func (d *Dispatcher) RunPass(ctx context.Context) (*PassResult, error) {
	timer := logging.StartTimer(logging.CategoryDispatch, "RunPass")
	defer timer.Stop()

	tasks, err := d.st.ListTasks(ctx, store.TaskFilter{
		Statuses:    []types.TaskStatus{types.TaskQueued, types.TaskNeedsRevision},
		OldestFirst: true,
		Limit:       d.cfg.DispatchBatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list dispatchable tasks: %w", err)
	}

	res := &PassResult{}
	for _, t := range tasks {
		res.Considered++
		switch err := d.dispatchOne(ctx, t); {
		case err == nil:
			res.Assigned++
		case errors.Is(err, errNoCandidate):
			res.Skipped++
		case errors.Is(err, errUnknownRole):
			res.Rejected++
		default:
			// Contention with another pass or a store fault; retried next
			// cycle.
			logging.Get(logging.CategoryDispatch).Error("Task %s: %v", t.ID, err)
			res.Skipped++
		}
	}

	if res.Assigned > 0 || res.Rejected > 0 {
		logging.Dispatch("Pass complete: considered=%d assigned=%d skipped=%d rejected=%d",
			res.Considered, res.Assigned, res.Skipped, res.Rejected)
	}
	return res, nil
}

var (
	errNoCandidate = errors.New("dispatch: no idle candidate")
	errUnknownRole = errors.New("dispatch: unresolvable role label")
)

func (d *Dispatcher) dispatchOne(ctx context.Context, t *types.Task) error {
	acceptable, known := AcceptableRoles(t.RequiredRole)
	if !known {
		logging.Get(logging.CategoryDispatch).Error(
			"Task %s requires unknown role %q; blocking", t.ID, t.RequiredRole)
		t.Status = types.TaskBlocked
		t.BlockedReason = fmt.Sprintf("unresolvable role label %q", t.RequiredRole)
		if err := d.st.UpdateTask(ctx, t); err != nil {
			return err
		}
		d.notifier.TaskUpdated(t)
		return errUnknownRole
	}

	idle, err := d.st.ListAgents(ctx, store.AgentFilter{Status: types.AgentIdle})
	if err != nil {
		return err
	}
	candidate := pickCandidate(t, idle, acceptable)
	if candidate == nil {
		logging.DispatchDebug("Task %s (%s): no idle candidate, staying queued", t.ID, t.RequiredRole)
		return errNoCandidate
	}

	if err := d.st.AssignTask(ctx, t.ID, candidate.ID); err != nil {
		return fmt.Errorf("assignment of %s to %s failed: %w", t.ID, candidate.ID, err)
	}
	logging.Dispatch("Task %s (%s) -> agent %s (%s)", t.ID, t.RequiredRole, candidate.ID, candidate.Role)

	if a, err := d.st.GetAgent(ctx, candidate.ID); err == nil {
		d.notifier.AgentUpdated(a)
	}
	if fresh, err := d.st.GetTask(ctx, t.ID); err == nil {
		d.notifier.TaskUpdated(fresh)
	}
	return nil
}

// pickCandidate walks the search order: project affinity within the
// acceptable set, then the global acceptable set, then loose substring
// match, then the developer generalist fallback. Within each rung the
// highest-existence agent wins, score breaking ties, so the pool's most
// viable members stay exercised.
func pickCandidate(t *types.Task, idle []*types.Agent, acceptable []types.Role) *types.Agent {
	inSet := func(r types.Role) bool {
		for _, a := range acceptable {
			if a == r {
				return true
			}
		}
		return false
	}

	rungs := []func(a *types.Agent) bool{
		func(a *types.Agent) bool {
			return t.ProjectID != "" && a.ProjectID == t.ProjectID && inSet(a.Role)
		},
		func(a *types.Agent) bool { return inSet(a.Role) },
		func(a *types.Agent) bool { return looseMatch(a.Role, t.RequiredRole) },
	}
	if wantsDeveloper(t.RequiredRole) {
		rungs = append(rungs, func(a *types.Agent) bool { return types.IsDeveloper(a.Role) })
	}

	for _, match := range rungs {
		var pool []*types.Agent
		for _, a := range idle {
			if match(a) {
				pool = append(pool, a)
			}
		}
		if len(pool) == 0 {
			continue
		}
		sort.SliceStable(pool, func(i, j int) bool {
			if pool[i].ExistencePotential != pool[j].ExistencePotential {
				return pool[i].ExistencePotential > pool[j].ExistencePotential
			}
			return pool[i].Score > pool[j].Score
		})
		return pool[0]
	}
	return nil
}

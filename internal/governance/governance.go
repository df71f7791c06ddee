// Package governance applies the population rules engine: the economic
// circuit breaker plus the promotion, demotion, warning and termination
// ladder. Decisions are evaluated in strict priority order and every
// non-trivial decision leaves an audit event behind.
package governance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/config"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/existence"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/logging"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/store"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/types"
)

// Terminator removes an agent from the pool, harvesting first on a real run.
// Implemented by the population manager.
type Terminator interface {
	Terminate(ctx context.Context, agentID, reason string, mode types.ExecutionMode) error
}

// Decision is one evaluated ruling for an agent.
type Decision struct {
	Action  types.GovernanceAction
	Reason  string
	NewRole types.Role // Set for promote/demote
}

// PassResult summarizes one governance sweep.
type PassResult struct {
	Evaluated    int
	Warnings     int
	Promotions   int
	Demotions    int
	Terminations int
}

// Engine evaluates and applies governance rules over the living population.
type Engine struct {
	cfg        config.GovernanceConfig
	model      *existence.Model
	st         store.Store
	terminator Terminator
}

// NewEngine wires a governance engine.
func NewEngine(cfg config.GovernanceConfig, model *existence.Model, st store.Store, term Terminator) *Engine {
	return &Engine{cfg: cfg, model: model, st: st, terminator: term}
}

// Evaluate runs the rules against one agent snapshot and returns the single
// highest-priority decision. taskComplexity is the 0-100 complexity of the
// agent's recent work; pass 0 when unknown.
//
// Rules fire in strict priority order. The first match wins:
//
//  1. economic circuit breaker
//  2. hard termination
//  3. promotion
//  4. demotion
//  5. warning
//
// Agents with fewer than MinOutcomes recorded outcomes are never judged;
// a fresh agent gets a grace period before the rules apply.
func (e *Engine) Evaluate(a *types.Agent, taskComplexity float64) Decision {
	if len(a.Outcomes) < e.cfg.MinOutcomes {
		return Decision{Action: types.ActionNone, Reason: "insufficient history"}
	}

	if d, fired := e.checkCircuitBreaker(a, taskComplexity); fired {
		return d
	}

	// Hard termination.
	switch {
	case a.FailCount >= e.cfg.TerminateFailCount:
		return Decision{
			Action: types.ActionTerminate,
			Reason: fmt.Sprintf("failure count %d reached limit %d", a.FailCount, e.cfg.TerminateFailCount),
		}
	case a.Score < e.cfg.TerminateScore:
		return Decision{
			Action: types.ActionTerminate,
			Reason: fmt.Sprintf("score %.1f below termination threshold %.0f", a.Score, e.cfg.TerminateScore),
		}
	case a.RiskLevel == types.RiskHigh && a.Score < e.cfg.TerminateRiskScore:
		return Decision{
			Action: types.ActionTerminate,
			Reason: fmt.Sprintf("high risk with score %.1f below %.0f", a.Score, e.cfg.TerminateRiskScore),
		}
	}

	// Promotion.
	if a.TasksHandled() >= e.cfg.PromoteMinTasks &&
		a.Score > e.cfg.PromoteScore &&
		a.SuccessRate() > e.cfg.PromoteSuccessRate {
		if next, ok := types.NextRole(a.Role); ok {
			return Decision{
				Action:  types.ActionPromote,
				Reason:  fmt.Sprintf("score %.1f with %.0f%% success over %d tasks", a.Score, a.SuccessRate()*100, a.TasksHandled()),
				NewRole: next,
			}
		}
		// Already at the top of the ladder; nothing to promote into.
	}

	// Demotion. The bottom rung is never demoted.
	lowPerformer := a.Score < e.cfg.DemoteScore && a.FailCount > e.cfg.DemoteFailCount
	riskyUnderperformer := a.RiskLevel == types.RiskHigh && a.Score < e.cfg.DemoteRiskScore
	if lowPerformer || riskyUnderperformer {
		if prev, ok := types.PrevRole(a.Role); ok {
			reason := fmt.Sprintf("score %.1f with %d failures", a.Score, a.FailCount)
			if riskyUnderperformer && !lowPerformer {
				reason = fmt.Sprintf("high risk with score %.1f below %.0f", a.Score, e.cfg.DemoteRiskScore)
			}
			return Decision{Action: types.ActionDemote, Reason: reason, NewRole: prev}
		}
	}

	// Warning.
	if a.Score < e.cfg.WarnScore && a.RiskLevel == types.RiskMedium {
		return Decision{
			Action: types.ActionWarn,
			Reason: fmt.Sprintf("score %.1f below %.0f at medium risk", a.Score, e.cfg.WarnScore),
		}
	}

	return Decision{Action: types.ActionNone}
}

// checkCircuitBreaker fires when the agent's session cost exceeds its
// complexity-adjusted baseline by more than the deviation limit. The limit
// is strict: a session at exactly the limit does not trip.
func (e *Engine) checkCircuitBreaker(a *types.Agent, taskComplexity float64) (Decision, bool) {
	if a.CostBaseline <= 0 {
		return Decision{}, false
	}
	if taskComplexity <= 0 {
		taskComplexity = e.cfg.DefaultComplexity
	}
	scale := taskComplexity / e.cfg.DefaultComplexity
	if scale < e.cfg.MinBaselineScale {
		scale = e.cfg.MinBaselineScale
	}
	adjusted := a.CostBaseline * scale
	ratio := a.SessionCost / adjusted
	if ratio <= e.cfg.CostDeviationLimit {
		return Decision{}, false
	}
	return Decision{
		Action: types.ActionTerminate,
		Reason: fmt.Sprintf("session cost %.2f is %.0f%% of adjusted baseline %.2f", a.SessionCost, ratio*100, adjusted),
	}, true
}

// Apply executes a decision: role changes are written through the store,
// terminations go through the population manager (which harvests knowledge
// first), and every action except none leaves an audit event.
func (e *Engine) Apply(ctx context.Context, a *types.Agent, d Decision) error {
	switch d.Action {
	case types.ActionNone:
		return nil

	case types.ActionWarn:
		logging.GovernanceWarn("Agent %s warned: %s", a.ID, d.Reason)
		return e.appendEvent(ctx, a, d, a.Role, a.Role)

	case types.ActionPromote, types.ActionDemote:
		prev := a.Role
		a.Role = d.NewRole
		a.UpdatedAt = time.Now()
		if err := e.st.UpdateAgent(ctx, a); err != nil {
			a.Role = prev
			return fmt.Errorf("failed to apply %s for agent %s: %w", d.Action, a.ID, err)
		}
		logging.Governance("Agent %s %s: %s -> %s (%s)", a.ID, d.Action, prev, d.NewRole, d.Reason)
		return e.appendEvent(ctx, a, d, prev, d.NewRole)

	case types.ActionTerminate:
		logging.Governance("Agent %s terminated: %s", a.ID, d.Reason)
		if err := e.terminator.Terminate(ctx, a.ID, d.Reason, types.ModeApply); err != nil {
			return fmt.Errorf("failed to terminate agent %s: %w", a.ID, err)
		}
		return e.appendEvent(ctx, a, d, a.Role, "")

	default:
		return fmt.Errorf("unknown governance action %q", d.Action)
	}
}

func (e *Engine) appendEvent(ctx context.Context, a *types.Agent, d Decision, prev, next types.Role) error {
	ev := &types.GovernanceEvent{
		ID:           uuid.NewString(),
		AgentID:      a.ID,
		TaskID:       a.CurrentTaskID,
		Action:       d.Action,
		Reason:       d.Reason,
		PreviousRole: prev,
		NewRole:      next,
		Timestamp:    time.Now(),
	}
	return e.st.AppendGovernanceEvent(ctx, ev)
}

// RunPass sweeps the living population: metabolic decay first, then one
// Evaluate/Apply round per agent. A failure on one agent is logged and the
// sweep continues with the rest.
func (e *Engine) RunPass(ctx context.Context) (*PassResult, error) {
	timer := logging.StartTimer(logging.CategoryGovernance, "RunPass")
	defer timer.Stop()

	agents, err := e.st.ListAgents(ctx, store.AgentFilter{Alive: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list agents for governance pass: %w", err)
	}

	res := &PassResult{}
	now := time.Now()
	for _, a := range agents {
		res.Evaluated++

		// Existing upkeep: every agent pays for the time it has been alive
		// since we last looked at it.
		elapsed := now.Sub(a.UpdatedAt).Seconds()
		if elapsed > 0 {
			decayed := e.model.ApplyMetabolicCost(a.ExistencePotential, elapsed)
			if decayed != a.ExistencePotential {
				a.ExistencePotential = decayed
				a.UpdatedAt = now
				if err := e.st.UpdateAgent(ctx, a); err != nil {
					logging.Get(logging.CategoryGovernance).Error("Failed to persist decay for %s: %v", a.ID, err)
					continue
				}
			}
		}

		// Decay alone can push an agent to the floor.
		if e.model.ShouldTerminate(a.ExistencePotential) {
			d := Decision{
				Action: types.ActionTerminate,
				Reason: fmt.Sprintf("existence depleted (E=%.1f)", a.ExistencePotential),
			}
			if err := e.Apply(ctx, a, d); err != nil {
				logging.Get(logging.CategoryGovernance).Error("Agent %s: %v", a.ID, err)
				continue
			}
			res.Terminations++
			continue
		}

		d := e.Evaluate(a, recentComplexity(a))
		if err := e.Apply(ctx, a, d); err != nil {
			logging.Get(logging.CategoryGovernance).Error("Agent %s: %v", a.ID, err)
			continue
		}
		switch d.Action {
		case types.ActionWarn:
			res.Warnings++
		case types.ActionPromote:
			res.Promotions++
		case types.ActionDemote:
			res.Demotions++
		case types.ActionTerminate:
			res.Terminations++
		}
	}

	logging.GovernanceDebug("Pass complete: evaluated=%d warn=%d promote=%d demote=%d terminate=%d",
		res.Evaluated, res.Warnings, res.Promotions, res.Demotions, res.Terminations)
	return res, nil
}

// recentComplexity maps the newest outcome's [0,1] complexity onto the
// 0-100 scale the circuit breaker uses. Zero when the agent has no history.
func recentComplexity(a *types.Agent) float64 {
	if len(a.Outcomes) == 0 {
		return 0
	}
	return a.Outcomes[len(a.Outcomes)-1].Complexity * 100
}

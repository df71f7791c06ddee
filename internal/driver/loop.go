package driver

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/config"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/dispatch"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/evolution"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/governance"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/logging"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/population"
)

// Loop drives the periodic passes: dispatch, work, and governance on a
// fast cadence, evolution and scaling on a slow one. Each pass is
// serialized against itself; the passes never block each other.
type Loop struct {
	cfg *config.Config

	dispatcher *dispatch.Dispatcher
	work       *WorkCycle
	gov        *governance.Engine
	evo        *evolution.Orchestrator
	pop        *population.Manager

	dispatchMu   sync.Mutex
	workMu       sync.Mutex
	governanceMu sync.Mutex
	evolutionMu  sync.Mutex
	scaleMu      sync.Mutex
}

// NewLoop wires the driver loop.
func NewLoop(cfg *config.Config, d *dispatch.Dispatcher, w *WorkCycle, g *governance.Engine, e *evolution.Orchestrator, p *population.Manager) *Loop {
	return &Loop{cfg: cfg, dispatcher: d, work: w, gov: g, evo: e, pop: p}
}

// Run blocks until the context is cancelled, driving every pass on its own
// ticker. A pass that errors is logged and retried on its next tick; only
// cancellation stops the loop.
func (l *Loop) Run(ctx context.Context) error {
	logging.Driver("Driver loop starting: dispatch=%s work=%s governance=%s evolution=%s scale=%s",
		l.cfg.GetDispatchInterval(), l.cfg.GetWorkInterval(), l.cfg.GetGovernanceInterval(),
		l.cfg.GetEvolutionInterval(), l.cfg.GetScaleInterval())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(l.every(ctx, l.cfg.GetDispatchInterval(), l.DispatchPass))
	g.Go(l.every(ctx, l.cfg.GetWorkInterval(), l.WorkPass))
	g.Go(l.every(ctx, l.cfg.GetGovernanceInterval(), l.GovernancePass))
	g.Go(l.every(ctx, l.cfg.GetEvolutionInterval(), l.EvolutionPass))
	g.Go(l.every(ctx, l.cfg.GetScaleInterval(), l.ScalePass))

	err := g.Wait()
	logging.Driver("Driver loop stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// every runs pass on its interval until cancellation. Pass errors are
// logged, never fatal.
func (l *Loop) every(ctx context.Context, interval time.Duration, pass func(context.Context) error) func() error {
	return func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := pass(ctx); err != nil && ctx.Err() == nil {
					logging.DriverError("Pass failed: %v", err)
				}
			}
		}
	}
}

// DispatchPass runs one dispatch pass. Safe to call from outside the loop;
// a pass already in flight makes this a no-op.
func (l *Loop) DispatchPass(ctx context.Context) error {
	if !l.dispatchMu.TryLock() {
		return nil
	}
	defer l.dispatchMu.Unlock()
	_, err := l.dispatcher.RunPass(ctx)
	return err
}

// WorkPass runs one work-cycle pass.
func (l *Loop) WorkPass(ctx context.Context) error {
	if !l.workMu.TryLock() {
		return nil
	}
	defer l.workMu.Unlock()
	_, err := l.work.RunPass(ctx)
	return err
}

// GovernancePass runs one governance sweep.
func (l *Loop) GovernancePass(ctx context.Context) error {
	if !l.governanceMu.TryLock() {
		return nil
	}
	defer l.governanceMu.Unlock()
	_, err := l.gov.RunPass(ctx)
	return err
}

// EvolutionPass runs one evolution cycle.
func (l *Loop) EvolutionPass(ctx context.Context) error {
	if !l.evolutionMu.TryLock() {
		return nil
	}
	defer l.evolutionMu.Unlock()
	_, err := l.evo.RunCycle(ctx)
	return err
}

// ScalePass runs one population scaling pass.
func (l *Loop) ScalePass(ctx context.Context) error {
	if !l.scaleMu.TryLock() {
		return nil
	}
	defer l.scaleMu.Unlock()
	_, err := l.pop.ScalePopulation(ctx)
	return err
}

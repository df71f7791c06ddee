package driver

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"

	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/router"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/types"
)

// Outcome is what the worker-execution capability reports for one attempt.
type Outcome struct {
	Success      bool
	Artifact     string // Produced on success
	ErrorMessage string // Produced on failure
	Quality      float64
	Efficiency   float64
	Cost         float64
}

// WorkerRunner executes one assigned task with one agent. Implementations
// wrap the opaque LLM/sandbox boundary; the engine never sees inside it.
type WorkerRunner interface {
	Run(ctx context.Context, task *types.Task, agent *types.Agent) (Outcome, error)
}

// Reviewer inspects finished work and either passes it or emits a defect
// report for the confidence router.
type Reviewer interface {
	Review(ctx context.Context, task *types.Task) (report router.DefectReport, defect bool, err error)
}

// Verifier is the automated final check behind the QA stage.
type Verifier interface {
	Verify(ctx context.Context, task *types.Task) (bool, error)
}

// SimulatedWorker is a deterministic in-process stand-in for the real
// execution capability, used by tests and the --simulate mode. Results are
// derived from a hash of the task and agent so runs are reproducible.
type SimulatedWorker struct {
	mu sync.Mutex

	// SuccessRate is the fraction of attempts that succeed. Default 0.8.
	SuccessRate float64
	seed        int64
}

// NewSimulatedWorker returns a simulated worker with the given base seed.
func NewSimulatedWorker(seed int64) *SimulatedWorker {
	return &SimulatedWorker{SuccessRate: 0.8, seed: seed}
}

func (w *SimulatedWorker) rng(parts ...string) *rand.Rand {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	w.mu.Lock()
	seed := w.seed
	w.mu.Unlock()
	return rand.New(rand.NewSource(seed ^ int64(h.Sum64())))
}

// Run simulates one work attempt. A revision attempt succeeds more often
// than a first attempt; the feedback loop is worth something.
func (w *SimulatedWorker) Run(ctx context.Context, task *types.Task, agent *types.Agent) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	r := w.rng("run", task.ID, agent.ID, fmt.Sprint(task.RevisionCount))

	chance := w.SuccessRate + 0.1*float64(task.RevisionCount)
	if r.Float64() < chance {
		return Outcome{
			Success:    true,
			Artifact:   fmt.Sprintf("artifact://%s/%s", agent.ID, task.ID),
			Quality:    0.6 + 0.4*r.Float64(),
			Efficiency: 0.5 + 0.5*r.Float64(),
			Cost:       0.5 + 2.0*r.Float64(),
		}, nil
	}
	return Outcome{
		Success:      false,
		ErrorMessage: "attempt did not satisfy the task requirements",
		Quality:      0.3 * r.Float64(),
		Efficiency:   0.4 * r.Float64(),
		Cost:         0.5 + 2.0*r.Float64(),
	}, nil
}

// Review simulates the review stage. Work already escalated to the fixed
// reviewer identity gets a decisive second look.
func (w *SimulatedWorker) Review(ctx context.Context, task *types.Task) (router.DefectReport, bool, error) {
	if err := ctx.Err(); err != nil {
		return router.DefectReport{}, false, err
	}
	r := w.rng("review", task.ID, fmt.Sprint(task.Context.Version))

	secondLook := task.AssignedTo == router.ReviewerIdentity
	defectChance := 0.3
	if secondLook {
		defectChance = 0.1
	}
	if r.Float64() >= defectChance {
		return router.DefectReport{}, false, nil
	}

	confidence := r.Float64()
	severity := router.SeverityLow
	switch {
	case confidence <= 0.3:
		severity = router.SeverityCritical
	case confidence <= 0.6:
		severity = router.SeverityHigh
	}
	return router.DefectReport{
		TaskID:               task.ID,
		Confidence:           confidence,
		Severity:             severity,
		Description:          "simulated defect in delivered artifact",
		SuggestedRemediation: "rework the failing area and resubmit",
	}, true, nil
}

// Verify simulates the automated QA gate.
func (w *SimulatedWorker) Verify(ctx context.Context, task *types.Task) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r := w.rng("verify", task.ID, fmt.Sprint(task.RevisionCount))
	return r.Float64() < 0.9, nil
}

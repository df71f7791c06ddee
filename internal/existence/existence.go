// Package existence implements the survival model: converting task outcomes
// into E-value changes, metabolic decay, urgency, and the termination check.
//
// Every function here is pure. Identical inputs always produce identical
// outputs, which keeps replay and tests deterministic.
package existence

import (
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/config"
)

// Model evaluates existence-potential arithmetic under one configuration.
type Model struct {
	cfg config.ExistenceConfig
}

// NewModel returns a model bound to the given configuration.
func NewModel(cfg config.ExistenceConfig) *Model {
	return &Model{cfg: cfg}
}

// Reward computes the E delta for one task outcome. Failure yields the fixed
// penalty; success yields the base bonus plus weighted complexity, quality,
// and efficiency bonuses. All three factors are expected in [0,1] and are
// clamped to that range.
func (m *Model) Reward(success bool, complexity, quality, efficiency float64) float64 {
	if !success {
		return m.cfg.FailurePenalty
	}
	return m.cfg.SuccessBase +
		m.cfg.ComplexityWeight*clamp01(complexity) +
		m.cfg.QualityWeight*clamp01(quality) +
		m.cfg.EfficiencyWeight*clamp01(efficiency)
}

// Apply adds a reward delta to the current E and clamps to [floor-adjacent 0, max].
// E never exceeds the configured maximum and never goes below zero.
func (m *Model) Apply(currentE, delta float64) float64 {
	e := currentE + delta
	if e > m.cfg.Max {
		return m.cfg.Max
	}
	if e < 0 {
		return 0
	}
	return e
}

// ApplyMetabolicCost subtracts the per-minute decay for elapsedSeconds of
// wall-clock time, floored at zero.
func (m *Model) ApplyMetabolicCost(currentE float64, elapsedSeconds float64) float64 {
	if elapsedSeconds <= 0 {
		return currentE
	}
	cost := m.cfg.DecayPerMinute * (elapsedSeconds / 60.0)
	e := currentE - cost
	if e < 0 {
		return 0
	}
	return e
}

// Urgency maps the current E to [0,1]: 0 at or above the panic threshold,
// ramping linearly to 1 as E approaches the floor. Downstream consumers use
// this to make a desperate agent's next invocation more conservative; the
// core itself never branches on it.
func (m *Model) Urgency(currentE float64) float64 {
	if currentE >= m.cfg.PanicThreshold {
		return 0
	}
	if currentE <= m.cfg.Floor {
		return 1
	}
	span := m.cfg.PanicThreshold - m.cfg.Floor
	if span <= 0 {
		return 1
	}
	return (m.cfg.PanicThreshold - currentE) / span
}

// ShouldTerminate reports whether E has depleted to the configured floor.
func (m *Model) ShouldTerminate(currentE float64) bool {
	return currentE <= m.cfg.Floor
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

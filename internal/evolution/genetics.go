package evolution

import (
	"errors"
	"math/rand"

	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/config"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/types"
)

// ErrSelfPair is returned when both tournament winners are the same agent.
// Callers skip the pairing rather than breed an agent with itself.
var ErrSelfPair = errors.New("evolution: cannot crossover an agent with itself")

// ErrPoolTooSmall is returned when the breeding pool cannot support a
// crossover; callers fall back to genesis spawning.
var ErrPoolTooSmall = errors.New("evolution: breeding pool has fewer than 2 candidates")

// Candidate is one member of a breeding pool.
type Candidate struct {
	AgentID    string
	Role       types.Role
	Generation int
	Genome     types.Genome
	Fitness    float64
}

// Engine performs the genetic operators under one configuration and one
// random source. Injecting the source keeps breeding reproducible in tests.
type Engine struct {
	cfg config.EvolutionConfig
	rng *rand.Rand
}

// NewEngine returns an engine bound to the given config and random source.
func NewEngine(cfg config.EvolutionConfig, rng *rand.Rand) *Engine {
	return &Engine{cfg: cfg, rng: rng}
}

// TournamentSelect samples k candidates uniformly at random (with
// replacement) and returns the fittest. Tournament selection tolerates
// outlier fitness values that would dominate fitness-proportional selection
// and costs O(k) per pick.
func (e *Engine) TournamentSelect(pool []Candidate) (Candidate, error) {
	if len(pool) == 0 {
		return Candidate{}, ErrPoolTooSmall
	}
	k := e.cfg.TournamentSize
	if k < 1 {
		k = 1
	}
	best := pool[e.rng.Intn(len(pool))]
	for i := 1; i < k; i++ {
		c := pool[e.rng.Intn(len(pool))]
		if c.Fitness > best.Fitness {
			best = c
		}
	}
	return best, nil
}

// Crossover blends two parents into a child genome. Each parent's influence
// is proportional to its share of combined fitness: numeric fields are
// weighted averages, while the system prompt is always inherited whole from
// the dominant parent (prompt text is never spliced, which would produce
// incoherent instructions).
//
// The child's generation is max(parent generations) + 1 and both parent IDs
// are recorded on the genome.
func (e *Engine) Crossover(a, b Candidate) (types.Genome, int, error) {
	if a.AgentID == b.AgentID {
		return types.Genome{}, 0, ErrSelfPair
	}

	total := a.Fitness + b.Fitness
	influenceA := 0.5
	if total > 0 {
		influenceA = a.Fitness / total
	}
	influenceB := 1 - influenceA

	ga, gb := a.Genome, b.Genome
	child := types.Genome{
		Temperature:   clampRange(influenceA*ga.Temperature+influenceB*gb.Temperature, 0, 2),
		RiskTolerance: clampRange(influenceA*ga.RiskTolerance+influenceB*gb.RiskTolerance, 0, 1),
		CollabPref:    clampRange(influenceA*ga.CollabPref+influenceB*gb.CollabPref, 0, 1),
		ParentIDs:     []string{a.AgentID, b.AgentID},
	}

	// Union the specialization maps; a category one parent lacks contributes 0.
	child.Specializations = make(map[string]float64)
	for k := range ga.Specializations {
		child.Specializations[k] = 0
	}
	for k := range gb.Specializations {
		child.Specializations[k] = 0
	}
	for k := range child.Specializations {
		child.Specializations[k] = clampRange(
			influenceA*ga.Specializations[k]+influenceB*gb.Specializations[k], 0, 1)
	}

	// Above the dominance threshold one parent's prompt is inherited
	// verbatim; below it the dominant parent's prompt is still taken whole.
	switch {
	case influenceA >= e.cfg.PromptDominance:
		child.SystemPrompt = ga.SystemPrompt
	case influenceB >= e.cfg.PromptDominance:
		child.SystemPrompt = gb.SystemPrompt
	case influenceA >= influenceB:
		child.SystemPrompt = ga.SystemPrompt
	default:
		child.SystemPrompt = gb.SystemPrompt
	}

	generation := a.Generation
	if b.Generation > generation {
		generation = b.Generation
	}
	return child, generation + 1, nil
}

// Mutate perturbs each scalar field independently with probability
// cfg.MutationRate by a symmetric delta, clamped back into its valid range.
// The prompt text is not mutated here; textual mutation goes through an
// external capability and may leave the field unchanged.
//
// Mutate always constructs a new genome and never writes through g.
func (e *Engine) Mutate(g types.Genome) types.Genome {
	out := g.Clone()

	out.Temperature = e.maybePerturb(out.Temperature, 0, 2)
	out.RiskTolerance = e.maybePerturb(out.RiskTolerance, 0, 1)
	out.CollabPref = e.maybePerturb(out.CollabPref, 0, 1)
	for k, v := range out.Specializations {
		out.Specializations[k] = e.maybePerturb(v, 0, 1)
	}
	return out
}

func (e *Engine) maybePerturb(v, lo, hi float64) float64 {
	if e.rng.Float64() >= e.cfg.MutationRate {
		return v
	}
	delta := (e.rng.Float64()*2 - 1) * e.cfg.MutationDelta
	return clampRange(v+delta, lo, hi)
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Package evolution implements the fitness function, the genetic operators
// (tournament selection, crossover, mutation), and the periodic evolution
// cycle that culls depleted agents and breeds replacements from the elite.
package evolution

import (
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/config"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/types"
)

// Fitness computes an agent's fitness in [MinFitness, 1.0] from its recent
// outcomes and collaboration history.
//
// The blend is: complexity-weighted success rate, mean efficiency, mean
// quality, and the collaboration ratio. An empty history yields the fixed
// base fitness so brand-new agents stay selectable; any non-empty history is
// floored at MinFitness so tournament selection never sees a zero.
func Fitness(cfg config.EvolutionConfig, outcomes []types.TaskOutcome, collabSuccess, collabTotal int) float64 {
	if len(outcomes) == 0 {
		return cfg.BaseFitness
	}

	var weightedSuccess, complexitySum float64
	var successCount int
	var effSum, qualSum float64
	for _, o := range outcomes {
		c := o.Complexity
		if c < 0 {
			c = 0
		}
		complexitySum += c
		if o.Success {
			successCount++
			weightedSuccess += c
		}
		effSum = effSum + o.Efficiency
		qualSum = qualSum + o.Quality
	}

	var successRate float64
	if complexitySum > 0 {
		successRate = weightedSuccess / complexitySum
	} else {
		// All-zero complexities degrade to the plain success rate.
		successRate = float64(successCount) / float64(len(outcomes))
	}

	meanEff := effSum / float64(len(outcomes))
	meanQual := qualSum / float64(len(outcomes))

	collabRatio := cfg.DefaultCollab
	if collabTotal > 0 {
		collabRatio = float64(collabSuccess) / float64(collabTotal)
	}

	f := cfg.SuccessWeight*successRate +
		cfg.EfficiencyWeight*meanEff +
		cfg.QualityWeight*meanQual +
		cfg.CollabWeight*collabRatio

	if f < cfg.MinFitness {
		return cfg.MinFitness
	}
	if f > 1.0 {
		return 1.0
	}
	return f
}

// AgentFitness computes fitness over the agent's most recent OutcomeWindow
// outcomes.
func AgentFitness(cfg config.EvolutionConfig, a *types.Agent) float64 {
	outcomes := a.Outcomes
	if cfg.OutcomeWindow > 0 && len(outcomes) > cfg.OutcomeWindow {
		outcomes = outcomes[len(outcomes)-cfg.OutcomeWindow:]
	}
	return Fitness(cfg, outcomes, a.CollabSuccess, a.CollabTotal)
}

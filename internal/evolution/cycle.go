package evolution

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/config"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/logging"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/store"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/types"
)

// Population is the slice of the population manager the cycle needs:
// termination (which harvests first) and admitting bred offspring.
type Population interface {
	Terminate(ctx context.Context, agentID, reason string, mode types.ExecutionMode) error
	AddOffspring(ctx context.Context, genome types.Genome, generation int, parentID string, role types.Role) (*types.Agent, error)
}

// CycleResult summarizes one evolution cycle.
type CycleResult struct {
	Cycle      int
	Evaluated  int
	Deaths     int
	Births     int
	AvgFitness float64
	MaxFitness float64
}

// Orchestrator runs the periodic evolution cycle: score, cull, breed, record.
type Orchestrator struct {
	cfg        config.EvolutionConfig
	floor      float64 // Termination E floor
	engine     *Engine
	st         store.Store
	population Population
}

// NewOrchestrator wires a cycle orchestrator.
func NewOrchestrator(cfg config.EvolutionConfig, floor float64, engine *Engine, st store.Store, pop Population) *Orchestrator {
	return &Orchestrator{cfg: cfg, floor: floor, engine: engine, st: st, population: pop}
}

// RunCycle executes one full evolution cycle against a single snapshot of
// the living population:
//
//  1. compute fitness per agent from its recent outcome history
//  2. sort descending
//  3. harvest and remove every agent at or below the termination floor
//  4. the survivors' top elite fraction becomes breeding stock
//  5. form breeding pairs via tournament selection, crossover, mutation
//  6. write one immutable GenerationRecord
//
// A cycle over zero living agents returns an empty result without error;
// bootstrap must run first.
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleResult, error) {
	timer := logging.StartTimer(logging.CategoryEvolution, "RunCycle")
	defer timer.Stop()

	agents, err := o.st.ListAgents(ctx, store.AgentFilter{Alive: true})
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot population: %w", err)
	}
	if len(agents) == 0 {
		logging.Evolution("Cycle skipped: no living agents")
		return &CycleResult{}, nil
	}

	cycle, err := o.st.GenerationCount(ctx)
	if err != nil {
		return nil, err
	}
	cycle++ // 1-based

	// Score and sort.
	type scored struct {
		agent   *types.Agent
		fitness float64
	}
	population := make([]scored, 0, len(agents))
	var sum float64
	maxF := 0.0
	minF := math.Inf(1)
	for _, a := range agents {
		f := AgentFitness(o.cfg, a)
		population = append(population, scored{agent: a, fitness: f})
		sum += f
		if f > maxF {
			maxF = f
		}
		if f < minF {
			minF = f
		}
	}
	sort.SliceStable(population, func(i, j int) bool {
		return population[i].fitness > population[j].fitness
	})

	result := &CycleResult{
		Cycle:      cycle,
		Evaluated:  len(population),
		AvgFitness: sum / float64(len(population)),
		MaxFitness: maxF,
	}

	// Cull the depleted. Termination failures are logged per agent and never
	// abort the pass for the others.
	var survivors []scored
	for _, s := range population {
		if s.agent.ExistencePotential <= o.floor {
			if err := o.population.Terminate(ctx, s.agent.ID,
				fmt.Sprintf("existence depleted (E=%.1f)", s.agent.ExistencePotential),
				types.ModeApply); err != nil {
				logging.Get(logging.CategoryEvolution).Error("Failed to terminate %s: %v", s.agent.ID, err)
				continue
			}
			result.Deaths++
			continue
		}
		survivors = append(survivors, s)
	}

	// Breed from the elite.
	var innovations []string
	if len(survivors) >= 2 {
		eliteCount := int(math.Ceil(float64(len(survivors)) * o.cfg.ElitePercent))
		if eliteCount < 2 {
			eliteCount = 2
		}
		if eliteCount > len(survivors) {
			eliteCount = len(survivors)
		}
		elite := make([]Candidate, 0, eliteCount)
		for _, s := range survivors[:eliteCount] {
			elite = append(elite, Candidate{
				AgentID:    s.agent.ID,
				Role:       s.agent.Role,
				Generation: s.agent.Generation,
				Genome:     s.agent.Genome,
				Fitness:    s.fitness,
			})
		}

		for i := 0; i < o.cfg.BreedingPairs; i++ {
			pa, err := o.engine.TournamentSelect(elite)
			if err != nil {
				break
			}
			pb, err := o.engine.TournamentSelect(elite)
			if err != nil {
				break
			}
			if pa.AgentID == pb.AgentID {
				logging.EvolutionDebug("Pair %d skipped: self-pair on %s", i, pa.AgentID)
				continue
			}

			genome, generation, err := o.engine.Crossover(pa, pb)
			if err != nil {
				logging.EvolutionDebug("Pair %d skipped: %v", i, err)
				continue
			}
			genome = o.engine.Mutate(genome)

			// The fitter parent passes on its role.
			role := pa.Role
			parent := pa.AgentID
			if pb.Fitness > pa.Fitness {
				role = pb.Role
				parent = pb.AgentID
			}
			child, err := o.population.AddOffspring(ctx, genome, generation, parent, role)
			if err != nil {
				logging.Get(logging.CategoryEvolution).Error("Failed to admit offspring: %v", err)
				continue
			}
			result.Births++
			innovations = append(innovations,
				fmt.Sprintf("offspring %s gen=%d from %s x %s", child.ID, generation, pa.AgentID, pb.AgentID))
		}
	}

	// Record the generation snapshot.
	snapshots := make([]types.AgentSnapshot, 0, len(population))
	for _, s := range population {
		snapshots = append(snapshots, types.AgentSnapshot{
			AgentID:      s.agent.ID,
			Role:         s.agent.Role,
			Generation:   s.agent.Generation,
			Fitness:      s.fitness,
			Existence:    s.agent.ExistencePotential,
			SuccessCount: s.agent.SuccessCount,
			FailCount:    s.agent.FailCount,
		})
	}
	rec := &types.GenerationRecord{
		ID:             uuid.NewString(),
		Cycle:          cycle,
		PopulationSize: len(agents),
		AvgFitness:     result.AvgFitness,
		MaxFitness:     maxF,
		MinFitness:     minF,
		Births:         result.Births,
		Deaths:         result.Deaths,
		Agents:         snapshots,
		Innovations:    innovations,
		Timestamp:      time.Now(),
	}
	if err := o.st.AppendGenerationRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to record generation %d: %w", cycle, err)
	}

	logging.Evolution("Cycle %d: evaluated=%d deaths=%d births=%d avg=%.3f max=%.3f",
		cycle, result.Evaluated, result.Deaths, result.Births, result.AvgFitness, maxF)
	return result, nil
}

// Package knowledge extracts reusable lessons from agents before they are
// removed from the pool, and serves them back as priors for new agents.
package knowledge

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/types"
)

// GeneralCategory is always consulted on retrieval alongside the specific
// category, so broadly applicable lessons reach every specialization.
const GeneralCategory = "general"

// Harvester distills a departing agent's track record into a nugget.
type Harvester struct {
	minSuccesses  int
	fullQualityAt float64
}

// NewHarvester returns a harvester. minSuccesses is the success count below
// which an agent leaves nothing behind; fullQualityAt is the success count
// at which nugget quality saturates to 1.0.
func NewHarvester(minSuccesses int, fullQualityAt float64) *Harvester {
	if fullQualityAt <= 0 {
		fullQualityAt = 1
	}
	return &Harvester{minSuccesses: minSuccesses, fullQualityAt: fullQualityAt}
}

// Harvest extracts one lesson from the agent, or nil when the agent never
// succeeded often enough to have anything worth keeping. Agents that never
// delivered leave no reusable knowledge.
func (h *Harvester) Harvest(a *types.Agent) *types.KnowledgeNugget {
	if a.SuccessCount < h.minSuccesses {
		return nil
	}

	quality := float64(a.SuccessCount) / h.fullQualityAt
	if quality > 1 {
		quality = 1
	}
	if quality < 0 {
		quality = 0
	}

	category := strings.TrimSpace(strings.ToLower(a.Specialization))
	if category == "" {
		category = GeneralCategory
	}

	return &types.KnowledgeNugget{
		ID:            uuid.NewString(),
		Category:      category,
		Content:       summarize(a),
		SourceAgentID: a.ID,
		Quality:       quality,
		CreatedAt:     time.Now(),
	}
}

// summarize renders a compact lesson from the agent's record: who it was,
// what it was good at, and how its strongest recent work looked.
func summarize(a *types.Agent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (gen %d) completed %d tasks at %.0f%% success.",
		a.Role, a.Generation, a.TasksHandled(), a.SuccessRate()*100)

	if a.Specialization != "" {
		fmt.Fprintf(&b, " Specialization: %s.", a.Specialization)
	}

	var bestQuality, bestComplexity float64
	for _, o := range a.Outcomes {
		if !o.Success {
			continue
		}
		if o.Quality > bestQuality {
			bestQuality = o.Quality
			bestComplexity = o.Complexity
		}
	}
	if bestQuality > 0 {
		fmt.Fprintf(&b, " Best delivery: quality %.2f at complexity %.2f.", bestQuality, bestComplexity)
	}

	if prompt := strings.TrimSpace(a.Genome.SystemPrompt); prompt != "" {
		fmt.Fprintf(&b, " Operating prompt: %s", prompt)
	}
	return b.String()
}

// RetrievalCategories returns the categories to consult for a given
// specialization: the specific one plus the general fallback.
func RetrievalCategories(specialization string) []string {
	category := strings.TrimSpace(strings.ToLower(specialization))
	if category == "" || category == GeneralCategory {
		return []string{GeneralCategory}
	}
	return []string{category, GeneralCategory}
}

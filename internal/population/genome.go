package population

import "github.com/Tilakmp2003/tholai-cloud-sub001/internal/types"

// DefaultGenome returns the generation-0 genome for a role. Senior roles
// run cooler and tolerate less risk; junior roles explore more and lean on
// collaboration.
func DefaultGenome(role types.Role) types.Genome {
	g := types.Genome{
		Temperature:     0.7,
		RiskTolerance:   0.4,
		CollabPref:      0.5,
		Specializations: map[string]float64{},
	}

	switch role {
	case types.RoleArchitect:
		g.SystemPrompt = "You design system structure. Favor small interfaces, explicit data flow, and decisions that are cheap to reverse. Write down tradeoffs before committing."
		g.Temperature = 0.4
		g.RiskTolerance = 0.2
		g.CollabPref = 0.7
		g.Specializations["architecture"] = 0.9
	case types.RoleTeamLead:
		g.SystemPrompt = "You coordinate work. Break problems into tasks a single agent can finish, keep the queue unblocked, and escalate ambiguity instead of guessing."
		g.Temperature = 0.5
		g.RiskTolerance = 0.3
		g.CollabPref = 0.9
		g.Specializations["coordination"] = 0.8
	case types.RoleSeniorDev:
		g.SystemPrompt = "You implement the hard parts. Prefer boring, proven approaches. Every change ships with tests and handles its failure paths."
		g.Temperature = 0.5
		g.RiskTolerance = 0.3
		g.CollabPref = 0.5
		g.Specializations["backend"] = 0.8
	case types.RoleMidDev:
		g.SystemPrompt = "You implement well-scoped features end to end. Follow existing patterns in the codebase, test what you build, and ask before widening scope."
		g.Specializations["backend"] = 0.6
		g.Specializations["frontend"] = 0.4
	case types.RoleJuniorDev:
		g.SystemPrompt = "You handle small, clearly specified tasks. Copy the style of nearby code, verify your work compiles and passes tests, and report anything confusing."
		g.Temperature = 0.8
		g.RiskTolerance = 0.5
		g.CollabPref = 0.7
		g.Specializations["general"] = 0.5
	case types.RoleQA:
		g.SystemPrompt = "You verify work against its requirements. Hunt edge cases, reproduce failures before reporting them, and describe defects precisely enough to fix."
		g.Temperature = 0.6
		g.RiskTolerance = 0.2
		g.Specializations["testing"] = 0.8
	case types.RoleSeniorQA:
		g.SystemPrompt = "You own final quality judgment. Weigh severity honestly, pass work that meets the bar, and block work that does not regardless of schedule pressure."
		g.Temperature = 0.4
		g.RiskTolerance = 0.1
		g.Specializations["testing"] = 0.9
		g.Specializations["review"] = 0.7
	default:
		g.SystemPrompt = "You are a capable generalist. Finish the task in front of you carefully and report the outcome honestly."
		g.Specializations["general"] = 0.5
	}
	return g
}

// defaultSpecialization labels the agent for knowledge harvesting.
func defaultSpecialization(role types.Role) string {
	switch role {
	case types.RoleArchitect:
		return "architecture"
	case types.RoleTeamLead:
		return "coordination"
	case types.RoleQA, types.RoleSeniorQA:
		return "testing"
	case types.RoleSeniorDev, types.RoleMidDev:
		return "backend"
	default:
		return "general"
	}
}

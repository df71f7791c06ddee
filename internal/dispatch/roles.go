package dispatch

import (
	"strings"

	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/types"
)

// normalizeLabel lowercases a role label and strips separators so that
// "Senior-Dev", "senior_dev" and "SeniorDev" all resolve identically.
func normalizeLabel(label string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		switch r {
		case '_', '-', ' ', '.', '/':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// roleSynonyms expands normalized free-text labels into the set of concrete
// roles that can serve them. Labels map to concrete roles loosely on purpose:
// a task asking for a "FrontendDev" is served by any developer rung.
var roleSynonyms = map[string][]types.Role{
	"architect":       {types.RoleArchitect},
	"teamlead":        {types.RoleTeamLead},
	"lead":            {types.RoleTeamLead},
	"techlead":        {types.RoleTeamLead},
	"seniordev":       {types.RoleSeniorDev},
	"seniordeveloper": {types.RoleSeniorDev},
	"middev":          {types.RoleMidDev},
	"middeveloper":    {types.RoleMidDev},
	"juniordev":       {types.RoleJuniorDev},
	"juniordeveloper": {types.RoleJuniorDev},
	"dev":             {types.RoleSeniorDev, types.RoleMidDev, types.RoleJuniorDev},
	"developer":       {types.RoleSeniorDev, types.RoleMidDev, types.RoleJuniorDev},
	"engineer":        {types.RoleSeniorDev, types.RoleMidDev, types.RoleJuniorDev},
	"frontenddev":     {types.RoleSeniorDev, types.RoleMidDev, types.RoleJuniorDev},
	"frontend":        {types.RoleSeniorDev, types.RoleMidDev, types.RoleJuniorDev},
	"backenddev":      {types.RoleSeniorDev, types.RoleMidDev, types.RoleJuniorDev},
	"backend":         {types.RoleSeniorDev, types.RoleMidDev, types.RoleJuniorDev},
	"fullstack":       {types.RoleSeniorDev, types.RoleMidDev, types.RoleJuniorDev},
	"qa":              {types.RoleQA, types.RoleSeniorQA},
	"tester":          {types.RoleQA, types.RoleSeniorQA},
	"qaengineer":      {types.RoleQA, types.RoleSeniorQA},
	"seniorqa":        {types.RoleSeniorQA},
	"reviewer":        {types.RoleSeniorDev, types.RoleTeamLead},
}

// AcceptableRoles resolves a raw requiredRole label to the concrete roles
// that may take the task. The bool is false for labels the synonym table
// does not know; callers must treat that loudly, not silently.
func AcceptableRoles(label string) ([]types.Role, bool) {
	n := normalizeLabel(label)
	if n == "" {
		return nil, false
	}
	if roles, ok := roleSynonyms[n]; ok {
		return roles, true
	}
	// A label that is already a concrete role passes through.
	for _, r := range types.AllRoles {
		if normalizeLabel(string(r)) == n {
			return []types.Role{r}, true
		}
	}
	return nil, false
}

// looseMatch reports whether the concrete role and the raw label share a
// substring once normalized. The last resort before the generalist fallback.
func looseMatch(role types.Role, label string) bool {
	n := normalizeLabel(label)
	rn := normalizeLabel(string(role))
	if n == "" || rn == "" {
		return false
	}
	return strings.Contains(rn, n) || strings.Contains(n, rn)
}

// wantsDeveloper reports whether the label is developer-shaped, which
// unlocks the generalist fallback rung of the candidate search.
func wantsDeveloper(label string) bool {
	roles, ok := AcceptableRoles(label)
	if !ok {
		n := normalizeLabel(label)
		return strings.Contains(n, "dev") || strings.Contains(n, "engineer")
	}
	for _, r := range roles {
		if types.IsDeveloper(r) {
			return true
		}
	}
	return false
}

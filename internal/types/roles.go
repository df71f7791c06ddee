package types

// Role is the job category an agent holds. Roles are a closed set; free-text
// labels arriving on tasks are resolved to this set by the dispatch package.
type Role string

const (
	RoleArchitect Role = "architect"
	RoleTeamLead  Role = "team_lead"
	RoleSeniorDev Role = "senior_dev"
	RoleMidDev    Role = "mid_dev"
	RoleJuniorDev Role = "junior_dev"
	RoleQA        Role = "qa"
	RoleSeniorQA  Role = "senior_qa"
)

// AllRoles lists every concrete role, in seniority order per track.
var AllRoles = []Role{
	RoleArchitect,
	RoleTeamLead,
	RoleSeniorDev,
	RoleMidDev,
	RoleJuniorDev,
	RoleQA,
	RoleSeniorQA,
}

// roleLadder defines the promotion path. Roles absent from the map are
// terminal: they have no next rung, so promotion is impossible for them.
var roleLadder = map[Role]Role{
	RoleJuniorDev: RoleMidDev,
	RoleMidDev:    RoleSeniorDev,
	RoleQA:        RoleSeniorQA,
}

// NextRole returns the promotion target for r, if one exists.
func NextRole(r Role) (Role, bool) {
	next, ok := roleLadder[r]
	return next, ok
}

// PrevRole returns the demotion target for r, if one exists. A role with no
// previous rung (e.g. JuniorDev) can never be demoted.
func PrevRole(r Role) (Role, bool) {
	for lower, upper := range roleLadder {
		if upper == r {
			return lower, true
		}
	}
	return "", false
}

// DeveloperRoles are the roles eligible for the generalist dispatch fallback.
var DeveloperRoles = []Role{RoleSeniorDev, RoleMidDev, RoleJuniorDev}

// IsDeveloper reports whether r is a developer-track role.
func IsDeveloper(r Role) bool {
	for _, d := range DeveloperRoles {
		if r == d {
			return true
		}
	}
	return false
}

// Valid reports whether r is a known concrete role.
func (r Role) Valid() bool {
	for _, known := range AllRoles {
		if r == known {
			return true
		}
	}
	return false
}

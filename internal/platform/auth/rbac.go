package auth

import (
	"errors"
	"net/http"
	"strings"
)

var ErrForbidden = errors.New("forbidden")

const (
	// RoleOperator covers floor workers recording inspection steps.
	RoleOperator = "operator"
	// RoleSupervisor additionally covers structural operations on runs.
	RoleSupervisor = "supervisor"
	RoleAdmin      = "admin"
)

var roleLevels = map[string]int{
	RoleOperator:   1,
	RoleSupervisor: 2,
	RoleAdmin:      3,
}

func HasAtLeast(roles []string, required string) bool {
	requiredLevel := roleLevels[strings.ToLower(required)]
	if requiredLevel == 0 {
		return false
	}
	maxLevel := 0
	for _, role := range roles {
		level := roleLevels[strings.ToLower(strings.TrimSpace(role))]
		if level > maxLevel {
			maxLevel = level
		}
	}
	return maxLevel >= requiredLevel
}

// supervisorOps are the run operations reserved for supervisors: structural
// changes and lifecycle interventions.
var supervisorOps = []string{"/split", "/group", "/hold", "/release", "/cancel"}

func RequiredRoleForRequest(r *http.Request) string {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return RoleOperator
	}
	for _, suffix := range supervisorOps {
		if strings.HasSuffix(r.URL.Path, suffix) {
			return RoleSupervisor
		}
	}
	return RoleOperator
}

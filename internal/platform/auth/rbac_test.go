package auth

import (
	"net/http"
	"testing"
)

func TestHasAtLeast(t *testing.T) {
	if !HasAtLeast([]string{"operator"}, RoleOperator) {
		t.Fatalf("operator should satisfy operator")
	}
	if HasAtLeast([]string{"operator"}, RoleSupervisor) {
		t.Fatalf("operator should not satisfy supervisor")
	}
	if !HasAtLeast([]string{"supervisor"}, RoleOperator) {
		t.Fatalf("supervisor should satisfy operator")
	}
	if !HasAtLeast([]string{"admin"}, RoleSupervisor) {
		t.Fatalf("admin should satisfy supervisor")
	}
	if HasAtLeast([]string{"unknown"}, "unknown") {
		t.Fatalf("unknown role should never satisfy")
	}
}

func TestRequiredRoleForRequest(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example.test/api/v1/orders/o1/runs", nil)
	if got := RequiredRoleForRequest(req); got != RoleOperator {
		t.Fatalf("RequiredRoleForRequest(GET)=%q, want operator", got)
	}
	req.Method = http.MethodPost
	if got := RequiredRoleForRequest(req); got != RoleOperator {
		t.Fatalf("RequiredRoleForRequest(POST runs)=%q, want operator", got)
	}
	req.URL.Path = "/api/v1/orders/o1/runs/r1/split"
	if got := RequiredRoleForRequest(req); got != RoleSupervisor {
		t.Fatalf("RequiredRoleForRequest(split)=%q, want supervisor", got)
	}
	req.URL.Path = "/api/v1/orders/o1/runs/group"
	if got := RequiredRoleForRequest(req); got != RoleSupervisor {
		t.Fatalf("RequiredRoleForRequest(group)=%q, want supervisor", got)
	}
}

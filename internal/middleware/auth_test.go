package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopforge/mes/internal/auth"
)

func TestAuth_RejectsMissingHeader(t *testing.T) {
	issuer := auth.NewIssuer()
	handler := Auth(issuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/priority/details", nil)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuth_AcceptsValidBearerAndInjectsClaims(t *testing.T) {
	issuer := auth.NewIssuer()
	token, err := issuer.Generate("alice", auth.RoleSupervisor)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	var sawOperator, sawRole string
	handler := Auth(issuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawOperator, _ = OperatorFromContext(r.Context())
		sawRole, _ = RoleFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/priority/details", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if sawOperator != "alice" || sawRole != auth.RoleSupervisor {
		t.Fatalf("unexpected injected claims: operator=%q role=%q", sawOperator, sawRole)
	}
}

func TestRequireRole_RejectsWrongRole(t *testing.T) {
	issuer := auth.NewIssuer()
	token, err := issuer.Generate("bob", auth.RoleOperator)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	handler := Auth(issuer)(RequireRole(auth.RoleSupervisor, auth.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/maintainance/supervisor/downtimes/d1/close", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for operator hitting a supervisor-only route, got %d", rec.Code)
	}
}

package permbit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPrincipalContextRoundtrip(t *testing.T) {
	ctx := context.Background()
	if _, ok := FromContext(ctx); ok {
		t.Fatalf("empty context must carry no principal")
	}

	p := &Principal{Username: "alice", EntityID: 1, Roles: []string{"editor"}}
	ctx = WithPrincipal(ctx, p)
	got, ok := FromContext(ctx)
	if !ok || got != p {
		t.Fatalf("expected the bound principal back")
	}
}

func TestPrincipalAuthenticated(t *testing.T) {
	var nilP *Principal
	if nilP.Authenticated() {
		t.Fatalf("nil principal is not authenticated")
	}
	if (&Principal{Username: "anon"}).Authenticated() {
		t.Fatalf("zero entity id is the unauthenticated sentinel")
	}
	if !(&Principal{Username: "alice", EntityID: 1}).Authenticated() {
		t.Fatalf("non-zero entity id is authenticated")
	}
}

func TestPrincipalHasRole(t *testing.T) {
	p := &Principal{Roles: []string{"editor", "viewer"}}
	if !p.HasRole("viewer") || p.HasRole("admin") {
		t.Fatalf("role membership mismatch")
	}
	var nilP *Principal
	if nilP.HasRole("editor") {
		t.Fatalf("nil principal holds no roles")
	}
}

type staticVerifier struct {
	token string
	p     *Principal
}

func (v staticVerifier) Verify(_ context.Context, token string) (*Principal, error) {
	if token != v.token {
		return nil, fmt.Errorf("bad token")
	}
	return v.p, nil
}

func TestAuthMiddleware(t *testing.T) {
	verifier := staticVerifier{token: "t-123", p: &Principal{Username: "alice", EntityID: 1}}

	var seen *Principal
	handler := AuthMiddleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer t-123")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen == nil || seen.Username != "alice" {
		t.Fatalf("expected the verified principal in context, got %+v", seen)
	}

	// bad token: the request proceeds without a principal
	seen = nil
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != nil {
		t.Fatalf("bad token must not bind a principal")
	}

	// no header at all
	seen = nil
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if seen != nil {
		t.Fatalf("missing header must not bind a principal")
	}
}

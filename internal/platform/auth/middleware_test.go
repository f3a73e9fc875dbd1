package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MeltyDeays/AgroApp-sub000/internal/platform/requestctx"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func TestRequireFirebaseAuth_AllowsApprover(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{
			UID: "uid-admin",
			Claims: map[string]any{
				"role":  []any{"Staff", "admin", "staff"},
				"email": "ops@farm.example",
				"name":  "Ops Desk",
			},
		},
	}

	handlerCalled := false
	handler := NewAuthenticator(verifier).RequireFirebaseAuth(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UID != "uid-admin" {
			t.Fatalf("unexpected uid: %s", identity.UID)
		}
		if len(identity.Roles) != 2 || !identity.HasAnyRole(RoleStaff) {
			t.Fatalf("expected deduplicated roles, got %v", identity.Roles)
		}
		if identity.DisplayName() != "Ops Desk" {
			t.Fatalf("unexpected display name %q", identity.DisplayName())
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/orders/o-1:approve", nil)
	req.Header.Set("Authorization", "Bearer token-abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !handlerCalled {
		t.Fatalf("expected handler to be called")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if verifier.received != "token-abc" {
		t.Fatalf("expected token to be forwarded, got %q", verifier.received)
	}
}

func TestRequireFirebaseAuth_FallbackRole(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "uid-farmer", Claims: map[string]any{}}}

	var roles []string
	handler := NewAuthenticator(verifier).RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		roles = identity.Roles
		if identity.DisplayName() != "uid-farmer" {
			t.Fatalf("expected uid fallback for display name, got %q", identity.DisplayName())
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "bearer t")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if len(roles) != 1 || roles[0] != RoleUser {
		t.Fatalf("expected fallback user role, got %v", roles)
	}
}

func TestRequireFirebaseAuth_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		verifier *stubTokenVerifier
		roles    []string
		status   int
		code     string
	}{
		{
			name:     "missing header",
			verifier: &stubTokenVerifier{},
			status:   http.StatusUnauthorized,
			code:     "unauthenticated",
		},
		{
			name:     "wrong scheme",
			header:   "Basic abc",
			verifier: &stubTokenVerifier{},
			status:   http.StatusUnauthorized,
			code:     "unauthenticated",
		},
		{
			name:     "expired token",
			header:   "Bearer abc",
			verifier: &stubTokenVerifier{err: ErrTokenExpired},
			status:   http.StatusUnauthorized,
			code:     "token_expired",
		},
		{
			name:     "invalid token",
			header:   "Bearer abc",
			verifier: &stubTokenVerifier{err: errors.New("bad signature")},
			status:   http.StatusUnauthorized,
			code:     "invalid_token",
		},
		{
			name:   "insufficient role",
			header: "Bearer abc",
			verifier: &stubTokenVerifier{token: &firebaseauth.Token{
				UID:    "uid-farmer",
				Claims: map[string]any{"role": "user"},
			}},
			roles:  []string{RoleAdmin, RoleStaff},
			status: http.StatusForbidden,
			code:   "insufficient_role",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewAuthenticator(tc.verifier).RequireFirebaseAuth(tc.roles...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("handler must not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("expected error code %s, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestRolesFromClaimsMapForm(t *testing.T) {
	roles := rolesFromClaims(map[string]any{"role": map[string]any{"staff": true, "admin": false}}, "role")
	if len(roles) != 1 || roles[0] != RoleStaff {
		t.Fatalf("expected staff only, got %v", roles)
	}
}

func TestRequireFirebaseAuth_TagsRequestLoggerWithUID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "farmer-7", Claims: map[string]any{}}}

	handler := NewAuthenticator(verifier).RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestctx.Logger(r.Context()).Info("order placed")
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	req.Header.Set("Authorization", "Bearer token-farmer")
	req = req.WithContext(requestctx.WithLogger(req.Context(), zap.New(core)))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	if uid, ok := entries[0].ContextMap()["uid"]; !ok || uid != "farmer-7" {
		t.Fatalf("expected uid field, got %v", entries[0].ContextMap())
	}
}

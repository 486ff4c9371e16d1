package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/subsync/pkg/auth"
	"github.com/angelmondragon/subsync/pkg/config"
	"github.com/angelmondragon/subsync/pkg/enums"
)

func testJWT() config.JWTConfig {
	return config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingToken(t *testing.T) {
	handler := Auth(testJWT(), nil)(okHandler())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	handler := Auth(testJWT(), nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthSeedsOwnerClaims(t *testing.T) {
	cfg := testJWT()
	ownerID := uuid.New()
	token := mintTestToken(t, cfg, enums.ActorRoleOwner, &ownerID)

	var captured struct {
		actor string
		role  string
		owner uuid.UUID
	}
	handler := Auth(cfg, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.actor = ActorIDFromContext(r.Context())
		captured.role = RoleFromContext(r.Context())
		captured.owner = OwnerIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if captured.actor != "actor-1" {
		t.Fatalf("expected actor-1 got %q", captured.actor)
	}
	if captured.role != string(enums.ActorRoleOwner) {
		t.Fatalf("expected role owner got %s", captured.role)
	}
	if captured.owner != ownerID {
		t.Fatalf("expected owner %s got %s", ownerID, captured.owner)
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(enums.ActorRoleOperator, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithActor(req.Context(), "a", string(enums.ActorRoleOwner), nil))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithActor(req.Context(), "a", string(enums.ActorRoleOperator), nil))
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestRequireOwnerAccess(t *testing.T) {
	ownerID := uuid.New()
	other := uuid.New()

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			role := req.Header.Get("X-Test-Role")
			var bound *uuid.UUID
			if role == string(enums.ActorRoleOwner) {
				bound = &ownerID
			}
			next.ServeHTTP(w, req.WithContext(WithActor(req.Context(), "a", role, bound)))
		})
	})
	r.With(RequireOwnerAccess("ownerId", nil)).Get("/owners/{ownerId}", okHandler().ServeHTTP)

	cases := []struct {
		name string
		role enums.ActorRole
		path string
		want int
	}{
		{"owner reads self", enums.ActorRoleOwner, "/owners/" + ownerID.String(), http.StatusOK},
		{"owner reads other", enums.ActorRoleOwner, "/owners/" + other.String(), http.StatusForbidden},
		{"owner bad id", enums.ActorRoleOwner, "/owners/nope", http.StatusBadRequest},
		{"operator reads any", enums.ActorRoleOperator, "/owners/" + other.String(), http.StatusOK},
		{"no role", "", "/owners/" + ownerID.String(), http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		req.Header.Set("X-Test-Role", string(tc.role))
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		if resp.Code != tc.want {
			t.Fatalf("%s: expected %d got %d", tc.name, tc.want, resp.Code)
		}
	}
}

func mintTestToken(t *testing.T, cfg config.JWTConfig, role enums.ActorRole, ownerID *uuid.UUID) string {
	t.Helper()
	token, err := auth.MintAccessToken(cfg, time.Now(), auth.AccessTokenPayload{
		ActorID: "actor-1",
		Role:    role,
		OwnerID: ownerID,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

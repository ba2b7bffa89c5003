// README: Tests for bearer auth middleware and role gating.
package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"ridecore/internal/auth"
	"ridecore/internal/http/middleware"
	"ridecore/internal/infra"
)

// stubVerifier is a test double for infra.TokenVerifier.
type stubVerifier struct {
	token *infra.VerifiedToken
	err   error
	seen  string
}

func (s *stubVerifier) VerifyIDToken(_ context.Context, raw string) (*infra.VerifiedToken, error) {
	s.seen = raw
	return s.token, s.err
}

func newTestRouter(verifier infra.TokenVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Auth(verifier))
	r.GET("/test", func(c *gin.Context) {
		uid := middleware.CallerUID(c)
		role := middleware.CallerRole(c)
		id := middleware.Caller(c)
		c.JSON(http.StatusOK, gin.H{"uid": uid, "role": role, "identity": string(id.UserID)})
	})
	r.GET("/drivers-only", middleware.RequireRole(auth.RoleDriver, auth.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func get(r *gin.Engine, path, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_MissingHeader(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.VerifiedToken{UID: "user1"}})
	if w := get(r, "/test", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_InvalidBearerPrefix(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.VerifiedToken{UID: "user1"}})
	if w := get(r, "/test", "Token sometoken"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_VerifierError(t *testing.T) {
	r := newTestRouter(&stubVerifier{err: errors.New("bad token")})
	if w := get(r, "/test", "Bearer invalidtoken"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_ValidToken_UIDAndRolePopulated(t *testing.T) {
	token := &infra.VerifiedToken{
		UID:    "driver123",
		Claims: map[string]interface{}{"role": "driver"},
	}
	r := newTestRouter(&stubVerifier{token: token})
	w := get(r, "/test", "Bearer validtoken")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"uid":"driver123"`) || !strings.Contains(body, `"role":"driver"`) {
		t.Errorf("unexpected body %s", body)
	}
	if !strings.Contains(body, `"identity":"driver123"`) {
		t.Errorf("identity not on request context: %s", body)
	}
}

func TestAuth_NoRoleClaimIsRider(t *testing.T) {
	token := &infra.VerifiedToken{UID: "rider456", Claims: map[string]interface{}{}}
	r := newTestRouter(&stubVerifier{token: token})
	w := get(r, "/test", "Bearer validtoken")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"role":"rider"`) {
		t.Errorf("got %d %s", w.Code, w.Body.String())
	}
}

func TestAuth_SystemRoleRejected(t *testing.T) {
	token := &infra.VerifiedToken{UID: "x", Claims: map[string]interface{}{"role": "system"}}
	r := newTestRouter(&stubVerifier{token: token})
	if w := get(r, "/test", "Bearer validtoken"); w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestAuth_QueryTokenFallback(t *testing.T) {
	v := &stubVerifier{token: &infra.VerifiedToken{UID: "driver123", Claims: map[string]interface{}{"role": "driver"}}}
	r := newTestRouter(v)
	if w := get(r, "/test?access_token=wstoken", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if v.seen != "wstoken" {
		t.Errorf("verifier saw %q", v.seen)
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		role string
		want int
	}{
		{"driver", http.StatusNoContent},
		{"admin", http.StatusNoContent},
		{"", http.StatusForbidden},
		{"rider", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run("role="+tt.role, func(t *testing.T) {
			claims := map[string]interface{}{}
			if tt.role != "" {
				claims["role"] = tt.role
			}
			r := newTestRouter(&stubVerifier{token: &infra.VerifiedToken{UID: "u1", Claims: claims}})
			if w := get(r, "/drivers-only", "Bearer t"); w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

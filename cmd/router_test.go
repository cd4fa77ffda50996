package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"ibstudy-server/config"
	"ibstudy-server/middleware"
	"ibstudy-server/models"
)

func testRouter(t *testing.T, plan string) (*gin.Engine, *config.Config) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		GinMode:       gin.TestMode,
		TemplatesPath: "../templates",
		StaticPath:    "../static",
		CataloguePath: "../seed/catalogue.yaml",
		Auth: config.AuthConfig{
			JWTSigningKey: "test-key",
			Issuer:        "ibstudy",
			SessionHours:  1,
			CSRFSecret:    "csrf",
		},
		CORS:    config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
		Uploads: config.UploadsConfig{Dir: t.TempDir(), MaxBytes: 1 << 20},
	}
	unlimited := func() int { return 0 }
	deps := routerDeps{
		APILimiter:   middleware.NewRateLimiter(unlimited, time.Hour),
		AdminLimiter: middleware.NewRateLimiter(unlimited, time.Hour),
		PlanLookup: func(context.Context, string) (string, error) {
			return plan, nil
		},
	}
	return newRouter(cfg, nil, deps), cfg
}

func bearer(t *testing.T, cfg *config.Config, u models.User) string {
	t.Helper()
	tok, _, err := middleware.IssueToken(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, u, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + tok
}

func TestRoutesRegistered(t *testing.T) {
	r, _ := testRouter(t, models.PlanFree)
	have := map[string]bool{}
	for _, rt := range r.Routes() {
		have[rt.Method+" "+rt.Path] = true
	}
	for _, want := range []string{
		"POST /api/auth/login",
		"GET /api/auth/me",
		"POST /api/study/generate",
		"GET /api/study/subjects",
		"GET /api/flashcards/due",
		"POST /api/flashcards/review",
		"PUT /api/exams/sessions/:id/answers/:number",
		"POST /api/exams/sessions/:id/start-writing",
		"POST /api/exams/sessions/:id/submit",
		"PATCH /api/planner/tasks/:id/toggle",
		"POST /api/community/posts/:id/vote",
		"POST /api/community/papers",
		"POST /api/tutor/chat",
		"GET /api/admissions/points",
		"PATCH /api/lifecycle/milestones/:key/toggle",
		"GET /api/dashboard",
		"DELETE /api/push/subscribe",
		"POST /admin/settings",
		"POST /admin/ingest",
		"GET /study",
		"GET /offline",
	} {
		if !have[want] {
			t.Errorf("route %q not registered", want)
		}
	}
}

func TestPublicPages(t *testing.T) {
	r, _ := testRouter(t, models.PlanFree)
	tests := []struct {
		path, contains string
	}{
		{"/health", "UP"},
		{"/offline", "offline"},
		{"/static/css/app.css", "{"},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), tt.contains) {
			t.Errorf("GET %s = %d %.80q", tt.path, w.Code, w.Body.String())
		}
	}
}

func TestAPIRequiresAuth(t *testing.T) {
	r, _ := testRouter(t, models.PlanFree)
	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/auth/me", nil),
		httptest.NewRequest(http.MethodPost, "/api/study/generate", strings.NewReader(`{}`)),
		httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil),
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s = %d, want 401", req.Method, req.URL.Path, w.Code)
		}
	}
}

func TestAdminNeedsRole(t *testing.T) {
	r, cfg := testRouter(t, models.PlanFree)
	req := httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil)
	req.Header.Set("Authorization", bearer(t, cfg, models.User{ID: "u1", Email: "s@ib.test", Roles: []string{"student"}}))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestTutorNeedsPremium(t *testing.T) {
	r, cfg := testRouter(t, models.PlanFree)
	req := httptest.NewRequest(http.MethodPost, "/api/tutor/chat", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer(t, cfg, models.User{ID: "u1", Roles: []string{"student"}, Plan: models.PlanFree}))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["required_plan"] != models.PlanPremium {
		t.Errorf("body = %s", w.Body.String())
	}
}

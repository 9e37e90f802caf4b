package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"backlog/api/internal/ai"
	"backlog/api/internal/authpw"
	"backlog/api/internal/config"
	"backlog/api/internal/email"
	"backlog/api/internal/export"
	"backlog/api/internal/search"
)

const testCronSecret = "test-cron-secret"

// harness wires a Service over the in-memory store and drives it through the
// real HTTP handler, the same way clients do.
type harness struct {
	t       *testing.T
	store   *memStore
	service *Service
	handler http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithMailer(t, email.NewService(email.Config{}))
}

func newHarnessWithMailer(t *testing.T, mail mailer) *harness {
	t.Helper()
	ms := newMemStore()
	cfg := config.Config{
		JWTSecret:  "test-secret",
		AppURL:     "http://localhost:3000",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}
	svc := NewService(
		cfg,
		ms,
		ms,
		authpw.NewService(ms),
		mail,
		search.NewService(nil, nil),
		export.NewService(),
		nil,
		ai.NewService(nil, nil, nil),
	)
	server := NewHTTPServer(svc, "http://localhost:3000", testCronSecret)
	return &harness{t: t, store: ms, service: svc, handler: server.Handler()}
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) mustDo(method, path, token string, body any, wantStatus int) map[string]any {
	h.t.Helper()
	rec := h.do(method, path, token, body)
	if rec.Code != wantStatus {
		h.t.Fatalf("%s %s: status %d, want %d (body %s)", method, path, rec.Code, wantStatus, rec.Body.String())
	}
	return decodeResponse(h.t, rec)
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	if rec.Body.Len() == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

// signUp runs the full signup, verification, and signin flow and returns an
// access token plus the new user's ID. SMTP is unconfigured in tests, so the
// verification token rides along in the signup response.
func (h *harness) signUp(name, emailAddr, password string) (string, string) {
	h.t.Helper()
	created := h.mustDo(http.MethodPost, "/api/auth/signup", "", map[string]string{
		"name":     name,
		"email":    emailAddr,
		"password": password,
	}, http.StatusCreated)
	verifyToken, _ := created["devVerificationToken"].(string)
	if verifyToken == "" {
		h.t.Fatalf("signup response missing devVerificationToken: %v", created)
	}
	h.mustDo(http.MethodPost, "/api/auth/verify-email", "", map[string]string{"token": verifyToken}, http.StatusOK)
	signedIn := h.mustDo(http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email":    emailAddr,
		"password": password,
	}, http.StatusOK)
	return signedIn["accessToken"].(string), signedIn["userId"].(string)
}

func (h *harness) createTeam(token, name string) string {
	h.t.Helper()
	team := h.mustDo(http.MethodPost, "/api/teams", token, map[string]string{"name": name}, http.StatusCreated)
	return team["slug"].(string)
}

func (h *harness) createProject(token, slug, name, key string) map[string]any {
	h.t.Helper()
	return h.mustDo(http.MethodPost, "/api/teams/"+slug+"/projects", token, map[string]string{
		"name": name,
		"key":  key,
	}, http.StatusCreated)
}

func (h *harness) createIssue(token, projectID string, body map[string]any) map[string]any {
	h.t.Helper()
	return h.mustDo(http.MethodPost, "/api/projects/"+projectID+"/issues", token, body, http.StatusCreated)
}

func (h *harness) projectStatuses(token, projectID string) []map[string]any {
	h.t.Helper()
	resp := h.mustDo(http.MethodGet, "/api/projects/"+projectID+"/statuses", token, nil, http.StatusOK)
	return asList(h.t, resp["statuses"])
}

func (h *harness) statusNamed(token, projectID, name string) map[string]any {
	h.t.Helper()
	for _, st := range h.projectStatuses(token, projectID) {
		if st["name"] == name {
			return st
		}
	}
	h.t.Fatalf("no status named %q", name)
	return nil
}

func asList(t *testing.T, v any) []map[string]any {
	t.Helper()
	raw, ok := v.([]any)
	if !ok {
		t.Fatalf("expected list, got %T (%v)", v, v)
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			t.Fatalf("expected object in list, got %T", item)
		}
		out = append(out, entry)
	}
	return out
}

func errCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeResponse(t, rec)
	code, _ := body["code"].(string)
	return code
}

// uniqueEmail avoids collisions across helpers within a single test.
var emailCounter int

func nextEmail(prefix string) string {
	emailCounter++
	return fmt.Sprintf("%s%d@example.com", prefix, emailCounter)
}

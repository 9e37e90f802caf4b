package app

import (
	"net/http"
	"testing"
	"time"
)

func TestNotificationReadFlow(t *testing.T) {
	h := newHarness(t)
	ownerToken, memberToken, memberID, slug := setupTeamWithMember(t, h)
	projectID := h.createProject(ownerToken, slug, "Website", "WEB")["id"].(string)

	h.createIssue(ownerToken, projectID, map[string]any{"title": "One", "assigneeId": memberID})
	h.createIssue(ownerToken, projectID, map[string]any{"title": "Two", "assigneeId": memberID})

	// The invite plus two assignments.
	count := h.mustDo(http.MethodGet, "/api/notifications/unread-count", memberToken, nil, http.StatusOK)
	if count["count"] != float64(3) {
		t.Fatalf("expected 3 unread, got %v", count["count"])
	}

	notifs := asList(t, h.mustDo(http.MethodGet, "/api/notifications", memberToken, nil, http.StatusOK)["notifications"])
	first := notifs[0]["id"].(string)
	h.mustDo(http.MethodPost, "/api/notifications/"+first+"/read", memberToken, nil, http.StatusOK)
	count = h.mustDo(http.MethodGet, "/api/notifications/unread-count", memberToken, nil, http.StatusOK)
	if count["count"] != float64(2) {
		t.Errorf("expected 2 unread after read, got %v", count["count"])
	}

	unread := asList(t, h.mustDo(http.MethodGet, "/api/notifications?unread=true", memberToken, nil, http.StatusOK)["notifications"])
	if len(unread) != 2 {
		t.Errorf("expected 2 unread in filtered list, got %d", len(unread))
	}

	h.mustDo(http.MethodPost, "/api/notifications/read-all", memberToken, nil, http.StatusOK)
	count = h.mustDo(http.MethodGet, "/api/notifications/unread-count", memberToken, nil, http.StatusOK)
	if count["count"] != float64(0) {
		t.Errorf("expected 0 unread after read-all, got %v", count["count"])
	}

	// Users only touch their own notifications.
	rec := h.do(http.MethodDelete, "/api/notifications/"+first, ownerToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 deleting another user's notification, got %d", rec.Code)
	}
	h.mustDo(http.MethodDelete, "/api/notifications/"+first, memberToken, nil, http.StatusOK)
}

func TestDueDateCron(t *testing.T) {
	h := newHarness(t)
	ownerToken, memberToken, memberID, slug := setupTeamWithMember(t, h)
	projectID := h.createProject(ownerToken, slug, "Website", "WEB")["id"].(string)

	tomorrow := time.Now().UTC().Add(24 * time.Hour).Format("2006-01-02")
	nextMonth := time.Now().UTC().Add(30 * 24 * time.Hour).Format("2006-01-02")
	h.createIssue(ownerToken, projectID, map[string]any{
		"title":      "Due soon",
		"assigneeId": memberID,
		"dueDate":    tomorrow,
	})
	h.createIssue(ownerToken, projectID, map[string]any{
		"title":      "Due later",
		"assigneeId": memberID,
		"dueDate":    nextMonth,
	})
	h.createIssue(ownerToken, projectID, map[string]any{
		"title":   "Unassigned",
		"dueDate": tomorrow,
	})

	// The cron route rejects anything but the shared secret.
	rec := h.do(http.MethodPost, "/api/cron/due-date-notifications", "wrong-secret", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with a bad secret, got %d", rec.Code)
	}

	// Schedulers call the endpoint with GET.
	resp := h.mustDo(http.MethodGet, "/api/cron/due-date-notifications", testCronSecret, nil, http.StatusOK)
	if resp["notified"] != float64(1) {
		t.Fatalf("expected 1 due notification, got %v", resp["notified"])
	}

	notifs := asList(t, h.mustDo(http.MethodGet, "/api/notifications", memberToken, nil, http.StatusOK)["notifications"])
	if notifs[0]["type"] != "ISSUE_DUE_SOON" {
		t.Errorf("expected ISSUE_DUE_SOON first, got %v", notifs[0])
	}

	// A second run on the same day sends nothing new.
	resp = h.mustDo(http.MethodPost, "/api/cron/due-date-notifications", testCronSecret, nil, http.StatusOK)
	if resp["notified"] != float64(0) {
		t.Errorf("expected rerun to notify 0, got %v", resp["notified"])
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	h := newHarness(t)
	token, _ := h.signUp("Searcher", nextEmail("search"), "password123")

	rec := h.do(http.MethodGet, "/api/search", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without q, got %d", rec.Code)
	}

	// A user with no teams gets an empty result set, not an error.
	resp := h.mustDo(http.MethodGet, "/api/search?q=anything", token, nil, http.StatusOK)
	results, ok := resp["results"].([]any)
	if !ok || len(results) != 0 {
		t.Errorf("expected empty results, got %v", resp["results"])
	}

	// The type filter narrows results rather than erroring.
	resp = h.mustDo(http.MethodGet, "/api/search?q=anything&type=issue", token, nil, http.StatusOK)
	if results, ok := resp["results"].([]any); !ok || len(results) != 0 {
		t.Errorf("expected empty filtered results, got %v", resp["results"])
	}
}

func TestAIDisabled(t *testing.T) {
	h := newHarness(t)
	token, _, projectID := setupProject(t, h)
	issueID := h.createIssue(token, projectID, map[string]any{"title": "Summarize me"})["id"].(string)

	for _, action := range []string{"summary", "suggest", "duplicates", "labels"} {
		rec := h.do(http.MethodPost, "/api/ai/issues/"+issueID+"/"+action, token, nil)
		if rec.Code != http.StatusServiceUnavailable || errCode(t, rec) != "AI_DISABLED" {
			t.Errorf("%s: expected 503 AI_DISABLED, got %d %s", action, rec.Code, rec.Body.String())
		}
	}

	// Access control still applies before the provider check.
	outsiderToken, _ := h.signUp("Outsider", nextEmail("outsider"), "password123")
	rec := h.do(http.MethodPost, "/api/ai/issues/"+issueID+"/summary", outsiderToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for outsider, got %d", rec.Code)
	}
}

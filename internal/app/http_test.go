package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func setupHTTP(t *testing.T) (*testEnv, http.Handler) {
	t.Helper()
	env := setupService(t)
	server := NewHTTPServer(env.service, []byte("test-secret"), 15*time.Minute, "*")
	return env, server.Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var payload map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
		}
	}
	return rec, payload
}

func signUp(t *testing.T, handler http.Handler, email string) string {
	t.Helper()
	rec, payload := doJSON(t, handler, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":       email,
		"displayName": "Tester",
		"password":    "correct-horse",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("signup status = %d: %v", rec.Code, payload)
	}
	token, _ := payload["token"].(string)
	if token == "" {
		t.Fatalf("signup returned no token")
	}
	return token
}

func TestHealthEndpoint(t *testing.T) {
	_, handler := setupHTTP(t)
	rec, payload := doJSON(t, handler, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK || payload["ok"] != true {
		t.Fatalf("health = %d %v", rec.Code, payload)
	}
}

func TestAuthRequired(t *testing.T) {
	_, handler := setupHTTP(t)
	rec, payload := doJSON(t, handler, http.MethodGet, "/api/planners", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 (%v)", rec.Code, payload)
	}
	if payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("code = %v, want UNAUTHORIZED", payload["code"])
	}
}

func TestSignInRejectsWrongPassword(t *testing.T) {
	_, handler := setupHTTP(t)
	signUp(t, handler, "user@example.com")

	rec, payload := doJSON(t, handler, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email":    "user@example.com",
		"password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized || payload["code"] != "INVALID_CREDENTIALS" {
		t.Fatalf("signin = %d %v", rec.Code, payload)
	}
}

func TestPlannerLifecycleOverHTTP(t *testing.T) {
	_, handler := setupHTTP(t)
	token := signUp(t, handler, "owner@example.com")

	rec, created := doJSON(t, handler, http.MethodPost, "/api/planners", token, map[string]any{
		"title": "HTTP plan",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d %v", rec.Code, created)
	}
	plannerID, _ := created["id"].(string)
	if plannerID == "" {
		t.Fatalf("no planner id in %v", created)
	}

	rec, fetched := doJSON(t, handler, http.MethodGet, "/api/planners/"+plannerID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get = %d %v", rec.Code, fetched)
	}
	caps, _ := fetched["capabilities"].(map[string]any)
	if caps == nil || caps["canDelete"] != true {
		t.Fatalf("capabilities = %v, want owner set", fetched["capabilities"])
	}

	rec, sections := doJSON(t, handler, http.MethodGet, "/api/planners/"+plannerID+"/sections", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sections = %d %v", rec.Code, sections)
	}
	list, _ := sections["sections"].([]any)
	if len(list) != 1 {
		t.Fatalf("sections = %v, want the default section", sections)
	}

	rec, errPayload := doJSON(t, handler, http.MethodPut, "/api/planners/"+plannerID, token, map[string]any{
		"ownerId": "usr_thief",
	})
	if rec.Code != http.StatusUnprocessableEntity || errPayload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("rogue update = %d %v", rec.Code, errPayload)
	}

	rec, _ = doJSON(t, handler, http.MethodDelete, "/api/planners/"+plannerID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete = %d", rec.Code)
	}
	rec, _ = doJSON(t, handler, http.MethodGet, "/api/planners/"+plannerID, token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete = %d, want 404", rec.Code)
	}
}

func TestStrangerGetsForbiddenNotLeak(t *testing.T) {
	_, handler := setupHTTP(t)
	ownerToken := signUp(t, handler, "owner@example.com")
	strangerToken := signUp(t, handler, "stranger@example.com")

	rec, created := doJSON(t, handler, http.MethodPost, "/api/planners", ownerToken, map[string]any{
		"title": "Private",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d", rec.Code)
	}
	plannerID, _ := created["id"].(string)

	recMissing, _ := doJSON(t, handler, http.MethodGet, "/api/planners/pln_missing", strangerToken, nil)
	recPrivate, payload := doJSON(t, handler, http.MethodGet, "/api/planners/"+plannerID, strangerToken, nil)
	if recPrivate.Code != http.StatusForbidden || payload["code"] != "FORBIDDEN" {
		t.Fatalf("private get = %d %v, want 403", recPrivate.Code, payload)
	}
	// A missing planner 404s; an existing-but-denied planner 403s with a
	// bare message carrying no entity detail.
	if recMissing.Code != http.StatusNotFound {
		t.Fatalf("missing get = %d, want 404", recMissing.Code)
	}
	if payload["error"] != "Forbidden" {
		t.Fatalf("error = %v, want bare Forbidden", payload["error"])
	}
}

func TestAttachmentsDisabledWithoutBlobStore(t *testing.T) {
	_, handler := setupHTTP(t)
	token := signUp(t, handler, "owner@example.com")

	rec, created := doJSON(t, handler, http.MethodPost, "/api/planners", token, map[string]any{"title": "Plan"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create planner = %d", rec.Code)
	}
	plannerID, _ := created["id"].(string)
	rec, sections := doJSON(t, handler, http.MethodGet, "/api/planners/"+plannerID+"/sections", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sections = %d", rec.Code)
	}
	list, _ := sections["sections"].([]any)
	section, _ := list[0].(map[string]any)
	sectionID, _ := section["id"].(string)

	rec, activity := doJSON(t, handler, http.MethodPost, "/api/sections/"+sectionID+"/activities", token, map[string]any{"title": "Act"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create activity = %d %v", rec.Code, activity)
	}
	activityID, _ := activity["id"].(string)

	rec, payload := doJSON(t, handler, http.MethodPost, "/api/activities/"+activityID+"/attachments", token, map[string]any{
		"fileName": "notes.pdf",
	})
	if rec.Code != http.StatusServiceUnavailable || payload["code"] != "ATTACHMENTS_DISABLED" {
		t.Fatalf("attachment = %d %v, want 503 ATTACHMENTS_DISABLED", rec.Code, payload)
	}
}

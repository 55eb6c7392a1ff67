package app

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"planhub/internal/quota"
	"planhub/internal/repo"
	"planhub/internal/store"
)

func TestAsDomainErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", store.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"wrapped not found", fmt.Errorf("activity act_1: %w", store.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"version conflict", store.ErrVersionConflict, http.StatusConflict, "CONFLICT"},
		{"parent mismatch", fmt.Errorf("activity act_1: %w", repo.ErrParentMismatch), http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"quota", &quota.ExceededError{Resource: "planners", Limit: 3}, http.StatusUnprocessableEntity, "QUOTA_EXCEEDED"},
		{"unknown", errors.New("connection reset"), http.StatusInternalServerError, "STORE_ERROR"},
		{"passthrough", forbidden(), http.StatusForbidden, "FORBIDDEN"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			domain := asDomainError(tc.err)
			if domain.Status != tc.status || domain.Code != tc.code {
				t.Fatalf("got %d/%s, want %d/%s", domain.Status, domain.Code, tc.status, tc.code)
			}
		})
	}
}

func TestStoreErrorHidesCause(t *testing.T) {
	domain := asDomainError(errors.New("pq: password authentication failed"))
	if domain.Message == "pq: password authentication failed" {
		t.Fatalf("adapter detail leaked into client message")
	}
	if domain.Details != nil {
		t.Fatalf("details = %v, want nil", domain.Details)
	}
}

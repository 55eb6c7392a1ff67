package app

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"planhub/internal/quota"
	"planhub/internal/repo"
	"planhub/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func notFound(message string) *DomainError {
	return &DomainError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: message}
}

// forbidden deliberately carries no entity detail: a denied caller
// learns nothing beyond what a 403 implies.
func forbidden() *DomainError {
	return &DomainError{Status: http.StatusForbidden, Code: "FORBIDDEN", Message: "Forbidden"}
}

func validation(message string, details any) *DomainError {
	return &DomainError{Status: http.StatusUnprocessableEntity, Code: "VALIDATION_ERROR", Message: message, Details: details}
}

func conflict(message string) *DomainError {
	return &DomainError{Status: http.StatusConflict, Code: "CONFLICT", Message: message}
}

func quotaExceeded(err *quota.ExceededError) *DomainError {
	return &DomainError{
		Status:  http.StatusUnprocessableEntity,
		Code:    "QUOTA_EXCEEDED",
		Message: err.Error(),
		Details: map[string]any{"resource": err.Resource, "limit": err.Limit},
	}
}

// storeError hides adapter detail from clients. The cause is logged
// here, never serialized.
func storeError(err error) *DomainError {
	log.Printf("store error: %v", err)
	return &DomainError{
		Status:  http.StatusInternalServerError,
		Code:    "STORE_ERROR",
		Message: "Storage operation failed, try again",
		Details: nil,
	}
}

// asDomainError maps adapter and component errors onto the taxonomy.
func asDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domain *DomainError
	if errors.As(err, &domain) {
		return domain
	}
	var exceeded *quota.ExceededError
	if errors.As(err, &exceeded) {
		return quotaExceeded(exceeded)
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return notFound("Not found")
	case errors.Is(err, store.ErrVersionConflict):
		return conflict("The entity was modified concurrently, retry with fresh state")
	case errors.Is(err, repo.ErrParentMismatch):
		return validation("Entity does not belong to the stated parent", nil)
	default:
		return storeError(err)
	}
}

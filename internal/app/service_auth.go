package app

import (
	"context"
	"errors"
	"net/http"

	"planhub/internal/authpw"
	"planhub/internal/model"
	"planhub/internal/store"
)

// SignUp registers an account and maps the credential errors onto the
// taxonomy the HTTP layer understands.
func (s *Service) SignUp(ctx context.Context, email, displayName, password string) (*model.User, error) {
	user, err := s.users.SignUp(ctx, email, displayName, password)
	if err != nil {
		if errors.Is(err, authpw.ErrEmailTaken) {
			return nil, validation("Email is already registered", nil)
		}
		var domain *DomainError
		if errors.As(err, &domain) {
			return nil, domain
		}
		return nil, validation(err.Error(), nil)
	}
	return user, nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (*model.User, error) {
	user, err := s.users.SignIn(ctx, email, password)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			return nil, &DomainError{
				Status:  http.StatusUnauthorized,
				Code:    "INVALID_CREDENTIALS",
				Message: "Invalid email or password",
			}
		}
		return nil, asDomainError(err)
	}
	return user, nil
}

// Ping reports backing-store health for the readiness probe.
func (s *Service) Ping(ctx context.Context) error {
	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			return err
		}
	}
	// One cheap store round-trip proves the database connection.
	_, err := s.docs.Count(ctx, store.Users, nil)
	return err
}

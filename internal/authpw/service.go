// Package authpw provides email/password authentication over the users
// collection. Token issuance and delivery concerns stay outside the
// planning core; this package only establishes identity.
package authpw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"planhub/internal/model"
	"planhub/internal/store"
	"planhub/internal/util"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
)

// UserStore is the slice of the document-store adapter this service
// consumes.
type UserStore interface {
	Get(ctx context.Context, collection, id string) (json.RawMessage, error)
	Query(ctx context.Context, collection string, filters []store.Filter, order *store.OrderBy, limit, offset int) ([]json.RawMessage, error)
	Set(ctx context.Context, collection, id string, doc any) error
}

// Mailer delivers account emails. Delivery is an external collaborator;
// the default implementation only logs.
type Mailer interface {
	SendWelcome(ctx context.Context, email, displayName string) error
}

// LogMailer is the no-op default used when no mail transport is wired.
type LogMailer struct{}

func (LogMailer) SendWelcome(_ context.Context, email, _ string) error {
	log.Printf("mail disabled; skipping welcome email to %s", email)
	return nil
}

type Service struct {
	docs   UserStore
	mailer Mailer
}

func NewService(docs UserStore, mailer Mailer) *Service {
	if mailer == nil {
		mailer = LogMailer{}
	}
	return &Service{docs: docs, mailer: mailer}
}

func (s *Service) userByEmail(ctx context.Context, email string) (*model.User, error) {
	raws, err := s.docs.Query(ctx, store.Users,
		[]store.Filter{store.Eq("email", email)}, nil, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(raws) == 0 {
		return nil, store.ErrNotFound
	}
	var user model.User
	if err := json.Unmarshal(raws[0], &user); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &user, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (*model.User, error) {
	raw, err := s.docs.Get(ctx, store.Users, id)
	if err != nil {
		return nil, err
	}
	var user model.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &user, nil
}

// SignUp creates an account on the free plan.
func (s *Service) SignUp(ctx context.Context, email, displayName, password string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || displayName == "" || password == "" {
		return nil, errors.New("email, display name, and password are required")
	}
	if len(password) < 8 {
		return nil, errors.New("password must be at least 8 characters")
	}

	if _, err := s.userByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user := model.User{
		ID:           util.NewID("usr"),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Plan:         model.PlanFree,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.docs.Set(ctx, store.Users, user.ID, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	if err := s.mailer.SendWelcome(ctx, user.Email, user.DisplayName); err != nil {
		log.Printf("welcome email to %s failed: %v", user.Email, err)
	}

	user.PasswordHash = ""
	return &user, nil
}

// SignIn verifies a password. The error never distinguishes an unknown
// email from a wrong password.
func (s *Service) SignIn(ctx context.Context, email, password string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.userByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	user.PasswordHash = ""
	return user, nil
}

package authpw

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"planhub/internal/store"
)

type fakeUserStore struct {
	docs map[string]json.RawMessage
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{docs: make(map[string]json.RawMessage)}
}

func (f *fakeUserStore) Get(_ context.Context, _ string, id string) (json.RawMessage, error) {
	raw, ok := f.docs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return raw, nil
}

func (f *fakeUserStore) Query(_ context.Context, _ string, filters []store.Filter, _ *store.OrderBy, _ int, _ int) ([]json.RawMessage, error) {
	var out []json.RawMessage
	for _, raw := range f.docs {
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		matches := true
		for _, filter := range filters {
			if doc[filter.Field] != filter.Value {
				matches = false
				break
			}
		}
		if matches {
			out = append(out, raw)
		}
	}
	return out, nil
}

func (f *fakeUserStore) Set(_ context.Context, _ string, id string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	f.docs[id] = raw
	return nil
}

func TestSignUpAndSignIn(t *testing.T) {
	service := NewService(newFakeUserStore(), nil)
	ctx := context.Background()

	user, err := service.SignUp(ctx, "Avery@Example.com", "Avery", "correct-horse")
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if user.Email != "avery@example.com" {
		t.Errorf("expected normalized email, got %s", user.Email)
	}
	if user.PasswordHash != "" {
		t.Error("password hash must not be returned")
	}

	signedIn, err := service.SignIn(ctx, "avery@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if signedIn.ID != user.ID {
		t.Errorf("expected user %s, got %s", user.ID, signedIn.ID)
	}
}

func TestSignInWrongPassword(t *testing.T) {
	service := NewService(newFakeUserStore(), nil)
	ctx := context.Background()

	if _, err := service.SignUp(ctx, "a@b.com", "A", "correct-horse"); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	_, err := service.SignIn(ctx, "a@b.com", "wrong-horse")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}

	// Unknown email yields the same error, leaking nothing.
	_, err = service.SignIn(ctx, "nobody@b.com", "whatever-pw")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	service := NewService(newFakeUserStore(), nil)
	ctx := context.Background()

	if _, err := service.SignUp(ctx, "a@b.com", "A", "correct-horse"); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	_, err := service.SignUp(ctx, "A@B.com", "A again", "correct-horse")
	if !errors.Is(err, ErrEmailTaken) {
		t.Errorf("expected ErrEmailTaken, got %v", err)
	}
}

func TestSignUpShortPassword(t *testing.T) {
	service := NewService(newFakeUserStore(), nil)
	if _, err := service.SignUp(context.Background(), "a@b.com", "A", "short"); err == nil {
		t.Error("expected short password to be rejected")
	}
}

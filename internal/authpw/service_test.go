package authpw

import (
	"context"
	"errors"
	"testing"

	"tasklane/api/internal/store"
)

type fakeUserStore struct {
	orgs  []store.Organization
	users map[string]store.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]store.User)}
}

func (f *fakeUserStore) CreateOrganization(_ context.Context, org store.Organization) error {
	f.orgs = append(f.orgs, org)
	return nil
}

func (f *fakeUserStore) CreateUser(_ context.Context, user store.User) error {
	f.users[user.Email] = user
	return nil
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	user, ok := f.users[email]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func TestSignUpAndSignIn(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newFakeUserStore())

	user, err := svc.SignUp(ctx, SignUpRequest{
		Email:            "Dana@Example.com",
		Password:         "correct horse",
		DisplayName:      "Dana",
		OrganizationName: "Acme",
	})
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if user.OrgID == "" {
		t.Fatal("expected organization to be created")
	}
	if user.Email != "dana@example.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}

	signedIn, err := svc.SignIn(ctx, "dana@example.com", "correct horse")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if signedIn.ID != user.ID {
		t.Fatalf("signed in as %s, want %s", signedIn.ID, user.ID)
	}
}

func TestSignInWrongPassword(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newFakeUserStore())
	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.co", Password: "password1", DisplayName: "A"}); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if _, err := svc.SignIn(ctx, "a@b.co", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestSignInUnknownEmail(t *testing.T) {
	svc := NewService(newFakeUserStore())
	if _, err := svc.SignIn(context.Background(), "nobody@b.co", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newFakeUserStore())
	req := SignUpRequest{Email: "a@b.co", Password: "password1", DisplayName: "A"}
	if _, err := svc.SignUp(ctx, req); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if _, err := svc.SignUp(ctx, req); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestSignUpWeakPassword(t *testing.T) {
	svc := NewService(newFakeUserStore())
	_, err := svc.SignUp(context.Background(), SignUpRequest{Email: "a@b.co", Password: "short", DisplayName: "A"})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

// Package authpw provides email/password sign-up and sign-in. It exists to
// yield an acting user and organization; authorization policy lives with
// the caller.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tasklane/api/internal/store"
	"tasklane/api/internal/util"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

// UserStore is the storage surface the service needs.
type UserStore interface {
	CreateOrganization(ctx context.Context, org store.Organization) error
	CreateUser(ctx context.Context, user store.User) error
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
}

type Service struct {
	store UserStore
}

func NewService(s UserStore) *Service {
	return &Service{store: s}
}

type SignUpRequest struct {
	Email            string
	Password         string
	DisplayName      string
	OrganizationName string
}

// SignUp creates a new organization with its first user.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return store.User{}, fmt.Errorf("invalid email %q", req.Email)
	}
	if len(req.Password) < 8 {
		return store.User{}, ErrWeakPassword
	}
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return store.User{}, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	orgName := strings.TrimSpace(req.OrganizationName)
	if orgName == "" {
		orgName = req.DisplayName
	}
	org := store.Organization{ID: util.NewID("org"), Name: orgName, CreatedAt: now}
	if err := s.store.CreateOrganization(ctx, org); err != nil {
		return store.User{}, err
	}

	user := store.User{
		ID:           util.NewID("usr"),
		OrgID:        org.ID,
		Email:        email,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		PasswordHash: string(hash),
		Role:         "admin",
		CreatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.User{}, err
	}
	return user, nil
}

// SignIn verifies credentials. The error never reveals whether the email
// exists.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

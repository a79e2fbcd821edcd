// Package users is the credential store: it registers accounts, verifies
// login attempts, and keeps each user's display name and avatar.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Tyrowin/chatline/internal/auth"
	"github.com/Tyrowin/chatline/internal/common"
)

type Service struct {
	repo       Repository
	bcryptCost int
	dummyHash  string
}

// NewService returns a credential store over repo hashing at bcryptCost.
func NewService(repo Repository, bcryptCost int) (*Service, error) {
	// Compared against when the username is unknown, so both failure
	// paths pay for one bcrypt comparison.
	dummy, err := auth.HashPassword("chatline-dummy-password", bcryptCost)
	if err != nil {
		return nil, err
	}
	return &Service{repo: repo, bcryptCost: bcryptCost, dummyHash: dummy}, nil
}

// Register creates an account. The display name defaults to the username.
func (s *Service) Register(ctx context.Context, username, password, name string) (*User, error) {
	if username == "" || password == "" {
		return nil, common.ErrBadRequest
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = username
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInternal, err)
	}

	user, err := s.repo.Create(ctx, &User{
		Username:     username,
		PasswordHash: hash,
		Name:         name,
	})
	if err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			return nil, common.ErrDuplicateUser
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	return user, nil
}

// Verify returns the user when password matches. Unknown usernames and wrong
// passwords both return common.ErrInvalidCredentials.
func (s *Service) Verify(ctx context.Context, username, password string) (*User, error) {
	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			_, _ = auth.CheckPassword(s.dummyHash, password)
			return nil, common.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("error loading user: %w", err)
	}

	ok, err := auth.CheckPassword(user.PasswordHash, password)
	if err != nil || !ok {
		return nil, common.ErrInvalidCredentials
	}

	return user, nil
}

// SetAvatar overwrites the user's avatar reference.
func (s *Service) SetAvatar(ctx context.Context, userID int64, reference string) error {
	if err := s.repo.SetAvatar(ctx, userID, reference); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.ErrNotFound
		}
		return fmt.Errorf("error updating avatar: %w", err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, userID int64) (*User, error) {
	return s.repo.GetByID(ctx, userID)
}

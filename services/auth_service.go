// Package services implements the external collaborators of the session
// coordinator: identity verification and account creation on top of the
// user repository.
package services

import (
	"chat-hub/auth"
	"chat-hub/contract"
	"chat-hub/domain"
	"chat-hub/errors"
	"chat-hub/repositories"
	"context"
	"fmt"
	"log/slog"
)

// AuthService resolves credentials into principals. It satisfies
// contract.IIdentityService for the coordinator.
type AuthService struct {
	users  repositories.IUserRepository
	tokens *auth.TokenIssuer
	log    *slog.Logger
}

func NewAuthService(users repositories.IUserRepository, tokens *auth.TokenIssuer, log *slog.Logger) *AuthService {
	return &AuthService{users: users, tokens: tokens, log: log}
}

var _ contract.IIdentityService = (*AuthService)(nil)

// Verify checks credentials and returns the principal with a fresh session
// token in its profile. Lookup and comparison failures collapse into one
// generic error to prevent user enumeration.
func (s *AuthService) Verify(_ context.Context, userID, secret string) (domain.Principal, error) {
	user, err := s.users.GetUser(userID)
	if err != nil {
		return domain.Principal{}, errors.ErrInvalidCredentials
	}

	match, err := auth.ComparePassword(secret, user.PasswordHash)
	if err != nil || !match {
		return domain.Principal{}, errors.ErrInvalidCredentials
	}

	return s.principal(user)
}

// Create registers a new account and returns its principal, so signup
// doubles as a first login.
func (s *AuthService) Create(_ context.Context, userID, secret, nickname string) (domain.Principal, error) {
	request := auth.SignupRequest{UserID: userID, Password: secret, Nickname: nickname}
	if err := auth.ValidateSignup(request); err != nil {
		return domain.Principal{}, err
	}

	// Hashing happens here so the repository never sees a plain password.
	hash, err := auth.HashPassword(secret)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("hashing failed: %w", err)
	}

	user := repositories.UserRecord{
		UserID:       userID,
		Nickname:     nickname,
		PasswordHash: hash,
	}
	if err := s.users.CreateUser(user); err != nil {
		return domain.Principal{}, err // propagates ErrUserAlreadyExists / ErrNicknameTaken
	}

	return s.principal(user)
}

// SetOnline records which connection carries the identity right now.
func (s *AuthService) SetOnline(_ context.Context, key string, conn domain.ConnID, online bool) error {
	return s.users.SetPresence(key, string(conn), online)
}

func (s *AuthService) principal(user repositories.UserRecord) (domain.Principal, error) {
	token, err := s.tokens.Generate(user.UserID, user.Nickname)
	if err != nil {
		s.log.Error("token generation failed", "user_id", user.UserID, "error", err)
		return domain.Principal{}, errors.ErrTokenGeneration
	}
	return domain.Principal{
		Key:     user.UserID,
		Name:    user.Nickname,
		Profile: map[string]string{"token": token},
	}, nil
}

// Package authpw provides username/password authentication with email
// verification codes.
package authpw

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"datasetstudio/api/internal/store"
	"datasetstudio/api/internal/util"

	"golang.org/x/crypto/bcrypt"
)

const codeTTL = 15 * time.Minute

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already registered")
	ErrNotVerified        = errors.New("email not verified")
	ErrCodeInvalid        = errors.New("invalid verification code")
	ErrCodeExpired        = errors.New("verification code expired")
)

// UserStore defines the storage interface for auth.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	SetVerificationCode(ctx context.Context, username, code string, expiresAt time.Time) error
	MarkUserVerified(ctx context.Context, username string) error
}

type Service struct {
	store UserStore
}

func NewService(userStore UserStore) *Service {
	return &Service{store: userStore}
}

// RegisterRequest contains sign-up parameters.
type RegisterRequest struct {
	Username string
	Email    string
	Password string
	FullName string
}

// RegisterResponse carries the verification code so the caller can
// email it to the new account.
type RegisterResponse struct {
	User             store.User
	VerificationCode string
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" || req.Password == "" {
		return nil, errors.New("username, email, and password are required")
	}
	if len(req.Password) < 8 {
		return nil, errors.New("password must be at least 8 characters")
	}

	if _, err := s.store.GetUserByUsername(ctx, req.Username); err == nil {
		return nil, ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	code, err := generateCode()
	if err != nil {
		return nil, fmt.Errorf("generate verification code: %w", err)
	}
	expiresAt := time.Now().Add(codeTTL)

	user := store.User{
		ID:                    util.NewID("usr"),
		Username:              req.Username,
		Email:                 req.Email,
		FullName:              req.FullName,
		PasswordHash:          string(hash),
		Role:                  "user",
		IsVerified:            false,
		VerificationCode:      code,
		VerificationExpiresAt: &expiresAt,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	if err := s.store.SetVerificationCode(ctx, user.Username, code, expiresAt); err != nil {
		return nil, fmt.Errorf("store verification code: %w", err)
	}

	return &RegisterResponse{User: user, VerificationCode: code}, nil
}

// Login authenticates a user by username and password. Unverified
// accounts authenticate but are reported via ErrNotVerified so the
// caller can prompt for the code.
func (s *Service) Login(ctx context.Context, username, password string) (store.User, error) {
	if username == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if !user.IsVerified {
		return user, ErrNotVerified
	}
	return user, nil
}

// VerifyCode checks the pending code for an account and marks it
// verified on success.
func (s *Service) VerifyCode(ctx context.Context, username, code string) error {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return ErrCodeInvalid
	}
	if user.IsVerified {
		return nil
	}
	if user.VerificationCode == "" || user.VerificationCode != strings.TrimSpace(code) {
		return ErrCodeInvalid
	}
	if user.VerificationExpiresAt == nil || time.Now().After(*user.VerificationExpiresAt) {
		return ErrCodeExpired
	}
	if err := s.store.MarkUserVerified(ctx, username); err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	return nil
}

// ResendCode issues a fresh verification code for an unverified account.
func (s *Service) ResendCode(ctx context.Context, username string) (store.User, string, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return store.User{}, "", ErrInvalidCredentials
	}
	if user.IsVerified {
		return store.User{}, "", errors.New("account already verified")
	}
	code, err := generateCode()
	if err != nil {
		return store.User{}, "", fmt.Errorf("generate verification code: %w", err)
	}
	expiresAt := time.Now().Add(codeTTL)
	if err := s.store.SetVerificationCode(ctx, username, code, expiresAt); err != nil {
		return store.User{}, "", fmt.Errorf("store verification code: %w", err)
	}
	return user, code, nil
}

// generateCode returns a six digit numeric code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

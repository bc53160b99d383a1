package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/eventbook/project/internal/platform/auth"
)

var (
	ErrInvalidName        = errors.New("name is required")
	ErrInvalidEmail       = errors.New("a valid email is required")
	ErrInvalidPassword    = errors.New("password must be at least 8 characters")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
)

// AuthResponse is the {token, user} envelope both auth endpoints return.
type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type Service struct {
	Repo      Repository
	AuthToken auth.Manager
	NewID     func() string
	Now       func() time.Time
}

func NewService(repo Repository, tokenManager auth.Manager) *Service {
	return &Service{
		Repo:      repo,
		AuthToken: tokenManager,
		NewID:     nuid.Next,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateSignup(name, email, password string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidName
	}
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") || strings.ContainsAny(email, " \t") {
		return ErrInvalidEmail
	}
	if len(strings.TrimSpace(password)) < 8 {
		return ErrInvalidPassword
	}
	return nil
}

// Signup creates an account and immediately issues a token, so the caller
// lands logged in. photoPath is the stored location of an optional profile
// photo; empty means none was uploaded.
func (s *Service) Signup(ctx context.Context, name, email, password, photoPath string) (AuthResponse, error) {
	if err := validateSignup(name, email, password); err != nil {
		return AuthResponse{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return AuthResponse{}, err
	}

	u := User{
		ID:           s.NewID(),
		Name:         strings.TrimSpace(name),
		Email:        normalizeEmail(email),
		PhotoPath:    photoPath,
		PasswordHash: string(hash),
	}
	if err := s.Repo.CreateUser(ctx, u); err != nil {
		return AuthResponse{}, err
	}
	return s.issueToken(u)
}

func (s *Service) Login(ctx context.Context, email, password string) (AuthResponse, error) {
	normalized := normalizeEmail(email)
	if normalized == "" || strings.TrimSpace(password) == "" {
		return AuthResponse{}, ErrInvalidCredentials
	}

	u, err := s.Repo.FindUserByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthResponse{}, ErrInvalidCredentials
		}
		return AuthResponse{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return AuthResponse{}, ErrInvalidCredentials
	}
	return s.issueToken(u)
}

func (s *Service) issueToken(user User) (AuthResponse, error) {
	token, err := s.AuthToken.Sign(user.ID, user.Email)
	if err != nil {
		return AuthResponse{}, err
	}
	user.PasswordHash = ""
	return AuthResponse{Token: token, User: user}, nil
}

// NewTokenManager builds the signer for the opaque session token. The token
// is long-lived: its presence in client storage is the "is logged in" flag,
// and there is no refresh flow.
func NewTokenManager(secret string) auth.Manager {
	return auth.NewManager(secret, 30*24*time.Hour)
}

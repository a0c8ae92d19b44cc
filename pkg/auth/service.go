package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gatehouse-io/gatehouse/pkg/rbac"
)

// Sentinel errors for the credential service; handlers map them to HTTP statuses.
var (
	// ErrEmailTaken is returned by Register when the email already exists.
	ErrEmailTaken = errors.New("user already exists with this email")
	// ErrInvalidCredentials is returned by Login for unknown email, wrong
	// password, and inactive user alike; the cases must stay indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Store is the persistence surface the credential service needs.
type Store interface {
	CreateUser(ctx context.Context, user *rbac.User) error
	GetUserByEmail(ctx context.Context, email string) (*rbac.User, error)
	CreateSession(ctx context.Context, session *rbac.Session) error
	DeleteSessionsByToken(ctx context.Context, token string) error
}

// Service implements register, login, and logout over a persistence store, a
// password hasher, and a token provider.
type Service struct {
	store  Store
	hasher *Hasher
	tokens *TokenProvider
}

// NewService returns a Service with the given dependencies.
func NewService(store Store, hasher *Hasher, tokens *TokenProvider) *Service {
	return &Service{store: store, hasher: hasher, tokens: tokens}
}

// RegisterParams carries the registration input. RoleID is optional.
type RegisterParams struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	RoleID    *string
}

// Register creates a user storing only the bcrypt hash of the password.
// Returns ErrEmailTaken when the email is already registered.
func (s *Service) Register(ctx context.Context, params RegisterParams) (*rbac.User, error) {
	existing, err := s.store.GetUserByEmail(ctx, params.Email)
	if err != nil && !errors.Is(err, rbac.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	hash, err := s.hasher.Hash(params.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &rbac.User{
		Email:        params.Email,
		PasswordHash: hash,
		FirstName:    params.FirstName,
		LastName:     params.LastName,
		Active:       true,
		RoleID:       params.RoleID,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, rbac.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return user, nil
}

// LoginResult holds the issued token and the authenticated user with its role
// and permission closure.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      *rbac.User
}

// Login authenticates with email/password, issues a signed token, and persists
// a session row recording the token with its own authoritative expiry. Every
// failure is ErrInvalidCredentials so the response cannot leak whether the
// email or the password was wrong.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, rbac.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if !user.Active {
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	session := &rbac.Session{
		UserID:    user.ID,
		Token:     token,
		ExpiresAt: expiresAt,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	return &LoginResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// Logout deletes the session for the exact token string. Idempotent: a token
// with no session deletes zero rows and succeeds.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.store.DeleteSessionsByToken(ctx, token)
}

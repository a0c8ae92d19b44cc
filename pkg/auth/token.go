package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned when a token is malformed, has a bad signature,
// or has expired.
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims holds the JWT payload: the user id and email plus the registered
// expiry claim. The jti makes every issued token distinct even when two logins
// for the same user land in the same second.
type Claims struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// TokenProvider issues and verifies HS256 tokens signed with a process-wide
// secret configured at startup.
type TokenProvider struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenProvider returns a TokenProvider signing with secret; issued tokens
// expire after ttl.
func NewTokenProvider(secret []byte, ttl time.Duration) *TokenProvider {
	return &TokenProvider{secret: secret, ttl: ttl}
}

// TTL returns the configured token lifetime.
func (p *TokenProvider) TTL() time.Duration {
	return p.ttl
}

// Issue signs a token embedding the user id and email. Returns the token and
// its expiry time.
func (p *TokenProvider) Issue(userID, email string) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(p.ttl)
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Verify parses and validates a token, returning its claims. Any failure —
// malformed input, wrong signature, expired — is ErrInvalidToken; callers must
// not distinguish the cases to the client.
func (p *TokenProvider) Verify(token string) (*Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return p.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

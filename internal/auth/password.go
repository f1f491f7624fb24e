package auth

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultBcryptCost is the default bcrypt cost factor
	DefaultBcryptCost = 12

	// MaxPasswordLength bounds bcrypt input
	MaxPasswordLength = 72
)

// HashPassword hashes a password using bcrypt
func HashPassword(password string, cost int) (string, error) {
	if len(password) > MaxPasswordLength {
		return "", fmt.Errorf("password too long")
	}
	if cost < bcrypt.MinCost {
		cost = DefaultBcryptCost
	}

	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(bytes), nil
}

// VerifyPassword verifies a password against a hash
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Authenticator checks operator credentials and issues tokens
type Authenticator struct {
	username     string
	passwordHash string
	jwt          *JWTManager
}

// NewAuthenticator creates an authenticator for the configured operator
func NewAuthenticator(cfg Config) *Authenticator {
	return &Authenticator{
		username:     cfg.Username,
		passwordHash: cfg.PasswordHash,
		jwt:          NewJWTManager(cfg.JWTSecret, cfg.TokenTTL),
	}
}

// Login returns a token when username and password match
func (a *Authenticator) Login(req LoginRequest) (*TokenResponse, error) {
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(a.username)) == 1
	// always run bcrypt so a wrong username costs the same
	passOK := VerifyPassword(req.Password, a.passwordHash)
	if !userOK || !passOK || a.passwordHash == "" {
		return nil, ErrInvalidCredentials
	}
	return a.jwt.GenerateAccessToken(OperatorClaims{Username: a.username, Role: RoleOperator})
}

// JWT returns the token manager
func (a *Authenticator) JWT() *JWTManager {
	return a.jwt
}

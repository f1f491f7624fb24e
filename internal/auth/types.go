package auth

import "time"

// Config configures operator authentication for the control API
type Config struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// JWTSecret signs access tokens
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`
	// TokenTTL is the access token lifetime
	TokenTTL time.Duration `json:"token_ttl" yaml:"token_ttl"`
	Username string        `json:"username" yaml:"username"`
	// PasswordHash is the operator's bcrypt hash
	PasswordHash string `json:"password_hash" yaml:"password_hash"`
}

// OperatorClaims identifies the operator behind a request
type OperatorClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// RoleOperator may start, stop and reset the bot
const RoleOperator = "operator"

// TokenResponse is returned by a successful login
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"` // seconds
	TokenType   string `json:"token_type"` // always "Bearer"
}

// LoginRequest is the login body
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthError represents an authentication error
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

var (
	ErrInvalidCredentials = AuthError{Code: "INVALID_CREDENTIALS", Message: "invalid username or password"}
	ErrInvalidToken       = AuthError{Code: "INVALID_TOKEN", Message: "invalid or expired token"}
	ErrTokenExpired       = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrUnauthorized       = AuthError{Code: "UNAUTHORIZED", Message: "unauthorized access"}
)

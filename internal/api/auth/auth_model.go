package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Typed failures surfaced by the credential service. Handlers translate these
// into transport status codes; nothing below distinguishes sub-conditions
// beyond what the caller is allowed to learn.
var (
	ErrDuplicateEmail        = errors.New("email already registered")
	ErrInvalidCredentials    = errors.New("invalid user credentials")
	ErrUserNotFound          = errors.New("user with the entered email does not exist")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired reset password token")
)

// DuplicateKeyError is returned by the store when an insert violates a unique
// constraint. The store extracts field and value so callers never parse
// driver-specific error text.
type DuplicateKeyError struct {
	Field string
	Value string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key: %s=%s already exists", e.Field, e.Value)
}

// User is the sole persistent entity. PasswordHash and the reset-token pair
// never leave the store boundary in API responses.
type User struct {
	ID                          uuid.UUID  `json:"id"`
	Name                        string     `json:"name"`
	Email                       string     `json:"email"`
	PasswordHash                string     `json:"-"`
	ResetPasswordToken          *string    `json:"-"`
	ResetPasswordTokenExpiresAt *time.Time `json:"-"`
	PasswordResetAt             *time.Time `json:"password_reset_at,omitempty"`
	CreatedAt                   time.Time  `json:"created_at"`
	UpdatedAt                   time.Time  `json:"updated_at"`
	DeletedAt                   *time.Time `json:"-"`
}

// SignupRequest represents the expected JSON body for account creation.
type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest represents the expected JSON body for user login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the session token alongside the credential-stripped user.
type LoginResponse struct {
	User        *User  `json:"user"`
	AccessToken string `json:"access_token"`
}

// ResetPasswordRequest represents the expected JSON body for reset initiation.
type ResetPasswordRequest struct {
	Email string `json:"email"`
}

// ResetPasswordResponse returns the raw token; out-of-band delivery is the
// caller's concern.
type ResetPasswordResponse struct {
	ResetPasswordToken string `json:"reset_password_token"`
}

// VerifyResetPasswordRequest represents the expected JSON body for reset
// completion. The token itself travels in the reset-token query parameter.
type VerifyResetPasswordRequest struct {
	NewPassword string `json:"newPassword"`
}

// Response is a generic envelope for simple success/error messages.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Claims are the JWT claims carried by a session token.
type Claims struct {
	jwt.RegisteredClaims
}

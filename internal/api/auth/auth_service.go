package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loftwire/accounts-api/app/observability/metrics"
)

var _ AuthService = (*AuthServiceImpl)(nil)

// AuthService is the credential lifecycle: signup, login, and the two-phase
// password-reset flow. Callers are responsible for input shape and
// normalization (trimmed name, lower-cased email) before invoking it.
type AuthService interface {
	SignUp(ctx context.Context, name, email, password string) (*User, error)
	Login(ctx context.Context, email, password string) (*User, string, error)
	ResetPassword(ctx context.Context, email string) (string, error)
	VerifyResetPasswordToken(ctx context.Context, token, newPassword string) error
	GetUserByID(ctx context.Context, userID uuid.UUID) (*User, error)
	DeleteAccount(ctx context.Context, userID uuid.UUID) error
}

// AuthServiceImpl orchestrates the hasher, token generator, session issuer
// and credential store. It holds no mutable state of its own; every request
// is independent.
type AuthServiceImpl struct {
	logger        *slog.Logger
	repo          AuthRepo
	hasher        PasswordHasher
	tokens        TokenGenerator
	sessions      SessionIssuer
	resetTokenTTL time.Duration
}

func NewAuthService(repo AuthRepo, hasher PasswordHasher, tokens TokenGenerator, sessions SessionIssuer, resetTokenTTL time.Duration, logger *slog.Logger) *AuthServiceImpl {
	return &AuthServiceImpl{
		logger:        logger,
		repo:          repo,
		hasher:        hasher,
		tokens:        tokens,
		sessions:      sessions,
		resetTokenTTL: resetTokenTTL,
	}
}

// dummyDigest is a well-formed bcrypt digest compared against on the
// unknown-email login path so both failure cases cost a hash verification.
const dummyDigest = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// SignUp hashes the password, persists a new user and returns it with
// credential fields stripped from serialization.
func (s *AuthServiceImpl) SignUp(ctx context.Context, name, email, password string) (*User, error) {
	ctx, span := otel.Tracer("AuthService").Start(ctx, "SignUp", trace.WithAttributes(
		attribute.String("user.email", email),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "SignUp"), slog.String("email", email))

	hash, err := s.hashPassword(ctx, password)
	if err != nil {
		l.ErrorContext(ctx, "Failed to hash password", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Hashing failed")
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	user, err := s.repo.Insert(ctx, &User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
	})
	if err != nil {
		var dup *DuplicateKeyError
		if errors.As(err, &dup) {
			l.WarnContext(ctx, "Signup rejected, email already registered")
			span.SetStatus(codes.Error, "Duplicate email")
			return nil, ErrDuplicateEmail
		}
		l.ErrorContext(ctx, "Failed to persist new user", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Insert failed")
		return nil, err
	}

	metrics.Get().SignupsTotal.Add(ctx, 1)
	l.InfoContext(ctx, "User signed up", slog.String("userID", user.ID.String()))
	span.SetStatus(codes.Ok, "User created")
	return user, nil
}

// Login verifies the credentials and issues a session token. An unknown email
// and a wrong password are indistinguishable to the caller, and both paths pay
// for a hash verification.
func (s *AuthServiceImpl) Login(ctx context.Context, email, password string) (*User, string, error) {
	ctx, span := otel.Tracer("AuthService").Start(ctx, "Login")
	defer span.End()

	l := s.logger.With(slog.String("method", "Login"), slog.String("email", email))

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.hasher.Verify(password, dummyDigest)
			metrics.Get().LoginFailuresTotal.Add(ctx, 1)
			l.WarnContext(ctx, "Login rejected")
			span.SetStatus(codes.Error, "Invalid credentials")
			return nil, "", ErrInvalidCredentials
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "Store lookup failed")
		return nil, "", err
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		metrics.Get().LoginFailuresTotal.Add(ctx, 1)
		l.WarnContext(ctx, "Login rejected")
		span.SetStatus(codes.Error, "Invalid credentials")
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.sessions.Issue(user.ID.String())
	if err != nil {
		l.ErrorContext(ctx, "Failed to issue session token", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Session issue failed")
		return nil, "", fmt.Errorf("error issuing session token: %w", err)
	}

	metrics.Get().LoginsTotal.Add(ctx, 1)
	l.InfoContext(ctx, "User logged in", slog.String("userID", user.ID.String()))
	span.SetStatus(codes.Ok, "Login successful")
	return user, token, nil
}

// ResetPassword starts the reset flow: a fresh token replaces any pending one
// and the raw token is handed back for out-of-band delivery.
func (s *AuthServiceImpl) ResetPassword(ctx context.Context, email string) (string, error) {
	ctx, span := otel.Tracer("AuthService").Start(ctx, "ResetPassword")
	defer span.End()

	l := s.logger.With(slog.String("method", "ResetPassword"), slog.String("email", email))

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			l.WarnContext(ctx, "Reset requested for unknown email")
			span.SetStatus(codes.Error, "User not found")
			return "", ErrUserNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "Store lookup failed")
		return "", err
	}

	token, err := s.tokens.Generate()
	if err != nil {
		l.ErrorContext(ctx, "Failed to generate reset token", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Token generation failed")
		return "", fmt.Errorf("error generating reset token: %w", err)
	}

	expiresAt := time.Now().Add(s.resetTokenTTL)
	if err := s.repo.SetResetToken(ctx, user.ID, token, expiresAt); err != nil {
		l.ErrorContext(ctx, "Failed to store reset token", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Store update failed")
		return "", err
	}

	metrics.Get().ResetTokensIssued.Add(ctx, 1)
	l.InfoContext(ctx, "Reset token issued", slog.String("userID", user.ID.String()), slog.Time("expiresAt", expiresAt))
	span.SetStatus(codes.Ok, "Reset token issued")
	return token, nil
}

// VerifyResetPasswordToken completes the reset flow. The matching token is
// consumed in the same store operation that installs the new hash, so a token
// can never validate twice.
func (s *AuthServiceImpl) VerifyResetPasswordToken(ctx context.Context, token, newPassword string) error {
	ctx, span := otel.Tracer("AuthService").Start(ctx, "VerifyResetPasswordToken")
	defer span.End()

	l := s.logger.With(slog.String("method", "VerifyResetPasswordToken"))

	hash, err := s.hashPassword(ctx, newPassword)
	if err != nil {
		l.ErrorContext(ctx, "Failed to hash new password", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Hashing failed")
		return fmt.Errorf("error hashing new password: %w", err)
	}

	user, err := s.repo.ConsumeResetToken(ctx, token, hash, time.Now())
	if err != nil {
		if errors.Is(err, ErrInvalidOrExpiredToken) {
			metrics.Get().ResetTokensRejected.Add(ctx, 1)
			l.WarnContext(ctx, "Reset token rejected")
			span.SetStatus(codes.Error, "Invalid or expired token")
			return ErrInvalidOrExpiredToken
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "Store update failed")
		return err
	}

	metrics.Get().ResetTokensConsumed.Add(ctx, 1)
	l.InfoContext(ctx, "Password reset completed", slog.String("userID", user.ID.String()))
	span.SetStatus(codes.Ok, "Password reset")
	return nil
}

// GetUserByID fetches the credential-stripped profile for an authenticated subject.
func (s *AuthServiceImpl) GetUserByID(ctx context.Context, userID uuid.UUID) (*User, error) {
	return s.repo.GetUserByID(ctx, userID)
}

// DeleteAccount soft-deletes the user record.
func (s *AuthServiceImpl) DeleteAccount(ctx context.Context, userID uuid.UUID) error {
	l := s.logger.With(slog.String("method", "DeleteAccount"), slog.String("userID", userID.String()))
	if err := s.repo.SoftDeleteUser(ctx, userID); err != nil {
		l.ErrorContext(ctx, "Failed to delete account", slog.Any("error", err))
		return err
	}
	l.InfoContext(ctx, "Account deleted")
	return nil
}

func (s *AuthServiceImpl) hashPassword(ctx context.Context, password string) (string, error) {
	start := time.Now()
	hash, err := s.hasher.Hash(password)
	metrics.Get().HashDurationSeconds.Record(ctx, time.Since(start).Seconds())
	return hash, err
}

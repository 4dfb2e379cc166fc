package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/loftwire/accounts-api/app/observability/metrics"
)

var _ AuthRepo = (*PostgresAuthRepo)(nil)

// AuthRepo is the durable credential store. It enforces email uniqueness at
// the storage layer and owns every piece of driver-specific error knowledge.
type AuthRepo interface {
	// Insert persists a new user. A unique-constraint violation surfaces as a
	// *DuplicateKeyError; the caller never sees driver error text.
	Insert(ctx context.Context, user *User) (*User, error)

	// GetUserByEmail returns the non-deleted user for an already-normalized
	// email, or ErrUserNotFound.
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// GetUserByID returns the non-deleted user for the given id, or ErrUserNotFound.
	GetUserByID(ctx context.Context, userID uuid.UUID) (*User, error)

	// SetResetToken stores a pending reset token and its expiry, replacing any
	// prior pending token.
	SetResetToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error

	// ConsumeResetToken atomically replaces the password hash and clears the
	// token fields for the user whose unexpired token matches. Exactly one
	// concurrent caller can win; everyone else gets ErrInvalidOrExpiredToken.
	ConsumeResetToken(ctx context.Context, token, newPasswordHash string, now time.Time) (*User, error)

	// SoftDeleteUser marks the record deleted; subsequent lookups skip it.
	SoftDeleteUser(ctx context.Context, userID uuid.UUID) error
}

// DBTX is the subset of pgxpool.Pool the repository uses. pgxmock satisfies
// it in tests.
type DBTX interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresAuthRepo struct {
	logger *slog.Logger
	db     DBTX
}

func NewPostgresAuthRepo(db DBTX, logger *slog.Logger) *PostgresAuthRepo {
	return &PostgresAuthRepo{
		logger: logger,
		db:     db,
	}
}

const userColumns = `id, name, email, password_hash, reset_password_token,
       reset_password_token_expires_at, password_reset_at, created_at, updated_at, deleted_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&u.ResetPasswordToken,
		&u.ResetPasswordTokenExpiresAt,
		&u.PasswordResetAt,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Matches the field and value out of a postgres unique-violation detail line,
// e.g. `Key (lower(email))=(ana@x.com) already exists.`
var duplicateKeyDetail = regexp.MustCompile(`Key \((.*?)\)=\((.*?)\)`)

func translateDuplicateKey(pgErr *pgconn.PgError) *DuplicateKeyError {
	dup := &DuplicateKeyError{Field: "unknown", Value: "unknown"}
	if m := duplicateKeyDetail.FindStringSubmatch(pgErr.Detail); m != nil {
		dup.Field = m[1]
		dup.Value = m[2]
	}
	// The unique index is on lower(email); report the logical field.
	if strings.Contains(dup.Field, "email") {
		dup.Field = "email"
	}
	return dup
}

func (r *PostgresAuthRepo) Insert(ctx context.Context, user *User) (*User, error) {
	ctx, span := otel.Tracer("AuthRepo").Start(ctx, "Insert", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "Insert"), slog.String("email", user.Email))

	query := `
        INSERT INTO users (name, email, password_hash)
        VALUES ($1, $2, $3)
        RETURNING ` + userColumns

	created, err := scanUser(r.db.QueryRow(ctx, query, user.Name, user.Email, user.PasswordHash))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			l.WarnContext(ctx, "Attempted to insert user with duplicate email")
			span.SetStatus(codes.Error, "Duplicate email")
			return nil, fmt.Errorf("insert user: %w", translateDuplicateKey(pgErr))
		}
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		l.ErrorContext(ctx, "Failed to insert user", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB INSERT failed")
		return nil, fmt.Errorf("database error inserting user: %w", err)
	}

	span.SetStatus(codes.Ok, "User inserted")
	return created, nil
}

func (r *PostgresAuthRepo) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	ctx, span := otel.Tracer("AuthRepo").Start(ctx, "GetUserByEmail", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1 AND deleted_at IS NULL`

	user, err := scanUser(r.db.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "User not found")
			return nil, ErrUserNotFound
		}
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		r.logger.ErrorContext(ctx, "Failed to query user by email", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB SELECT failed")
		return nil, fmt.Errorf("database error fetching user by email: %w", err)
	}

	span.SetStatus(codes.Ok, "User fetched")
	return user, nil
}

func (r *PostgresAuthRepo) GetUserByID(ctx context.Context, userID uuid.UUID) (*User, error) {
	ctx, span := otel.Tracer("AuthRepo").Start(ctx, "GetUserByID", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "users"),
		attribute.String("db.user.id", userID.String()),
	))
	defer span.End()

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND deleted_at IS NULL`

	user, err := scanUser(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "User not found")
			return nil, ErrUserNotFound
		}
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		r.logger.ErrorContext(ctx, "Failed to query user by id", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB SELECT failed")
		return nil, fmt.Errorf("database error fetching user by id: %w", err)
	}

	span.SetStatus(codes.Ok, "User fetched")
	return user, nil
}

func (r *PostgresAuthRepo) SetResetToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	ctx, span := otel.Tracer("AuthRepo").Start(ctx, "SetResetToken", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "users"),
		attribute.String("db.user.id", userID.String()),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "SetResetToken"), slog.String("userID", userID.String()))

	// Overwrites any pending token; the prior one becomes immediately invalid.
	query := `
        UPDATE users
        SET reset_password_token = $2,
            reset_password_token_expires_at = $3,
            updated_at = now()
        WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.db.Exec(ctx, query, userID, token, expiresAt)
	if err != nil {
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		l.ErrorContext(ctx, "Failed to store reset token", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return fmt.Errorf("database error storing reset token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "User not found")
		return ErrUserNotFound
	}

	span.SetStatus(codes.Ok, "Reset token stored")
	return nil
}

func (r *PostgresAuthRepo) ConsumeResetToken(ctx context.Context, token, newPasswordHash string, now time.Time) (*User, error) {
	ctx, span := otel.Tracer("AuthRepo").Start(ctx, "ConsumeResetToken", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "ConsumeResetToken"))

	// Lookup and invalidation happen in one conditional update so that two
	// concurrent calls with the same token cannot both pass the expiry check.
	query := `
        UPDATE users
        SET password_hash = $2,
            password_reset_at = $3,
            reset_password_token = NULL,
            reset_password_token_expires_at = NULL,
            updated_at = $3
        WHERE reset_password_token = $1
          AND reset_password_token_expires_at > $3
          AND deleted_at IS NULL
        RETURNING ` + userColumns

	user, err := scanUser(r.db.QueryRow(ctx, query, token, newPasswordHash, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Wrong, consumed, or expired token: indistinguishable on purpose.
			span.SetStatus(codes.Error, "No matching token")
			return nil, ErrInvalidOrExpiredToken
		}
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		l.ErrorContext(ctx, "Failed to consume reset token", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return nil, fmt.Errorf("database error consuming reset token: %w", err)
	}

	span.SetStatus(codes.Ok, "Reset token consumed")
	return user, nil
}

func (r *PostgresAuthRepo) SoftDeleteUser(ctx context.Context, userID uuid.UUID) error {
	ctx, span := otel.Tracer("AuthRepo").Start(ctx, "SoftDeleteUser", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "users"),
		attribute.String("db.user.id", userID.String()),
	))
	defer span.End()

	query := `
        UPDATE users
        SET deleted_at = now(), updated_at = now()
        WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		metrics.Get().DbQueryErrorsTotal.Add(ctx, 1)
		r.logger.ErrorContext(ctx, "Failed to soft-delete user", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return fmt.Errorf("database error deleting user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "User not found")
		return ErrUserNotFound
	}

	span.SetStatus(codes.Ok, "User soft-deleted")
	return nil
}

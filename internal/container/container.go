package container

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	database "github.com/loftwire/accounts-api/app/db"
	"github.com/loftwire/accounts-api/config"
	"github.com/loftwire/accounts-api/internal/api/auth"
)

// Container holds all application dependencies.
type Container struct {
	Config      *config.Config
	Logger      *slog.Logger
	Pool        *pgxpool.Pool
	AuthHandler *auth.HandlerImpl
}

// NewContainer initializes the dependency graph with explicit construction:
// store, hasher, token generator and session issuer are built here and handed
// to the service.
func NewContainer(cfg *config.Config, logger *slog.Logger) (*Container, error) {
	dbConfig, err := database.NewDatabaseConfig(cfg, logger)
	if err != nil {
		logger.Error("Failed to generate database config", slog.Any("error", err))
		return nil, err
	}

	pool, err := database.Init(dbConfig.ConnectionURL, logger)
	if err != nil {
		logger.Error("Failed to initialize database pool", slog.Any("error", err))
		return nil, err
	}

	authRepo := auth.NewPostgresAuthRepo(pool, logger)
	hasher := auth.NewBcryptHasher(cfg.Auth.BcryptCost)
	tokens := auth.NewHexTokenGenerator()
	sessions := auth.NewJWTSessionIssuer(cfg.JWT)

	authService := auth.NewAuthService(authRepo, hasher, tokens, sessions, cfg.Auth.ResetTokenTTL, logger)
	authHandler := auth.NewAuthHandlerImpl(authService, logger)

	return &Container{
		Config:      cfg,
		Logger:      logger,
		Pool:        pool,
		AuthHandler: authHandler,
	}, nil
}

// Close releases held resources.
func (c *Container) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
}

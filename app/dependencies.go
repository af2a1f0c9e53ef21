package app

import (
	"context"
	"fmt"

	"github.com/plantinhas/authgate/config"
	"github.com/plantinhas/authgate/handlers"
	"github.com/plantinhas/authgate/identity"
	"github.com/plantinhas/authgate/jwks"
	"github.com/plantinhas/authgate/middleware"
	"github.com/plantinhas/authgate/repositories"
	"github.com/plantinhas/authgate/repositories/postgres"
	"github.com/plantinhas/authgate/services"
	"github.com/plantinhas/authgate/token"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Users repositories.UserRepository

	// Auth
	KeyCache      *jwks.Cache
	Verifier      *token.Verifier
	Authenticator *services.Authenticator

	// HTTP
	AuthMiddleware *middleware.AuthMiddleware
	AuthHandler    *handlers.AuthHandler
	HealthHandler  *handlers.HealthHandler
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps, err := NewDependenciesWithFactory(ctx, cfg, factory, logger)
	if err != nil {
		_ = factory.Close()
		return nil, err
	}
	return deps, nil
}

// NewDependenciesWithFactory wires the application on top of already opened databases
func NewDependenciesWithFactory(ctx context.Context, cfg *config.Config, factory *postgres.RepositoryFactory, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		RepoFactory: factory,
	}

	if err := deps.initDatabase(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRepositories()
	deps.initAuth(cfg)
	deps.initHandlers()

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase checks every pool and creates the authentication schema
func (d *Dependencies) initDatabase(ctx context.Context) error {
	for _, db := range d.RepoFactory.Databases() {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s database ping failed: %w", db.Name(), err)
		}
	}

	if err := d.RepoFactory.InitAuthSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize auth schema: %w", err)
	}

	d.Logger.Info("database connection established",
		zap.String("auth", d.Config.AuthDatabase.LogString()),
		zap.Bool("app_database", d.RepoFactory.AppDB() != nil))

	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()
	d.Users = repos.Users
	d.Logger.Info("repositories initialized")
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	source := jwks.NewHTTPSource(cfg.Auth.JWKSTimeout, d.Logger)
	d.KeyCache = jwks.NewCache(source, d.Logger)

	d.Verifier = token.NewVerifier(token.Config{
		Issuer: cfg.Auth.BaseURL,
		Leeway: cfg.Auth.Leeway,
	}, d.KeyCache, d.Logger)

	var login services.CredentialExchanger
	if cfg.Auth.TokenURL != "" {
		login = services.NewLoginClient(cfg.Auth.TokenURL, cfg.Auth.LoginTimeout, d.Logger)
	} else {
		d.Logger.Warn("AUTH_SERVICE_TOKEN_URL not set, credential login disabled")
	}

	if cfg.Auth.BaseURL == "" {
		d.Logger.Warn("AUTH_BASE_URL not set, bearer tokens will be rejected as not configured")
	}

	resolver := identity.NewResolver(cfg.Auth.UserIDClaim, d.Users, d.Logger)
	d.Authenticator = services.NewAuthenticator(d.Verifier, login, resolver, d.Logger)
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Authenticator, d.Logger)

	d.Logger.Info("auth initialized",
		zap.String("issuer", cfg.Auth.BaseURL),
		zap.String("user_id_claim", resolver.PrimaryClaim()),
		zap.Bool("credential_login", login != nil))
}

func (d *Dependencies) initHandlers() {
	dbs := d.RepoFactory.Databases()
	checkers := make([]handlers.DatabaseChecker, 0, len(dbs))
	for _, db := range dbs {
		checkers = append(checkers, db)
	}

	d.AuthHandler = handlers.NewAuthHandler(d.Authenticator, d.Logger)
	d.HealthHandler = handlers.NewHealthHandler(checkers, d.KeyCache, d.Logger)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	_ = d.Logger.Sync()

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}

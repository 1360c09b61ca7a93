package app

import (
	"context"
	"fmt"
	"time"

	"github.com/upb/edge-authorizer/authz"
	"github.com/upb/edge-authorizer/config"
	"github.com/upb/edge-authorizer/internal/observability"
	"github.com/upb/edge-authorizer/middleware"
	"github.com/upb/edge-authorizer/repositories"
	"github.com/upb/edge-authorizer/repositories/memory"
	"github.com/upb/edge-authorizer/repositories/postgres"
	"github.com/upb/edge-authorizer/services/audit"
	"github.com/upb/edge-authorizer/tokenauth"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Decision audit
	Decisions repositories.DecisionRepository
	Audit     *audit.AuditService
	Recorder  authz.DecisionRecorder

	// Token validation
	Validator      *tokenauth.Validator
	Authenticator  *tokenauth.Authenticator
	AuthMiddleware *middleware.AuthMiddleware

	Metrics *observability.InMemoryMetrics
}

// Option customizes NewDependencies
type Option func(*options)

type options struct {
	syncAudit bool
	fetcher   tokenauth.KeySetFetcher
}

// WithSyncAudit writes decisions inline instead of through the async
// audit workers. Lambda needs this since the runtime freezes between invocations.
func WithSyncAudit() Option {
	return func(o *options) {
		o.syncAudit = true
	}
}

// WithKeySetFetcher replaces the HTTP key set fetcher
func WithKeySetFetcher(f tokenauth.KeySetFetcher) Option {
	return func(o *options) {
		o.fetcher = f
	}
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	deps := &Dependencies{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewInMemoryMetrics(),
	}

	if err := deps.initDecisionStore(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize decision store: %w", err)
	}

	if err := deps.initAudit(cfg, o.syncAudit); err != nil {
		deps.closeDB()
		return nil, fmt.Errorf("failed to initialize audit: %w", err)
	}

	deps.initAuth(cfg, o.fetcher)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDecisionStore opens PostgreSQL when configured, otherwise keeps
// decisions in memory
func (d *Dependencies) initDecisionStore(ctx context.Context, cfg *config.Config) error {
	if !cfg.Database.Enabled() {
		d.Decisions = memory.NewDecisionRepository(cfg.Audit.MemoryLimit, d.Logger.Named("decisions"))
		d.Logger.Info("no database configured, keeping decisions in memory",
			zap.Int("limit", cfg.Audit.MemoryLimit))
		return nil
	}

	db, err := postgres.NewDB(ctx, cfg.Database, d.Logger)
	if err != nil {
		return err
	}

	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return err
	}

	d.DB = db
	d.Decisions = postgres.NewDecisionRepository(db, d.Logger)
	return nil
}

func (d *Dependencies) initAudit(cfg *config.Config, syncAudit bool) error {
	var recorder authz.DecisionRecorder
	if syncAudit {
		recorder = audit.NewSyncRecorder(d.Decisions, d.Logger)
	} else {
		d.Audit = audit.NewAuditService(d.Decisions, d.Logger, audit.Config{
			BufferSize:  cfg.Audit.BufferSize,
			WorkerCount: cfg.Audit.WorkerCount,
		})
		if err := d.Audit.Start(); err != nil {
			return err
		}
		recorder = d.Audit
	}

	d.Recorder = &meteredRecorder{next: recorder, metrics: d.Metrics}
	return nil
}

func (d *Dependencies) initAuth(cfg *config.Config, fetcher tokenauth.KeySetFetcher) {
	validatorOpts := []tokenauth.Option{tokenauth.WithLogger(d.Logger.Named("tokenauth"))}
	if fetcher != nil {
		validatorOpts = append(validatorOpts, tokenauth.WithFetcher(fetcher))
	}

	d.Validator = tokenauth.NewValidator(tokenauth.Config{
		CacheSize:    cfg.Cache.Size,
		KeyTTL:       cfg.Cache.KeyTTL,
		MissTTL:      cfg.Cache.MissTTL,
		FetchTimeout: cfg.Auth.FetchTimeout,
		Leeway:       cfg.Auth.Leeway,
	}, validatorOpts...)

	d.Authenticator = tokenauth.NewAuthenticator(d.Validator, cfg.Auth.JWKSURL, cfg.Auth.Audience, cfg.Auth.Issuer, d.Metrics)
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Authenticator, d.Logger)

	d.Logger.Info("token validation configured",
		zap.String("issuer", cfg.Auth.Issuer),
		zap.String("audience", cfg.Auth.Audience),
		zap.String("jwks_url", cfg.Auth.JWKSURL),
		zap.Int("key_cache_size", cfg.Cache.Size),
		zap.Duration("key_ttl", cfg.Cache.KeyTTL))
}

// LambdaHandler builds the API Gateway authorizer handler on these dependencies
func (d *Dependencies) LambdaHandler() *authz.LambdaHandler {
	return authz.NewLambdaHandler(d.Authenticator, d.Recorder, d.Logger)
}

// meteredRecorder counts decisions before handing them to the audit recorder
type meteredRecorder struct {
	next    authz.DecisionRecorder
	metrics observability.Metrics
}

func (r *meteredRecorder) Record(ctx context.Context, decision authz.Decision, meta authz.Metadata) {
	r.metrics.RecordDecision(ctx, string(decision.Effect))
	r.next.Record(ctx, decision, meta)
}

func (d *Dependencies) closeDB() {
	if d.DB != nil {
		_ = d.DB.Close()
	}
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Drain queued decisions before the database goes away
	if d.Audit != nil {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Audit.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiisha-io/kiisha/internal/access"
	"github.com/kiisha-io/kiisha/internal/approval"
	"github.com/kiisha-io/kiisha/internal/auth"
	"github.com/kiisha-io/kiisha/internal/capability"
	"github.com/kiisha-io/kiisha/internal/channel"
	"github.com/kiisha-io/kiisha/internal/logger"
	"github.com/kiisha-io/kiisha/internal/notify"
	"github.com/kiisha-io/kiisha/internal/scheduler"
	"github.com/kiisha-io/kiisha/internal/server"
	"github.com/kiisha-io/kiisha/internal/store"
	memorystore "github.com/kiisha-io/kiisha/internal/store/memory"
	postgresstore "github.com/kiisha-io/kiisha/internal/store/postgres"
	"github.com/kiisha-io/kiisha/internal/telemetry"
	"github.com/kiisha-io/kiisha/internal/tenancy"
)

type ServerCmd struct {
	// Server configuration
	Listen    string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"KIISHA_LISTEN"`
	JWTSecret string `help:"secret key for HMAC verification of session tokens" env:"KIISHA_JWT_SECRET"`

	// Tenancy configuration
	LobbyOrg string `help:"org ID of the shared lobby workspace for users with no memberships" env:"KIISHA_LOBBY_ORG"`

	// Capability registry
	SeedCapabilities bool `help:"seed the built-in capability registry on startup" default:"true" env:"KIISHA_SEED_CAPABILITIES"`

	// Background maintenance intervals
	ApprovalSweepInterval time.Duration `help:"interval between approval expiry sweeps" default:"1m" env:"KIISHA_APPROVAL_SWEEP_INTERVAL"`
	CodeCleanupInterval   time.Duration `help:"interval between binding code cleanups" default:"5m" env:"KIISHA_CODE_CLEANUP_INTERVAL"`
	DailyResetInterval    time.Duration `help:"interval between daily usage counter resets" default:"24h" env:"KIISHA_DAILY_RESET_INTERVAL"`
	MonthlyResetInterval  time.Duration `help:"interval between monthly usage counter resets" default:"720h" env:"KIISHA_MONTHLY_RESET_INTERVAL"`
	ConversationMaxAge    time.Duration `help:"idle age after which channel conversation sessions are removed" default:"720h" env:"KIISHA_CONVERSATION_MAX_AGE"`

	// Development and operational modes
	Tracing bool `help:"enable tracing" default:"false" env:"KIISHA_TRACING"`

	// Store configuration
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"KIISHA_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"5"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"KIISHA_POSTGRES_AUTO_MIGRATE"`
}

func (s *PostgresStoreFlags) Validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

func (c *ServerCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx := context.Background()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if len(c.JWTSecret) < 32 {
		return errors.New("JWT secret must be at least 32 bytes (256 bits) for HMAC-SHA256")
	}

	var lobbyOrg uuid.UUID
	if c.LobbyOrg != "" {
		parsed, err := uuid.Parse(c.LobbyOrg)
		if err != nil {
			return fmt.Errorf("invalid lobby org ID: %w", err)
		}
		lobbyOrg = parsed
	}

	// Setup telemetry if enabled
	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "kiisha-server", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	// Create stores based on store type
	var (
		directoryStore  store.DirectoryStore
		capabilityStore store.CapabilityStore
		approvalStore   store.ApprovalStore
		bindingStore    store.BindingCodeStore
		channelStore    store.ChannelStore
		resourceStore   store.ResourceStore
	)

	switch c.StoreType {
	case "postgres":
		// Shared connection pool for all PostgreSQL stores
		poolCfg := &postgresstore.PoolConfig{
			ConnString:      c.PostgresStore.ConnString,
			MaxConns:        c.PostgresStore.MaxConns,
			MinConns:        c.PostgresStore.MinConns,
			MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
		}
		pool, err := postgresstore.NewPool(ctx, poolCfg)
		if err != nil {
			return fmt.Errorf("failed to create connection pool: %w", err)
		}
		defer pool.Close()

		if c.PostgresStore.AutoMigrate {
			if err := postgresstore.RunMigrations(ctx, pool); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("Database migrations completed")
		}

		directoryStore = postgresstore.NewDirectoryStore(pool)
		capabilityStore = postgresstore.NewCapabilityStore(pool)
		approvalStore = postgresstore.NewApprovalStore(pool)
		bindingStore = postgresstore.NewBindingCodeStore(pool)
		channelStore = postgresstore.NewChannelStore(pool)
		resourceStore = postgresstore.NewResourceStore(pool)

		log.Info().Msg("Using PostgreSQL stores with shared connection pool")

	default:
		directoryStore = memorystore.NewDirectoryStore()
		capabilityStore = memorystore.NewCapabilityStore()
		approvalStore = memorystore.NewApprovalStore()
		bindingStore = memorystore.NewBindingCodeStore()
		channelStore = memorystore.NewChannelStore()
		resourceStore = memorystore.NewResourceStore()

		log.Info().Msg("Using in-memory stores")
	}

	if c.SeedCapabilities {
		if err := capability.SeedRegistry(ctx, capabilityStore); err != nil {
			return fmt.Errorf("failed to seed capability registry: %w", err)
		}
		log.Info().Msg("Capability registry seeded")
	}

	// Engine components
	tenancyResolver := tenancy.NewResolver(directoryStore, lobbyOrg)
	accessVerifier := access.NewVerifier(resourceStore)
	evaluator := capability.NewEvaluator(capabilityStore, directoryStore, nil)
	approvalEngine := approval.NewEngine(approvalStore, capabilityStore, &notify.LogNotifier{}, nil)
	channelResolver := channel.NewResolver(channelStore, bindingStore, directoryStore, nil)
	jwtVerifier := auth.NewVerifier([]byte(c.JWTSecret))

	// Background maintenance
	sched := scheduler.New()
	tasks := []scheduler.Task{
		{
			Name:     "approval-expiry-sweep",
			Interval: c.ApprovalSweepInterval,
			Run: func(ctx context.Context) error {
				count, err := approvalEngine.ExpireOverdue(ctx)
				if err != nil {
					return err
				}
				if count > 0 {
					log.Info().Int("count", count).Msg("Expired overdue approval requests")
				}
				return nil
			},
		},
		{
			Name:     "binding-code-cleanup",
			Interval: c.CodeCleanupInterval,
			Run: func(ctx context.Context) error {
				count, err := channelResolver.CleanupExpiredCodes(ctx)
				if err != nil {
					return err
				}
				if count > 0 {
					log.Info().Int("count", count).Msg("Deleted expired binding codes")
				}
				return nil
			},
		},
		{
			Name:     "daily-usage-reset",
			Interval: c.DailyResetInterval,
			Run: func(ctx context.Context) error {
				count, err := capabilityStore.ResetDailyUsage(ctx)
				if err != nil {
					return err
				}
				log.Info().Int("count", count).Msg("Reset daily usage counters")
				return nil
			},
		},
		{
			Name:     "stale-conversation-cleanup",
			Interval: c.CodeCleanupInterval,
			Run: func(ctx context.Context) error {
				count, err := channelResolver.CleanupStaleConversations(ctx, c.ConversationMaxAge)
				if err != nil {
					return err
				}
				if count > 0 {
					log.Info().Int("count", count).Msg("Deleted stale conversation sessions")
				}
				return nil
			},
		},
		{
			Name:     "monthly-usage-reset",
			Interval: c.MonthlyResetInterval,
			Run: func(ctx context.Context) error {
				count, err := capabilityStore.ResetMonthlyUsage(ctx)
				if err != nil {
					return err
				}
				log.Info().Int("count", count).Msg("Reset monthly usage counters")
				return nil
			},
		},
	}
	for _, task := range tasks {
		if err := sched.Register(task); err != nil {
			return fmt.Errorf("failed to register task %s: %w", task.Name, err)
		}
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	srv := server.New(
		tenancyResolver,
		accessVerifier,
		evaluator,
		approvalEngine,
		channelResolver,
		directoryStore,
		jwtVerifier,
		log,
	)

	log.Info().Str("addr", c.Listen).Msg("Starting HTTP server")
	return configureHTTPServer(c.Listen, srv.Handler()).ListenAndServe()
}

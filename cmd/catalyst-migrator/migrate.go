package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"catalyst-migrator/pkg/auth"
	"catalyst-migrator/pkg/catalyst"
	"catalyst-migrator/pkg/config"
	"catalyst-migrator/pkg/database"
	"catalyst-migrator/pkg/metrics"
	"catalyst-migrator/pkg/migration"
	"catalyst-migrator/pkg/notify"
	"catalyst-migrator/pkg/schema"
	"catalyst-migrator/pkg/source"
	"catalyst-migrator/pkg/storage"
	"catalyst-migrator/pkg/utils"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// migrateFlags maps config keys to migrate's flag names.
var migrateFlags = map[string]string{
	"strategy":                   "strategy",
	"dry_run":                    "dry-run",
	"output":                     "output",
	"source_catalyst_url":        "source",
	"target_catalyst_url":        "target",
	"pointers":                   "pointer",
	"collections":                "collection",
	"entity_type":                "entity-type",
	"entity_types":               "only",
	"contents_directory":         "contents-dir",
	"migration_cutoff_timestamp": "cutoff",
	"concurrency":                "concurrency",
	"request_timeout":            "timeout",
	"redis_url":                  "redis-url",
	"nats_url":                   "nats-url",
	"metrics_addr":               "metrics-addr",
	"cache_memory_mb":            "cache-mb",
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Re-deploy entities to the target catalyst",
		Long: `Enumerates entities with the selected strategy and re-deploys each one to
the target catalyst with a new timestamp and signature.

Strategies:
  profiles    default1..default160 profiles from the source catalyst
  wearables   base-avatars collection plus the two base body shapes
  scenes      scenes from the content database older than the cutoff
  pointers    the --pointer list
  collection  the --collection urns (plus any --pointer)
  database    every active deployment of --entity-type

The signing key is read from MIGRATION_PRIVATE_KEY or the config file, never
from a flag. Without it the command only reports what would be deployed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := loadConfig(cmd, migrateFlags)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, cancel := signalContext(logger)
			defer cancel()

			summary, err := runMigration(ctx, cfg, logger)
			if err != nil {
				return err
			}
			return renderSummary(cmd.OutOrStdout(), summary, cfg.Output)
		},
	}

	flags := cmd.Flags()
	flags.String("strategy", string(config.StrategyProfiles), "enumeration strategy")
	flags.Bool("dry-run", false, "report what would be deployed without deploying")
	flags.StringP("output", "o", "json", "dry-run pointer output format (json, yaml)")
	flags.String("source", "", "source catalyst URL")
	flags.String("target", "", "target catalyst URL")
	flags.StringArray("pointer", nil, "pointer to migrate (repeatable)")
	flags.StringArray("collection", nil, "collection urn to migrate (repeatable)")
	flags.String("entity-type", "", "entity type for the database strategy")
	flags.StringSlice("only", nil, "only migrate these entity types")
	flags.String("contents-dir", "", "local content folder used instead of the source catalyst")
	flags.Int64("cutoff", 0, "only migrate entities deployed before this timestamp (ms)")
	flags.Int("concurrency", config.DefaultConcurrency, "parallel file downloads per entity")
	flags.Duration("timeout", config.DefaultRequestTimeout, "timeout for each outbound request")
	flags.Int("cache-mb", config.DefaultCacheMemoryMB, "in-memory content cache budget in MiB (0 disables)")
	flags.String("redis-url", "", "redis URL for the shared content cache")
	flags.String("nats-url", "", "NATS URL for publishing migration records")
	flags.String("metrics-addr", "", "address to serve Prometheus metrics on")

	return cmd
}

// runMigration wires the backends cfg asks for and runs the driver.
func runMigration(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*migration.Summary, error) {
	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))

	m := metrics.NewMigrationMetrics(prometheus.NewRegistry())
	if cfg.MetricsAddr != "" {
		srv := m.StartServer(cfg.MetricsAddr, logger)
		defer stopServer(srv, 5*time.Second, logger)
	}

	var sourceClient *catalyst.Client
	if cfg.SourceURL != "" {
		sourceClient = catalyst.NewClient(cfg.SourceURL,
			catalyst.WithTimeout(cfg.RequestTimeout),
			catalyst.WithLogger(logger.Named("source")))
	}

	deps := source.Deps{}
	if sourceClient != nil {
		deps.Catalyst = sourceClient
	}
	if cfg.Strategy.NeedsDatabase() {
		pool, err := database.Open(ctx, cfg.Postgres.ConnString())
		if err != nil {
			return nil, err
		}
		defer pool.Close()
		deps.Deployments = database.NewStore(pool, logger)
	}

	enumerator, err := source.FromConfig(cfg, deps)
	if err != nil {
		return nil, err
	}

	opts := migration.Options{
		Enumerator:     enumerator,
		Observer:       m,
		Logger:         logger,
		Concurrency:    cfg.Concurrency,
		RequestTimeout: cfg.RequestTimeout,
		RunID:          runID,
	}

	if !cfg.IsDryRun() {
		signer, err := auth.NewSignerFromSecret(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		logger.Info("Signing as", zap.String("address", signer.Address()))

		resolver, closeResolver, err := buildResolver(cfg, sourceClient, m, logger)
		if err != nil {
			return nil, err
		}
		defer closeResolver()

		validator, err := schema.NewSchemaValidator()
		if err != nil {
			return nil, err
		}

		opts.Signer = signer
		opts.Resolver = resolver
		opts.Validator = validator
		opts.Deployer = catalyst.NewClient(cfg.TargetURL,
			catalyst.WithTimeout(cfg.RequestTimeout),
			catalyst.WithLogger(logger.Named("target")))
	}

	if cfg.NatsURL != "" {
		notifier, err := notify.NewNatsNotifier(cfg.NatsURL, cfg.NatsSubject, logger)
		if err != nil {
			return nil, err
		}
		defer notifier.Close()
		opts.Notifier = notifier
	}

	driver, err := migration.NewDriver(opts)
	if err != nil {
		return nil, err
	}

	summary, err := driver.Run(ctx)
	if errors.Is(err, context.Canceled) && summary != nil {
		logger.Warn("Migration cancelled", zap.Int("processed", len(summary.Records)))
		return summary, nil
	}
	return summary, err
}

func stopServer(srv *http.Server, timeout time.Duration, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("Failed to stop metrics server", zap.Error(err))
	}
}

// buildResolver picks the content origin, local folder first, and puts the
// cache in front of it.
func buildResolver(cfg *config.Config, sourceClient *catalyst.Client, recorder storage.LookupRecorder, logger *zap.Logger) (storage.Resolver, func(), error) {
	var origin storage.Resolver
	switch {
	case cfg.ContentsDirectory != "":
		origin = storage.NewFolderStore(cfg.ContentsDirectory)
	case sourceClient != nil:
		origin = sourceClient
	default:
		return nil, nil, &config.Error{Field: "contents_directory", Message: "required when no source catalyst is configured"}
	}

	opts := []storage.CacheOption{
		storage.WithLookupRecorder(recorder),
		storage.WithCacheLogger(logger),
		storage.WithMemoryBudget(int64(cfg.CacheMemoryMB) * utils.MiB),
	}
	closer := func() {}
	if cfg.RedisURL != "" {
		redisCache, err := storage.NewRedisCache(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect content cache: %w", err)
		}
		opts = append(opts, storage.WithRemoteCache(redisCache))
		closer = func() { redisCache.Close() }
	}

	return storage.NewCachingResolver(origin, opts...), closer, nil
}

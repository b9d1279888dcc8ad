// Package migration sequences the per-entity migration pipeline.
package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"catalyst-migrator/pkg/catalyst"
	"catalyst-migrator/pkg/entity"
	"catalyst-migrator/pkg/notify"
	"catalyst-migrator/pkg/schema"
	"catalyst-migrator/pkg/source"
	"catalyst-migrator/pkg/storage"
	"catalyst-migrator/pkg/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultRequestTimeout = 20 * time.Minute

// Signer produces the auth chain for a new entity identity.
type Signer interface {
	Address() string
	Sign(identity types.ContentHash) (types.AuthChain, error)
}

// Deployer submits a signed entity to the target catalyst.
type Deployer interface {
	Deploy(ctx context.Context, req catalyst.DeployRequest) (*catalyst.DeployResponse, error)
}

// Observer receives run statistics.
type Observer interface {
	ObserveEnumerated(n int)
	ObserveRecord(rec types.MigrationRecord)
	ObserveDeploy(bytes int64, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveEnumerated(int)               {}
func (nopObserver) ObserveRecord(types.MigrationRecord) {}
func (nopObserver) ObserveDeploy(int64, time.Duration)  {}

// Options wires a Driver. A nil Signer puts the driver in dry-run mode, in
// which Resolver and Deployer may be nil too.
type Options struct {
	Enumerator     source.Enumerator
	Resolver       storage.Resolver
	Validator      schema.Validator
	Signer         Signer
	Deployer       Deployer
	Notifier       notify.Notifier
	Observer       Observer
	Logger         *zap.Logger
	Concurrency    int
	RequestTimeout time.Duration
	RunID          string
	Now            func() time.Time
}

// Driver runs a migration: enumerate, then for each entity resolve,
// rebuild, validate, sign and deploy. Entities run one at a time, in
// enumeration order; a failing entity never stops the run.
type Driver struct {
	enumerator  source.Enumerator
	resolver    storage.Resolver
	validator   schema.Validator
	signer      Signer
	deployer    Deployer
	notifier    notify.Notifier
	observer    Observer
	logger      *zap.Logger
	concurrency int
	timeout     time.Duration
	runID       string
	now         func() time.Time
}

func NewDriver(opts Options) (*Driver, error) {
	if opts.Enumerator == nil {
		return nil, errors.New("enumerator is required")
	}
	if opts.Signer != nil && (opts.Resolver == nil || opts.Deployer == nil) {
		return nil, errors.New("resolver and deployer are required when signing")
	}

	d := &Driver{
		enumerator:  opts.Enumerator,
		resolver:    opts.Resolver,
		validator:   opts.Validator,
		signer:      opts.Signer,
		deployer:    opts.Deployer,
		notifier:    opts.Notifier,
		observer:    opts.Observer,
		logger:      opts.Logger,
		concurrency: opts.Concurrency,
		timeout:     opts.RequestTimeout,
		runID:       opts.RunID,
		now:         opts.Now,
	}
	if d.validator == nil {
		d.validator = schema.NopValidator{}
	}
	if d.notifier == nil {
		d.notifier = notify.Nop{}
	}
	if d.observer == nil {
		d.observer = nopObserver{}
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if d.concurrency <= 0 {
		d.concurrency = 1
	}
	if d.timeout <= 0 {
		d.timeout = DefaultRequestTimeout
	}
	if d.runID == "" {
		d.runID = uuid.NewString()
	}
	if d.now == nil {
		d.now = time.Now
	}
	d.logger = d.logger.With(zap.String("run_id", d.runID))
	return d, nil
}

func (d *Driver) DryRun() bool {
	return d.signer == nil
}

func (d *Driver) RunID() string {
	return d.runID
}

// Run executes the migration. It returns an error only when enumeration
// fails or ctx is cancelled; per-entity failures are recorded in the summary.
func (d *Driver) Run(ctx context.Context) (*Summary, error) {
	start := d.now()
	summary := &Summary{RunID: d.runID, DryRun: d.DryRun(), Source: d.enumerator.Name()}

	d.logger.Info("Enumerating entities",
		zap.String("source", d.enumerator.Name()),
		zap.Bool("dry_run", summary.DryRun))

	enumCtx, cancel := context.WithTimeout(ctx, d.timeout)
	entities, err := d.enumerator.Enumerate(enumCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate entities: %w", err)
	}
	summary.Enumerated = len(entities)
	d.observer.ObserveEnumerated(len(entities))

	if summary.DryRun {
		d.dryRun(entities, summary)
		summary.Duration = d.now().Sub(start)
		return summary, nil
	}

	for i, e := range entities {
		if err := ctx.Err(); err != nil {
			d.logger.Warn("Migration interrupted",
				zap.Int("processed", i),
				zap.Int("remaining", len(entities)-i))
			summary.Duration = d.now().Sub(start)
			return summary, err
		}
		rec := d.migrate(ctx, e)
		summary.Records = append(summary.Records, rec)
		d.observer.ObserveRecord(rec)
		if err := d.notifier.Notify(ctx, rec); err != nil {
			d.logger.Warn("Failed to publish migration record",
				zap.String("entity_id", string(e.ID)),
				zap.Error(err))
		}
	}

	summary.Duration = d.now().Sub(start)
	d.logger.Info("Migration finished",
		zap.Int("deployed", summary.Count(types.OutcomeDeployed)),
		zap.Int("skipped", summary.Count(types.OutcomeSkipped)),
		zap.Int("failed", summary.Count(types.OutcomeFailed)),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

// dryRun reports what would be deployed without touching any backend.
func (d *Driver) dryRun(entities []types.Entity, summary *Summary) {
	seen := make(map[string]bool)
	for _, e := range entities {
		for _, p := range e.Pointers {
			if !seen[p] {
				seen[p] = true
				summary.Pointers = append(summary.Pointers, p)
			}
		}
		rec := types.MigrationRecord{
			RunID:      d.runID,
			SourceID:   e.ID,
			Type:       e.Type,
			Pointers:   e.Pointers,
			Stage:      types.StageEnumerating,
			Outcome:    types.OutcomeDryRun,
			FinishedAt: d.now(),
		}
		summary.Records = append(summary.Records, rec)
		d.observer.ObserveRecord(rec)
	}

	d.logger.Info(fmt.Sprintf("%d entities would be deployed", len(entities)),
		zap.Int("pointers", len(summary.Pointers)))
}

// migrate runs one entity through the pipeline and records where it stopped.
func (d *Driver) migrate(ctx context.Context, e types.Entity) types.MigrationRecord {
	start := d.now()
	rec := types.MigrationRecord{
		RunID:    d.runID,
		SourceID: e.ID,
		Type:     e.Type,
		Pointers: e.Pointers,
	}
	logger := d.logger.With(
		zap.String("entity_id", string(e.ID)),
		zap.String("pointer", e.PrimaryPointer()))

	finish := func(stage types.Stage, outcome types.Outcome, err error) types.MigrationRecord {
		rec.Stage = stage
		rec.Outcome = outcome
		if err != nil {
			rec.Error = err.Error()
		}
		rec.FinishedAt = d.now()
		rec.Duration = rec.FinishedAt.Sub(start)

		switch outcome {
		case types.OutcomeFailed:
			logger.Error("Entity migration failed", zap.String("stage", string(stage)), zap.Error(err))
		case types.OutcomeSkipped:
			logger.Warn("Entity skipped", zap.String("stage", string(stage)), zap.Error(err))
		}
		return rec
	}

	resolved, err := storage.ResolveFileSet(ctx, timeoutResolver{d.resolver, d.timeout}, e.Content, storage.FileSetOptions{
		Optional:    entity.OptionalFiles(e.Type, e.Metadata),
		Concurrency: d.concurrency,
		Logger:      logger,
	})
	if err != nil {
		return finish(types.StageResolving, types.OutcomeFailed, err)
	}
	for _, missing := range resolved.Missing {
		logger.Info("Optional file not found, dropping it",
			zap.String("file", missing.File),
			zap.String("hash", string(missing.Hash)))
	}

	env, err := entity.Rebuild(entity.Input{
		Type:      e.Type,
		Pointers:  e.Pointers,
		Metadata:  e.Metadata,
		Files:     resolved.Files,
		Timestamp: d.now(),
	})
	if err != nil {
		return finish(types.StageRebuilding, types.OutcomeFailed, err)
	}
	rec.NewID = env.ID

	if err := d.validator.Validate(e.Type, env.Entity.Metadata); err != nil {
		var ve *schema.ValidationError
		if errors.As(err, &ve) {
			for _, failure := range ve.Failures {
				logger.Debug("Validation failure", zap.String("detail", failure))
			}
			return finish(types.StageValidating, types.OutcomeSkipped, err)
		}
		return finish(types.StageValidating, types.OutcomeFailed, err)
	}

	chain, err := d.signer.Sign(env.ID)
	if err != nil {
		return finish(types.StageSigning, types.OutcomeFailed, err)
	}

	logger.Info("Deploying", zap.String("new_entity_id", string(env.ID)))
	deployStart := time.Now()
	deployCtx, cancel := context.WithTimeout(ctx, d.timeout)
	_, err = d.deployer.Deploy(deployCtx, catalyst.DeployRequest{
		EntityID:  env.ID,
		AuthChain: chain,
		Files:     env.Files,
	})
	cancel()
	if err != nil {
		return finish(types.StageDeploying, types.OutcomeFailed, err)
	}
	rec.Bytes = env.Size()
	d.observer.ObserveDeploy(rec.Bytes, time.Since(deployStart))

	return finish(types.StageDone, types.OutcomeDeployed, nil)
}

// timeoutResolver bounds each blob lookup.
type timeoutResolver struct {
	inner   storage.Resolver
	timeout time.Duration
}

func (r timeoutResolver) Resolve(ctx context.Context, hash types.ContentHash) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.inner.Resolve(ctx, hash)
}

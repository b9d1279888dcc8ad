package migration

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"catalyst-migrator/pkg/entity"
	"catalyst-migrator/pkg/source"
	"catalyst-migrator/pkg/storage"
	"catalyst-migrator/pkg/types"

	"go.uber.org/zap"
)

// SceneSize is the measured footprint of one scene.
type SceneSize struct {
	EntityID types.ContentHash
	Files    int
	Bytes    int64
	Pointers []string
	// Missing lists the declared files whose blob was not found.
	Missing []types.ContentFile
}

// MB returns the size in mebibytes.
func (s SceneSize) MB() float64 {
	return float64(s.Bytes) / 1024 / 1024
}

// Line renders the report line for s.
func (s SceneSize) Line() string {
	return fmt.Sprintf("%s\tfiles=%d\tmb=%.2f\tpointers=%s\n",
		s.EntityID, s.Files, s.MB(), strings.Join(s.Pointers, ","))
}

// SizeReporter measures the content of every enumerated scene and appends
// one line per scene to a report. Missing blobs are logged and left out of
// the total.
type SizeReporter struct {
	enumerator  source.Enumerator
	resolver    storage.Resolver
	out         io.Writer
	logger      *zap.Logger
	concurrency int
	timeout     time.Duration
}

type ReportOption func(*SizeReporter)

// WithReportTimeout bounds scene enumeration.
func WithReportTimeout(d time.Duration) ReportOption {
	return func(r *SizeReporter) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func NewSizeReporter(enumerator source.Enumerator, resolver storage.Resolver, out io.Writer, logger *zap.Logger, opts ...ReportOption) *SizeReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &SizeReporter{
		enumerator:  enumerator,
		resolver:    resolver,
		out:         out,
		logger:      logger,
		concurrency: 4,
		timeout:     DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run writes the report. Scenes that cannot be measured are logged and
// skipped; the error is non-nil only when enumeration, the writer or ctx
// fails.
func (r *SizeReporter) Run(ctx context.Context) ([]SceneSize, error) {
	enumCtx, cancel := context.WithTimeout(ctx, r.timeout)
	scenes, err := r.enumerator.Enumerate(enumCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate scenes: %w", err)
	}
	r.logger.Info("Measuring scenes", zap.Int("count", len(scenes)))

	sizes := make([]SceneSize, 0, len(scenes))
	for _, scene := range scenes {
		if err := ctx.Err(); err != nil {
			return sizes, err
		}

		size, err := r.measure(ctx, scene)
		if err != nil {
			r.logger.Error("Failed to measure scene",
				zap.String("entity_id", string(scene.ID)),
				zap.String("pointer", scene.PrimaryPointer()),
				zap.Error(err))
			continue
		}

		if _, err := io.WriteString(r.out, size.Line()); err != nil {
			return sizes, fmt.Errorf("failed to write report: %w", err)
		}
		sizes = append(sizes, size)
	}
	return sizes, nil
}

func (r *SizeReporter) measure(ctx context.Context, scene types.Entity) (SceneSize, error) {
	logger := r.logger.With(zap.String("entity_id", string(scene.ID)))

	resolved, err := storage.ResolveFileSet(ctx, r.resolver, scene.Content, storage.FileSetOptions{
		Tolerant:    true,
		Concurrency: r.concurrency,
		Logger:      logger,
	})
	if err != nil {
		return SceneSize{}, err
	}
	for _, m := range resolved.Missing {
		logger.Warn("No content found for hash", zap.String("hash", string(m.Hash)), zap.String("file", m.File))
	}

	for path := range entity.OptionalFiles(scene.Type, scene.Metadata) {
		if !resolved.Files.Has(path) {
			logger.Info("Dropping navmapThumbnail", zap.String("file", path))
		}
	}

	size := SceneSize{
		EntityID: scene.ID,
		Files:    len(resolved.Files),
		Bytes:    resolved.Files.TotalSize(),
		Pointers: scene.Pointers,
		Missing:  resolved.Missing,
	}
	logger.Info("Scene measured",
		zap.Int("files", size.Files),
		zap.Int64("bytes", size.Bytes),
		zap.Strings("pointers", size.Pointers))
	return size, nil
}

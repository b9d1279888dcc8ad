// Package database reads active deployments from a catalyst content database.
package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"catalyst-migrator/pkg/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const connectTimeout = 10 * time.Second

// Querier is the subset of pgxpool.Pool used by Store.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// DeploymentFilter selects active deployments of one entity type.
type DeploymentFilter struct {
	EntityType types.EntityType
	// Before, when non-zero, keeps only deployments with an entity
	// timestamp strictly before it.
	Before time.Time
}

// Store reads the deployments and content_files tables.
type Store struct {
	db     Querier
	logger *zap.Logger
}

func NewStore(db Querier, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// buildDeploymentsQuery returns the query for filter and its arguments.
// Content files are aggregated in the same query, ordered by key.
func buildDeploymentsQuery(filter DeploymentFilter) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT d.id, d.entity_type, d.entity_id, d.entity_timestamp, d.entity_pointers,
       d.entity_metadata->'v',
       COALESCE(array_agg(cf.key ORDER BY cf.key) FILTER (WHERE cf.key IS NOT NULL), '{}'),
       COALESCE(array_agg(cf.content_hash ORDER BY cf.key) FILTER (WHERE cf.key IS NOT NULL), '{}')
FROM deployments d
LEFT JOIN content_files cf ON cf.deployment = d.id
WHERE d.entity_type = $1 AND d.deleter_deployment IS NULL`)

	args := []any{string(filter.EntityType)}
	if !filter.Before.IsZero() {
		args = append(args, filter.Before.UnixMilli())
		b.WriteString(fmt.Sprintf(" AND d.entity_timestamp < to_timestamp($%d / 1000.0)", len(args)))
	}
	b.WriteString(`
GROUP BY d.id
ORDER BY d.entity_timestamp ASC, d.id ASC`)

	return b.String(), args
}

// ActiveDeployments returns the non-deleted deployments matching filter,
// oldest first, each with its content files.
func (s *Store) ActiveDeployments(ctx context.Context, filter DeploymentFilter) ([]types.Deployment, error) {
	query, args := buildDeploymentsQuery(filter)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deployments: %w", err)
	}
	defer rows.Close()

	var out []types.Deployment
	for rows.Next() {
		var (
			d          types.Deployment
			entityType string
			entityID   string
			metadata   []byte
			keys       []string
			hashes     []string
		)
		if err := rows.Scan(&d.ID, &entityType, &entityID, &d.EntityTimestamp, &d.Pointers, &metadata, &keys, &hashes); err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		if len(keys) != len(hashes) {
			return nil, fmt.Errorf("deployment %d has %d content keys but %d hashes", d.ID, len(keys), len(hashes))
		}

		d.EntityType = types.EntityType(entityType)
		d.EntityID = types.ContentHash(entityID)
		d.Metadata = metadata
		d.Content = make([]types.ContentFile, len(keys))
		for i := range keys {
			d.Content[i] = types.ContentFile{File: keys[i], Hash: types.ContentHash(hashes[i])}
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read deployments: %w", err)
	}

	s.logger.Debug("Loaded deployments",
		zap.String("entity_type", string(filter.EntityType)),
		zap.Int("count", len(out)))
	return out, nil
}

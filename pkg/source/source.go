// Package source enumerates the entities a migration run should move.
package source

import (
	"context"

	"catalyst-migrator/pkg/database"
	"catalyst-migrator/pkg/types"
)

// Enumerator yields the entities to migrate, in deployment order.
type Enumerator interface {
	Name() string
	Enumerate(ctx context.Context) ([]types.Entity, error)
}

// PointerFetcher looks up active entities by pointer.
type PointerFetcher interface {
	EntitiesByPointers(ctx context.Context, pointers []string) ([]types.Entity, error)
}

// CollectionFetcher lists the active entities of an off-chain collection.
type CollectionFetcher interface {
	CollectionEntities(ctx context.Context, urn string) ([]types.Entity, error)
}

// DeploymentLister lists active deployments from the content database.
type DeploymentLister interface {
	ActiveDeployments(ctx context.Context, filter database.DeploymentFilter) ([]types.Deployment, error)
}

// TypeFilter keeps only the listed entity types. An empty filter keeps all.
type TypeFilter map[types.EntityType]bool

func NewTypeFilter(entityTypes ...types.EntityType) TypeFilter {
	if len(entityTypes) == 0 {
		return nil
	}
	f := make(TypeFilter, len(entityTypes))
	for _, t := range entityTypes {
		f[t] = true
	}
	return f
}

func (f TypeFilter) Allows(t types.EntityType) bool {
	return len(f) == 0 || f[t]
}

// dedupe drops entities already seen by source identity and those rejected
// by filter, keeping first-seen order.
func dedupe(entities []types.Entity, filter TypeFilter) []types.Entity {
	seen := make(map[types.ContentHash]bool, len(entities))
	out := make([]types.Entity, 0, len(entities))
	for _, e := range entities {
		if seen[e.ID] || !filter.Allows(e.Type) {
			continue
		}
		seen[e.ID] = true
		out = append(out, e)
	}
	return out
}

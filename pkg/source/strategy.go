package source

import (
	"fmt"
	"time"

	"catalyst-migrator/pkg/config"
	"catalyst-migrator/pkg/types"
)

const (
	DefaultProfilePointerCount = 160
	BaseAvatarsCollection      = "urn:decentraland:off-chain:base-avatars"
	// DefaultSceneCutoff is the entity timestamp (ms) before which scenes
	// are migrated when no cutoff is configured.
	DefaultSceneCutoff int64 = 1689096101514
)

// DefaultProfilePointers returns default1 through defaultN.
func DefaultProfilePointers(n int) []string {
	pointers := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		pointers = append(pointers, fmt.Sprintf("default%d", i))
	}
	return pointers
}

// BaseBodyShapePointers are the two base body shape wearables.
func BaseBodyShapePointers() []string {
	return []string{BaseAvatarsCollection + ":BaseMale", BaseAvatarsCollection + ":BaseFemale"}
}

// Deps are the backends a strategy may need. Unused ones may be nil.
type Deps struct {
	Catalyst    CollectionFetchers
	Deployments DeploymentLister
}

// FromConfig builds the enumerator selected by cfg.Strategy.
func FromConfig(cfg *config.Config, deps Deps) (Enumerator, error) {
	if cfg.Strategy.NeedsCatalyst() && deps.Catalyst == nil {
		return nil, fmt.Errorf("strategy %s needs a source catalyst", cfg.Strategy)
	}
	if cfg.Strategy.NeedsDatabase() && deps.Deployments == nil {
		return nil, fmt.Errorf("strategy %s needs the content database", cfg.Strategy)
	}

	filter := typeFilterFromConfig(cfg.EntityTypes)

	switch cfg.Strategy {
	case config.StrategyProfiles:
		return NewPointerList(deps.Catalyst, DefaultProfilePointers(DefaultProfilePointerCount),
			NewTypeFilter(types.EntityTypeProfile)), nil
	case config.StrategyWearables:
		return NewCollection(deps.Catalyst, []string{BaseAvatarsCollection}, BaseBodyShapePointers(), nil), nil
	case config.StrategyScenes:
		cutoff := cfg.CutoffTimestamp
		if cutoff == 0 {
			cutoff = DefaultSceneCutoff
		}
		return NewDatabaseScan(deps.Deployments, types.EntityTypeScene, time.UnixMilli(cutoff)), nil
	case config.StrategyPointers:
		return NewPointerList(deps.Catalyst, cfg.Pointers, filter), nil
	case config.StrategyCollection:
		return NewCollection(deps.Catalyst, cfg.Collections, cfg.Pointers, filter), nil
	case config.StrategyDatabase:
		var before time.Time
		if cfg.CutoffTimestamp > 0 {
			before = time.UnixMilli(cfg.CutoffTimestamp)
		}
		return NewDatabaseScan(deps.Deployments, types.EntityType(cfg.EntityType), before), nil
	}
	return nil, &config.Error{Field: "strategy", Message: fmt.Sprintf("unknown strategy %q", cfg.Strategy)}
}

func typeFilterFromConfig(names []string) TypeFilter {
	entityTypes := make([]types.EntityType, 0, len(names))
	for _, n := range names {
		entityTypes = append(entityTypes, types.EntityType(n))
	}
	return NewTypeFilter(entityTypes...)
}

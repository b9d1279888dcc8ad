package source

import (
	"context"
	"fmt"
	"time"

	"catalyst-migrator/pkg/database"
	"catalyst-migrator/pkg/types"
)

// PointerList resolves an explicit pointer list against a catalyst.
type PointerList struct {
	fetcher  PointerFetcher
	pointers []string
	filter   TypeFilter
}

func NewPointerList(fetcher PointerFetcher, pointers []string, filter TypeFilter) *PointerList {
	return &PointerList{fetcher: fetcher, pointers: pointers, filter: filter}
}

func (p *PointerList) Name() string { return "pointers" }

func (p *PointerList) Enumerate(ctx context.Context) ([]types.Entity, error) {
	if len(p.pointers) == 0 {
		return nil, nil
	}
	entities, err := p.fetcher.EntitiesByPointers(ctx, p.pointers)
	if err != nil {
		return nil, err
	}
	return dedupe(entities, p.filter), nil
}

// CollectionFetchers is what Collection needs from a catalyst client.
type CollectionFetchers interface {
	PointerFetcher
	CollectionFetcher
}

// Collection lists off-chain collections, then any extra pointers.
type Collection struct {
	fetcher  CollectionFetchers
	urns     []string
	pointers []string
	filter   TypeFilter
}

func NewCollection(fetcher CollectionFetchers, urns, extraPointers []string, filter TypeFilter) *Collection {
	return &Collection{fetcher: fetcher, urns: urns, pointers: extraPointers, filter: filter}
}

func (c *Collection) Name() string { return "collection" }

func (c *Collection) Enumerate(ctx context.Context) ([]types.Entity, error) {
	var all []types.Entity
	for _, urn := range c.urns {
		entities, err := c.fetcher.CollectionEntities(ctx, urn)
		if err != nil {
			return nil, err
		}
		all = append(all, entities...)
	}
	if len(c.pointers) > 0 {
		entities, err := c.fetcher.EntitiesByPointers(ctx, c.pointers)
		if err != nil {
			return nil, err
		}
		all = append(all, entities...)
	}
	return dedupe(all, c.filter), nil
}

// DatabaseScan lists active deployments of one type straight from the
// content database.
type DatabaseScan struct {
	lister     DeploymentLister
	entityType types.EntityType
	before     time.Time
}

// NewDatabaseScan scans entityType; a zero before disables the cutoff.
func NewDatabaseScan(lister DeploymentLister, entityType types.EntityType, before time.Time) *DatabaseScan {
	return &DatabaseScan{lister: lister, entityType: entityType, before: before}
}

func (d *DatabaseScan) Name() string { return "database" }

func (d *DatabaseScan) Enumerate(ctx context.Context) ([]types.Entity, error) {
	deployments, err := d.lister.ActiveDeployments(ctx, database.DeploymentFilter{
		EntityType: d.entityType,
		Before:     d.before,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s deployments: %w", d.entityType, err)
	}

	entities := make([]types.Entity, 0, len(deployments))
	for _, dep := range deployments {
		entities = append(entities, dep.Entity())
	}
	return dedupe(entities, nil), nil
}

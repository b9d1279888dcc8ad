package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"catalyst-migrator/pkg/catalyst"
	"catalyst-migrator/pkg/catalyst/catalysttest"
	"catalyst-migrator/pkg/config"
	"catalyst-migrator/pkg/database"
	"catalyst-migrator/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDeployments struct {
	deployments []types.Deployment
	err         error
	filter      database.DeploymentFilter
}

func (f *fakeDeployments) ActiveDeployments(ctx context.Context, filter database.DeploymentFilter) ([]types.Deployment, error) {
	f.filter = filter
	return f.deployments, f.err
}

func ids(entities []types.Entity) []types.ContentHash {
	out := make([]types.ContentHash, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.ID)
	}
	return out
}

func TestPointerListDedupesAndFilters(t *testing.T) {
	srv := catalysttest.New()
	defer srv.Close()

	// One profile reachable through two pointers.
	srv.AddEntity(types.Entity{ID: "bafkreiprofile1", Type: types.EntityTypeProfile, Pointers: []string{"default1", "alias1"}})
	srv.AddEntity(types.Entity{ID: "bafkreiprofile2", Type: types.EntityTypeProfile, Pointers: []string{"default2"}})
	srv.AddEntity(types.Entity{ID: "bafkreiwearable", Type: types.EntityTypeWearable, Pointers: []string{"default3"}})

	client := catalyst.NewClient(srv.URL)
	enum := NewPointerList(client, []string{"default1", "alias1", "default2", "default3"}, NewTypeFilter(types.EntityTypeProfile))

	entities, err := enum.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []types.ContentHash{"bafkreiprofile1", "bafkreiprofile2"}, ids(entities))
	assert.Equal(t, "pointers", enum.Name())
}

func TestPointerListEmpty(t *testing.T) {
	entities, err := NewPointerList(nil, nil, nil).Enumerate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entities)
}

func TestCollection(t *testing.T) {
	srv := catalysttest.New()
	defer srv.Close()

	male := types.Entity{ID: "bafkreibasemale", Type: types.EntityTypeWearable, Pointers: []string{BaseAvatarsCollection + ":BaseMale"}}
	eyebrows := types.Entity{ID: "bafkreieyebrows", Type: types.EntityTypeWearable, Pointers: []string{BaseAvatarsCollection + ":eyebrows_00"}}
	srv.AddCollection(BaseAvatarsCollection, eyebrows, male)
	srv.AddEntity(male)
	srv.AddEntity(types.Entity{ID: "bafkreibasefemale", Type: types.EntityTypeWearable, Pointers: []string{BaseAvatarsCollection + ":BaseFemale"}})

	enum := NewCollection(catalyst.NewClient(srv.URL), []string{BaseAvatarsCollection}, BaseBodyShapePointers(), nil)
	entities, err := enum.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []types.ContentHash{"bafkreieyebrows", "bafkreibasemale", "bafkreibasefemale"}, ids(entities))
}

func TestDatabaseScan(t *testing.T) {
	ts := time.UnixMilli(1680000000000)
	lister := &fakeDeployments{deployments: []types.Deployment{
		{ID: 1, EntityType: types.EntityTypeScene, EntityID: "bafkreis1", EntityTimestamp: ts, Pointers: []string{"0,0"}},
		{ID: 2, EntityType: types.EntityTypeScene, EntityID: "bafkreis2", EntityTimestamp: ts.Add(time.Minute), Pointers: []string{"1,0"}},
	}}
	cutoff := time.UnixMilli(DefaultSceneCutoff)

	entities, err := NewDatabaseScan(lister, types.EntityTypeScene, cutoff).Enumerate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []types.ContentHash{"bafkreis1", "bafkreis2"}, ids(entities))
	assert.Equal(t, types.EntityTypeScene, lister.filter.EntityType)
	assert.True(t, lister.filter.Before.Equal(cutoff))
	assert.Equal(t, int64(1680000000000), entities[0].Timestamp)
}

func TestDatabaseScanError(t *testing.T) {
	lister := &fakeDeployments{err: errors.New("db down")}
	_, err := NewDatabaseScan(lister, types.EntityTypeScene, time.Time{}).Enumerate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestDefaultPointers(t *testing.T) {
	pointers := DefaultProfilePointers(DefaultProfilePointerCount)
	require.Len(t, pointers, 160)
	assert.Equal(t, "default1", pointers[0])
	assert.Equal(t, "default160", pointers[159])

	assert.Equal(t, []string{
		"urn:decentraland:off-chain:base-avatars:BaseMale",
		"urn:decentraland:off-chain:base-avatars:BaseFemale",
	}, BaseBodyShapePointers())
}

func TestFromConfig(t *testing.T) {
	client := catalyst.NewClient("http://catalyst.invalid")
	lister := &fakeDeployments{}
	deps := Deps{Catalyst: client, Deployments: lister}

	tests := []struct {
		name string
		cfg  config.Config
		want any
	}{
		{"profiles", config.Config{Strategy: config.StrategyProfiles}, &PointerList{}},
		{"wearables", config.Config{Strategy: config.StrategyWearables}, &Collection{}},
		{"scenes", config.Config{Strategy: config.StrategyScenes}, &DatabaseScan{}},
		{"pointers", config.Config{Strategy: config.StrategyPointers, Pointers: []string{"0,0"}}, &PointerList{}},
		{"collection", config.Config{Strategy: config.StrategyCollection, Collections: []string{"urn:x"}}, &Collection{}},
		{"database", config.Config{Strategy: config.StrategyDatabase, EntityType: "emote"}, &DatabaseScan{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enum, err := FromConfig(&tt.cfg, deps)
			require.NoError(t, err)
			assert.IsType(t, tt.want, enum)
		})
	}

	t.Run("ProfilesShape", func(t *testing.T) {
		enum, err := FromConfig(&config.Config{Strategy: config.StrategyProfiles}, deps)
		require.NoError(t, err)
		pl := enum.(*PointerList)
		assert.Len(t, pl.pointers, 160)
		assert.True(t, pl.filter.Allows(types.EntityTypeProfile))
		assert.False(t, pl.filter.Allows(types.EntityTypeWearable))
	})

	t.Run("ScenesDefaultCutoff", func(t *testing.T) {
		enum, err := FromConfig(&config.Config{Strategy: config.StrategyScenes}, deps)
		require.NoError(t, err)
		assert.Equal(t, DefaultSceneCutoff, enum.(*DatabaseScan).before.UnixMilli())
	})

	t.Run("ScenesConfiguredCutoff", func(t *testing.T) {
		enum, err := FromConfig(&config.Config{Strategy: config.StrategyScenes, CutoffTimestamp: 42}, deps)
		require.NoError(t, err)
		assert.Equal(t, int64(42), enum.(*DatabaseScan).before.UnixMilli())
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := FromConfig(&config.Config{Strategy: "bogus"}, deps)
		var cfgErr *config.Error
		assert.True(t, errors.As(err, &cfgErr))
	})

	t.Run("MissingBackends", func(t *testing.T) {
		_, err := FromConfig(&config.Config{Strategy: config.StrategyProfiles}, Deps{})
		assert.Error(t, err)
		_, err = FromConfig(&config.Config{Strategy: config.StrategyScenes}, Deps{})
		assert.Error(t, err)
	})
}

func TestTypeFilter(t *testing.T) {
	var empty TypeFilter
	assert.True(t, empty.Allows(types.EntityTypeScene))
	assert.Nil(t, NewTypeFilter())

	f := NewTypeFilter(types.EntityTypeScene)
	assert.True(t, f.Allows(types.EntityTypeScene))
	assert.False(t, f.Allows(types.EntityTypeProfile))
}

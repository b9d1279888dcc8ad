package entity

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"catalyst-migrator/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const profileMetadata = `{
  "avatars": [
    {
      "name": "Default7",
      "description": "",
      "avatar": {
        "bodyShape": "urn:decentraland:off-chain:base-avatars:BaseMale",
        "wearables": ["urn:decentraland:off-chain:base-avatars:eyebrows_00"],
        "emotes": null,
        "snapshots": {"face256": "face.png", "body": "body.png"}
      }
    },
    {
      "name": "Claimed",
      "hasClaimedName": true,
      "avatar": {"emotes": [{"slot": 0, "urn": "wave"}]}
    }
  ]
}`

func decode(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	return doc
}

func TestNormalizeProfile(t *testing.T) {
	input := json.RawMessage(profileMetadata)
	original := append([]byte(nil), input...)

	out, err := Normalize(types.EntityTypeProfile, input, nil)
	require.NoError(t, err)
	assert.Equal(t, original, []byte(input), "input must not be modified")

	avatars := decode(t, out)["avatars"].([]any)
	first := avatars[0].(map[string]any)
	assert.Equal(t, false, first["hasClaimedName"])
	assert.Equal(t, []any{}, first["avatar"].(map[string]any)["emotes"])

	second := avatars[1].(map[string]any)
	assert.Equal(t, true, second["hasClaimedName"])
	assert.Len(t, second["avatar"].(map[string]any)["emotes"], 1)
}

func TestNormalizeProfileIdempotent(t *testing.T) {
	once, err := Normalize(types.EntityTypeProfile, json.RawMessage(profileMetadata), nil)
	require.NoError(t, err)
	twice, err := Normalize(types.EntityTypeProfile, once, nil)
	require.NoError(t, err)
	assert.JSONEq(t, string(once), string(twice))
}

func TestNormalizePreservesNumbers(t *testing.T) {
	in := json.RawMessage(`{"avatars":[],"version":12345678901234567890}`)
	out, err := Normalize(types.EntityTypeProfile, in, nil)
	require.NoError(t, err)
	assert.Contains(t, string(out), "12345678901234567890")
}

func TestNormalizeScene(t *testing.T) {
	metadata := json.RawMessage(`{"display":{"title":"Plaza","navmapThumbnail":"images/thumb.png"},"scene":{"base":"0,0","parcels":["0,0"]}}`)

	t.Run("DanglingThumbnailRemoved", func(t *testing.T) {
		files := types.FileSet{"scene.json": {Path: "scene.json", Hash: "h1"}}
		out, err := Normalize(types.EntityTypeScene, metadata, files)
		require.NoError(t, err)

		display := decode(t, out)["display"].(map[string]any)
		assert.NotContains(t, display, "navmapThumbnail")
		assert.Equal(t, "Plaza", display["title"])
	})

	t.Run("PresentThumbnailKept", func(t *testing.T) {
		files := types.FileSet{"images/thumb.png": {Path: "images/thumb.png", Hash: "h2"}}
		out, err := Normalize(types.EntityTypeScene, metadata, files)
		require.NoError(t, err)
		assert.JSONEq(t, string(metadata), string(out))
	})

	t.Run("NoDisplay", func(t *testing.T) {
		out, err := Normalize(types.EntityTypeScene, json.RawMessage(`{"scene":{}}`), nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{"scene":{}}`, string(out))
	})
}

func TestNormalizeOtherTypesUntouched(t *testing.T) {
	in := json.RawMessage(`{"id":"urn:x","data":{"hides":null}}`)
	out, err := Normalize(types.EntityTypeWearable, in, nil)
	require.NoError(t, err)
	assert.JSONEq(t, string(in), string(out))

	out, err = Normalize(types.EntityTypeWearable, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, out)

	_, err = Normalize(types.EntityTypeProfile, json.RawMessage(`{broken`), nil)
	assert.Error(t, err)
}

func TestOptionalFiles(t *testing.T) {
	scene := json.RawMessage(`{"display":{"navmapThumbnail":"thumb.png"}}`)
	assert.Equal(t, map[string]bool{"thumb.png": true}, OptionalFiles(types.EntityTypeScene, scene))
	assert.Nil(t, OptionalFiles(types.EntityTypeScene, json.RawMessage(`{"display":{}}`)))
	assert.Nil(t, OptionalFiles(types.EntityTypeProfile, scene))
}

func TestHash(t *testing.T) {
	h, err := Hash(nil)
	require.NoError(t, err)
	assert.Equal(t, types.ContentHash("bafkreihdwdcefgh4dqkjv67uzcmw7ojee6xedzdetojuzjevtenxquvyku"), h)
}

func baseInput() Input {
	return Input{
		Type:     types.EntityTypeProfile,
		Pointers: []string{"default7"},
		Metadata: json.RawMessage(profileMetadata),
		Files: types.FileSet{
			"face.png": {Path: "face.png", Hash: "bafkreiface", Data: []byte("face")},
			"body.png": {Path: "body.png", Hash: "bafkreibody", Data: []byte("body")},
		},
		Timestamp: time.UnixMilli(1700000000000),
	}
}

func TestRebuildDeterministic(t *testing.T) {
	a, err := Rebuild(baseInput())
	require.NoError(t, err)
	b, err := Rebuild(baseInput())
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, a.EntityFile, b.EntityFile)
	assert.True(t, strings.HasPrefix(string(a.ID), "bafkrei"))

	h, err := Hash(a.EntityFile)
	require.NoError(t, err)
	assert.Equal(t, a.ID, h)
}

func TestRebuildIdentityChanges(t *testing.T) {
	base, err := Rebuild(baseInput())
	require.NoError(t, err)

	mutations := map[string]func(*Input){
		"timestamp": func(in *Input) { in.Timestamp = in.Timestamp.Add(time.Millisecond) },
		"pointers":  func(in *Input) { in.Pointers = []string{"default8"} },
		"type":      func(in *Input) { in.Type = types.EntityTypeWearable },
		"metadata":  func(in *Input) { in.Metadata = json.RawMessage(`{"avatars":[]}`) },
		"files": func(in *Input) {
			in.Files = types.FileSet{"face.png": {Path: "face.png", Hash: "bafkreiface", Data: []byte("face")}}
		},
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			in := baseInput()
			mutate(&in)
			env, err := Rebuild(in)
			require.NoError(t, err)
			assert.NotEqual(t, base.ID, env.ID)
		})
	}
}

func TestRebuildEntityFile(t *testing.T) {
	env, err := Rebuild(baseInput())
	require.NoError(t, err)

	text := string(env.EntityFile)
	order := []string{`"version":"v3"`, `"type":"profile"`, `"pointers":["default7"]`, `"timestamp":1700000000000`, `"content":`, `"metadata":`}
	last := -1
	for _, field := range order {
		idx := strings.Index(text, field)
		require.GreaterOrEqual(t, idx, 0, field)
		assert.Greater(t, idx, last, field)
		last = idx
	}

	assert.Equal(t, []types.ContentFile{
		{File: "body.png", Hash: "bafkreibody"},
		{File: "face.png", Hash: "bafkreiface"},
	}, env.Entity.Content)

	assert.Len(t, env.Files, 3)
	assert.Equal(t, env.EntityFile, env.Files[env.ID])
	assert.Equal(t, []byte("face"), env.Files["bafkreiface"])
	assert.Equal(t, int64(1700000000000), env.Entity.Timestamp)
	assert.Equal(t, int64(len(env.EntityFile)+8), env.Size())

	avatars := decode(t, env.Entity.Metadata)["avatars"].([]any)
	assert.Equal(t, false, avatars[0].(map[string]any)["hasClaimedName"])
}

func TestRebuildHashesUndeclaredFiles(t *testing.T) {
	in := baseInput()
	in.Files = types.FileSet{"notes.txt": {Path: "notes.txt", Data: nil}}
	env, err := Rebuild(in)
	require.NoError(t, err)
	assert.Equal(t, types.ContentHash("bafkreihdwdcefgh4dqkjv67uzcmw7ojee6xedzdetojuzjevtenxquvyku"), env.Entity.Content[0].Hash)
}

func TestRebuildDoesNotMutateInput(t *testing.T) {
	in := baseInput()
	original := append([]byte(nil), in.Metadata...)
	pointers := append([]string(nil), in.Pointers...)

	_, err := Rebuild(in)
	require.NoError(t, err)

	assert.Equal(t, original, []byte(in.Metadata))
	assert.Equal(t, pointers, in.Pointers)
	assert.Len(t, in.Files, 2)
}

func TestRebuildRejectsIncompleteInput(t *testing.T) {
	in := baseInput()
	in.Pointers = nil
	_, err := Rebuild(in)
	assert.ErrorIs(t, err, ErrNoPointers)

	in = baseInput()
	in.Type = ""
	_, err = Rebuild(in)
	assert.ErrorIs(t, err, ErrNoType)
}

package entity

import (
	"bytes"
	"encoding/json"
	"fmt"

	"catalyst-migrator/pkg/types"
)

// decodeDocument decodes metadata preserving number literals.
func decodeDocument(metadata json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(metadata)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(metadata))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return doc, nil
}

// Normalize applies the type-specific fixes to metadata and returns a new
// document. The input bytes are never modified.
func Normalize(entityType types.EntityType, metadata json.RawMessage, files types.FileSet) (json.RawMessage, error) {
	doc, err := decodeDocument(metadata)
	if err != nil {
		return nil, err
	}

	switch entityType {
	case types.EntityTypeProfile:
		normalizeProfile(doc)
	case types.EntityTypeScene:
		normalizeScene(doc, files)
	}

	if doc == nil {
		return nil, nil
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return out, nil
}

// normalizeProfile defaults hasClaimedName to false and avatar.emotes to an
// empty list on every avatar where they are absent or null.
func normalizeProfile(doc any) {
	root, ok := doc.(map[string]any)
	if !ok {
		return
	}
	avatars, ok := root["avatars"].([]any)
	if !ok {
		return
	}
	for _, a := range avatars {
		avatar, ok := a.(map[string]any)
		if !ok {
			continue
		}
		if avatar["hasClaimedName"] == nil {
			avatar["hasClaimedName"] = false
		}
		inner, ok := avatar["avatar"].(map[string]any)
		if !ok {
			continue
		}
		if inner["emotes"] == nil {
			inner["emotes"] = []any{}
		}
	}
}

// normalizeScene drops display.navmapThumbnail when it names a file that is
// not part of the entity.
func normalizeScene(doc any, files types.FileSet) {
	display := sceneDisplay(doc)
	if display == nil {
		return
	}
	thumb, ok := display["navmapThumbnail"].(string)
	if !ok || thumb == "" {
		return
	}
	if !files.Has(thumb) {
		delete(display, "navmapThumbnail")
	}
}

func sceneDisplay(doc any) map[string]any {
	root, ok := doc.(map[string]any)
	if !ok {
		return nil
	}
	display, _ := root["display"].(map[string]any)
	return display
}

// OptionalFiles lists the file paths whose absence is tolerated when
// resolving an entity of the given type.
func OptionalFiles(entityType types.EntityType, metadata json.RawMessage) map[string]bool {
	if entityType != types.EntityTypeScene {
		return nil
	}
	doc, err := decodeDocument(metadata)
	if err != nil {
		return nil
	}
	display := sceneDisplay(doc)
	if display == nil {
		return nil
	}
	thumb, ok := display["navmapThumbnail"].(string)
	if !ok || thumb == "" {
		return nil
	}
	return map[string]bool{thumb: true}
}

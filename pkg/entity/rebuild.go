package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"catalyst-migrator/pkg/types"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

const entityVersion = "v3"

var (
	ErrNoPointers = errors.New("entity has no pointers")
	ErrNoType     = errors.New("entity has no type")
)

var rawPrefix = cid.Prefix{
	Version:  1,
	Codec:    cid.Raw,
	MhType:   multihash.SHA2_256,
	MhLength: -1,
}

// Hash returns the CIDv1 (raw codec, sha2-256, base32) of data.
func Hash(data []byte) (types.ContentHash, error) {
	c, err := rawPrefix.Sum(data)
	if err != nil {
		return "", fmt.Errorf("failed to hash content: %w", err)
	}
	return types.ContentHash(c.String()), nil
}

// Input is everything needed to build a new deployment of an entity.
type Input struct {
	Type      types.EntityType
	Pointers  []string
	Metadata  json.RawMessage
	Files     types.FileSet
	Timestamp time.Time
}

// Envelope is a rebuilt entity ready to be signed and deployed.
type Envelope struct {
	ID         types.ContentHash
	EntityFile []byte
	Entity     types.Entity
	// Files holds every blob to upload keyed by hash, the entity file included.
	Files map[types.ContentHash][]byte
}

// Size returns the number of bytes to upload.
func (e *Envelope) Size() int64 {
	var total int64
	for _, data := range e.Files {
		total += int64(len(data))
	}
	return total
}

type entityFile struct {
	Version   string              `json:"version"`
	Type      types.EntityType    `json:"type"`
	Pointers  []string            `json:"pointers"`
	Timestamp int64               `json:"timestamp"`
	Content   []types.ContentFile `json:"content"`
	Metadata  json.RawMessage     `json:"metadata,omitempty"`
}

// Rebuild normalizes the metadata, serializes the canonical entity file and
// derives the new identity. It is deterministic for identical input.
func Rebuild(in Input) (*Envelope, error) {
	if in.Type == "" {
		return nil, ErrNoType
	}
	if len(in.Pointers) == 0 {
		return nil, ErrNoPointers
	}

	metadata, err := Normalize(in.Type, in.Metadata, in.Files)
	if err != nil {
		return nil, err
	}

	files := make(map[types.ContentHash][]byte, len(in.Files)+1)
	content := make([]types.ContentFile, 0, len(in.Files))
	for _, path := range in.Files.Paths() {
		f := in.Files[path]
		hash := f.Hash
		if hash == "" {
			if hash, err = Hash(f.Data); err != nil {
				return nil, err
			}
		}
		content = append(content, types.ContentFile{File: path, Hash: hash})
		files[hash] = f.Data
	}

	timestamp := in.Timestamp.UnixMilli()
	pointers := append([]string(nil), in.Pointers...)

	data, err := json.Marshal(entityFile{
		Version:   entityVersion,
		Type:      in.Type,
		Pointers:  pointers,
		Timestamp: timestamp,
		Content:   content,
		Metadata:  metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode entity file: %w", err)
	}

	id, err := Hash(data)
	if err != nil {
		return nil, err
	}
	files[id] = data

	return &Envelope{
		ID:         id,
		EntityFile: data,
		Entity: types.Entity{
			ID:        id,
			Type:      in.Type,
			Pointers:  pointers,
			Timestamp: timestamp,
			Content:   content,
			Metadata:  metadata,
		},
		Files: files,
	}, nil
}

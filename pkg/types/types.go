package types

import (
	"encoding/json"
	"errors"
	"sort"
	"time"
)

// ErrContentNotFound is returned by resolvers when no blob exists for a hash.
var ErrContentNotFound = errors.New("content not found")

type ContentHash string
type EntityType string

const (
	EntityTypeProfile  EntityType = "profile"
	EntityTypeWearable EntityType = "wearable"
	EntityTypeScene    EntityType = "scene"
	EntityTypeEmote    EntityType = "emote"
	EntityTypeStore    EntityType = "store"
	EntityTypeOutfits  EntityType = "outfits"
)

// ContentFile is a (logical path, content hash) pair declared by an entity.
type ContentFile struct {
	File string      `json:"file"`
	Hash ContentHash `json:"hash"`
}

// Entity is a catalyst entity as served by the content API.
type Entity struct {
	ID        ContentHash     `json:"id"`
	Type      EntityType      `json:"type"`
	Pointers  []string        `json:"pointers"`
	Timestamp int64           `json:"timestamp"`
	Content   []ContentFile   `json:"content,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// PrimaryPointer returns the first pointer, used to identify an entity in logs.
func (e Entity) PrimaryPointer() string {
	if len(e.Pointers) == 0 {
		return ""
	}
	return e.Pointers[0]
}

// File is a resolved blob together with the path it is served under.
type File struct {
	Path string
	Hash ContentHash
	Data []byte
}

// FileSet maps logical file paths to resolved blobs.
type FileSet map[string]File

func (fs FileSet) Has(path string) bool {
	_, ok := fs[path]
	return ok
}

// Paths returns the file paths in lexical order.
func (fs FileSet) Paths() []string {
	paths := make([]string, 0, len(fs))
	for p := range fs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// TotalSize returns the sum of all blob sizes in bytes.
func (fs FileSet) TotalSize() int64 {
	var total int64
	for _, f := range fs {
		total += int64(len(f.Data))
	}
	return total
}

// Deployment is a row of the catalyst deployments table with its content files.
type Deployment struct {
	ID              int64
	EntityType      EntityType
	EntityID        ContentHash
	EntityTimestamp time.Time
	Pointers        []string
	Metadata        json.RawMessage
	Content         []ContentFile
}

// Entity converts the row to the entity it deployed.
func (d Deployment) Entity() Entity {
	return Entity{
		ID:        d.EntityID,
		Type:      d.EntityType,
		Pointers:  d.Pointers,
		Timestamp: d.EntityTimestamp.UnixMilli(),
		Content:   d.Content,
		Metadata:  d.Metadata,
	}
}

type AuthLinkType string

const (
	AuthLinkSigner            AuthLinkType = "SIGNER"
	AuthLinkECDSASignedEntity AuthLinkType = "ECDSA_SIGNED_ENTITY"
)

type AuthLink struct {
	Type      AuthLinkType `json:"type"`
	Payload   string       `json:"payload"`
	Signature string       `json:"signature"`
}

// AuthChain is the ordered proof that an address authorized an entity identity.
type AuthChain []AuthLink

type Stage string

const (
	StageEnumerating Stage = "enumerating"
	StageResolving   Stage = "resolving"
	StageRebuilding  Stage = "rebuilding"
	StageValidating  Stage = "validating"
	StageSigning     Stage = "signing"
	StageDeploying   Stage = "deploying"
	StageDone        Stage = "done"
)

type Outcome string

const (
	OutcomeDeployed Outcome = "deployed"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
	OutcomeDryRun   Outcome = "dry-run"
)

// MigrationRecord associates a source entity with the result of migrating it.
// It lives for the duration of a single run.
type MigrationRecord struct {
	RunID      string        `json:"run_id"`
	SourceID   ContentHash   `json:"source_id"`
	Type       EntityType    `json:"type"`
	Pointers   []string      `json:"pointers"`
	NewID      ContentHash   `json:"new_id,omitempty"`
	Stage      Stage         `json:"stage"`
	Outcome    Outcome       `json:"outcome"`
	Error      string        `json:"error,omitempty"`
	Bytes      int64         `json:"bytes,omitempty"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finished_at"`
}

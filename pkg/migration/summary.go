package migration

import (
	"time"

	"catalyst-migrator/pkg/types"
)

// Summary is the outcome of one run.
type Summary struct {
	RunID      string                  `json:"run_id" yaml:"run_id"`
	Source     string                  `json:"source" yaml:"source"`
	DryRun     bool                    `json:"dry_run" yaml:"dry_run"`
	Enumerated int                     `json:"enumerated" yaml:"enumerated"`
	Records    []types.MigrationRecord `json:"records,omitempty" yaml:"records,omitempty"`
	// Pointers is the deduplicated pointer set a dry run would deploy, in
	// first-seen order.
	Pointers []string      `json:"pointers,omitempty" yaml:"pointers,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Count returns the number of records with outcome.
func (s *Summary) Count(outcome types.Outcome) int {
	n := 0
	for _, r := range s.Records {
		if r.Outcome == outcome {
			n++
		}
	}
	return n
}

// Failures returns the records that did not deploy, in run order.
func (s *Summary) Failures() []types.MigrationRecord {
	var out []types.MigrationRecord
	for _, r := range s.Records {
		if r.Outcome == types.OutcomeFailed || r.Outcome == types.OutcomeSkipped {
			out = append(out, r)
		}
	}
	return out
}

// UploadedBytes sums the bytes of every deployed entity.
func (s *Summary) UploadedBytes() int64 {
	var total int64
	for _, r := range s.Records {
		if r.Outcome == types.OutcomeDeployed {
			total += r.Bytes
		}
	}
	return total
}

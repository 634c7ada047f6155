package models

import "time"

// ProgressRecord tracks one migration run for an entity kind.
type ProgressRecord struct {
	Kind      EntityKind `json:"kind"`
	Total     int64      `json:"total"`
	Processed int64      `json:"processed"`
	Completed bool       `json:"completed"`
	Errors    []string   `json:"errors"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Running reports whether the run has started and not yet completed.
func (p *ProgressRecord) Running() bool {
	return p != nil && !p.Completed && !p.StartTime.IsZero()
}

// Percent is the share of processed entities, 100 when there is nothing to copy.
func (p *ProgressRecord) Percent() float64 {
	if p.Total == 0 {
		return 100
	}
	return float64(p.Processed) / float64(p.Total) * 100
}

type VerifySample struct {
	ID             int64  `json:"id"`
	InPrimary      bool   `json:"in_primary"`
	InSecondary    bool   `json:"in_secondary"`
	Field          string `json:"field"`
	PrimaryValue   string `json:"primary_value"`
	SecondaryValue string `json:"secondary_value"`
	Match          bool   `json:"match"`
}

// VerifyReport compares the two stores for an entity kind. Mismatches are
// reported, never returned as errors.
type VerifyReport struct {
	Kind           EntityKind     `json:"kind"`
	PrimaryCount   int64          `json:"primary_count"`
	SecondaryCount int64          `json:"secondary_count"`
	CountMatch     bool           `json:"count_match"`
	Samples        []VerifySample `json:"samples"`
	Discrepancies  []string       `json:"discrepancies"`
	CheckedAt      time.Time      `json:"checked_at"`
}

type MirrorState string

const (
	MirrorUnsynced MirrorState = "unsynced"
	MirrorSynced   MirrorState = "synced"
	MirrorStale    MirrorState = "stale"
	MirrorDeleted  MirrorState = "deleted"
)

type MirrorStatus struct {
	Kind      EntityKind  `json:"kind"`
	EntityID  int64       `json:"entity_id"`
	State     MirrorState `json:"state"`
	LastError string      `json:"last_error,omitempty"`
	SyncedAt  *time.Time  `json:"synced_at,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
}

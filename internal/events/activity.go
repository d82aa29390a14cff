// Package events defines the payloads published through the outbox.
package events

import "time"

// ActivitySynced is emitted after a refresh persists its reconciled batch.
type ActivitySynced struct {
	OwnerID       string    `json:"owner_id"`
	Activities    int       `json:"activities"`
	EnrichedCount int       `json:"enriched_count"`
	RunCount      int       `json:"run_count"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// ActivityTagged is emitted when a user pins a training-type tag.
type ActivityTagged struct {
	OwnerID    string    `json:"owner_id"`
	ActivityID string    `json:"activity_id"`
	Tag        string    `json:"tag"`
	TaggedBy   string    `json:"tagged_by"`
	OccurredAt time.Time `json:"occurred_at"`
}

package model

import "time"

// Realtime event types that produce user-facing notifications.
const (
	EventEmailSynced     = "email_synced"
	EventCategoryUpdated = "category_updated"
	EventSyncStatus      = "sync_status"
)

// Notification is a realtime event surfaced to the user in the
// dashboard feed.
type Notification struct {
	// ID is the unique identifier for this notification.
	ID string `json:"id" db:"id"`

	// Kind is the realtime event type that produced it.
	Kind string `json:"kind" db:"kind"`

	// Message is the human-readable notification text.
	Message string `json:"message" db:"message"`

	// Payload holds the raw event data as JSON.
	Payload string `json:"payload" db:"payload"`

	// Read indicates whether the user has seen this notification.
	Read bool `json:"read" db:"read"`

	// CreatedAt is when this notification was received.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

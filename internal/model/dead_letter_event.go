package model

import "time"

// DeadLetterEvent is a billing webhook event that could not be applied and was
// parked for offline inspection. These are terminal failures; the repair
// sweeps are the safety net, not a retry of the stored payload.
type DeadLetterEvent struct {
	ID        string    `db:"id"`
	EventType string    `db:"event_type"`
	Payload   string    `db:"payload"` // raw event JSON
	Reason    string    `db:"reason"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

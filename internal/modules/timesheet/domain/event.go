package domain

import "time"

type EventKind string

const (
	EventLogin     EventKind = "login"
	EventSubmit    EventKind = "submit"
	EventLogout    EventKind = "logout"
	EventGiveUp    EventKind = "give_up"
	EventConfigure EventKind = "configure"
)

// Event is one row of the daemon's audit trail.
type Event struct {
	ID         string    `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	Kind       EventKind `json:"kind"`
	Username   string    `json:"username,omitempty"`
	OK         bool      `json:"ok"`
	Detail     string    `json:"detail,omitempty"`
	EntryDay   string    `json:"entry_day,omitempty"`
}

package domain

// Event is one entry in a user's friend-event inbox. Status is only
// set for status_changed events; At is Unix seconds.
type Event struct {
	Type   string `json:"type"`
	NPID   string `json:"npid"`
	Status string `json:"status,omitempty"`
	At     int64  `json:"at"`
}

const (
	EventStatusChanged   = "status_changed"
	EventRequestReceived = "friends_request_received"
)

// StatusUpdate is the folded form of a status_changed event inside a
// friends poll response.
type StatusUpdate struct {
	NPID   string `json:"npid"`
	Status string `json:"status"`
}

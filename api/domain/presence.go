package domain

// Presence statuses accepted by POST /v3kn/friends/presence. Anything
// else is ERR:InvalidStatus.
const (
	StatusOnline       = "online"
	StatusNotAvailable = "not_available"
	StatusOffline      = "offline"
)

// ValidStatus reports whether s is a known presence status.
func ValidStatus(s string) bool {
	switch s {
	case StatusOnline, StatusNotAvailable, StatusOffline:
		return true
	}
	return false
}

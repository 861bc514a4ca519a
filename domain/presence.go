package domain

import "time"

type PresenceStatus string

const (
	Online  PresenceStatus = "ONLINE"
	Offline PresenceStatus = "OFFLINE"
)

// PresenceEntry is owned by the presence tracker.
// It survives its last connection until Deadline so that reconnects don't flap.
type PresenceEntry struct {
	UserID          UserID
	LastHeartbeat   time.Time
	Deadline        time.Time
	LiveConnections int
}

// Expired is true once no connection is left and the grace window has passed.
func (p PresenceEntry) Expired(now time.Time) bool {
	return p.LiveConnections == 0 && !now.Before(p.Deadline)
}

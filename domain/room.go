package domain

type RoomID string

// PresenceRoom is the global presence feed.
// Clients may subscribe to it but never publish into it.
const PresenceRoom RoomID = "presence"

func (r RoomID) IsReserved() bool {
	return r == PresenceRoom
}

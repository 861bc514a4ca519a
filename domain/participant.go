// Package domain contains core concepts of the chat system.
// This file defines users and their live connections.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"time"
)

type UserID string

type ConnectionID string

// User is the profile known by the room directory.
type User struct {
	ID          UserID
	DisplayName string
}

// Connection is one live client session.
// A user may hold several connections at once (tabs, devices).
type Connection struct {
	ID           ConnectionID
	UserID       UserID
	Rooms        map[RoomID]struct{}
	CreatedAt    time.Time
	LastActivity time.Time
}

// Snapshot returns a copy safe to hand out of the registry.
func (c *Connection) Snapshot() Connection {
	rooms := make(map[RoomID]struct{}, len(c.Rooms))
	for r := range c.Rooms {
		rooms[r] = struct{}{}
	}
	return Connection{
		ID:           c.ID,
		UserID:       c.UserID,
		Rooms:        rooms,
		CreatedAt:    c.CreatedAt,
		LastActivity: c.LastActivity,
	}
}

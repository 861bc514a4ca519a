package runtime

import (
	"chat-hub/contract"
	"chat-hub/domain"
	"chat-hub/errors"
	"slices"
	"sync"
	"time"
)

var _ contract.IRegistry = (*Registry)(nil)

type Set map[domain.ConnectionID]struct{}

type session struct {
	conn *domain.Connection
	sink contract.ConnectionSink
}

// Registry is the single source of truth for live connections.
// Both indexes live behind one lock so that a connection is listed in a room
// exactly when the room is listed in the connection.
type Registry struct {
	mu          sync.RWMutex
	now         func() time.Time
	sessions    map[domain.ConnectionID]*session
	roomMembers map[domain.RoomID]Set
	userConns   map[domain.UserID]Set
}

func NewRegistry() *Registry {
	return NewRegistryWithClock(time.Now)
}

func NewRegistryWithClock(now func() time.Time) *Registry {
	return &Registry{
		now:         now,
		sessions:    make(map[domain.ConnectionID]*session),
		roomMembers: make(map[domain.RoomID]Set),
		userConns:   make(map[domain.UserID]Set),
	}
}

// Register records a freshly authenticated connection.
// A connection id can only be live once.
func (r *Registry) Register(userID domain.UserID, connectionID domain.ConnectionID,
	sink contract.ConnectionSink) (domain.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[connectionID]; ok {
		return domain.Connection{}, errors.ErrDuplicateConnection
	}
	now := r.now().UTC()
	conn := &domain.Connection{
		ID:           connectionID,
		UserID:       userID,
		Rooms:        make(map[domain.RoomID]struct{}),
		CreatedAt:    now,
		LastActivity: now,
	}
	r.sessions[connectionID] = &session{conn: conn, sink: sink}
	if _, ok := r.userConns[userID]; !ok {
		r.userConns[userID] = make(Set)
	}
	r.userConns[userID][connectionID] = struct{}{}
	return conn.Snapshot(), nil
}

// Subscribe adds the connection to the room. Subscribing twice is a no-op.
// The boolean is true when this connection is the first of its user in the room.
func (r *Registry) Subscribe(connectionID domain.ConnectionID, roomID domain.RoomID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connectionID]
	if !ok {
		return false, errors.ErrUnknownConnection
	}
	s.conn.LastActivity = r.now().UTC()
	if _, already := s.conn.Rooms[roomID]; already {
		return false, nil
	}
	firstOfUser := !r.userInRoomLocked(s.conn.UserID, roomID)

	s.conn.Rooms[roomID] = struct{}{}
	if _, ok := r.roomMembers[roomID]; !ok {
		r.roomMembers[roomID] = make(Set)
	}
	r.roomMembers[roomID][connectionID] = struct{}{}
	return firstOfUser, nil
}

// Unsubscribe removes the connection from the room.
// It returns true when the user no longer has any connection in the room.
func (r *Registry) Unsubscribe(connectionID domain.ConnectionID, roomID domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connectionID]
	if !ok {
		return false
	}
	if _, member := s.conn.Rooms[roomID]; !member {
		return false
	}
	r.leaveLocked(s.conn, roomID)
	return !r.userInRoomLocked(s.conn.UserID, roomID)
}

// Deregister removes the connection from every room and forgets it.
// The returned connection still lists the rooms it was in, left lists the
// rooms no other connection of the user is subscribed to anymore.
// Calling it for an unknown or already removed connection returns false.
func (r *Registry) Deregister(connectionID domain.ConnectionID) (domain.Connection, []domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connectionID]
	if !ok {
		return domain.Connection{}, nil, false
	}
	removed := s.conn.Snapshot()
	var left []domain.RoomID
	for roomID := range removed.Rooms {
		r.leaveLocked(s.conn, roomID)
		if !r.userInRoomLocked(s.conn.UserID, roomID) {
			left = append(left, roomID)
		}
	}
	delete(r.sessions, connectionID)
	if conns, ok := r.userConns[s.conn.UserID]; ok {
		delete(conns, connectionID)
		if len(conns) == 0 {
			delete(r.userConns, s.conn.UserID)
		}
	}
	slices.Sort(left)
	return removed, left, true
}

// SubscribersOf returns a snapshot of the room members.
// It may be stale by the time the caller iterates it.
func (r *Registry) SubscribersOf(roomID domain.RoomID) []contract.Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.roomMembers[roomID]
	if !ok {
		return nil
	}
	subscribers := make([]contract.Subscriber, 0, len(members))
	for connectionID := range members {
		if s, exists := r.sessions[connectionID]; exists {
			subscribers = append(subscribers, contract.Subscriber{
				ConnectionID: connectionID,
				UserID:       s.conn.UserID,
				Sink:         s.sink,
			})
		}
	}
	return subscribers
}

func (r *Registry) IsSubscribed(connectionID domain.ConnectionID, roomID domain.RoomID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[connectionID]
	if !ok {
		return false, errors.ErrUnknownConnection
	}
	_, member := s.conn.Rooms[roomID]
	return member, nil
}

// Member resolves the user behind a connection that must be in the room.
func (r *Registry) Member(connectionID domain.ConnectionID, roomID domain.RoomID) (domain.UserID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[connectionID]
	if !ok {
		return "", errors.ErrUnknownConnection
	}
	if _, member := s.conn.Rooms[roomID]; !member {
		return "", errors.ErrNotSubscribed
	}
	return s.conn.UserID, nil
}

func (r *Registry) Connection(connectionID domain.ConnectionID) (domain.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[connectionID]
	if !ok {
		return domain.Connection{}, false
	}
	return s.conn.Snapshot(), true
}

// Sink returns the outbound queue of a live connection.
func (r *Registry) Sink(connectionID domain.ConnectionID) (contract.ConnectionSink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[connectionID]
	if !ok {
		return nil, false
	}
	return s.sink, true
}

// Touch records client activity, unknown connections are ignored.
func (r *Registry) Touch(connectionID domain.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[connectionID]; ok {
		s.conn.LastActivity = r.now().UTC()
	}
}

// Idle lists the connections without activity since cutoff.
func (r *Registry) Idle(cutoff time.Time) []domain.ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var idle []domain.ConnectionID
	for id, s := range r.sessions {
		if s.conn.LastActivity.Before(cutoff) {
			idle = append(idle, id)
		}
	}
	return idle
}

func (r *Registry) RoomSubscriberCount(roomID domain.RoomID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roomMembers[roomID])
}

func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) UserConnections(userID domain.UserID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userConns[userID])
}

// leaveLocked keeps both indexes in step and never leaves an empty room behind.
func (r *Registry) leaveLocked(conn *domain.Connection, roomID domain.RoomID) {
	delete(conn.Rooms, roomID)
	if members, ok := r.roomMembers[roomID]; ok {
		delete(members, conn.ID)
		if len(members) == 0 {
			delete(r.roomMembers, roomID)
		}
	}
}

func (r *Registry) userInRoomLocked(userID domain.UserID, roomID domain.RoomID) bool {
	for connectionID := range r.userConns[userID] {
		if s, ok := r.sessions[connectionID]; ok {
			if _, member := s.conn.Rooms[roomID]; member {
				return true
			}
		}
	}
	return false
}

// consistent checks that the forward and reverse room indexes agree.
func (r *Registry) consistent() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for roomID, members := range r.roomMembers {
		if len(members) == 0 {
			return false
		}
		for connectionID := range members {
			s, ok := r.sessions[connectionID]
			if !ok {
				return false
			}
			if _, member := s.conn.Rooms[roomID]; !member {
				return false
			}
		}
	}
	for connectionID, s := range r.sessions {
		for roomID := range s.conn.Rooms {
			if _, ok := r.roomMembers[roomID][connectionID]; !ok {
				return false
			}
		}
	}
	return true
}

package runtime

import (
	"chat-hub/domain"
	"chat-hub/domain/event"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type PresenceNotifier func(change event.PresenceChanged)

// Presence tracks which users are online.
// A user stays online while at least one connection is live, and for one
// liveness window after the last one is gone or the last heartbeat was seen.
// Expiry only happens on Sweep, reads are as of the last sweep.
type Presence struct {
	// emitMu orders a transition and its notification, it is taken before mu
	emitMu  sync.Mutex
	mu      sync.RWMutex
	log     *slog.Logger
	entries map[domain.UserID]*domain.PresenceEntry
	window  time.Duration
	now     func() time.Time
	notify  PresenceNotifier
}

func NewPresence(log *slog.Logger, window time.Duration, now func() time.Time) *Presence {
	if now == nil {
		now = time.Now
	}
	return &Presence{
		log:     log,
		entries: make(map[domain.UserID]*domain.PresenceEntry),
		window:  window,
		now:     now,
		notify:  func(event.PresenceChanged) {},
	}
}

// OnChange sets the callback receiving ONLINE/OFFLINE transitions.
// It must be set before the tracker is used concurrently.
func (p *Presence) OnChange(notify PresenceNotifier) {
	if notify != nil {
		p.notify = notify
	}
}

// Connect records a new live connection for the user.
func (p *Presence) Connect(userID domain.UserID) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	now := p.now().UTC()
	p.mu.Lock()
	entry, exists := p.entries[userID]
	if !exists {
		entry = &domain.PresenceEntry{UserID: userID}
		p.entries[userID] = entry
	}
	entry.LiveConnections++
	entry.LastHeartbeat = now
	entry.Deadline = now.Add(p.window)
	p.mu.Unlock()

	if !exists {
		p.emit(userID, domain.Online, now)
	}
}

// Disconnect releases one live connection. The last one starts the grace window.
func (p *Presence) Disconnect(userID domain.UserID) {
	now := p.now().UTC()
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[userID]
	if !ok {
		return
	}
	if entry.LiveConnections > 0 {
		entry.LiveConnections--
	}
	if entry.LiveConnections == 0 {
		entry.Deadline = now.Add(p.window)
	}
}

// Heartbeat refreshes the deadline of the user, creating the entry when needed.
func (p *Presence) Heartbeat(userID domain.UserID) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	now := p.now().UTC()
	p.mu.Lock()
	entry, exists := p.entries[userID]
	if !exists {
		entry = &domain.PresenceEntry{UserID: userID}
		p.entries[userID] = entry
	}
	entry.LastHeartbeat = now
	entry.Deadline = now.Add(p.window)
	p.mu.Unlock()

	if !exists {
		p.emit(userID, domain.Online, now)
	}
}

func (p *Presence) IsOnline(userID domain.UserID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.entries[userID]
	return ok
}

// ListOnline returns the online users sorted by id.
func (p *Presence) ListOnline() []domain.UserID {
	p.mu.RLock()
	users := make([]domain.UserID, 0, len(p.entries))
	for userID := range p.entries {
		users = append(users, userID)
	}
	p.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

func (p *Presence) Entry(userID domain.UserID) (domain.PresenceEntry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, ok := p.entries[userID]
	if !ok {
		return domain.PresenceEntry{}, false
	}
	return *entry, true
}

// Sweep removes the entries that expired before now and reports them OFFLINE.
// Candidates are collected under the read lock, then each one is re-checked
// under the write lock so a concurrent reconnect always wins.
func (p *Presence) Sweep(now time.Time) []event.PresenceChanged {
	p.mu.RLock()
	var candidates []domain.UserID
	for userID, entry := range p.entries {
		if entry.Expired(now) {
			candidates = append(candidates, userID)
		}
	}
	p.mu.RUnlock()

	var changes []event.PresenceChanged
	for _, userID := range candidates {
		if change, expired := p.expire(userID, now); expired {
			changes = append(changes, change)
		}
	}
	if len(changes) > 0 {
		p.log.Debug("Presence sweep", "expired", len(changes))
	}
	return changes
}

func (p *Presence) expire(userID domain.UserID, now time.Time) (event.PresenceChanged, bool) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	entry, ok := p.entries[userID]
	expired := ok && entry.Expired(now)
	if expired {
		delete(p.entries, userID)
	}
	p.mu.Unlock()

	if !expired {
		return event.PresenceChanged{}, false
	}
	return p.emit(userID, domain.Offline, now), true
}

func (p *Presence) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

func (p *Presence) emit(userID domain.UserID, status domain.PresenceStatus, at time.Time) event.PresenceChanged {
	change := event.PresenceChanged{UserID: userID, Status: status, At: at.UTC()}
	p.notify(change)
	return change
}

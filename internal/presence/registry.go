// Package presence tracks which principals hold open connections.
package presence

import (
	"sort"
	"sync"
	"time"

	"marketplace-chat/internal/models"
)

type Entry struct {
	ConnectionID string
	PrincipalID  int64
	Profile      models.Principal
	ConnectedAt  time.Time
}

// Registry is a bidirectional index between connections and principals. A
// principal is online iff it has at least one connection; empty sets are
// never retained.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]Entry
	principals  map[int64]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]Entry),
		principals:  make(map[int64]map[string]struct{}),
	}
}

// Register records a connection for principal. Registering the same
// connection again replaces its entry.
func (r *Registry) Register(connectionID string, principal models.Principal) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.connections[connectionID]; ok {
		if prev.PrincipalID == principal.ID {
			return prev
		}
		r.removeLocked(connectionID, prev.PrincipalID)
	}

	entry := Entry{
		ConnectionID: connectionID,
		PrincipalID:  principal.ID,
		Profile:      principal,
		ConnectedAt:  time.Now().UTC(),
	}
	r.connections[connectionID] = entry

	set, ok := r.principals[principal.ID]
	if !ok {
		set = make(map[string]struct{})
		r.principals[principal.ID] = set
	}
	set[connectionID] = struct{}{}
	return entry
}

// Unregister removes a connection. It reports the removed entry and whether
// that was the principal's last connection.
func (r *Registry) Unregister(connectionID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.connections[connectionID]
	if !ok {
		return Entry{}, false
	}
	return entry, r.removeLocked(connectionID, entry.PrincipalID)
}

func (r *Registry) removeLocked(connectionID string, principalID int64) bool {
	delete(r.connections, connectionID)
	set := r.principals[principalID]
	delete(set, connectionID)
	if len(set) == 0 {
		delete(r.principals, principalID)
		return true
	}
	return false
}

func (r *Registry) Lookup(connectionID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.connections[connectionID]
	return entry, ok
}

// ConnectionsOf returns the principal's connection ids, sorted. Empty when offline.
func (r *Registry) ConnectionsOf(principalID int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.principals[principalID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) IsOnline(principalID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.principals[principalID]) > 0
}

// OnlineCount counts distinct principals, not connections.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.principals)
}

func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

func (r *Registry) OnlinePrincipals() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int64, 0, len(r.principals))
	for id := range r.principals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

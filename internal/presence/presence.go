// Package presence tracks the live connections of every user. A user may be
// connected from several devices at once; the set is rebuilt from scratch on
// restart as clients reconnect.
package presence

import (
	"sort"
	"sync"
)

type Resolver struct {
	mu    sync.RWMutex
	conns map[string]map[string]struct{} // userID -> connID set
}

func New() *Resolver {
	return &Resolver{
		conns: make(map[string]map[string]struct{}),
	}
}

// Register adds connID to the user's set. It reports whether this is the
// user's first live connection.
func (r *Resolver) Register(userID, connID string) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		r.conns[userID] = set
	}
	set[connID] = struct{}{}
	return len(set) == 1
}

// Unregister removes connID and returns how many connections the user still
// has. Zero means the user is no longer reachable.
func (r *Resolver) Unregister(userID, connID string) (remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[userID]
	if !ok {
		return 0
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.conns, userID)
		return 0
	}
	return len(set)
}

func (r *Resolver) ConnectionsOf(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.conns[userID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Resolver) IsReachable(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// HasOtherConnections reports whether the user is online on a connection
// other than connID.
func (r *Resolver) HasOtherConnections(userID, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id := range r.conns[userID] {
		if id != connID {
			return true
		}
	}
	return false
}

// OnlineUsers returns the set of reachable users.
func (r *Resolver) OnlineUsers() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	online := make(map[string]bool, len(r.conns))
	for userID := range r.conns {
		online[userID] = true
	}
	return online
}

// Counts returns the number of reachable users and live connections.
func (r *Resolver) Counts() (users, connections int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, set := range r.conns {
		connections += len(set)
	}
	return len(r.conns), connections
}

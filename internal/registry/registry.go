// Package registry owns the live call sessions and the reverse index from a
// user to the single call they occupy.
//
// The registry lock is a leaf: it is never held while a session lock is being
// acquired, so callers may use the registry while holding a session lock.
package registry

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tariel-x/meshcall/internal/models"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrCallNotFound  = errors.New("call not found")
	ErrAlreadyInCall = errors.New("user already in a call")
)

const callIDLength = 16

type Registry struct {
	mu          sync.Mutex
	calls       map[string]*models.CallSession
	byUser      map[string]string              // userID -> callID
	members     map[string]map[string]struct{} // callID -> userIDs indexed to it
	statusIndex map[models.CallStatus]map[string]struct{}
	newID       func() (string, error)
}

func New() *Registry {
	return &Registry{
		calls:   make(map[string]*models.CallSession),
		byUser:  make(map[string]string),
		members: make(map[string]map[string]struct{}),
		statusIndex: map[models.CallStatus]map[string]struct{}{
			models.CallStatusRinging: {},
			models.CallStatusActive:  {},
		},
		newID: func() (string, error) { return gonanoid.New(callIDLength) },
	}
}

// Create allocates a ringing session with the host as its only participant.
// It fails with ErrAlreadyInCall if the host occupies another call.
func (r *Registry) Create(hostID, hostName string, callType models.CallType, offer json.RawMessage, now time.Time) (*models.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.byUser[hostID]; busy {
		return nil, ErrAlreadyInCall
	}

	id, err := r.uniqueIDLocked()
	if err != nil {
		return nil, err
	}

	call := models.NewCallSession(id, hostID, hostName, callType, offer, now)
	r.calls[id] = call
	r.indexLocked(hostID, id)
	r.syncStatusIndexLocked(id, call.Status)
	return call, nil
}

func (r *Registry) Get(callID string) (*models.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, ok := r.calls[callID]
	if !ok {
		return nil, ErrCallNotFound
	}
	return call, nil
}

// FindByInviter looks a session up by its host.
//
// Deprecated: compatibility path for clients that still address calls by the
// host's user id. Use Get with the call id.
func (r *Registry) FindByInviter(hostID string) (*models.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	callID, ok := r.byUser[hostID]
	if !ok {
		return nil, ErrCallNotFound
	}
	call, ok := r.calls[callID]
	if !ok || call.HostID != hostID {
		return nil, ErrCallNotFound
	}
	return call, nil
}

// Remove deletes the session and every index entry that points at it.
func (r *Registry) Remove(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for userID := range r.members[callID] {
		if r.byUser[userID] == callID {
			delete(r.byUser, userID)
		}
	}
	delete(r.members, callID)
	delete(r.calls, callID)
	r.untrackStatusLocked(callID)
}

func (r *Registry) OccupiedBy(userID string) (callID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	callID, ok = r.byUser[userID]
	return callID, ok
}

// Claim points userID at callID if the user is free. Claiming the call the
// user already occupies succeeds.
func (r *Registry) Claim(userID, callID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.calls[callID]; !ok {
		return false
	}
	if current, busy := r.byUser[userID]; busy {
		return current == callID
	}
	r.indexLocked(userID, callID)
	return true
}

// Release removes the user's index entry if it still points at callID.
func (r *Registry) Release(userID, callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byUser[userID] != callID {
		return
	}
	delete(r.byUser, userID)
	if set, ok := r.members[callID]; ok {
		delete(set, userID)
	}
}

func (r *Registry) SetStatus(callID string, status models.CallStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.calls[callID]; !ok {
		return
	}
	r.syncStatusIndexLocked(callID, status)
}

// ListByStatus returns sessions in the given status ordered by start time.
func (r *Registry) ListByStatus(status models.CallStatus) []*models.CallSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := r.statusIndex[status]
	calls := make([]*models.CallSession, 0, len(bucket))
	for id := range bucket {
		if call, ok := r.calls[id]; ok {
			calls = append(calls, call)
		}
	}

	sort.Slice(calls, func(i, j int) bool {
		if calls[i].StartTime.Equal(calls[j].StartTime) {
			return calls[i].ID < calls[j].ID
		}
		return calls[i].StartTime.Before(calls[j].StartTime)
	})
	return calls
}

// Counts returns the number of live sessions per status and the number of
// users that occupy a call.
func (r *Registry) Counts() (byStatus map[models.CallStatus]int, occupied int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byStatus = make(map[models.CallStatus]int, len(r.statusIndex))
	for status, bucket := range r.statusIndex {
		byStatus[status] = len(bucket)
	}
	return byStatus, len(r.byUser)
}

func (r *Registry) uniqueIDLocked() (string, error) {
	for {
		id, err := r.newID()
		if err != nil {
			return "", err
		}
		if _, taken := r.calls[id]; !taken {
			return id, nil
		}
	}
}

func (r *Registry) indexLocked(userID, callID string) {
	r.byUser[userID] = callID
	set, ok := r.members[callID]
	if !ok {
		set = make(map[string]struct{})
		r.members[callID] = set
	}
	set[userID] = struct{}{}
}

func (r *Registry) syncStatusIndexLocked(callID string, status models.CallStatus) {
	r.untrackStatusLocked(callID)
	if bucket, ok := r.statusIndex[status]; ok {
		bucket[callID] = struct{}{}
	}
}

func (r *Registry) untrackStatusLocked(callID string) {
	for _, bucket := range r.statusIndex {
		delete(bucket, callID)
	}
}

package models

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// CallStatus is the lifecycle state of a call session.
// Keep values stable because they are part of the public API.
type CallStatus string

const (
	CallStatusRinging CallStatus = "ringing"
	CallStatusActive  CallStatus = "active"
	CallStatusEnded   CallStatus = "ended"
)

type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

type ParticipantStatus string

const (
	ParticipantConnecting ParticipantStatus = "connecting"
	ParticipantConnected  ParticipantStatus = "connected"
)

// EndReason is sent with call-ended.
type EndReason string

const (
	EndReasonRejected     EndReason = "rejected"
	EndReasonHostLeft     EndReason = "host_left"
	EndReasonEnded        EndReason = "ended"
	EndReasonDisconnected EndReason = "disconnected"
)

type Participant struct {
	Status   ParticipantStatus `json:"status"`
	JoinedAt time.Time         `json:"joined_at"`
}

// CallSession is owned by the registry. ID, HostID, HostName, CallType,
// StartTime and Offer never change after creation; everything else is only
// read or written while holding the session lock.
type CallSession struct {
	mu sync.Mutex

	ID             string
	HostID         string
	HostName       string
	CallType       CallType
	Status         CallStatus
	StartTime      time.Time
	Offer          json.RawMessage
	Participants   map[string]*Participant
	PendingInvites map[string]time.Time // userID -> invited at
}

func NewCallSession(id, hostID, hostName string, callType CallType, offer json.RawMessage, now time.Time) *CallSession {
	return &CallSession{
		ID:        id,
		HostID:    hostID,
		HostName:  hostName,
		CallType:  callType,
		Status:    CallStatusRinging,
		StartTime: now,
		Offer:     offer,
		Participants: map[string]*Participant{
			hostID: {Status: ParticipantConnected, JoinedAt: now},
		},
		PendingInvites: make(map[string]time.Time),
	}
}

func (c *CallSession) Lock()   { c.mu.Lock() }
func (c *CallSession) Unlock() { c.mu.Unlock() }

func (c *CallSession) IsParticipant(userID string) bool {
	_, ok := c.Participants[userID]
	return ok
}

func (c *CallSession) IsPending(userID string) bool {
	_, ok := c.PendingInvites[userID]
	return ok
}

// ParticipantIDs returns participant ids with the host first, the rest sorted.
func (c *CallSession) ParticipantIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for id := range c.Participants {
		if id != c.HostID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if c.IsParticipant(c.HostID) {
		ids = append([]string{c.HostID}, ids...)
	}
	return ids
}

func (c *CallSession) PendingIDs() []string {
	ids := make([]string, 0, len(c.PendingInvites))
	for id := range c.PendingInvites {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UserRef is a resolved identity.
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ParticipantInfo struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Status   ParticipantStatus `json:"status"`
	JoinedAt time.Time         `json:"joined_at"`
}

// CallInfo is the snapshot answered to get-call-info.
type CallInfo struct {
	CallID         string            `json:"call_id"`
	HostID         string            `json:"host_id"`
	HostName       string            `json:"host_name"`
	CallType       CallType          `json:"call_type"`
	Status         CallStatus        `json:"status"`
	StartTime      time.Time         `json:"start_time"`
	Participants   []ParticipantInfo `json:"participants"`
	PendingInvites []string          `json:"pending_invites"`
}

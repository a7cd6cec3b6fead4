package handlers

import (
	"encoding/json"

	"github.com/tariel-x/meshcall/internal/models"
)

// EventKind is the closed set of events a client may send.
type EventKind string

const (
	EventStartCall       EventKind = "start-call"
	EventAcceptCall      EventKind = "accept-call"
	EventRejectCall      EventKind = "reject-call"
	EventLeaveCall       EventKind = "leave-call"
	EventSendAnswer      EventKind = "send-answer"
	EventSendOfferToPeer EventKind = "send-offer-to-peer"
	EventSendCandidate   EventKind = "send-candidate"
	EventAddParticipant  EventKind = "add-participant"
	EventGetCallInfo     EventKind = "get-call-info"
	EventSendCallChat    EventKind = "send-call-chat"
	EventPing            EventKind = "ping"
)

type inboundEnvelope struct {
	Type EventKind       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type startCallData struct {
	TargetUserIDs []string        `json:"target_user_ids"`
	Offer         json.RawMessage `json:"offer"`
	CallType      models.CallType `json:"call_type"`
}

type callRefData struct {
	CallID string `json:"call_id"`
	HostID string `json:"host_id"`
}

type leaveCallData struct {
	Reason string `json:"reason"`
}

type relayData struct {
	TargetUserID string          `json:"target_user_id"`
	CallID       string          `json:"call_id"`
	Offer        json.RawMessage `json:"offer,omitempty"`
	Answer       json.RawMessage `json:"answer,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
}

type addParticipantData struct {
	CallID       string `json:"call_id"`
	TargetUserID string `json:"target_user_id"`
}

type callChatData struct {
	CallID     string `json:"call_id"`
	Content    string `json:"content"`
	SenderName string `json:"sender_name"`
}

const maxChatLength = 4000

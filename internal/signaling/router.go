// Package signaling relays negotiation payloads and call notifications to the
// connections of specific users. Payloads are forwarded untouched.
package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/tariel-x/meshcall/internal/presence"
	"github.com/tariel-x/meshcall/internal/registry"
)

var ErrNotAParticipant = errors.New("not a participant of this call")

// Transport is the connection layer the router addresses. Sends are
// fire-and-forget and must not block.
type Transport interface {
	SendTo(connID string, payload []byte) bool
	JoinGroup(connID, group string)
	LeaveGroup(connID, group string)
	BroadcastToGroup(group string, payload []byte, except ...string) int
}

type Router struct {
	presence  *presence.Resolver
	calls     *registry.Registry
	transport Transport
	logger    *slog.Logger
	nowFn     func() time.Time
}

func New(p *presence.Resolver, calls *registry.Registry, t Transport, logger *slog.Logger) *Router {
	return &Router{
		presence:  p,
		calls:     calls,
		transport: t,
		logger:    logger,
		nowFn:     time.Now,
	}
}

// CallGroup is the transport group holding every device of every confirmed
// participant of a call.
func CallGroup(callID string) string {
	return "call:" + callID
}

func (r *Router) SendToConnection(connID, event string, data any) bool {
	frame := Encode(event, data)
	if frame == nil {
		r.logger.Error("signaling encode failed", "event", event)
		return false
	}
	return r.transport.SendTo(connID, frame)
}

// SendToUser delivers to every device of userID and returns how many
// connections accepted the frame.
func (r *Router) SendToUser(userID, event string, data any) int {
	frame := Encode(event, data)
	if frame == nil {
		r.logger.Error("signaling encode failed", "event", event)
		return 0
	}
	delivered := 0
	for _, connID := range r.presence.ConnectionsOf(userID) {
		if r.transport.SendTo(connID, frame) {
			delivered++
		}
	}
	if delivered == 0 {
		r.logger.Debug("signaling not delivered", "event", event, "to_user_id", userID)
	}
	return delivered
}

func (r *Router) RelayOffer(fromUserID, toUserID, callID string, offer json.RawMessage) int {
	r.logger.Debug("relay offer", "call_id", callID, "from", fromUserID, "to", toUserID, "data_bytes", len(offer))
	return r.SendToUser(toUserID, EventCallOffer, OfferData{CallID: callID, FromUserID: fromUserID, Offer: offer})
}

func (r *Router) RelayAnswer(fromUserID, toUserID, callID string, answer json.RawMessage) int {
	r.logger.Debug("relay answer", "call_id", callID, "from", fromUserID, "to", toUserID, "data_bytes", len(answer))
	return r.SendToUser(toUserID, EventCallAnswer, AnswerData{CallID: callID, FromUserID: fromUserID, Answer: answer})
}

func (r *Router) RelayCandidate(fromUserID, toUserID, callID string, candidate json.RawMessage) int {
	return r.SendToUser(toUserID, EventCallICECandidate, CandidateData{CallID: callID, FromUserID: fromUserID, Candidate: candidate})
}

// BroadcastToCall sends to all devices of all confirmed participants.
func (r *Router) BroadcastToCall(callID, event string, data any) int {
	frame := Encode(event, data)
	if frame == nil {
		r.logger.Error("signaling encode failed", "event", event)
		return 0
	}
	return r.transport.BroadcastToGroup(CallGroup(callID), frame)
}

// RelayChatMessage delivers an in-call text message to every participant
// except the sender.
func (r *Router) RelayChatMessage(fromUserID, callID, senderName, content string) error {
	call, err := r.calls.Get(callID)
	if err != nil {
		return err
	}
	call.Lock()
	member := call.IsParticipant(fromUserID)
	call.Unlock()
	if !member {
		return ErrNotAParticipant
	}

	frame := Encode(EventCallChatMessage, ChatData{
		CallID:     callID,
		FromUserID: fromUserID,
		SenderName: senderName,
		Content:    content,
		SentAt:     r.nowFn().UnixMilli(),
	})
	r.transport.BroadcastToGroup(CallGroup(callID), frame, r.presence.ConnectionsOf(fromUserID)...)
	return nil
}

// AttachUser adds every device of userID to the call group.
func (r *Router) AttachUser(callID, userID string) {
	for _, connID := range r.presence.ConnectionsOf(userID) {
		r.transport.JoinGroup(connID, CallGroup(callID))
	}
}

// AttachConnection adds a single device, used when a participant connects a
// new device mid-call.
func (r *Router) AttachConnection(callID, connID string) {
	r.transport.JoinGroup(connID, CallGroup(callID))
}

func (r *Router) DetachUser(callID, userID string) {
	for _, connID := range r.presence.ConnectionsOf(userID) {
		r.transport.LeaveGroup(connID, CallGroup(callID))
	}
}

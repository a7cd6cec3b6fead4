package signaling

import "encoding/json"

// Envelope is the JSON frame exchanged over the websocket in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Outbound event names.
const (
	EventCallCreated            = "call-created"
	EventCallIncoming           = "call-incoming"
	EventCallUsersUnavailable   = "call-users-unavailable"
	EventCallParticipantJoined  = "call-participant-joined"
	EventCallOffer              = "call-offer"
	EventCallAnswer             = "call-answer"
	EventCallICECandidate       = "call-ice-candidate"
	EventCallParticipantInvited = "call-participant-invited"
	EventCallParticipantReject  = "call-participant-rejected"
	EventCallParticipantLeft    = "call-participant-left"
	EventCallEnded              = "call-ended"
	EventCallInfo               = "call-info"
	EventCallChatMessage        = "call-chat-message"
	EventCallError              = "call-error"
)

type OfferData struct {
	CallID     string          `json:"call_id"`
	FromUserID string          `json:"from_user_id"`
	Offer      json.RawMessage `json:"offer"`
}

type AnswerData struct {
	CallID     string          `json:"call_id"`
	FromUserID string          `json:"from_user_id"`
	Answer     json.RawMessage `json:"answer"`
}

type CandidateData struct {
	CallID     string          `json:"call_id"`
	FromUserID string          `json:"from_user_id"`
	Candidate  json.RawMessage `json:"candidate"`
}

type ChatData struct {
	CallID     string `json:"call_id"`
	FromUserID string `json:"from_user_id"`
	SenderName string `json:"sender_name"`
	Content    string `json:"content"`
	SentAt     int64  `json:"sent_at"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Encode builds a wire frame. Marshalling failures yield nil and are dropped
// by the router.
func Encode(event string, data any) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	frame, err := json.Marshal(Envelope{Type: event, Data: raw})
	if err != nil {
		return nil
	}
	return frame
}

package calls

import (
	"encoding/json"

	"github.com/tariel-x/meshcall/internal/models"
)

type StartCallRequest struct {
	TargetUserIDs []string
	Offer         json.RawMessage
	CallType      models.CallType
}

// CallRef addresses a call by id or, for older clients, by its host.
type CallRef struct {
	CallID string
	HostID string
}

type UnavailableUser struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type CallCreatedData struct {
	CallID      string            `json:"call_id"`
	CallType    models.CallType   `json:"call_type"`
	Invited     []models.UserRef  `json:"invited"`
	Unavailable []UnavailableUser `json:"unavailable,omitempty"`
}

type UsersUnavailableData struct {
	CallID string            `json:"call_id"`
	Users  []UnavailableUser `json:"users"`
}

type IncomingCallData struct {
	CallID       string           `json:"call_id"`
	CallType     models.CallType  `json:"call_type"`
	HostID       string           `json:"host_id"`
	HostName     string           `json:"host_name"`
	InviterID    string           `json:"inviter_id"`
	InviterName  string           `json:"inviter_name"`
	Offer        json.RawMessage  `json:"offer,omitempty"`
	Participants []models.UserRef `json:"participants"`
}

type ParticipantJoinedData struct {
	CallID       string           `json:"call_id"`
	UserID       string           `json:"user_id"`
	UserName     string           `json:"user_name"`
	Participants []models.UserRef `json:"participants"`
}

type ParticipantInvitedData struct {
	CallID      string `json:"call_id"`
	UserID      string `json:"user_id"`
	UserName    string `json:"user_name"`
	InviterID   string `json:"inviter_id"`
	InviterName string `json:"inviter_name"`
}

type ParticipantRejectedData struct {
	CallID   string `json:"call_id"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

type ParticipantLeftData struct {
	CallID   string `json:"call_id"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Reason   string `json:"reason,omitempty"`
}

type CallEndedData struct {
	CallID string           `json:"call_id"`
	Reason models.EndReason `json:"reason"`
}

type CallInfoData struct {
	InCall bool             `json:"in_call"`
	Call   *models.CallInfo `json:"call,omitempty"`
}

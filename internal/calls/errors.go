package calls

import (
	"errors"

	"github.com/tariel-x/meshcall/internal/registry"
	"github.com/tariel-x/meshcall/internal/signaling"
)

// Validation errors are reported to the initiating connection only. None of
// them leaves shared state modified.
var (
	ErrAlreadyInCall           = registry.ErrAlreadyInCall
	ErrSessionNotFound         = registry.ErrCallNotFound
	ErrNotAParticipant         = signaling.ErrNotAParticipant
	ErrNoEligibleTargets       = errors.New("no eligible users to call")
	ErrAlreadyPresentOrInvited = errors.New("user already in this call or invited")
	ErrTargetUnavailable       = errors.New("user is busy or offline")
	ErrInvalidCallType         = errors.New("call_type must be 'audio' or 'video'")
)

// Code maps an error to the stable code carried by call-error.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyInCall):
		return "already_in_call"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrNotAParticipant):
		return "not_a_participant"
	case errors.Is(err, ErrNoEligibleTargets):
		return "no_eligible_targets"
	case errors.Is(err, ErrAlreadyPresentOrInvited):
		return "already_present_or_invited"
	case errors.Is(err, ErrTargetUnavailable):
		return "target_unavailable"
	case errors.Is(err, ErrInvalidCallType):
		return "invalid_call_type"
	default:
		return "internal_error"
	}
}

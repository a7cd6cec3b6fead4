package calls

import (
	"time"

	"github.com/tariel-x/meshcall/internal/models"
	"github.com/tariel-x/meshcall/internal/signaling"
)

const (
	ReasonInCall  = "in_call"
	ReasonOffline = "offline"
)

type Eligibility struct {
	Eligible bool
	Reason   string
}

// CheckEligible reports whether userID may be invited: not occupying any call
// and reachable on at least one connection.
func (s *Service) CheckEligible(userID string) Eligibility {
	if _, busy := s.calls.OccupiedBy(userID); busy {
		return Eligibility{Reason: ReasonInCall}
	}
	if !s.presence.IsReachable(userID) {
		return Eligibility{Reason: ReasonOffline}
	}
	return Eligibility{Eligible: true}
}

// classifyTargets splits the requested invitees. Empty ids, duplicates and the
// caller are dropped.
func (s *Service) classifyTargets(callerID string, targets []string) (available []string, unavailable map[string]string) {
	unavailable = make(map[string]string)
	seen := make(map[string]struct{}, len(targets))
	for _, id := range targets {
		if id == "" || id == callerID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if e := s.CheckEligible(id); e.Eligible {
			available = append(available, id)
		} else {
			unavailable[id] = e.Reason
		}
	}
	return available, unavailable
}

// The helpers below require the session lock.

func (s *Service) inviteLocked(call *models.CallSession, userID string, now time.Time) error {
	if call.IsParticipant(userID) || call.IsPending(userID) {
		return ErrAlreadyPresentOrInvited
	}
	call.PendingInvites[userID] = now
	return nil
}

// acceptLocked moves userID from the pending set to the participants and
// claims the user's single call slot.
func (s *Service) acceptLocked(call *models.CallSession, userID string, now time.Time) error {
	if !call.IsPending(userID) {
		return ErrNotAParticipant
	}
	if !s.calls.Claim(userID, call.ID) {
		return ErrAlreadyInCall
	}

	delete(call.PendingInvites, userID)
	call.Participants[userID] = &models.Participant{
		Status:   models.ParticipantConnecting,
		JoinedAt: now,
	}
	if call.Status != models.CallStatusActive {
		call.Status = models.CallStatusActive
		s.calls.SetStatus(call.ID, call.Status)
	}
	s.router.AttachUser(call.ID, userID)
	return nil
}

// rejectLocked drops a pending invite. A call with only its host left and
// nobody ringing is terminated. Reports whether the invite existed.
func (s *Service) rejectLocked(call *models.CallSession, userID, userName string) bool {
	if !call.IsPending(userID) {
		return false
	}
	delete(call.PendingInvites, userID)

	s.router.BroadcastToCall(call.ID, signaling.EventCallParticipantReject, ParticipantRejectedData{
		CallID:   call.ID,
		UserID:   userID,
		UserName: userName,
	})

	if len(call.Participants) == 1 && len(call.PendingInvites) == 0 {
		s.terminateLocked(call, models.EndReasonRejected)
	}
	return true
}

// leaveLocked removes a confirmed participant. The host leaving, or the last
// participant leaving, ends the call.
func (s *Service) leaveLocked(call *models.CallSession, userID, userName, reason string, hostReason models.EndReason) {
	if !call.IsParticipant(userID) {
		return
	}
	delete(call.Participants, userID)
	s.calls.Release(userID, call.ID)
	s.router.DetachUser(call.ID, userID)

	switch {
	case userID == call.HostID:
		s.terminateLocked(call, hostReason)
	case len(call.Participants) < 1:
		s.terminateLocked(call, models.EndReasonEnded)
	default:
		s.router.BroadcastToCall(call.ID, signaling.EventCallParticipantLeft, ParticipantLeftData{
			CallID:   call.ID,
			UserID:   userID,
			UserName: userName,
			Reason:   reason,
		})
	}
}

func (s *Service) markConnectedLocked(call *models.CallSession, userID string) {
	if p, ok := call.Participants[userID]; ok && p.Status == models.ParticipantConnecting {
		p.Status = models.ParticipantConnected
	}
}

// terminateLocked notifies everyone still attached to the call, purges the
// group and index entries and removes the session.
func (s *Service) terminateLocked(call *models.CallSession, reason models.EndReason) {
	if call.Status == models.CallStatusEnded {
		return
	}
	call.Status = models.CallStatusEnded

	ended := CallEndedData{CallID: call.ID, Reason: reason}
	s.router.BroadcastToCall(call.ID, signaling.EventCallEnded, ended)
	for userID := range call.PendingInvites {
		s.router.SendToUser(userID, signaling.EventCallEnded, ended)
	}

	for userID := range call.Participants {
		s.router.DetachUser(call.ID, userID)
	}
	s.calls.Remove(call.ID)

	s.logger.Info("call ended", "call_id", call.ID, "reason", reason,
		"participants", len(call.Participants), "pending", len(call.PendingInvites))

	call.Participants = make(map[string]*models.Participant)
	call.PendingInvites = make(map[string]time.Time)
}

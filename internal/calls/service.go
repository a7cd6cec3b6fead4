// Package calls implements the call lifecycle: creation, invites, accept,
// reject, leave, disconnect and termination.
//
// Locking: every session has its own mutex and all reads and writes of its
// participants, pending invites and status happen under it. The registry,
// presence and transport locks are leaves taken briefly under a session lock.
// Directory lookups never run under a session lock; notifications that depend
// on their results re-check the session before they are sent.
package calls

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/tariel-x/meshcall/internal/directory"
	"github.com/tariel-x/meshcall/internal/models"
	"github.com/tariel-x/meshcall/internal/presence"
	"github.com/tariel-x/meshcall/internal/registry"
	"github.com/tariel-x/meshcall/internal/signaling"
)

// Directory resolves display names. Implementations must not fail: missing
// names come back as a placeholder. Callers index DisplayNames results by id
// and tolerate missing entries.
type Directory interface {
	DisplayName(ctx context.Context, userID string) string
	DisplayNames(ctx context.Context, userIDs []string) []models.UserRef
}

// Notifier wakes up every registered device of an invited user, including
// ones without a live connection. It runs in the background for each invite.
type Notifier interface {
	NotifyIncomingCall(ctx context.Context, userID, callID, callerName string, callType models.CallType)
}

type Service struct {
	calls     *registry.Registry
	presence  *presence.Resolver
	router    *signaling.Router
	directory Directory
	notifier  Notifier
	logger    *slog.Logger

	ringTimeout time.Duration
	nowFn       func() time.Time
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithRingTimeout sets how long an invite may stay unanswered before the
// sweeper expires it. Zero disables expiry.
func WithRingTimeout(d time.Duration) Option {
	return func(s *Service) { s.ringTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.nowFn = now }
}

func NewService(calls *registry.Registry, p *presence.Resolver, router *signaling.Router, dir Directory, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		calls:       calls,
		presence:    p,
		router:      router,
		directory:   dir,
		logger:      logger,
		ringTimeout: 60 * time.Second,
		nowFn:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lockLive locks call and reports whether it is still live. On false the lock
// is not held.
func lockLive(call *models.CallSession) bool {
	call.Lock()
	if call.Status == models.CallStatusEnded {
		call.Unlock()
		return false
	}
	return true
}

// StartCall creates a session inviting every eligible target. Targets that are
// busy or offline are reported back to the host; if none is eligible nothing
// is created.
func (s *Service) StartCall(ctx context.Context, hostID string, req StartCallRequest) (*CallCreatedData, error) {
	if !req.CallType.Valid() {
		return nil, ErrInvalidCallType
	}
	if _, busy := s.calls.OccupiedBy(hostID); busy {
		return nil, ErrAlreadyInCall
	}

	available, unavailable := s.classifyTargets(hostID, req.TargetUserIDs)
	if len(available) == 0 {
		s.logger.Debug("start call rejected", "host_id", hostID, "unavailable", len(unavailable))
		return nil, ErrNoEligibleTargets
	}

	hostName := s.directory.DisplayName(ctx, hostID)
	lookup := append([]string{}, available...)
	for id := range unavailable {
		lookup = append(lookup, id)
	}
	names := refsByID(s.directory.DisplayNames(ctx, lookup))

	now := s.nowFn()
	call, err := s.calls.Create(hostID, hostName, req.CallType, req.Offer, now)
	if err != nil {
		return nil, err
	}
	return s.open(call, hostName, available, unavailable, names, now)
}

// open invites the available targets into a freshly created session and
// announces it. The host may leave or drop between Create and here, in which
// case nothing is sent.
func (s *Service) open(call *models.CallSession, hostName string, available []string, unavailable, names map[string]string, now time.Time) (*CallCreatedData, error) {
	if !lockLive(call) {
		return nil, ErrSessionNotFound
	}
	defer call.Unlock()
	hostID := call.HostID

	for _, id := range available {
		_ = s.inviteLocked(call, id, now)
	}
	s.router.AttachUser(call.ID, hostID)

	created := &CallCreatedData{CallID: call.ID, CallType: call.CallType}
	for _, id := range available {
		created.Invited = append(created.Invited, models.UserRef{ID: id, Name: nameOr(names, id)})
	}
	for _, id := range sortedKeys(unavailable) {
		created.Unavailable = append(created.Unavailable, UnavailableUser{ID: id, Name: nameOr(names, id), Reason: unavailable[id]})
	}

	s.router.SendToUser(hostID, signaling.EventCallCreated, created)
	if len(created.Unavailable) > 0 {
		s.router.SendToUser(hostID, signaling.EventCallUsersUnavailable, UsersUnavailableData{
			CallID: call.ID,
			Users:  created.Unavailable,
		})
	}

	incoming := IncomingCallData{
		CallID:       call.ID,
		CallType:     call.CallType,
		HostID:       hostID,
		HostName:     hostName,
		InviterID:    hostID,
		InviterName:  hostName,
		Offer:        call.Offer,
		Participants: []models.UserRef{{ID: hostID, Name: hostName}},
	}
	for _, id := range available {
		s.router.SendToUser(id, signaling.EventCallIncoming, incoming)
		s.wake(id, call.ID, hostName, call.CallType)
	}

	s.logger.Info("call created", "call_id", call.ID, "host_id", hostID, "call_type", call.CallType,
		"invited", len(available), "unavailable", len(unavailable))
	return created, nil
}

// findInvite locates the session in which userID holds a pending invite,
// trying the call id first and then the host id. The returned session is
// locked.
func (s *Service) findInvite(userID string, ref CallRef) (*models.CallSession, error) {
	var candidates []*models.CallSession
	if ref.CallID != "" {
		if call, err := s.calls.Get(ref.CallID); err == nil {
			candidates = append(candidates, call)
		}
	}
	if ref.HostID != "" {
		if call, err := s.calls.FindByInviter(ref.HostID); err == nil {
			candidates = append(candidates, call)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrSessionNotFound
	}

	for _, call := range candidates {
		if !lockLive(call) {
			continue
		}
		if call.IsPending(userID) {
			return call, nil
		}
		call.Unlock()
	}
	return nil, ErrNotAParticipant
}

// AcceptCall turns a pending invite into a confirmed participation.
func (s *Service) AcceptCall(ctx context.Context, userID string, ref CallRef) error {
	call, err := s.findInvite(userID, ref)
	if err != nil {
		return err
	}
	if err := s.acceptLocked(call, userID, s.nowFn()); err != nil {
		call.Unlock()
		return err
	}
	participants := call.ParticipantIDs()
	call.Unlock()

	s.logger.Info("call accepted", "call_id", call.ID, "user_id", userID, "participants", len(participants))

	refs := s.directory.DisplayNames(ctx, participants)
	userName := refsByID(refs)[userID]

	if !lockLive(call) {
		return nil
	}
	defer call.Unlock()
	if !call.IsParticipant(userID) {
		return nil
	}
	s.router.BroadcastToCall(call.ID, signaling.EventCallParticipantJoined, ParticipantJoinedData{
		CallID:       call.ID,
		UserID:       userID,
		UserName:     userName,
		Participants: refs,
	})
	return nil
}

// RejectCall declines a pending invite. A missing session or invite is
// ignored silently.
func (s *Service) RejectCall(ctx context.Context, userID string, ref CallRef) error {
	userName := s.directory.DisplayName(ctx, userID)

	call, err := s.findInvite(userID, ref)
	if err != nil {
		return nil
	}
	defer call.Unlock()

	if s.rejectLocked(call, userID, userName) {
		s.logger.Info("call rejected", "call_id", call.ID, "user_id", userID)
	}
	return nil
}

// LeaveCall removes userID from the call they occupy. Not being in a call is
// not an error.
func (s *Service) LeaveCall(ctx context.Context, userID, reason string) error {
	callID, ok := s.calls.OccupiedBy(userID)
	if !ok {
		return nil
	}
	call, err := s.calls.Get(callID)
	if err != nil {
		return nil
	}
	userName := s.directory.DisplayName(ctx, userID)

	if !lockLive(call) {
		return nil
	}
	defer call.Unlock()

	s.logger.Info("call left", "call_id", call.ID, "user_id", userID, "reason", reason)
	s.leaveLocked(call, userID, userName, reason, models.EndReasonHostLeft)
	return nil
}

// AddParticipant lets a confirmed participant invite another user mid-call.
func (s *Service) AddParticipant(ctx context.Context, inviterID, callID, targetID string) error {
	call, err := s.calls.Get(callID)
	if err != nil {
		return ErrSessionNotFound
	}

	if !lockLive(call) {
		return ErrSessionNotFound
	}
	if !call.IsParticipant(inviterID) {
		call.Unlock()
		return ErrNotAParticipant
	}
	if targetID == "" || call.IsParticipant(targetID) || call.IsPending(targetID) {
		call.Unlock()
		return ErrAlreadyPresentOrInvited
	}
	if e := s.CheckEligible(targetID); !e.Eligible {
		call.Unlock()
		return ErrTargetUnavailable
	}
	invitedAt := s.nowFn()
	if err := s.inviteLocked(call, targetID, invitedAt); err != nil {
		call.Unlock()
		return err
	}
	participants := call.ParticipantIDs()
	call.Unlock()

	s.logger.Info("participant invited", "call_id", call.ID, "inviter_id", inviterID, "user_id", targetID)

	names := refsByID(s.directory.DisplayNames(ctx, append(participants, targetID)))
	participantRefs := make([]models.UserRef, 0, len(participants))
	for _, id := range participants {
		participantRefs = append(participantRefs, models.UserRef{ID: id, Name: nameOr(names, id)})
	}

	if !lockLive(call) {
		return nil
	}
	defer call.Unlock()
	if at, pending := call.PendingInvites[targetID]; !pending || !at.Equal(invitedAt) {
		return nil
	}

	s.router.SendToUser(targetID, signaling.EventCallIncoming, IncomingCallData{
		CallID:       call.ID,
		CallType:     call.CallType,
		HostID:       call.HostID,
		HostName:     call.HostName,
		InviterID:    inviterID,
		InviterName:  nameOr(names, inviterID),
		Offer:        call.Offer,
		Participants: participantRefs,
	})
	s.router.BroadcastToCall(call.ID, signaling.EventCallParticipantInvited, ParticipantInvitedData{
		CallID:      call.ID,
		UserID:      targetID,
		UserName:    nameOr(names, targetID),
		InviterID:   inviterID,
		InviterName: nameOr(names, inviterID),
	})
	s.wake(targetID, call.ID, nameOr(names, inviterID), call.CallType)
	return nil
}

type RelayKind int

const (
	RelayOffer RelayKind = iota
	RelayAnswer
	RelayCandidate
)

// Relay forwards a negotiation payload between two members of callID. The
// sender must be a confirmed participant; the target a participant or a
// pending invitee. An answer marks its sender connected.
func (s *Service) Relay(kind RelayKind, fromUserID, toUserID, callID string, payload json.RawMessage) error {
	call, err := s.calls.Get(callID)
	if err != nil {
		return ErrSessionNotFound
	}
	if !lockLive(call) {
		return ErrSessionNotFound
	}
	if !call.IsParticipant(fromUserID) {
		call.Unlock()
		return ErrNotAParticipant
	}
	if !call.IsParticipant(toUserID) && !call.IsPending(toUserID) {
		call.Unlock()
		return ErrNotAParticipant
	}
	if kind == RelayAnswer {
		s.markConnectedLocked(call, fromUserID)
	}
	call.Unlock()

	switch kind {
	case RelayOffer:
		s.router.RelayOffer(fromUserID, toUserID, callID, payload)
	case RelayAnswer:
		s.router.RelayAnswer(fromUserID, toUserID, callID, payload)
	case RelayCandidate:
		s.router.RelayCandidate(fromUserID, toUserID, callID, payload)
	}
	return nil
}

// MarkConnected records that userID finished negotiating.
func (s *Service) MarkConnected(userID, callID string) {
	call, err := s.calls.Get(callID)
	if err != nil || !lockLive(call) {
		return
	}
	defer call.Unlock()
	s.markConnectedLocked(call, userID)
}

// CallInfo returns a snapshot of the call userID occupies, or nil.
func (s *Service) CallInfo(ctx context.Context, userID string) *models.CallInfo {
	callID, ok := s.calls.OccupiedBy(userID)
	if !ok {
		return nil
	}
	call, err := s.calls.Get(callID)
	if err != nil || !lockLive(call) {
		return nil
	}

	info := &models.CallInfo{
		CallID:         call.ID,
		HostID:         call.HostID,
		HostName:       call.HostName,
		CallType:       call.CallType,
		Status:         call.Status,
		StartTime:      call.StartTime,
		PendingInvites: call.PendingIDs(),
	}
	ids := call.ParticipantIDs()
	for _, id := range ids {
		p := call.Participants[id]
		info.Participants = append(info.Participants, models.ParticipantInfo{ID: id, Status: p.Status, JoinedAt: p.JoinedAt})
	}
	call.Unlock()

	names := refsByID(s.directory.DisplayNames(ctx, ids))
	for i := range info.Participants {
		info.Participants[i].Name = nameOr(names, info.Participants[i].ID)
	}
	return info
}

// Connect registers a new device. A device of a user already in a call joins
// that call's broadcast group.
func (s *Service) Connect(userID, connID string) {
	s.presence.Register(userID, connID)
	if callID, ok := s.calls.OccupiedBy(userID); ok {
		s.router.AttachConnection(callID, connID)
	}
}

// ConnectionLost handles a dropped device. Nothing changes while the user has
// other live connections. Otherwise the host, or a sole participant, ends the
// call; other participants leave it; pending invites are rejected.
func (s *Service) ConnectionLost(ctx context.Context, userID, connID string) {
	if remaining := s.presence.Unregister(userID, connID); remaining > 0 {
		return
	}
	userName := s.directory.DisplayName(ctx, userID)

	// The lookup may outlast a reconnect; every decision below re-checks
	// presence under the session lock.
	if callID, ok := s.calls.OccupiedBy(userID); ok {
		if call, err := s.calls.Get(callID); err == nil && lockLive(call) {
			if call.IsParticipant(userID) && !s.presence.IsReachable(userID) {
				s.logger.Info("participant disconnected", "call_id", call.ID, "user_id", userID)
				if userID == call.HostID || len(call.Participants) == 1 {
					s.terminateLocked(call, models.EndReasonDisconnected)
				} else {
					s.leaveLocked(call, userID, userName, string(models.EndReasonDisconnected), models.EndReasonDisconnected)
				}
			}
			call.Unlock()
		}
	}

	for _, call := range s.liveCalls() {
		if !lockLive(call) {
			continue
		}
		if !s.presence.IsReachable(userID) {
			s.rejectLocked(call, userID, userName)
		}
		call.Unlock()
	}
}

// ExpireInvites rejects invites that have been ringing longer than the ring
// timeout.
func (s *Service) ExpireInvites(ctx context.Context) int {
	if s.ringTimeout <= 0 {
		return 0
	}
	deadline := s.nowFn().Add(-s.ringTimeout)

	type expired struct {
		call   *models.CallSession
		userID string
		at     time.Time
	}
	var stale []expired
	for _, call := range s.liveCalls() {
		if !lockLive(call) {
			continue
		}
		for userID, at := range call.PendingInvites {
			if at.Before(deadline) {
				stale = append(stale, expired{call: call, userID: userID, at: at})
			}
		}
		call.Unlock()
	}
	if len(stale) == 0 {
		return 0
	}

	ids := make([]string, 0, len(stale))
	for _, e := range stale {
		ids = append(ids, e.userID)
	}
	names := refsByID(s.directory.DisplayNames(ctx, ids))

	count := 0
	for _, e := range stale {
		if !lockLive(e.call) {
			continue
		}
		if at, ok := e.call.PendingInvites[e.userID]; ok && at.Equal(e.at) {
			s.rejectLocked(e.call, e.userID, nameOr(names, e.userID))
			s.router.SendToUser(e.userID, signaling.EventCallEnded, CallEndedData{CallID: e.call.ID, Reason: models.EndReasonRejected})
			count++
		}
		e.call.Unlock()
	}
	s.logger.Info("expired unanswered invites", "count", count)
	return count
}

// RunSweeper expires unanswered invites until ctx is done.
func (s *Service) RunSweeper(ctx context.Context) {
	if s.ringTimeout <= 0 {
		return
	}
	interval := s.ringTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ExpireInvites(ctx)
		}
	}
}

func (s *Service) liveCalls() []*models.CallSession {
	calls := s.calls.ListByStatus(models.CallStatusRinging)
	return append(calls, s.calls.ListByStatus(models.CallStatusActive)...)
}

func (s *Service) wake(userID, callID, callerName string, callType models.CallType) {
	if s.notifier == nil {
		return
	}
	go s.notifier.NotifyIncomingCall(context.Background(), userID, callID, callerName, callType)
}

func nameOr(names map[string]string, id string) string {
	if name, ok := names[id]; ok && name != "" {
		return name
	}
	return directory.PlaceholderName
}

func refsByID(refs []models.UserRef) map[string]string {
	names := make(map[string]string, len(refs))
	for _, ref := range refs {
		names[ref.ID] = ref.Name
	}
	return names
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tariel-x/meshcall/internal/auth"
	"github.com/tariel-x/meshcall/internal/calls"
	"github.com/tariel-x/meshcall/internal/signaling"
	"github.com/tariel-x/meshcall/internal/transport"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 70 * time.Second
	wsPingPeriod   = 30 * time.Second
	wsMaxFrameSize = 256 * 1024
)

// ContextConnID is the gin context key holding the websocket connection id.
const ContextConnID = "conn_id"

var errBadPayload = errors.New("malformed event payload")

func (h *Handlers) HandleWebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = c.GetHeader("Authorization")
	}
	userID, err := h.tokens.Parse(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	conn, err := h.wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "user_id", userID, "error", err)
		return
	}

	buffer := 0
	if h.config != nil {
		buffer = h.config.SendBuffer
	}
	client := transport.NewClient(userID, conn, buffer)
	c.Set(auth.ContextUserID, userID)
	c.Set(ContextConnID, client.ID)
	h.hub.Add(client)
	h.calls.Connect(userID, client.ID)
	h.logger.Debug("ws connected", "user_id", userID, "conn_id", client.ID, "ip", c.ClientIP())

	go h.writePump(client)
	h.readPump(client)
}

func (h *Handlers) readPump(client *transport.Client) {
	conn := client.Conn()
	defer func() {
		_ = conn.Close()
		if h.hub.Remove(client.ID) {
			h.logger.Debug("ws disconnect", "user_id", client.UserID, "conn_id", client.ID)
			h.calls.ConnectionLost(context.Background(), client.UserID, client.ID)
		}
	}()

	conn.SetReadLimit(wsMaxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			h.logger.Debug("ws read error", "user_id", client.UserID, "conn_id", client.ID, "error", err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var msg inboundEnvelope
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.logger.Debug("ws bad json", "user_id", client.UserID, "error", err)
			continue
		}
		h.dispatch(client, msg)
	}
}

func (h *Handlers) writePump(client *transport.Client) {
	conn := client.Conn()
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch handles one inbound event. A panic is logged and the event dropped;
// the connection stays up.
func (h *Handlers) dispatch(client *transport.Client, msg inboundEnvelope) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("ws event panic", "user_id", client.UserID, "type", msg.Type, "panic", r)
		}
	}()

	if msg.Type == EventPing {
		return
	}
	// Payloads carry SDP and candidates; log sizes only.
	h.logger.Debug("ws recv", "user_id", client.UserID, "conn_id", client.ID, "type", msg.Type, "data_bytes", len(msg.Data))

	ctx := context.Background()
	var err error

	switch msg.Type {
	case EventStartCall:
		var d startCallData
		if err = decode(msg.Data, &d); err == nil {
			_, err = h.calls.StartCall(ctx, client.UserID, calls.StartCallRequest{
				TargetUserIDs: d.TargetUserIDs,
				Offer:         d.Offer,
				CallType:      d.CallType,
			})
		}
	case EventAcceptCall:
		var d callRefData
		if err = decode(msg.Data, &d); err == nil {
			err = h.calls.AcceptCall(ctx, client.UserID, calls.CallRef{CallID: d.CallID, HostID: d.HostID})
		}
	case EventRejectCall:
		var d callRefData
		if err = decode(msg.Data, &d); err == nil {
			err = h.calls.RejectCall(ctx, client.UserID, calls.CallRef{CallID: d.CallID, HostID: d.HostID})
		}
	case EventLeaveCall:
		var d leaveCallData
		_ = decode(msg.Data, &d)
		err = h.calls.LeaveCall(ctx, client.UserID, d.Reason)
	case EventSendOfferToPeer:
		var d relayData
		if err = decode(msg.Data, &d); err == nil {
			err = h.calls.Relay(calls.RelayOffer, client.UserID, d.TargetUserID, d.CallID, d.Offer)
		}
	case EventSendAnswer:
		var d relayData
		if err = decode(msg.Data, &d); err == nil {
			err = h.calls.Relay(calls.RelayAnswer, client.UserID, d.TargetUserID, d.CallID, d.Answer)
		}
	case EventSendCandidate:
		var d relayData
		if err = decode(msg.Data, &d); err == nil {
			err = h.calls.Relay(calls.RelayCandidate, client.UserID, d.TargetUserID, d.CallID, d.Candidate)
		}
	case EventAddParticipant:
		var d addParticipantData
		if err = decode(msg.Data, &d); err == nil {
			err = h.calls.AddParticipant(ctx, client.UserID, d.CallID, d.TargetUserID)
		}
	case EventGetCallInfo:
		info := h.calls.CallInfo(ctx, client.UserID)
		h.router.SendToConnection(client.ID, signaling.EventCallInfo, calls.CallInfoData{InCall: info != nil, Call: info})
	case EventSendCallChat:
		var d callChatData
		if err = decode(msg.Data, &d); err == nil {
			err = h.sendChat(ctx, client.UserID, d)
		}
	default:
		h.logger.Debug("ws unknown event", "user_id", client.UserID, "type", msg.Type)
		return
	}

	if err != nil {
		h.logger.Debug("ws event failed", "user_id", client.UserID, "type", msg.Type, "error", err)
		h.sendError(client, err)
	}
}

func (h *Handlers) sendChat(ctx context.Context, userID string, d callChatData) error {
	content := strings.TrimSpace(d.Content)
	if content == "" {
		return nil
	}
	content = truncate(content, maxChatLength)
	name := strings.TrimSpace(d.SenderName)
	if name == "" {
		name = h.names.DisplayName(ctx, userID)
	}
	return h.router.RelayChatMessage(userID, d.CallID, name, content)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// sendError answers the initiating connection only.
func (h *Handlers) sendError(client *transport.Client, err error) {
	code := calls.Code(err)
	if errors.Is(err, errBadPayload) {
		code = "bad_request"
	}
	h.router.SendToConnection(client.ID, signaling.EventCallError, signaling.ErrorData{
		Code:    code,
		Message: err.Error(),
	})
}

func decode(data json.RawMessage, into any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, into); err != nil {
		return errBadPayload
	}
	return nil
}

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tariel-x/meshcall/internal/auth"
	"github.com/tariel-x/meshcall/internal/calls"
	"github.com/tariel-x/meshcall/internal/models"
)

type healthResponse struct {
	Status        string                    `json:"status"`
	UptimeSeconds int64                     `json:"uptime_seconds"`
	Calls         map[models.CallStatus]int `json:"calls"`
	UsersInCall   int                       `json:"users_in_call"`
	OnlineUsers   int                       `json:"online_users"`
	Connections   int                       `json:"connections"`
}

// GetCurrentCall mirrors the get-call-info websocket event.
func (h *Handlers) GetCurrentCall(c *gin.Context) {
	info := h.calls.CallInfo(c.Request.Context(), auth.UserID(c))
	c.JSON(http.StatusOK, calls.CallInfoData{InCall: info != nil, Call: info})
}

func (h *Handlers) Healthz(c *gin.Context) {
	byStatus, occupied := h.registry.Counts()
	users, conns := h.presence.Counts()
	c.JSON(http.StatusOK, healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Calls:         byStatus,
		UsersInCall:   occupied,
		OnlineUsers:   users,
		Connections:   conns,
	})
}

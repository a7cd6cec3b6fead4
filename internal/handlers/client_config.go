package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type clientConfigResponse struct {
	Debug              bool   `json:"debug"`
	RingTimeoutSeconds int    `json:"ring_timeout_seconds"`
	VAPIDPublicKey     string `json:"vapid_public_key,omitempty"`
}

func (h *Handlers) GetClientConfig(c *gin.Context) {
	resp := clientConfigResponse{}
	if h.config != nil {
		resp.Debug = h.config.LogLevel == "debug"
		resp.RingTimeoutSeconds = int(h.config.RingTimeout.Seconds())
	}
	if h.push != nil {
		resp.VAPIDPublicKey = h.push.PublicKey()
	}
	c.JSON(http.StatusOK, resp)
}

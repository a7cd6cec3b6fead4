package handlers

import "github.com/gin-gonic/gin"

// Routes mounts the API under /api.
func (h *Handlers) Routes(r gin.IRouter) {
	api := r.Group("/api")
	{
		api.POST("/register", h.Register)
		api.POST("/login", h.Login)
		api.GET("/healthz", h.Healthz)
		api.GET("/client-config", h.GetClientConfig)
		api.GET("/vapid-public-key", h.GetVAPIDPublicKey)
		api.GET("/ws", h.HandleWebSocket)
	}

	authed := api.Group("")
	authed.Use(h.tokens.Middleware())
	{
		authed.GET("/me", h.GetMe)
		authed.GET("/users", h.ListUsers)
		authed.GET("/calls/current", h.GetCurrentCall)
		authed.POST("/push/subscribe", h.SubscribePush)
		authed.DELETE("/push/subscribe", h.UnsubscribePush)
	}
}

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tariel-x/meshcall/internal/auth"
	"github.com/tariel-x/meshcall/internal/calls"
	"github.com/tariel-x/meshcall/internal/config"
	"github.com/tariel-x/meshcall/internal/directory"
	"github.com/tariel-x/meshcall/internal/presence"
	"github.com/tariel-x/meshcall/internal/push"
	"github.com/tariel-x/meshcall/internal/registry"
	"github.com/tariel-x/meshcall/internal/signaling"
	"github.com/tariel-x/meshcall/internal/transport"
)

type Handlers struct {
	config    *config.Config
	tokens    *auth.Tokens
	users     *directory.Store
	names     *directory.Resolver
	presence  *presence.Resolver
	registry  *registry.Registry
	calls     *calls.Service
	router    *signaling.Router
	hub       *transport.Hub
	push      *push.Service
	logger    *slog.Logger
	startedAt time.Time

	wsUpgrader websocket.Upgrader
}

type Deps struct {
	Config   *config.Config
	Tokens   *auth.Tokens
	Users    *directory.Store
	Names    *directory.Resolver
	Presence *presence.Resolver
	Registry *registry.Registry
	Calls    *calls.Service
	Router   *signaling.Router
	Hub      *transport.Hub
	Push     *push.Service
	Logger   *slog.Logger
}

func New(d Deps) *Handlers {
	return &Handlers{
		config:    d.Config,
		tokens:    d.Tokens,
		users:     d.Users,
		names:     d.Names,
		presence:  d.Presence,
		registry:  d.Registry,
		calls:     d.Calls,
		router:    d.Router,
		hub:       d.Hub,
		push:      d.Push,
		logger:    d.Logger,
		startedAt: time.Now(),
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

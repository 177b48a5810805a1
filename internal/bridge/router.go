// Package bridge implements the Frontend Bridge: the chi-routed HTTP/JSON
// API and websocket push hub that exposes the Host Manager, Monitor
// Manager and Command Handler to an operator UI. One handler per resource
// sits behind a JWT-gated route group, and a register/unregister/broadcast
// hub fans out host-state changes over websocket.
package bridge

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nmslite/nmslite/internal/auth"
	"github.com/nmslite/nmslite/internal/commandhandler"
	"github.com/nmslite/nmslite/internal/history"
	"github.com/nmslite/nmslite/internal/hostmanager"
	"github.com/nmslite/nmslite/internal/monitormanager"
)

// Bridge owns the HTTP router and the websocket hub, and installs itself as
// the Host Manager's display listener.
type Bridge struct {
	router http.Handler
	hub    *hub
}

// New builds the router and starts (but does not run) the websocket hub;
// call Run to start pumping broadcasts.
func New(authService *auth.Service, hosts *hostmanager.Manager, monitors *monitormanager.Manager, commands *commandhandler.Manager, store *history.Store, logger *slog.Logger) *Bridge {
	h := newHub(logger)
	hosts.SetDisplayListener(h.pushHostUpdate)

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(recovery(logger))
	r.Use(requestLogger(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	authH := &authHandler{service: authService}
	hostH := &hostHandler{hosts: hosts}
	monitorH := &monitorHandler{monitors: monitors}
	commandH := &commandHandlerAPI{commands: commands}
	historyH := &historyHandlerAPI{store: store}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", authH.login)

		r.Group(func(r chi.Router) {
			r.Use(jwtAuth(authService))

			r.Get("/ws", h.serveWS)

			r.Route("/hosts", func(r chi.Router) {
				r.Get("/", hostH.list)
				r.Get("/{host}", hostH.get)
				r.Get("/{host}/history", historyH.history)

				r.Route("/{host}/monitors", func(r chi.Router) {
					r.Get("/", monitorH.list)
					r.Post("/{monitor}/refresh", monitorH.refreshByID)
					r.Post("/categories/{category}/refresh", monitorH.refreshCategory)
				})

				r.Route("/{host}/commands", func(r chi.Router) {
					r.Get("/", commandH.list)
					r.Post("/{command}/execute", commandH.execute)
					r.Post("/{command}/confirm", commandH.confirm)
				})
			})
		})
	})

	return &Bridge{router: r, hub: h}
}

// Run starts the websocket hub's broadcast loop. Must be called before any
// client connects.
func (b *Bridge) Run() {
	go b.hub.run()
}

func (b *Bridge) Handler() http.Handler {
	return b.router
}

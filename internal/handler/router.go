package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	conversationHandler "github.com/medivoice/backend/internal/handler/conversation"
	profileHandler "github.com/medivoice/backend/internal/handler/profile"
	streamHandler "github.com/medivoice/backend/internal/handler/stream"
	transcriptHandler "github.com/medivoice/backend/internal/handler/transcript"
	middlewarePkg "github.com/medivoice/backend/internal/middleware"
	conversationService "github.com/medivoice/backend/internal/service/conversation"
	profileService "github.com/medivoice/backend/internal/service/profile"
	"github.com/medivoice/backend/internal/service/realtime"
	"github.com/medivoice/backend/pkg/utils"
)

// Deps carries the wired services the router mounts. Optional integrations
// are nil when their credentials are absent; the affected routes degrade
// instead of the whole server refusing to start.
type Deps struct {
	Store    *conversationService.Store
	Signaler streamHandler.Signaler
	Manager  *realtime.Manager
	Conns    *realtime.ConnectionManager
	Reporter streamHandler.Reporter
	Profiles *profileService.Client
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	var profileReader streamHandler.ProfileReader
	if deps.Profiles != nil {
		profileReader = deps.Profiles
	}

	stream := streamHandler.New(deps.Store, deps.Signaler, deps.Manager, deps.Reporter, profileReader)
	transcripts := transcriptHandler.New(deps.Store, deps.Conns, deps.Manager)
	conversations := conversationHandler.New(deps.Store)

	r.Route("/api", func(api chi.Router) {
		stream.RegisterRoutes(api)
		transcripts.RegisterRoutes(api)
		conversations.RegisterRoutes(api)

		if deps.Profiles != nil {
			profileHandler.New(deps.Profiles).RegisterRoutes(api)
		}
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}

package router

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/itchan-dev/itchat/backend/internal/handler"
	"github.com/itchan-dev/itchat/backend/internal/setup"
	"github.com/itchan-dev/itchat/shared/config"
	"github.com/itchan-dev/itchat/shared/csrf"
	mw "github.com/itchan-dev/itchat/shared/middleware"
	"github.com/itchan-dev/itchat/shared/middleware/metrics"
	"github.com/itchan-dev/itchat/shared/middleware/ratelimiter"
)

// New creates the chi router with every route.
func New(deps *setup.Dependencies) http.Handler {
	return newRouter(deps.Config, deps.Handler, deps.Auth.NeedAuth(), deps.SendLimiter)
}

func newRouter(cfg *config.Config, h *handler.Handler, needAuth func(http.Handler) http.Handler, sendLimiter *ratelimiter.Limiter) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Public.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", csrf.HeaderName},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(mw.SecurityHeaders(cfg.Public.HSTS))

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Handle("/metrics", promhttp.Handler())

	prefix := "/" + strings.Trim(cfg.Public.MediaURLPrefix, "/") + "/"
	r.With(needAuth).Get(prefix+"*", mediaHandler(prefix, cfg.Public.MediaRoot))

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(needAuth)
		v1.Use(csrf.Protect(mw.AuthCookie))

		v1.Get("/csrf", h.CSRFToken)

		// event streams outlive any request timeout
		v1.Get("/threads/{thread}/events", h.ThreadEvents)

		v1.Group(func(api chi.Router) {
			api.Use(middleware.Timeout(cfg.Public.RequestTimeout))

			api.Get("/threads", h.ListThreads)
			api.Get("/threads/{thread}/messages", h.GetMessages)
			api.Post("/threads/{thread}/read", h.MarkRead)
			api.Get("/threads/{thread}/draft", h.GetDraft)
			api.Put("/threads/{thread}/draft", h.PutDraft)
			api.Get("/recipients", h.SearchRecipients)
			api.Get("/blocks", h.ListBlocked)
			api.Put("/blocks/{user}", h.Block)
			api.Delete("/blocks/{user}", h.Unblock)
			api.Get("/operations", h.PendingOperations)

			api.Group(func(send chi.Router) {
				send.Use(mw.RateLimit(sendLimiter, mw.GetActor))

				send.Post("/threads", h.StartThread)
				send.Post("/threads/{thread}/messages", h.SendText)
				send.Post("/threads/{thread}/attachments", h.SendAttachment)
				send.Post("/threads/{thread}/polls", h.SendPoll)
				send.Post("/threads/{thread}/polls/{poll}/votes", h.Vote)
				send.Post("/direct/messages", h.SendDirect)
			})
		})
	})

	return r
}

// mediaHandler serves uploaded files. Directory listings are refused.
func mediaHandler(prefix, root string) http.HandlerFunc {
	files := http.StripPrefix(prefix, http.FileServer(http.Dir(root)))
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	}
}

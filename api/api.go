// Package api exposes the management controller's HTTP surface: session
// login and logout, session administration, auth method configuration, and
// the cooperative lock service. It is a thin adapter; all session semantics
// live in the session package.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/ironbmc/accounts"
	"github.com/jmcleod/ironbmc/locks"
	"github.com/jmcleod/ironbmc/session"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	store    *session.Store
	accounts *accounts.Registry
	locks    *locks.Registry
	audit    *auditLogger
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.audit = newAuditLogger(logger)
	}
}

// WithLockRegistry enables the cooperative lock endpoints. The same registry
// must be wired into the session store as its LockReleaser so that locks die
// with their session.
func WithLockRegistry(reg *locks.Registry) Option {
	return func(a *API) {
		a.locks = reg
	}
}

// New creates a new API instance.
func New(store *session.Store, registry *accounts.Registry, opts ...Option) *API {
	a := &API{
		store:    store,
		accounts: registry,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.audit == nil {
		a.audit = newAuditLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Post("/login", a.Login)

	r.Group(func(r chi.Router) {
		r.Use(a.AuthMiddleware)

		r.Post("/logout", a.Logout)

		r.Get("/sessions", a.ListSessions)
		r.Get("/sessions/{sessionID}", a.GetSession)
		r.Delete("/sessions/{sessionID}", a.DeleteSession)

		r.Get("/config/auth-methods", a.GetAuthMethods)
		r.Patch("/config/auth-methods", a.UpdateAuthMethods)
		r.Get("/config/session-timeout", a.GetSessionTimeout)
		r.Patch("/config/session-timeout", a.SetSessionTimeout)

		r.Post("/accounts/{username}/password", a.ChangePassword)

		if a.locks != nil {
			r.Post("/locks", a.AcquireLock)
			r.Get("/locks", a.ListLocks)
			r.Delete("/locks/{lockID}", a.ReleaseLock)
		}
	})

	return r
}

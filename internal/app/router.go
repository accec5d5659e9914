package app

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/gatehouse-auth/gatehouse/internal/account"
	"github.com/gatehouse-auth/gatehouse/internal/audit"
	"github.com/gatehouse-auth/gatehouse/internal/authn"
	"github.com/gatehouse-auth/gatehouse/internal/authz"
	"github.com/gatehouse-auth/gatehouse/internal/directory"
	"github.com/gatehouse-auth/gatehouse/internal/observability"
	"github.com/gatehouse-auth/gatehouse/internal/platform/httpx"
	"github.com/gatehouse-auth/gatehouse/internal/session"
	"github.com/gatehouse-auth/gatehouse/internal/shared"
	"github.com/gatehouse-auth/gatehouse/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionStore   *shared.SessionStore
	CSRFManager    *shared.CSRFManager
	Directory      directory.Directory
	Sessions       *session.Manager
	Engine         *authn.Engine
	Authorizer     authz.Authorizer
	AccountHandler *account.Handler
	AuditRecorder  *audit.Recorder
	JobHandler     *jobs.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with Gatehouse defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:       params.Logger,
		Config:       params.Config,
		SessionStore: params.SessionStore,
		CSRFManager:  params.CSRFManager,
		Directory:    params.Directory,
		Sessions:     params.Sessions,
		Metrics:      params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/csrf", func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		token, err := params.CSRFManager.EnsureToken(r.Context(), sess)
		if err != nil {
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"csrf_token": token})
	})

	params.AccountHandler.MountRoutes(r)

	// Session-authenticated surface.
	r.Group(func(r chi.Router) {
		r.Use(params.Authorizer.AuthenticationRequired())

		r.Get("/profile", func(w http.ResponseWriter, r *http.Request) {
			user := authn.UserFromContext(r.Context())
			if user == nil {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
				return
			}
			httpx.JSON(w, http.StatusOK, profilePayload(user))
		})
	})

	// Token-authenticated API surface.
	r.Route("/api", func(r chi.Router) {
		r.Use(params.Engine.RequireToken())

		r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
			user := authn.UserFromContext(r.Context())
			if user == nil {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
				return
			}
			httpx.JSON(w, http.StatusOK, profilePayload(user))
		})

		r.Group(func(r chi.Router) {
			r.Use(params.Authorizer.RolesRequired("admin"))
			r.Get("/admin/users/{id}", adminUserHandler(params))
			if params.AuditRecorder != nil {
				r.Get("/admin/audit", auditTrailHandler(params))
			}
			if params.JobHandler != nil {
				r.Route("/admin/jobs", params.JobHandler.MountRoutes)
			}
		})
	})

	// Basic-auth surface for non-browser clients.
	r.Route("/basic", func(r chi.Router) {
		r.Use(params.Engine.RequireBasicAuth(params.Config.HTTPAuthRealm))

		r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
			user := authn.UserFromContext(r.Context())
			if user == nil {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
				return
			}
			httpx.JSON(w, http.StatusOK, profilePayload(user))
		})
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

func adminUserHandler(params RouterParams) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid user id")
			return
		}
		user, err := params.Directory.FindUserByID(r.Context(), id)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, profilePayload(user))
	}
}

func auditTrailHandler(params RouterParams) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filters := audit.Filters{Kind: q.Get("kind")}
		if v := q.Get("user_id"); v != "" {
			filters.UserID, _ = strconv.ParseInt(v, 10, 64)
		}
		if v := q.Get("page"); v != "" {
			filters.Page, _ = strconv.Atoi(v)
		}
		result, err := params.AuditRecorder.Trail(r.Context(), filters)
		if err != nil {
			params.Logger.Error("audit trail query", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
		httpx.JSON(w, http.StatusOK, result)
	}
}

func profilePayload(user *directory.User) map[string]any {
	return map[string]any{
		"id":     strconv.FormatInt(user.ID, 10),
		"email":  user.Email,
		"active": user.Active,
		"roles":  user.RoleNames(),
	}
}

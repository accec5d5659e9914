package account

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gatehouse-auth/gatehouse/internal/authn"
	"github.com/gatehouse-auth/gatehouse/internal/observability"
	"github.com/gatehouse-auth/gatehouse/internal/platform/httpx"
	"github.com/gatehouse-auth/gatehouse/internal/session"
	"github.com/gatehouse-auth/gatehouse/internal/shared"
)

// HandlerConfig carries the redirect targets and flash toggle.
type HandlerConfig struct {
	PostLoginView string
	FlashEnabled  bool
}

// Handler wires the JSON account endpoints.
type Handler struct {
	logger    *slog.Logger
	engine    *authn.Engine
	sessions  *session.Manager
	service   *Service
	metrics   *observability.Metrics
	validator *validator.Validate
	cfg       HandlerConfig
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, engine *authn.Engine, sessions *session.Manager, service *Service, metrics *observability.Metrics, cfg HandlerConfig) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		engine:    engine,
		sessions:  sessions,
		service:   service,
		metrics:   metrics,
		validator: validator.New(),
		cfg:       cfg,
	}
}

// MountRoutes registers account routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/auth", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Post("/register", h.handleRegister)
	r.Post("/reset", h.handleResetRequest)
	r.Post("/reset/{token}", h.handleResetComplete)
	r.Post("/confirm", h.handleConfirmRequest)
	r.Post("/confirm/{token}", h.handleConfirmComplete)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Remember bool   `json:"remember"`
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type resetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetCompleteRequest struct {
	Password string `json:"password" validate:"required,min=8"`
}

type confirmRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type authUser struct {
	ID                  string `json:"id"`
	AuthenticationToken string `json:"authentication_token"`
}

type envelope struct {
	Meta     map[string]int `json:"meta"`
	Response any            `json:"response"`
}

func ok(response any) envelope {
	return envelope{Meta: map[string]int{"code": http.StatusOK}, Response: response}
}

func fail(msg string) envelope {
	return envelope{Meta: map[string]int{"code": http.StatusBadRequest}, Response: map[string]string{"error": msg}}
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var form loginRequest
	if !h.decode(w, r, &form) {
		return
	}

	user, err := h.engine.VerifyCredentials(r.Context(), form.Email, form.Password)
	if err != nil {
		h.observeLogin(false)
		h.logger.Info("unsuccessful authentication attempt", slog.String("email", form.Email))
		if errors.Is(err, shared.ErrConfirmationRequired) {
			httpx.JSON(w, http.StatusBadRequest, fail("Email requires confirmation"))
			return
		}
		httpx.JSON(w, http.StatusBadRequest, fail("Invalid email or password"))
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if err := h.sessions.Login(r.Context(), sess, user, form.Remember, remoteIP(r)); err != nil {
		h.observeLogin(false)
		if errors.Is(err, session.ErrLoginRejected) {
			httpx.JSON(w, http.StatusBadRequest, fail("Account is disabled"))
			return
		}
		h.logger.Error("login side effects", slog.Any("error", err))
		httpx.JSON(w, http.StatusInternalServerError, fail("Login failed"))
		return
	}

	h.observeLogin(true)
	if form.Remember {
		http.SetCookie(w, h.sessions.RememberCookie(user))
	}
	if h.cfg.FlashEnabled && sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "You have been logged in"})
	}
	httpx.JSON(w, http.StatusOK, ok(map[string]authUser{"user": {
		ID:                  strconv.FormatInt(user.ID, 10),
		AuthenticationToken: user.AuthToken,
	}}))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Logout(r.Context(), shared.SessionFromContext(r.Context()))
	http.SetCookie(w, h.sessions.ClearRememberCookie())
	http.Redirect(w, r, h.postLoginView(), http.StatusSeeOther)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var form registerRequest
	if !h.decode(w, r, &form) {
		return
	}

	user, err := h.service.Register(r.Context(), form.Email, form.Password)
	if err != nil {
		if errors.Is(err, shared.ErrDuplicate) {
			httpx.JSON(w, http.StatusBadRequest, fail("A user with that email already exists"))
			return
		}
		h.logger.Error("register", slog.Any("error", err))
		httpx.JSON(w, http.StatusInternalServerError, fail("Registration failed"))
		return
	}

	httpx.JSON(w, http.StatusOK, ok(map[string]authUser{"user": {
		ID:                  strconv.FormatInt(user.ID, 10),
		AuthenticationToken: user.AuthToken,
	}}))
}

func (h *Handler) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var form resetRequest
	if !h.decode(w, r, &form) {
		return
	}

	if err := h.service.RequestReset(r.Context(), form.Email); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.JSON(w, http.StatusBadRequest, fail("Specified user does not exist"))
			return
		}
		h.logger.Error("reset request", slog.Any("error", err))
		httpx.JSON(w, http.StatusInternalServerError, fail("Reset request failed"))
		return
	}
	httpx.JSON(w, http.StatusOK, ok(map[string]string{"message": "Instructions to reset your password have been sent"}))
}

func (h *Handler) handleResetComplete(w http.ResponseWriter, r *http.Request) {
	var form resetCompleteRequest
	if !h.decode(w, r, &form) {
		return
	}

	if _, err := h.service.ResetPassword(r.Context(), chi.URLParam(r, "token"), form.Password); err != nil {
		if errors.Is(err, shared.ErrInvalidToken) {
			httpx.JSON(w, http.StatusBadRequest, fail("Invalid reset password token"))
			return
		}
		h.logger.Error("reset complete", slog.Any("error", err))
		httpx.JSON(w, http.StatusInternalServerError, fail("Reset failed"))
		return
	}
	httpx.JSON(w, http.StatusOK, ok(map[string]string{"message": "You successfully reset your password"}))
}

func (h *Handler) handleConfirmRequest(w http.ResponseWriter, r *http.Request) {
	var form confirmRequest
	if !h.decode(w, r, &form) {
		return
	}

	if err := h.service.RequestConfirmation(r.Context(), form.Email); err != nil {
		switch {
		case errors.Is(err, shared.ErrNotFound):
			httpx.JSON(w, http.StatusBadRequest, fail("Specified user does not exist"))
		case errors.Is(err, ErrAlreadyConfirmed):
			httpx.JSON(w, http.StatusBadRequest, fail("Your account has already been confirmed"))
		default:
			h.logger.Error("confirmation request", slog.Any("error", err))
			httpx.JSON(w, http.StatusInternalServerError, fail("Confirmation request failed"))
		}
		return
	}
	httpx.JSON(w, http.StatusOK, ok(map[string]string{"message": "Confirmation instructions have been sent"}))
}

func (h *Handler) handleConfirmComplete(w http.ResponseWriter, r *http.Request) {
	if _, err := h.service.ConfirmEmail(r.Context(), chi.URLParam(r, "token")); err != nil {
		switch {
		case errors.Is(err, ErrAlreadyConfirmed):
			httpx.JSON(w, http.StatusBadRequest, fail("Your account has already been confirmed"))
		case errors.Is(err, shared.ErrInvalidToken):
			httpx.JSON(w, http.StatusBadRequest, fail("Invalid confirmation token"))
		default:
			h.logger.Error("confirm email", slog.Any("error", err))
			httpx.JSON(w, http.StatusInternalServerError, fail("Confirmation failed"))
		}
		return
	}
	httpx.JSON(w, http.StatusOK, ok(map[string]string{"message": "Thank you, your email has been confirmed"}))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.JSON(w, http.StatusBadRequest, fail("Malformed request body"))
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			httpx.JSON(w, http.StatusBadRequest, fail(verrs[0].Error()))
			return false
		}
		httpx.JSON(w, http.StatusBadRequest, fail("Validation failed"))
		return false
	}
	return true
}

func (h *Handler) observeLogin(success bool) {
	if h.metrics != nil {
		h.metrics.ObserveAuth("password", success)
	}
}

func (h *Handler) postLoginView() string {
	if h.cfg.PostLoginView != "" {
		return h.cfg.PostLoginView
	}
	return "/"
}

// remoteIP strips the port from RemoteAddr. Behind chi's RealIP middleware
// the value may already be a bare address, IPv6 included, so a failed split
// returns the value as-is.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

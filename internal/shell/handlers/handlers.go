// Package handlers is the web shell's HTTP surface: a thin JSON layer over
// the SDK client that plays the part the browser app plays in production.
// The shell runs as a single-operator console; one SDK client, one session.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	sessionintel "github.com/rutvikpatel14/session-intelligence-go"
	"github.com/rutvikpatel14/session-intelligence-go/apierr"
	"github.com/rutvikpatel14/session-intelligence-go/internal/shell/device"
	"github.com/rutvikpatel14/session-intelligence-go/internal/shell/gatekeeper"
	"github.com/rutvikpatel14/session-intelligence-go/wire"
)

// SessionCookie marks the operator's browser as signed in; the gatekeeper
// checks it before letting protected paths through. The real credentials
// never leave the SDK's cookie jar.
const SessionCookie = "shellSession"

// Handler serves the shell routes over one SDK client.
type Handler struct {
	client   *sessionintel.Client
	gatherer prometheus.Gatherer
	log      *slog.Logger
}

// New builds a Handler.
func New(client *sessionintel.Client, gatherer prometheus.Gatherer, log *slog.Logger) *Handler {
	return &Handler{client: client, gatherer: gatherer, log: log}
}

// Router assembles the shell's chi router: open auth endpoints, guarded
// session views, health and metrics.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(gatekeeper.Protect(SessionCookie, "/dashboard", "/sessions", "/admin"))

	r.Post("/auth/login", h.handleLogin)
	r.Post("/auth/logout", h.handleLogout)
	r.Post("/auth/register", h.handleRegister)
	r.Post("/auth/verify-session", h.handleVerifySession)
	r.Get("/me", h.handleMe)

	r.Get("/sessions", h.handleListSessions)
	r.Delete("/sessions", h.handleRevokeAll)
	r.Delete("/sessions/{id}", h.handleRevoke)
	r.Get("/admin/sessions", h.handleAdminList)
	r.Delete("/admin/sessions/{id}", h.handleAdminRevoke)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if h.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	DeviceName string `json:"deviceName,omitempty"`
}

type loginResponse struct {
	User                 *wire.User `json:"user"`
	RequiresVerification bool       `json:"requiresVerification"`
	SuspiciousSessionID  string     `json:"suspiciousSessionId,omitempty"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	label := req.DeviceName
	if label == "" {
		label = device.ParseUserAgent(r.UserAgent())
	}

	user, err := h.client.Login(r.Context(), req.Email, req.Password, label)
	if err != nil {
		status := apierr.StatusOf(err)
		if status == 0 {
			status = http.StatusBadGateway
		}
		h.log.WarnContext(r.Context(), "login rejected", "status", status)
		h.writeError(w, status, apierr.Message(err, "Unable to login"))
		return
	}

	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "1", Path: "/", HttpOnly: true})
	snap := h.client.GateState()
	h.writeJSON(w, http.StatusOK, loginResponse{
		User:                 user,
		RequiresVerification: snap.RequiresVerification,
		SuspiciousSessionID:  snap.SuspiciousSessionID,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.client.Logout(r.Context())
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	w.WriteHeader(http.StatusNoContent)
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.client.Register(r.Context(), req.Email, req.Password); err != nil {
		h.writeAPIError(w, r, err, "Unable to register")
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleVerifySession(w http.ResponseWriter, r *http.Request) {
	var req wire.VerifySessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		h.writeError(w, http.StatusBadRequest, "sessionId required")
		return
	}
	if err := h.client.VerifySession(r.Context(), req.SessionID); err != nil {
		h.writeAPIError(w, r, err, "Unable to verify session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type meResponse struct {
	Authenticated        bool       `json:"authenticated"`
	User                 *wire.User `json:"user,omitempty"`
	RequiresVerification bool       `json:"requiresVerification"`
	SuspiciousSessionID  string     `json:"suspiciousSessionId,omitempty"`
	TokenExpiresAt       *time.Time `json:"tokenExpiresAt,omitempty"`
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	snap := h.client.GateState()
	resp := meResponse{
		Authenticated:        h.client.Authenticated(),
		User:                 h.client.CurrentUser(),
		RequiresVerification: snap.RequiresVerification,
		SuspiciousSessionID:  snap.SuspiciousSessionID,
	}
	if expiry, err := h.client.AccessTokenExpiry(); err == nil {
		resp.TokenExpiresAt = &expiry
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	rows, err := h.client.Sessions().List(r.Context())
	if err != nil {
		h.writeAPIError(w, r, err, "Unable to load sessions")
		return
	}
	h.writeJSON(w, http.StatusOK, wire.SessionList{Sessions: rows})
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := h.client.Sessions().Revoke(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeAPIError(w, r, err, "Unable to revoke session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRevokeAll(w http.ResponseWriter, r *http.Request) {
	if err := h.client.Sessions().RevokeAll(r.Context()); err != nil {
		h.writeAPIError(w, r, err, "Unable to revoke sessions")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAdminList(w http.ResponseWriter, r *http.Request) {
	rows, err := h.client.Sessions().AdminList(r.Context())
	if err != nil {
		h.writeAPIError(w, r, err, "Unable to load sessions")
		return
	}
	h.writeJSON(w, http.StatusOK, wire.SessionList{Sessions: rows})
}

func (h *Handler) handleAdminRevoke(w http.ResponseWriter, r *http.Request) {
	if err := h.client.Sessions().AdminRevoke(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeAPIError(w, r, err, "Unable to revoke session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeAPIError maps SDK errors onto shell responses, reusing the backend's
// status and display message when present.
func (h *Handler) writeAPIError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := apierr.StatusOf(err)
	if status == 0 {
		status = http.StatusBadGateway
	}
	h.log.WarnContext(r.Context(), "backend call failed", "status", status, "error", err)
	h.writeError(w, status, apierr.Message(err, fallback))
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, wire.ErrorEnvelope{Error: &wire.ErrorBody{Message: message}})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("encode response", "error", err)
	}
}

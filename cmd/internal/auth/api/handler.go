package authapi

import (
	"errors"
	"log/slog"
	"net/http"

	"assist/cmd/internal/auth/account"
	"assist/cmd/internal/auth/gate"
)

// Handler wires the identity HTTP endpoints to the account service.
type Handler struct {
	log   *slog.Logger
	cfg   Config
	svc   *account.Service
	authn *gate.Authenticator
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, svc *account.Service, authn *gate.Authenticator, cfg Config) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if svc == nil {
		return nil, errors.New("auth: nil account service")
	}
	if authn == nil {
		return nil, errors.New("auth: nil authenticator")
	}
	cfg = cfg.normalized()
	if authn.CookieName() != cfg.CookieName {
		return nil, errors.New("auth: authenticator and handler disagree on cookie name")
	}
	return &Handler{log: log, cfg: cfg, svc: svc, authn: authn}, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	authed := h.authn.Middleware

	mux.HandleFunc("POST /api/auth/login", h.handleLogin)
	mux.HandleFunc("POST /api/auth/register", h.handleRegister)
	mux.HandleFunc("POST /api/auth/logout", h.handleLogout)
	mux.Handle("GET /api/auth/profile", authed(http.HandlerFunc(h.handleGetProfile)))
	mux.Handle("PATCH /api/auth/profile", authed(http.HandlerFunc(h.handleUpdateProfile)))
	mux.Handle("PUT /api/auth/password", authed(http.HandlerFunc(h.handleChangePassword)))
	mux.Handle("POST /api/auth/refresh", authed(http.HandlerFunc(h.handleRefresh)))
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		h.svc.RecordMalformed(r.Context(), account.ActionLogin, "")
		writeError(w, errInvalidJSON)
		return
	}

	sess, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	h.setSessionCookie(w, sess.Token, sess.Claims.ExpiresAt)
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		h.svc.RecordMalformed(r.Context(), account.ActionRegister, "")
		writeError(w, errInvalidJSON)
		return
	}

	sess, err := h.svc.Register(r.Context(), account.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Role:        req.Role,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.setSessionCookie(w, sess.Token, sess.Claims.ExpiresAt)
	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

func (h *Handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id, _ := gate.FromContext(r.Context())

	p, err := h.svc.GetProfile(r.Context(), id.SubjectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{User: toUserResponse(p)})
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, _ := gate.FromContext(r.Context())

	var fields map[string]any
	if err := decodeLenient(w, r, h.cfg.MaxBodyBytes, &fields); err != nil {
		h.svc.RecordMalformed(r.Context(), account.ActionProfileUpdate, id.SubjectID)
		writeError(w, errInvalidJSON)
		return
	}

	p, err := h.svc.UpdateProfile(r.Context(), id.SubjectID, fields)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{User: toUserResponse(p)})
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	id, _ := gate.FromContext(r.Context())

	var req changePasswordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		h.svc.RecordMalformed(r.Context(), account.ActionPasswordChange, id.SubjectID)
		writeError(w, errInvalidJSON)
		return
	}

	if err := h.svc.ChangePassword(r.Context(), id.SubjectID, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id, _ := gate.FromContext(r.Context())

	sess, err := h.svc.Refresh(r.Context(), id.SubjectID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.setSessionCookie(w, sess.Token, sess.Claims.ExpiresAt)
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

// handleLogout always succeeds; a valid presented token only attributes the audit record.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id, ok := h.authn.Optional(r); ok {
		h.svc.Logout(r.Context(), id.SubjectID)
	}
	h.expireSessionCookie(w)
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

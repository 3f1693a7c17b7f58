package realtime

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"assist/cmd/identity"
	"assist/cmd/internal/apperror"
	"assist/cmd/internal/audit"
	"assist/cmd/internal/auth/gate"
	v1 "assist/shared/contracts/realtime/v1"
)

const maxNotifyBodyBytes = 64 << 10

var errInvalidJSON = apperror.Validation("invalid_json", "invalid request body")

// serverTypes are produced by the gateway itself and cannot be pushed by producers.
var serverTypes = map[string]bool{
	v1.TypeConnected:  true,
	v1.TypePing:       true,
	v1.TypePong:       true,
	v1.TypeSubscribe:  true,
	v1.TypeSubscribed: true,
}

type notifyRequest struct {
	SubjectID string          `json:"subject_id"`
	Role      string          `json:"role"`
	All       bool            `json:"all"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
}

type notifyResponse struct {
	Delivered int `json:"delivered"`
}

type connectionsResponse struct {
	Total  int            `json:"total"`
	ByRole map[string]int `json:"by_role"`
}

// Handler exposes registry fan-out and stats over HTTP.
type Handler struct {
	log      *slog.Logger
	registry *Registry
	authn    *gate.Authenticator
	audit    *audit.Recorder
}

func NewHandler(log *slog.Logger, reg *Registry, authn *gate.Authenticator, rec *audit.Recorder) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if reg == nil || authn == nil {
		return nil, errors.New("realtime: handler needs a registry and an authenticator")
	}
	return &Handler{log: log, registry: reg, authn: authn, audit: rec}, nil
}

// Register wires the notification and admin routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.Handle("POST /api/notifications",
		h.authn.Middleware(gate.RequireProfessionalOrAdmin(h.audit)(http.HandlerFunc(h.handleNotify))))
	mux.Handle("GET /api/admin/connections",
		h.authn.Middleware(gate.RequireAdmin(h.audit)(http.HandlerFunc(h.handleConnections))))
}

func (h *Handler) handleNotify(w http.ResponseWriter, r *http.Request) {
	caller, _ := gate.FromContext(r.Context())

	var req notifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apperror.Write(w, errInvalidJSON)
		return
	}

	msg, target, err := req.message()
	if err != nil {
		apperror.Write(w, err)
		return
	}

	var delivered int
	switch {
	case req.SubjectID != "":
		if h.registry.SendToSubject(req.SubjectID, msg) {
			delivered = 1
		}
	case req.Role != "":
		delivered = h.registry.BroadcastToRole(req.Role, msg)
	default:
		delivered = h.registry.BroadcastToAll(msg)
	}

	h.audit.Record(r.Context(), audit.Event{
		Action:    "notification.send",
		SubjectID: caller.SubjectID,
		Meta:      map[string]any{"target": target, "type": msg.Type, "delivered": delivered},
	})
	writeJSON(w, http.StatusOK, notifyResponse{Delivered: delivered})
}

// message validates the request and builds the envelope; target names the audience for audit.
func (req *notifyRequest) message() (v1.Envelope, string, error) {
	req.SubjectID = strings.TrimSpace(req.SubjectID)
	req.Type = strings.TrimSpace(req.Type)

	targets := 0
	target := ""
	if req.SubjectID != "" {
		targets++
		target = "subject:" + req.SubjectID
	}
	if strings.TrimSpace(req.Role) != "" {
		role, ok := identity.ParseRole(req.Role)
		if !ok {
			return v1.Envelope{}, "", apperror.Validation("invalid_role", "invalid role")
		}
		req.Role = string(role)
		targets++
		target = "role:" + req.Role
	}
	if req.All {
		targets++
		target = "all"
	}
	if targets != 1 {
		return v1.Envelope{}, "", apperror.Validation("invalid_target", "exactly one of subject_id, role or all is required")
	}

	if req.Type == "" || len(req.Type) > v1.MaxTypeLen || serverTypes[req.Type] {
		return v1.Envelope{}, "", apperror.Validation("invalid_type", "invalid message type")
	}

	data := []byte(strings.TrimSpace(string(req.Data)))
	if len(data) > 0 && string(data) != "null" && data[0] != '{' {
		return v1.Envelope{}, "", apperror.Validation("invalid_data", "data must be a JSON object")
	}

	return v1.Envelope{Type: req.Type, Payload: data}, target, nil
}

func (h *Handler) handleConnections(w http.ResponseWriter, _ *http.Request) {
	byRole := h.registry.CountByRole()
	total := 0
	for _, n := range byRole {
		total += n
	}
	writeJSON(w, http.StatusOK, connectionsResponse{Total: total, ByRole: byRole})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxNotifyBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}

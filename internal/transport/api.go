package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/tsubute/queenfall/internal/domain"
	"github.com/tsubute/queenfall/internal/match"
	"github.com/tsubute/queenfall/internal/obslog"
)

// API is the REST pairing surface. Clients without server push poll
// /match/check until they learn their session.
type API struct {
	reg *match.Registry
	hub *Hub
}

func NewAPI(reg *match.Registry, hub *Hub) *API {
	return &API{reg: reg, hub: hub}
}

// Handler builds the route table.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /match/register", a.handleRegister)
	mux.HandleFunc("POST /match/check", a.handleCheck)
	mux.HandleFunc("POST /match/cancel", a.handleCancel)
	mux.HandleFunc("GET /healthz", a.handleHealth)
	if a.hub != nil {
		mux.HandleFunc("GET /ws", a.hub.ServeWS)
	}
	return mux
}

type pairingRequest struct {
	ParticipantID string `json:"participantId"`
}

type pairingResponse struct {
	Status     string `json:"status"`
	SessionID  string `json:"sessionId,omitempty"`
	OpponentID string `json:"opponentId,omitempty"`
	Color      string `json:"color,omitempty"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	pid, ok := a.readParticipant(w, r)
	if !ok {
		return
	}
	p, err := a.reg.RequestPairing(r.Context(), pid)
	if err != nil {
		a.writePairingError(w, err)
		return
	}
	a.writePairing(w, p)
}

func (a *API) handleCheck(w http.ResponseWriter, r *http.Request) {
	pid, ok := a.readParticipant(w, r)
	if !ok {
		return
	}
	p, err := a.reg.CheckPaired(r.Context(), pid)
	if err != nil {
		a.writePairingError(w, err)
		return
	}
	a.writePairing(w, p)
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	pid, ok := a.readParticipant(w, r)
	if !ok {
		return
	}
	if err := a.reg.CancelWaiting(r.Context(), pid); err != nil {
		a.writePairingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) readParticipant(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req pairingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return "", false
	}
	pid := strings.TrimSpace(req.ParticipantID)
	if pid == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "participantId required"})
		return "", false
	}
	return pid, true
}

func (a *API) writePairing(w http.ResponseWriter, p *match.Pairing) {
	if p.Role == match.RolePaired {
		writeJSON(w, http.StatusOK, pairingResponse{
			Status:     string(match.RolePaired),
			SessionID:  p.Session.ID,
			OpponentID: p.OpponentID,
			Color:      string(p.Color),
		})
		return
	}
	writeJSON(w, http.StatusOK, pairingResponse{Status: string(match.RoleWaiting)})
}

func (a *API) writePairingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, match.ErrInvalidParticipant):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrSelfPairing):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		obslog.L().Error("pairing_api_error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

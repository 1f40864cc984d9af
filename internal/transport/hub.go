package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/tsubute/queenfall/internal/domain"
	"github.com/tsubute/queenfall/internal/game"
	"github.com/tsubute/queenfall/internal/match"
	"github.com/tsubute/queenfall/internal/obslog"
)

const (
	readLimit    = 32 * 1024
	writeTimeout = 5 * time.Second
)

// peerLink is one participant's live connection.
type peerLink struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *peerLink) send(ctx context.Context, e *Envelope) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, p.conn, e)
}

// Hub is the hub-authoritative transport: it owns the live websocket
// connections, feeds moves to the session manager, fans accepted state out to
// both participants, and runs the disconnect supervisor.
type Hub struct {
	games *game.Manager
	reg   *match.Registry

	allowedOrigins []string

	mu    sync.RWMutex
	conns map[string]*peerLink
}

func NewHub(games *game.Manager, reg *match.Registry, allowedOrigins []string) *Hub {
	h := &Hub{
		games:          games,
		reg:            reg,
		allowedOrigins: allowedOrigins,
		conns:          make(map[string]*peerLink),
	}
	if reg != nil {
		reg.SetNotifier(h.notifyPaired)
	}
	return h
}

// ServeWS upgrades the request and runs the connection until the participant
// disconnects or its session ends.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.allowedOrigins,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.Error(err))
		return
	}
	conn.SetReadLimit(readLimit)

	ctx := r.Context()
	pid, err := h.awaitHandshake(ctx, conn)
	if err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "handshake required")
		return
	}

	link := &peerLink{id: pid, conn: conn}
	if !h.register(link) {
		_ = wsjson.Write(ctx, conn, &Envelope{Type: MsgError, Code: CodeBadMessage, Text: "participant already connected"})
		_ = conn.Close(websocket.StatusPolicyViolation, "duplicate connection")
		return
	}
	obslog.L().Info("ws_connect", zap.String("participant_id", pid))

	h.readLoop(ctx, link)

	h.unregister(link)
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	h.superviseDisconnect(context.WithoutCancel(ctx), pid)
}

// awaitHandshake reads the first frame, which must be a handshake. Anything
// else before identification is a protocol violation.
func (h *Hub) awaitHandshake(ctx context.Context, conn *websocket.Conn) (string, error) {
	hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, raw, err := conn.Read(hctx)
	if err != nil {
		return "", err
	}
	e, err := Decode(raw)
	if err != nil {
		return "", err
	}
	if e.Type != MsgHandshake {
		return "", ErrBadMessage
	}
	return e.ID, nil
}

func (h *Hub) readLoop(ctx context.Context, link *peerLink) {
	for {
		_, raw, err := link.conn.Read(ctx)
		if err != nil {
			return
		}
		e, err := Decode(raw)
		if err != nil {
			h.sendError(ctx, link, CodeBadMessage, err.Error())
			continue
		}
		switch e.Type {
		case MsgMove:
			h.handleMove(ctx, link, e)
		case MsgHandshake:
			// Re-identification on an identified connection is ignored.
		default:
			h.sendError(ctx, link, CodeBadMessage, "unexpected client frame")
		}
	}
}

func (h *Hub) handleMove(ctx context.Context, link *peerLink, e *Envelope) {
	res, err := h.games.SubmitMove(ctx, link.id, e.MoveData())
	if err != nil {
		h.sendError(ctx, link, rejectionCode(err), err.Error())
		return
	}

	s := res.Session
	state := &Envelope{
		Type:      MsgState,
		SessionID: s.ID,
		From:      e.MoveData().From,
		To:        e.MoveData().To,
		Promotion: e.MoveData().Promotion,
		FEN:       s.FEN,
		SAN:       res.SAN,
		Turn:      string(s.Turn),
		Captured:  res.Captured,
	}
	h.broadcast(ctx, s, state)

	if s.Ended() {
		h.broadcast(ctx, s, &Envelope{
			Type:      MsgSessionEnded,
			SessionID: s.ID,
			Reason:    string(s.Reason),
			Winner:    string(s.Winner),
			FEN:       s.FEN,
		})
		h.closeSession(s)
	}
}

// superviseDisconnect runs after a connection drops: an active session ends
// with the survivor as winner, a waiting slot entry is withdrawn. The manager
// guarantees the end happens at most once even when the drop races a
// terminal move.
func (h *Hub) superviseDisconnect(ctx context.Context, pid string) {
	s, ended, err := h.games.EndOnDisconnect(ctx, pid)
	if err != nil {
		obslog.L().Error("supervise_disconnect_error", zap.String("participant_id", pid), zap.Error(err))
		return
	}
	if !ended {
		// s != nil means the session already reached a terminal state: this
		// close belongs to a finished game, and any waiting-slot entry is a
		// fresh registration that must survive the old connection's close.
		if s == nil && h.reg != nil {
			_ = h.reg.CancelWaiting(ctx, pid)
		}
		return
	}

	survivor := s.OpponentOf(pid)
	if link := h.link(survivor); link != nil {
		_ = link.send(ctx, &Envelope{
			Type:      MsgSessionEnded,
			SessionID: s.ID,
			Reason:    string(s.Reason),
			Winner:    string(s.Winner),
			FEN:       s.FEN,
		})
	}
}

// notifyPaired pushes the pairing result to the participant that was waiting,
// if it holds a live connection. Polling clients pick the result up through
// the REST check instead.
func (h *Hub) notifyPaired(ctx context.Context, s *domain.Session, waiterID string) {
	link := h.link(waiterID)
	if link == nil {
		return
	}
	err := link.send(ctx, &Envelope{
		Type:       MsgPaired,
		SessionID:  s.ID,
		OpponentID: s.OpponentOf(waiterID),
		Color:      string(s.ColorOf(waiterID)),
		FEN:        s.FEN,
		Turn:       string(s.Turn),
	})
	if err != nil {
		obslog.L().Warn("paired_push_error", zap.String("participant_id", waiterID), zap.Error(err))
	}
}

func (h *Hub) broadcast(ctx context.Context, s *domain.Session, e *Envelope) {
	for _, pid := range []string{s.WhiteID, s.BlackID} {
		if link := h.link(pid); link != nil {
			if err := link.send(ctx, e); err != nil {
				obslog.L().Warn("ws_send_error", zap.String("participant_id", pid), zap.Error(err))
			}
		}
	}
}

func (h *Hub) sendError(ctx context.Context, link *peerLink, code, text string) {
	if err := link.send(ctx, &Envelope{Type: MsgError, Code: code, Text: text}); err != nil {
		obslog.L().Warn("ws_send_error", zap.String("participant_id", link.id), zap.Error(err))
	}
}

func (h *Hub) closeSession(s *domain.Session) {
	for _, pid := range []string{s.WhiteID, s.BlackID} {
		if link := h.link(pid); link != nil {
			_ = link.conn.Close(websocket.StatusNormalClosure, "session ended")
		}
	}
}

func (h *Hub) register(link *peerLink) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[link.id]; ok {
		return false
	}
	h.conns[link.id] = link
	return true
}

func (h *Hub) unregister(link *peerLink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.conns[link.id]; ok && cur == link {
		delete(h.conns, link.id)
	}
}

func (h *Hub) link(pid string) *peerLink {
	if pid == "" {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[pid]
}

func rejectionCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotYourTurn):
		return CodeNotYourTurn
	case errors.Is(err, domain.ErrIllegalMove):
		return CodeIllegalMove
	case errors.Is(err, domain.ErrSessionEnded):
		return CodeSessionEnded
	case errors.Is(err, domain.ErrNotInSession):
		return CodeNotInSession
	case errors.Is(err, ErrBadMessage):
		return CodeBadMessage
	default:
		return CodeInternal
	}
}

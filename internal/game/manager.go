package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tsubute/queenfall/internal/domain"
	"github.com/tsubute/queenfall/internal/obslog"
	"github.com/tsubute/queenfall/internal/rules"
)

const (
	sessionTTL     = 24 * time.Hour
	submitAttempts = 3
)

// errAlreadyEnded signals an EndOnDisconnect that lost the race against a
// terminal move; it never leaves this package.
var errAlreadyEnded = errors.New("session already ended")

// Manager is the hub-authoritative turn state machine. Sessions live as JSON
// in redis; the WATCH transaction on the session key is the per-session
// serialization point, so two near-simultaneous submissions resolve as a
// strict sequence.
type Manager struct {
	rdb     *redis.Client
	oracle  rules.Oracle
	results Results
}

func NewManager(rdb *redis.Client, oracle rules.Oracle) *Manager {
	return &Manager{rdb: rdb, oracle: oracle}
}

// AttachResults wires a repository for persisting final session results.
func (m *Manager) AttachResults(r Results) {
	if m != nil {
		m.results = r
	}
}

func (m *Manager) Close() error {
	if m == nil || m.rdb == nil {
		return nil
	}
	return m.rdb.Close()
}

// CreateSession starts a session for an already-assigned color pair, white to
// move at the starting position.
func (m *Manager) CreateSession(ctx context.Context, whiteID, blackID string) (*domain.Session, error) {
	whiteID = strings.TrimSpace(whiteID)
	blackID = strings.TrimSpace(blackID)
	if whiteID == "" || blackID == "" {
		return nil, fmt.Errorf("invalid participants")
	}
	if whiteID == blackID {
		return nil, domain.ErrSelfPairing
	}

	now := time.Now()
	s := &domain.Session{
		ID:        "s-" + uuid.NewString(),
		WhiteID:   whiteID,
		BlackID:   blackID,
		FEN:       rules.StartingFEN,
		MovesUCI:  []string{},
		MovesSAN:  []string{},
		Turn:      domain.White,
		Status:    domain.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.save(ctx, s); err != nil {
		return nil, err
	}
	pipe := m.rdb.Pipeline()
	pipe.Set(ctx, userKey(whiteID), s.ID, sessionTTL)
	pipe.Set(ctx, userKey(blackID), s.ID, sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	obslog.L().Info("session_create",
		zap.String("session_id", s.ID),
		zap.String("white_id", whiteID),
		zap.String("black_id", blackID),
	)
	return s, nil
}

// MoveResult reports an accepted move.
type MoveResult struct {
	Session  *domain.Session
	UCI      string
	SAN      string
	Captured string
}

// SubmitMove validates and applies a move for the given participant.
// Rejections (ErrSessionEnded, ErrNotInSession, ErrNotYourTurn,
// ErrIllegalMove) never mutate the session.
func (m *Manager) SubmitMove(ctx context.Context, participantID string, mv domain.Move) (*MoveResult, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return nil, domain.ErrNotInSession
	}
	sid, err := m.sessionIDByParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if sid == "" {
		return nil, domain.ErrNotInSession
	}

	var res *MoveResult
	key := sessionKey(sid)
	for attempt := 0; attempt < submitAttempts; attempt++ {
		res = nil
		err = m.rdb.Watch(ctx, func(tx *redis.Tx) error {
			cur, gerr := m.getTx(ctx, tx, sid)
			if gerr != nil {
				return gerr
			}
			if cur == nil {
				return domain.ErrNotInSession
			}
			if cur.Status != domain.StatusActive {
				return domain.ErrSessionEnded
			}
			color := cur.ColorOf(participantID)
			if color == "" {
				return domain.ErrNotInSession
			}
			if color != cur.Turn {
				return domain.ErrNotYourTurn
			}

			v, aerr := m.oracle.Apply(cur.MovesUCI, mv)
			if aerr != nil {
				return aerr
			}

			cur.MovesUCI = append(cur.MovesUCI, v.UCI)
			cur.MovesSAN = append(cur.MovesSAN, v.SAN)
			cur.FEN = v.FEN
			cur.Turn = v.NextTurn
			cur.UpdatedAt = time.Now()
			if reason, winner, over := rules.Resolve(v, color); over {
				cur.Status = domain.StatusEnded
				cur.Reason = reason
				cur.Winner = winner
			}

			pipe := tx.TxPipeline()
			raw, merr := json.Marshal(cur)
			if merr != nil {
				return merr
			}
			pipe.Set(ctx, key, raw, sessionTTL)
			if _, perr := pipe.Exec(ctx); perr != nil {
				return perr
			}
			res = &MoveResult{Session: cur, UCI: v.UCI, SAN: v.SAN, Captured: v.Captured}
			return nil
		}, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
		// A concurrent submission won; the retry re-reads the updated
		// session and rejects this one on the turn check.
	}
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return nil, fmt.Errorf("concurrent session update: %w", err)
		}
		return nil, err
	}

	s := res.Session
	obslog.L().Info("session_move",
		zap.String("session_id", s.ID),
		zap.String("participant_id", participantID),
		zap.String("uci", res.UCI),
		zap.String("san", res.SAN),
		zap.String("captured", res.Captured),
		zap.String("turn", string(s.Turn)),
		zap.String("status", string(s.Status)),
	)
	if s.Ended() {
		m.persistFinal(ctx, s)
	}
	return res, nil
}

// EndOnDisconnect terminates the participant's active session with the
// survivor as winner. It reports ended=false when no active session exists or
// the session already reached a terminal state, so a disconnect racing a
// sudden-death capture ends the session exactly once.
func (m *Manager) EndOnDisconnect(ctx context.Context, participantID string) (*domain.Session, bool, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return nil, false, nil
	}
	sid, err := m.sessionIDByParticipant(ctx, participantID)
	if err != nil || sid == "" {
		return nil, false, err
	}

	var out *domain.Session
	key := sessionKey(sid)
	err = m.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, gerr := m.getTx(ctx, tx, sid)
		if gerr != nil {
			return gerr
		}
		if cur == nil {
			return errAlreadyEnded
		}
		if cur.Status != domain.StatusActive {
			out = cur
			return errAlreadyEnded
		}
		survivor := cur.OpponentOf(participantID)
		if survivor == "" {
			return errAlreadyEnded
		}
		cur.Status = domain.StatusEnded
		cur.Reason = domain.ReasonDisconnect
		cur.Winner = cur.ColorOf(survivor)
		cur.UpdatedAt = time.Now()

		pipe := tx.TxPipeline()
		raw, merr := json.Marshal(cur)
		if merr != nil {
			return merr
		}
		pipe.Set(ctx, key, raw, sessionTTL)
		if _, perr := pipe.Exec(ctx); perr != nil {
			return perr
		}
		out = cur
		return nil
	}, key)
	if err != nil {
		if errors.Is(err, errAlreadyEnded) || errors.Is(err, redis.TxFailedErr) {
			return out, false, nil
		}
		return nil, false, err
	}

	obslog.L().Info("session_disconnect",
		zap.String("session_id", out.ID),
		zap.String("disconnected_id", participantID),
		zap.String("winner", string(out.Winner)),
	)
	m.persistFinal(ctx, out)
	return out, true, nil
}

// ActiveSessionByParticipant returns the participant's session if it is still
// active, nil otherwise.
func (m *Manager) ActiveSessionByParticipant(ctx context.Context, participantID string) (*domain.Session, error) {
	sid, err := m.sessionIDByParticipant(ctx, participantID)
	if err != nil || sid == "" {
		return nil, err
	}
	s, err := m.get(ctx, sid)
	if err != nil || s == nil {
		return nil, err
	}
	if s.Status != domain.StatusActive {
		return nil, nil
	}
	return s, nil
}

// SessionByParticipant returns the participant's session regardless of status.
func (m *Manager) SessionByParticipant(ctx context.Context, participantID string) (*domain.Session, error) {
	sid, err := m.sessionIDByParticipant(ctx, participantID)
	if err != nil || sid == "" {
		return nil, err
	}
	return m.get(ctx, sid)
}

func (m *Manager) LoadSession(ctx context.Context, id string) (*domain.Session, error) {
	return m.get(ctx, id)
}

func (m *Manager) sessionIDByParticipant(ctx context.Context, participantID string) (string, error) {
	sid, err := m.rdb.Get(ctx, userKey(participantID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return sid, nil
}

func (m *Manager) save(ctx context.Context, s *domain.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return m.rdb.Set(ctx, sessionKey(s.ID), raw, sessionTTL).Err()
}

func (m *Manager) get(ctx context.Context, id string) (*domain.Session, error) {
	raw, err := m.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s domain.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *Manager) getTx(ctx context.Context, tx *redis.Tx, id string) (*domain.Session, error) {
	raw, err := tx.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s domain.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *Manager) persistFinal(ctx context.Context, s *domain.Session) {
	if m.results == nil || s == nil || !s.Ended() {
		return
	}
	if err := m.results.SaveResult(ctx, s, string(s.Reason)); err != nil {
		obslog.L().Error("session_result_persist_error",
			zap.String("session_id", s.ID),
			zap.String("reason", string(s.Reason)),
			zap.Error(err),
		)
		return
	}
	obslog.L().Info("session_result_persist",
		zap.String("session_id", s.ID),
		zap.String("reason", string(s.Reason)),
	)
}

func sessionKey(id string) string { return "qf:session:" + strings.TrimSpace(id) }
func userKey(pid string) string   { return "qf:session:user:" + strings.TrimSpace(pid) }

// OpenRedis parses a redis:// or rediss:// URL, connects, and verifies the
// connection with a ping.
func OpenRedis(redisURL string) (*redis.Client, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required")
	}
	u, err := url.Parse(redisURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	rdb := redis.NewClient(&redis.Options{Addr: u.Host, Password: pass, DB: db})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

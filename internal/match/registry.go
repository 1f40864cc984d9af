package match

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tsubute/queenfall/internal/domain"
	"github.com/tsubute/queenfall/internal/game"
	"github.com/tsubute/queenfall/internal/obslog"
)

const pairAttempts = 5

// Registry pairs anonymous participants through a single-occupancy waiting
// slot. The slot is a redis key guarded by WATCH, so the
// read-compare-clear-create sequence is one atomic step: two simultaneous
// requests can never both claim an empty slot, and never both pair with the
// same occupant.
type Registry struct {
	rdb     *redis.Client
	games   *game.Manager
	slotTTL time.Duration

	mu       sync.RWMutex
	notifier Notifier
}

func NewRegistry(rdb *redis.Client, games *game.Manager, slotTTL time.Duration) *Registry {
	if slotTTL <= 0 {
		slotTTL = 45 * time.Second
	}
	return &Registry{rdb: rdb, games: games, slotTTL: slotTTL}
}

// SetNotifier registers the push channel used to tell a waiting participant
// that pairing occurred. Poll-only transports rely on CheckPaired instead.
func (r *Registry) SetNotifier(n Notifier) {
	r.mu.Lock()
	r.notifier = n
	r.mu.Unlock()
}

// RequestPairing claims the waiting slot or pairs with its occupant. A
// participant re-requesting while it still occupies the slot stays waiting;
// it never pairs with its own entry.
func (r *Registry) RequestPairing(ctx context.Context, participantID string) (*Pairing, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return nil, ErrInvalidParticipant
	}

	var (
		result   *Pairing
		occupant string
	)
	var err error
	for attempt := 0; attempt < pairAttempts; attempt++ {
		result, occupant = nil, ""
		err = r.rdb.Watch(ctx, func(tx *redis.Tx) error {
			cur, gerr := tx.Get(ctx, slotKey).Result()
			if gerr == redis.Nil {
				cur = ""
			} else if gerr != nil {
				return gerr
			}

			pipe := tx.TxPipeline()
			switch cur {
			case "":
				pipe.Set(ctx, slotKey, participantID, r.slotTTL)
				if _, perr := pipe.Exec(ctx); perr != nil {
					return perr
				}
				result = &Pairing{Role: RoleWaiting}
			case participantID:
				pipe.Expire(ctx, slotKey, r.slotTTL)
				if _, perr := pipe.Exec(ctx); perr != nil {
					return perr
				}
				result = &Pairing{Role: RoleWaiting}
			default:
				pipe.Del(ctx, slotKey)
				if _, perr := pipe.Exec(ctx); perr != nil {
					return perr
				}
				occupant = cur
			}
			return nil
		}, slotKey)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return nil, fmt.Errorf("waiting slot contention: %w", err)
		}
		return nil, err
	}
	if result != nil {
		if result.Role == RoleWaiting {
			obslog.L().Info("pairing_waiting", zap.String("participant_id", participantID))
		}
		return result, nil
	}
	return r.pairWith(ctx, participantID, occupant)
}

// pairWith creates the session for a requester and the slot occupant it just
// displaced, records the paired index for the occupant's polling, and fires
// the async notifier.
func (r *Registry) pairWith(ctx context.Context, requesterID, occupantID string) (*Pairing, error) {
	if requesterID == occupantID {
		return nil, domain.ErrSelfPairing
	}
	reqColor, _ := AssignColors(requesterID, occupantID)
	whiteID, blackID := requesterID, occupantID
	if reqColor == domain.Black {
		whiteID, blackID = occupantID, requesterID
	}
	s, err := r.games.CreateSession(ctx, whiteID, blackID)
	if err != nil {
		return nil, err
	}

	pipe := r.rdb.Pipeline()
	pipe.Set(ctx, pairedKey(requesterID), s.ID, r.slotTTL*4)
	pipe.Set(ctx, pairedKey(occupantID), s.ID, r.slotTTL*4)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	obslog.L().Info("pairing_matched",
		zap.String("session_id", s.ID),
		zap.String("requester_id", requesterID),
		zap.String("occupant_id", occupantID),
		zap.String("white_id", whiteID),
	)

	r.mu.RLock()
	n := r.notifier
	r.mu.RUnlock()
	if n != nil {
		go n(context.WithoutCancel(ctx), s, occupantID)
	}
	return &Pairing{Role: RolePaired, Session: s, OpponentID: occupantID, Color: reqColor}, nil
}

// CheckPaired is the poll variant for transports without server push. It
// reads the paired index written at pairing time.
func (r *Registry) CheckPaired(ctx context.Context, participantID string) (*Pairing, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return nil, ErrInvalidParticipant
	}
	sid, err := r.rdb.Get(ctx, pairedKey(participantID)).Result()
	if err == redis.Nil {
		return &Pairing{Role: RoleWaiting}, nil
	}
	if err != nil {
		return nil, err
	}
	s, err := r.games.LoadSession(ctx, sid)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return &Pairing{Role: RoleWaiting}, nil
	}
	return &Pairing{
		Role:       RolePaired,
		Session:    s,
		OpponentID: s.OpponentOf(participantID),
		Color:      s.ColorOf(participantID),
	}, nil
}

// CancelWaiting removes the participant from the slot iff it is still the
// occupant; a no-op otherwise (already paired or already departed).
func (r *Registry) CancelWaiting(ctx context.Context, participantID string) error {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return ErrInvalidParticipant
	}
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, gerr := tx.Get(ctx, slotKey).Result()
		if gerr == redis.Nil {
			return nil
		}
		if gerr != nil {
			return gerr
		}
		if cur != participantID {
			return nil
		}
		pipe := tx.TxPipeline()
		pipe.Del(ctx, slotKey)
		_, perr := pipe.Exec(ctx)
		return perr
	}, slotKey)
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		return err
	}
	obslog.L().Info("pairing_cancel", zap.String("participant_id", participantID))
	return nil
}

// AwaitPairing registers the participant and polls until pairing occurs, the
// timeout elapses, or the context is canceled. On timeout the waiting entry
// is removed and ErrNoOpponent is returned; the participant may re-request.
func (r *Registry) AwaitPairing(ctx context.Context, participantID string, interval, timeout time.Duration) (*Pairing, error) {
	p, err := r.RequestPairing(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if p.Role == RolePaired {
		return p, nil
	}
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = r.CancelWaiting(context.WithoutCancel(ctx), participantID)
			return nil, ctx.Err()
		case <-deadline.C:
			// The opponent may have paired after the last tick. Check once
			// more before withdrawing, or the waiter walks away from a live
			// session its opponent already joined.
			last, lerr := r.CheckPaired(ctx, participantID)
			if lerr == nil && last.Role == RolePaired {
				return last, nil
			}
			_ = r.CancelWaiting(ctx, participantID)
			if lerr != nil {
				return nil, lerr
			}
			return nil, ErrNoOpponent
		case <-tick.C:
			p, err := r.CheckPaired(ctx, participantID)
			if err != nil {
				return nil, err
			}
			if p.Role == RolePaired {
				return p, nil
			}
		}
	}
}

const slotKey = "qf:match:waiting"

func pairedKey(pid string) string { return "qf:match:paired:" + strings.TrimSpace(pid) }

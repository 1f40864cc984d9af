package match

import (
	"context"
	"errors"

	"github.com/tsubute/queenfall/internal/domain"
)

// Role reports the outcome of a pairing request.
type Role string

const (
	RoleWaiting Role = "waiting"
	RolePaired  Role = "paired"
)

// Pairing is the result of RequestPairing or CheckPaired. For RolePaired the
// session, opponent identity, and the caller's color are set.
type Pairing struct {
	Role       Role
	Session    *domain.Session
	OpponentID string
	Color      domain.Color
}

var (
	ErrInvalidParticipant = errors.New("invalid participant id")
	// ErrNoOpponent is the recoverable pairing-timeout outcome; the
	// participant may re-request pairing.
	ErrNoOpponent = errors.New("no opponent found")
)

// Notifier pushes an asynchronous pairing notification to the participant
// that had been waiting in the slot.
type Notifier func(ctx context.Context, s *domain.Session, waiterID string)

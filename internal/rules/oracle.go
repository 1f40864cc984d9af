package rules

import (
	"github.com/tsubute/queenfall/internal/domain"
)

// StartingFEN is the canonical initial position, white to move.
const StartingFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// QueenToken is the captured-piece token whose capture triggers sudden death.
const QueenToken = "q"

// Verdict is the oracle's answer for an accepted move: the canonical notation,
// capture metadata, the resulting position, and the engine's own terminal
// flags. A Verdict is a value; the oracle keeps no state between calls.
type Verdict struct {
	UCI      string
	SAN      string
	Captured string // piece token "q","r","b","n","p" or "" when no capture
	FEN      string
	NextTurn domain.Color

	Checkmate            bool
	Stalemate            bool
	InsufficientMaterial bool
}

// Oracle validates candidate moves against the position reached by replaying
// movesUCI from the starting position. Implementations must be pure: a
// rejected move leaves nothing behind.
type Oracle interface {
	// LegalTargets lists the destination squares reachable from the given
	// square in the current position.
	LegalTargets(movesUCI []string, square string) ([]string, error)
	// Apply validates the move and returns its Verdict, or
	// domain.ErrIllegalMove when the move is refused.
	Apply(movesUCI []string, mv domain.Move) (*Verdict, error)
}

// Resolve derives the terminal transition for an accepted move. Sudden death
// is evaluated strictly first: capturing the queen ends the session with the
// mover as winner even if the same move also checkmates. Draw outcomes report
// an empty winner color.
func Resolve(v *Verdict, mover domain.Color) (domain.Reason, domain.Color, bool) {
	if v == nil {
		return "", "", false
	}
	if v.Captured == QueenToken {
		return domain.ReasonSuddenDeath, mover, true
	}
	if v.Checkmate {
		return domain.ReasonCheckmate, mover, true
	}
	if v.Stalemate {
		return domain.ReasonStalemate, "", true
	}
	if v.InsufficientMaterial {
		return domain.ReasonInsufficientMaterial, "", true
	}
	return "", "", false
}

package rules

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/tsubute/queenfall/internal/domain"
)

// Engine implements Oracle on top of corentings/chess. Every call rebuilds the
// game by replaying the stored UCI moves, so a refused move cannot leave a
// half-applied position behind.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

func (e *Engine) LegalTargets(movesUCI []string, square string) ([]string, error) {
	game := reconstruct(movesUCI)
	if game == nil {
		return nil, fmt.Errorf("corrupt move log: %v", movesUCI)
	}
	sq := strings.ToLower(strings.TrimSpace(square))
	var out []string
	for _, mv := range game.ValidMoves() {
		if mv.S1().String() == sq {
			out = append(out, mv.S2().String())
		}
	}
	return out, nil
}

func (e *Engine) Apply(movesUCI []string, mv domain.Move) (*Verdict, error) {
	game := reconstruct(movesUCI)
	if game == nil {
		return nil, fmt.Errorf("corrupt move log: %v", movesUCI)
	}
	uci := mv.UCI()
	if len(uci) < 4 {
		return nil, fmt.Errorf("%w: %q", domain.ErrIllegalMove, uci)
	}

	pos := game.Position()
	decoded, err := nchess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrIllegalMove, uci)
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, decoded)
	captured := capturedToken(pos, decoded)
	if err := game.Move(decoded, nil); err != nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrIllegalMove, uci)
	}

	v := &Verdict{
		UCI:      decoded.String(),
		SAN:      san,
		Captured: captured,
		FEN:      game.FEN(),
		NextTurn: colorFrom(game.Position().Turn()),
	}
	if game.Outcome() != nchess.NoOutcome {
		switch game.Method() {
		case nchess.Checkmate:
			v.Checkmate = true
		case nchess.Stalemate:
			v.Stalemate = true
		case nchess.InsufficientMaterial:
			v.InsufficientMaterial = true
		}
	}
	return v, nil
}

// capturedToken inspects the position before the move is applied. En passant
// is the only capture whose victim is not on the destination square; queens
// cannot be captured that way, but the token is reported anyway.
func capturedToken(pos *nchess.Position, mv *nchess.Move) string {
	target := mv.S2()
	if mv.HasTag(nchess.EnPassant) {
		file := mv.S2().File()
		rank := mv.S2().Rank()
		if pos.Turn() == nchess.White {
			target = nchess.NewSquare(file, rank-1)
		} else {
			target = nchess.NewSquare(file, rank+1)
		}
	}
	piece := pos.Board().Piece(target)
	if piece == nchess.NoPiece {
		return ""
	}
	return pieceToken(piece.Type())
}

func pieceToken(pt nchess.PieceType) string {
	switch pt {
	case nchess.King:
		return "k"
	case nchess.Queen:
		return "q"
	case nchess.Rook:
		return "r"
	case nchess.Bishop:
		return "b"
	case nchess.Knight:
		return "n"
	case nchess.Pawn:
		return "p"
	default:
		return ""
	}
}

// reconstruct replays the UCI log from the start position. Returns nil when
// the log contains a move the engine refuses, which means the log is corrupt.
func reconstruct(movesUCI []string) *nchess.Game {
	game := nchess.NewGame()
	for _, mv := range movesUCI {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil
		}
	}
	return game
}

func colorFrom(c nchess.Color) domain.Color {
	if c == nchess.White {
		return domain.White
	}
	return domain.Black
}

package domain

import (
	"strings"
	"time"
)

// Color identifies a side. White is the first mover.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// Move is a candidate move in algebraic coordinates. Immutable once accepted
// into a session's move log.
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// UCI returns the lowercase coordinate form, e.g. "e2e4" or "e7e8q".
func (m Move) UCI() string {
	return strings.ToLower(strings.TrimSpace(m.From) + strings.TrimSpace(m.To) + strings.TrimSpace(m.Promotion))
}

// Status represents a session lifecycle state. ENDED is terminal.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusEnded  Status = "ENDED"
)

// Reason says why a session ended. Values double as wire strings.
type Reason string

const (
	ReasonSuddenDeath          Reason = "suddenDeathCapture"
	ReasonCheckmate            Reason = "checkmate"
	ReasonStalemate            Reason = "stalemate"
	ReasonInsufficientMaterial Reason = "insufficientMaterial"
	ReasonDisconnect           Reason = "opponentDisconnected"
)

// Session is the state of a paired match. Exactly one Session owns its
// position (FEN + move log); nothing outside the session managers mutates it.
type Session struct {
	ID        string    `json:"id"`
	WhiteID   string    `json:"white_id"`
	BlackID   string    `json:"black_id"`
	FEN       string    `json:"fen"`
	MovesUCI  []string  `json:"moves_uci"`
	MovesSAN  []string  `json:"moves_san"`
	Turn      Color     `json:"turn"`
	Status    Status    `json:"status"`
	Reason    Reason    `json:"reason,omitempty"`
	Winner    Color     `json:"winner,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ColorOf returns the color of the given participant, or "" when the
// participant is not part of the session.
func (s *Session) ColorOf(participantID string) Color {
	switch participantID {
	case s.WhiteID:
		return White
	case s.BlackID:
		return Black
	default:
		return ""
	}
}

// OpponentOf returns the other participant's identity, or "" when the given
// participant is not part of the session.
func (s *Session) OpponentOf(participantID string) string {
	switch participantID {
	case s.WhiteID:
		return s.BlackID
	case s.BlackID:
		return s.WhiteID
	default:
		return ""
	}
}

func (s *Session) HasParticipant(participantID string) bool {
	return s.ColorOf(participantID) != ""
}

func (s *Session) Ended() bool { return s.Status == StatusEnded }

// WinnerID maps the winning color back to a participant identity. Empty for
// draws and unfinished sessions.
func (s *Session) WinnerID() string {
	switch s.Winner {
	case White:
		return s.WhiteID
	case Black:
		return s.BlackID
	default:
		return ""
	}
}

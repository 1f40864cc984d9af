// Package peer holds the peer-authoritative session variant: each end runs
// its own Machine over the same deterministic rules oracle, so both sides
// reach identical conclusions about every move without a central arbiter.
package peer

import (
	"errors"
	"strings"
	"sync"

	"github.com/tsubute/queenfall/internal/domain"
	"github.com/tsubute/queenfall/internal/rules"
)

// ErrDiverged means the remote peer reports a position that does not match
// the locally computed one. The session cannot continue.
var ErrDiverged = errors.New("position diverged from remote peer")

// Machine is one side's view of a peer-authoritative session. It applies the
// local participant's moves through Propose and the remote participant's
// moves through ApplyRemote; both paths run the same validation, so a remote
// peer cannot push an illegal move into the local state.
//
// Machine is safe for concurrent use; the transport read loop and the local
// input loop may call it from different goroutines.
type Machine struct {
	mu     sync.Mutex
	oracle rules.Oracle
	color  domain.Color

	moves  []string
	sans   []string
	fen    string
	turn   domain.Color
	status domain.Status
	reason domain.Reason
	winner domain.Color
}

func NewMachine(oracle rules.Oracle, color domain.Color) *Machine {
	return &Machine{
		oracle: oracle,
		color:  color,
		moves:  []string{},
		sans:   []string{},
		fen:    rules.StartingFEN,
		turn:   domain.White,
		status: domain.StatusActive,
	}
}

// Propose validates and applies a move by the local participant.
func (m *Machine) Propose(mv domain.Move) (*rules.Verdict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.apply(mv, m.color)
}

// ApplyRemote validates and applies a move reported by the remote peer. The
// move is re-validated locally; an illegal or out-of-turn remote move is
// rejected and leaves the machine unchanged.
func (m *Machine) ApplyRemote(mv domain.Move) (*rules.Verdict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.apply(mv, m.color.Other())
}

func (m *Machine) apply(mv domain.Move, mover domain.Color) (*rules.Verdict, error) {
	if m.status != domain.StatusActive {
		return nil, domain.ErrSessionEnded
	}
	if m.turn != mover {
		return nil, domain.ErrNotYourTurn
	}
	v, err := m.oracle.Apply(m.moves, mv)
	if err != nil {
		return nil, err
	}
	m.moves = append(m.moves, v.UCI)
	m.sans = append(m.sans, v.SAN)
	m.fen = v.FEN
	m.turn = v.NextTurn
	if reason, winner, over := rules.Resolve(v, mover); over {
		m.status = domain.StatusEnded
		m.reason = reason
		m.winner = winner
	}
	return v, nil
}

// VerifyPosition compares the remote peer's reported position against the
// locally computed one and returns ErrDiverged on mismatch. An empty report
// is treated as "not sent" and passes.
func (m *Machine) VerifyPosition(remoteFEN string) error {
	remoteFEN = strings.TrimSpace(remoteFEN)
	if remoteFEN == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if remoteFEN != m.fen {
		return ErrDiverged
	}
	return nil
}

// EndOnDisconnect marks the session ended with the local participant as
// survivor. Reports false when the machine already reached a terminal state.
func (m *Machine) EndOnDisconnect() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != domain.StatusActive {
		return false
	}
	m.status = domain.StatusEnded
	m.reason = domain.ReasonDisconnect
	m.winner = m.color
	return true
}

func (m *Machine) Color() domain.Color { return m.color }

func (m *Machine) FEN() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fen
}

func (m *Machine) Turn() domain.Color {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.turn
}

// MyTurn reports whether the local participant moves next.
func (m *Machine) MyTurn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status == domain.StatusActive && m.turn == m.color
}

func (m *Machine) Ended() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status == domain.StatusEnded
}

// Outcome returns the terminal reason and winning color. Both are empty while
// the session is active; winner is empty for draws.
func (m *Machine) Outcome() (domain.Reason, domain.Color) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason, m.winner
}

// Moves returns a copy of the accepted move log in coordinate notation.
func (m *Machine) Moves() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.moves))
	copy(out, m.moves)
	return out
}

// SAN returns a copy of the accepted move log in algebraic notation.
func (m *Machine) SAN() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sans))
	copy(out, m.sans)
	return out
}

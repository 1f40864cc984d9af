package peer

import (
	"errors"
	"testing"

	"github.com/tsubute/queenfall/internal/domain"
	"github.com/tsubute/queenfall/internal/rules"
)

func mv(from, to string) domain.Move { return domain.Move{From: from, To: to} }

func newPair(t *testing.T) (*Machine, *Machine) {
	t.Helper()
	eng := rules.NewEngine()
	return NewMachine(eng, domain.White), NewMachine(eng, domain.Black)
}

// relay applies the white machine's move to both and cross-checks positions,
// the way two connected peers would.
func relay(t *testing.T, from, to *Machine, m domain.Move) {
	t.Helper()
	v, err := from.Propose(m)
	if err != nil {
		t.Fatalf("propose %s%s: %v", m.From, m.To, err)
	}
	if _, err := to.ApplyRemote(m); err != nil {
		t.Fatalf("apply remote %s%s: %v", m.From, m.To, err)
	}
	if err := to.VerifyPosition(v.FEN); err != nil {
		t.Fatalf("verify after %s%s: %v", m.From, m.To, err)
	}
}

func TestMachinesStayInLockstep(t *testing.T) {
	white, black := newPair(t)

	relay(t, white, black, mv("e2", "e4"))
	relay(t, black, white, mv("e7", "e5"))
	relay(t, white, black, mv("g1", "f3"))

	if white.FEN() != black.FEN() {
		t.Fatalf("positions diverged:\n  white %s\n  black %s", white.FEN(), black.FEN())
	}
	if white.Turn() != domain.Black || black.Turn() != domain.Black {
		t.Fatalf("turn mismatch: white sees %s, black sees %s", white.Turn(), black.Turn())
	}
	if white.MyTurn() {
		t.Fatal("white should not be on turn")
	}
	if !black.MyTurn() {
		t.Fatal("black should be on turn")
	}
}

func TestProposeOutOfTurn(t *testing.T) {
	black := NewMachine(rules.NewEngine(), domain.Black)

	if _, err := black.Propose(mv("e7", "e5")); !errors.Is(err, domain.ErrNotYourTurn) {
		t.Fatalf("want ErrNotYourTurn, got %v", err)
	}
	if got := len(black.Moves()); got != 0 {
		t.Fatalf("rejected move must not be recorded, log has %d entries", got)
	}
}

func TestApplyRemoteRejectsIllegalMove(t *testing.T) {
	white, black := newPair(t)
	relay(t, white, black, mv("e2", "e4"))

	before := white.FEN()
	if _, err := white.ApplyRemote(mv("e7", "e4")); !errors.Is(err, domain.ErrIllegalMove) {
		t.Fatalf("want ErrIllegalMove, got %v", err)
	}
	if white.FEN() != before {
		t.Fatal("rejected remote move mutated the position")
	}
	if white.Turn() != domain.Black {
		t.Fatalf("turn changed after rejection: %s", white.Turn())
	}
}

func TestApplyRemoteRejectsOutOfTurn(t *testing.T) {
	white, black := newPair(t)
	relay(t, white, black, mv("e2", "e4"))

	// Black already owns the turn on both machines; a second white move
	// arriving over the wire must be refused.
	if _, err := black.ApplyRemote(mv("d2", "d4")); !errors.Is(err, domain.ErrNotYourTurn) {
		t.Fatalf("want ErrNotYourTurn, got %v", err)
	}
}

func TestQueenCaptureEndsBothMachines(t *testing.T) {
	white, black := newPair(t)

	relay(t, white, black, mv("e2", "e4"))
	relay(t, black, white, mv("e7", "e5"))
	relay(t, white, black, mv("d1", "h5"))
	relay(t, black, white, mv("b8", "c6"))
	relay(t, white, black, mv("h5", "e5"))

	v, err := black.Propose(mv("c6", "e5"))
	if err != nil {
		t.Fatalf("queen capture: %v", err)
	}
	if v.Captured != rules.QueenToken {
		t.Fatalf("captured = %q, want %q", v.Captured, rules.QueenToken)
	}
	if _, err := white.ApplyRemote(mv("c6", "e5")); err != nil {
		t.Fatalf("apply remote capture: %v", err)
	}

	for name, m := range map[string]*Machine{"white": white, "black": black} {
		if !m.Ended() {
			t.Fatalf("%s machine still active after queen capture", name)
		}
		reason, winner := m.Outcome()
		if reason != domain.ReasonSuddenDeath {
			t.Fatalf("%s reason = %s, want %s", name, reason, domain.ReasonSuddenDeath)
		}
		if winner != domain.Black {
			t.Fatalf("%s winner = %s, want black", name, winner)
		}
	}
}

func TestEndedMachineRefusesMoves(t *testing.T) {
	white, black := newPair(t)

	relay(t, white, black, mv("e2", "e4"))
	relay(t, black, white, mv("e7", "e5"))
	relay(t, white, black, mv("d1", "h5"))
	relay(t, black, white, mv("b8", "c6"))
	relay(t, white, black, mv("h5", "e5"))
	relay(t, black, white, mv("c6", "e5"))

	if _, err := white.Propose(mv("g1", "f3")); !errors.Is(err, domain.ErrSessionEnded) {
		t.Fatalf("propose after end: want ErrSessionEnded, got %v", err)
	}
	if _, err := white.ApplyRemote(mv("g8", "f6")); !errors.Is(err, domain.ErrSessionEnded) {
		t.Fatalf("remote after end: want ErrSessionEnded, got %v", err)
	}
}

func TestVerifyPositionDivergence(t *testing.T) {
	white, black := newPair(t)
	relay(t, white, black, mv("e2", "e4"))

	if err := white.VerifyPosition(""); err != nil {
		t.Fatalf("empty report should pass: %v", err)
	}
	if err := white.VerifyPosition(rules.StartingFEN); !errors.Is(err, ErrDiverged) {
		t.Fatalf("want ErrDiverged, got %v", err)
	}
}

func TestEndOnDisconnect(t *testing.T) {
	white, black := newPair(t)
	relay(t, white, black, mv("e2", "e4"))

	if !white.EndOnDisconnect() {
		t.Fatal("first disconnect end must report true")
	}
	if white.EndOnDisconnect() {
		t.Fatal("second disconnect end must report false")
	}
	reason, winner := white.Outcome()
	if reason != domain.ReasonDisconnect || winner != domain.White {
		t.Fatalf("outcome = (%s, %s), want (%s, white)", reason, winner, domain.ReasonDisconnect)
	}
	if black.Ended() {
		t.Fatal("remote machine must not be affected by a local disconnect mark")
	}
}

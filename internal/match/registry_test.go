package match

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/tsubute/queenfall/internal/domain"
	"github.com/tsubute/queenfall/internal/game"
	"github.com/tsubute/queenfall/internal/rules"
)

func newTestRegistry(t *testing.T) (*Registry, *game.Manager) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb, err := game.OpenRedis(fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("OpenRedis: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })

	games := game.NewManager(rdb, rules.NewEngine())
	return NewRegistry(rdb, games, 30*time.Second), games
}

func TestPairingFlow(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	p, err := reg.RequestPairing(ctx, "alice")
	if err != nil {
		t.Fatalf("register alice: %v", err)
	}
	if p.Role != RoleWaiting {
		t.Fatalf("first registrant role = %s", p.Role)
	}

	p, err = reg.RequestPairing(ctx, "bob")
	if err != nil {
		t.Fatalf("register bob: %v", err)
	}
	if p.Role != RolePaired || p.Session == nil {
		t.Fatalf("bob pairing = %+v", p)
	}
	if p.OpponentID != "alice" {
		t.Fatalf("bob opponent = %s", p.OpponentID)
	}
	if p.Color != domain.Black {
		t.Fatalf("bob color = %s, want black (alice < bob)", p.Color)
	}
	if p.Session.WhiteID != "alice" || p.Session.BlackID != "bob" {
		t.Fatalf("session colors = %s/%s", p.Session.WhiteID, p.Session.BlackID)
	}

	// The waiter learns the same session through the poll path.
	wp, err := reg.CheckPaired(ctx, "alice")
	if err != nil {
		t.Fatalf("check alice: %v", err)
	}
	if wp.Role != RolePaired || wp.Session.ID != p.Session.ID {
		t.Fatalf("alice pairing = %+v", wp)
	}
	if wp.Color != domain.White || wp.OpponentID != "bob" {
		t.Fatalf("alice sees color=%s opponent=%s", wp.Color, wp.OpponentID)
	}
}

func TestReRegisterSameParticipantStaysWaiting(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := reg.RequestPairing(ctx, "alice")
		if err != nil {
			t.Fatalf("register #%d: %v", i, err)
		}
		if p.Role != RoleWaiting {
			t.Fatalf("participant paired with its own entry: %+v", p)
		}
	}
}

func TestCancelWaiting(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := reg.RequestPairing(ctx, "alice"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.CancelWaiting(ctx, "alice"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// The slot is free again; bob waits rather than pairing with a ghost.
	p, err := reg.RequestPairing(ctx, "bob")
	if err != nil {
		t.Fatalf("register bob: %v", err)
	}
	if p.Role != RoleWaiting {
		t.Fatalf("bob paired with canceled entry: %+v", p)
	}

	// Canceling someone else's slot is a no-op.
	if err := reg.CancelWaiting(ctx, "carol"); err != nil {
		t.Fatalf("foreign cancel: %v", err)
	}
	if p, err := reg.CheckPaired(ctx, "bob"); err != nil || p.Role != RoleWaiting {
		t.Fatalf("bob state after foreign cancel: %+v, %v", p, err)
	}
}

func TestAwaitPairingTimeout(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.AwaitPairing(ctx, "alice", 20*time.Millisecond, 150*time.Millisecond)
	if !errors.Is(err, ErrNoOpponent) {
		t.Fatalf("want ErrNoOpponent, got %v", err)
	}

	p, err := reg.RequestPairing(ctx, "bob")
	if err != nil {
		t.Fatalf("register bob: %v", err)
	}
	if p.Role != RoleWaiting {
		t.Fatalf("timed-out entry still pairable: %+v", p)
	}
}

// An opponent arriving between the last poll tick and the deadline must
// still be reported as paired; otherwise the opponent is left alone in an
// active session nobody will end.
func TestAwaitPairingChecksOnceMoreAtDeadline(t *testing.T) {
	reg, games := newTestRegistry(t)
	ctx := context.Background()

	done := make(chan *Pairing, 1)
	go func() {
		// Interval longer than the timeout: no tick ever fires, so the
		// deadline branch is the only place the pairing can be observed.
		p, err := reg.AwaitPairing(ctx, "alice", 10*time.Second, 300*time.Millisecond)
		if err != nil {
			t.Errorf("await: %v", err)
		}
		done <- p
	}()

	time.Sleep(100 * time.Millisecond)
	if p, err := reg.RequestPairing(ctx, "bob"); err != nil || p.Role != RolePaired {
		t.Fatalf("register bob: %+v, %v", p, err)
	}

	select {
	case p := <-done:
		if p == nil || p.Role != RolePaired || p.OpponentID != "bob" {
			t.Fatalf("await result = %+v", p)
		}
		s, err := games.ActiveSessionByParticipant(ctx, "alice")
		if err != nil || s == nil {
			t.Fatalf("alice lost her session: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("await never resolved")
	}
}

func TestAwaitPairingCancellation(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := reg.AwaitPairing(ctx, "alice", 20*time.Millisecond, 10*time.Second)
		done <- err
	}()
	time.Sleep(60 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("want context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("await never returned after cancel")
	}

	// The withdrawn entry must not pair with a newcomer.
	p, err := reg.RequestPairing(context.Background(), "bob")
	if err != nil {
		t.Fatalf("register bob: %v", err)
	}
	if p.Role != RoleWaiting {
		t.Fatalf("canceled entry still pairable: %+v", p)
	}
}

func TestAwaitPairingResolvesWhenOpponentArrives(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	done := make(chan *Pairing, 1)
	go func() {
		p, err := reg.AwaitPairing(ctx, "alice", 20*time.Millisecond, 5*time.Second)
		if err != nil {
			t.Errorf("await: %v", err)
		}
		done <- p
	}()

	time.Sleep(50 * time.Millisecond)
	if _, err := reg.RequestPairing(ctx, "bob"); err != nil {
		t.Fatalf("register bob: %v", err)
	}

	select {
	case p := <-done:
		if p == nil || p.Role != RolePaired || p.OpponentID != "bob" {
			t.Fatalf("await result = %+v", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("await never resolved")
	}
}

func TestPairingNotifierFires(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	notified := make(chan string, 1)
	reg.SetNotifier(func(_ context.Context, s *domain.Session, waiterID string) {
		if s != nil {
			notified <- waiterID
		}
	})

	if _, err := reg.RequestPairing(ctx, "alice"); err != nil {
		t.Fatalf("register alice: %v", err)
	}
	if _, err := reg.RequestPairing(ctx, "bob"); err != nil {
		t.Fatalf("register bob: %v", err)
	}

	select {
	case waiter := <-notified:
		if waiter != "alice" {
			t.Fatalf("notified %s, want alice", waiter)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("notifier never fired")
	}
}

func TestPairingCreatesExactlyOneSession(t *testing.T) {
	reg, games := newTestRegistry(t)
	ctx := context.Background()

	if _, err := reg.RequestPairing(ctx, "alice"); err != nil {
		t.Fatalf("register alice: %v", err)
	}
	p, err := reg.RequestPairing(ctx, "bob")
	if err != nil {
		t.Fatalf("register bob: %v", err)
	}

	for _, pid := range []string{"alice", "bob"} {
		s, err := games.ActiveSessionByParticipant(ctx, pid)
		if err != nil || s == nil {
			t.Fatalf("session for %s: %v", pid, err)
		}
		if s.ID != p.Session.ID {
			t.Fatalf("%s indexed to %s, want %s", pid, s.ID, p.Session.ID)
		}
	}
}

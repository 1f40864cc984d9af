package game

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tsubute/queenfall/internal/domain"
)

func TestMapResultToPGN(t *testing.T) {
	cases := []struct {
		winner domain.Color
		ended  bool
		want   string
	}{
		{domain.White, true, "1-0"},
		{domain.Black, true, "0-1"},
		{"", true, "1/2-1/2"},
		{"", false, "*"},
	}
	for _, tc := range cases {
		if got := mapResultToPGN(tc.winner, tc.ended); got != tc.want {
			t.Errorf("mapResultToPGN(%q, %v) = %q, want %q", tc.winner, tc.ended, got, tc.want)
		}
	}
}

func TestBuildPGN(t *testing.T) {
	s := &domain.Session{
		ID:        "s-1",
		WhiteID:   "alice",
		BlackID:   "bob",
		MovesSAN:  []string{"e4", "e5", "Qh5", "Nc6", "Qxe5+", "Nxe5"},
		Status:    domain.StatusEnded,
		Reason:    domain.ReasonSuddenDeath,
		Winner:    domain.Black,
		UpdatedAt: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}

	pgn := buildPGN(s, mapResultToPGN(s.Winner, s.Ended()), string(s.Reason))
	for _, want := range []string{
		`[White "alice"]`,
		`[Black "bob"]`,
		`[Date "2026.03.14"]`,
		`[Termination "suddenDeathCapture"]`,
		`[Result "0-1"]`,
		"1. e4 e5",
		"3. Qxe5+ Nxe5",
	} {
		if !strings.Contains(pgn, want) {
			t.Errorf("pgn missing %q:\n%s", want, pgn)
		}
	}
	if !strings.HasSuffix(pgn, "0-1") {
		t.Errorf("pgn must end with the result:\n%s", pgn)
	}
}

func TestBuildPGNSanitizesNames(t *testing.T) {
	s := &domain.Session{
		WhiteID: `al"ice`,
		BlackID: "bob",
		Status:  domain.StatusEnded,
		Winner:  domain.White,
	}
	pgn := buildPGN(s, "1-0", "checkmate")
	if strings.Contains(pgn, `al"ice`) {
		t.Fatalf("quote not sanitized:\n%s", pgn)
	}
	if !strings.Contains(pgn, "al'ice") {
		t.Fatalf("sanitized name missing:\n%s", pgn)
	}
}

func TestMemoryResults(t *testing.T) {
	r := NewMemoryResults()
	s := &domain.Session{ID: "s-1", WhiteID: "alice", BlackID: "bob", Status: domain.StatusEnded, Reason: domain.ReasonCheckmate, Winner: domain.White}

	if err := r.SaveResult(context.Background(), s, string(s.Reason)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("len = %d", r.Len())
	}

	saved, method := r.Result("s-1")
	if saved == nil || method != "checkmate" {
		t.Fatalf("result = %v, %q", saved, method)
	}

	// The stored row is a copy; later mutation of the source must not leak.
	s.Winner = domain.Black
	saved, _ = r.Result("s-1")
	if saved.Winner != domain.White {
		t.Fatal("stored session aliases the caller's value")
	}

	if err := r.SaveResult(context.Background(), nil, ""); err == nil {
		t.Fatal("nil session must error")
	}
}

package game

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tsubute/queenfall/internal/domain"
)

// Results persists final session outcomes. No in-flight state is ever stored;
// sessions themselves are process-lifetime scoped.
type Results interface {
	SaveResult(ctx context.Context, s *domain.Session, method string) error
}

// MemoryResults is an in-memory Results implementation for tests and for
// running without a database.
type MemoryResults struct {
	mu      sync.RWMutex
	rows    map[string]*domain.Session
	methods map[string]string
}

func NewMemoryResults() *MemoryResults {
	return &MemoryResults{rows: make(map[string]*domain.Session), methods: make(map[string]string)}
}

func (r *MemoryResults) SaveResult(_ context.Context, s *domain.Session, method string) error {
	if s == nil {
		return fmt.Errorf("nil session")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.rows[s.ID] = &cp
	r.methods[s.ID] = method
	return nil
}

func (r *MemoryResults) Result(id string) (*domain.Session, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rows[id], r.methods[id]
}

func (r *MemoryResults) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}

// mapResultToPGN converts the winning color to a PGN result token.
func mapResultToPGN(winner domain.Color, ended bool) string {
	switch winner {
	case domain.White:
		return "1-0"
	case domain.Black:
		return "0-1"
	}
	if ended {
		return "1/2-1/2"
	}
	return "*"
}

// buildPGN renders a minimal PGN record from the SAN log.
func buildPGN(s *domain.Session, pgnResult, method string) string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	date := s.UpdatedAt
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString("[Event \"Queenfall\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(s.WhiteID)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(s.BlackID)))
	if strings.TrimSpace(method) != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(method)))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	for i := 0; i < len(s.MovesSAN); i += 2 {
		turn := (i / 2) + 1
		b.WriteString(fmt.Sprintf("%d. %s", turn, strings.TrimSpace(s.MovesSAN[i])))
		if i+1 < len(s.MovesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(s.MovesSAN[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(pgnResult)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}

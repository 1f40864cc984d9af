// Package transport carries the wire surface of the service: the tagged
// message envelope, the websocket hub for live sessions, the REST pairing
// API, and the client-side channel.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tsubute/queenfall/internal/domain"
)

// MsgType tags an Envelope. The set is closed; decoding any other tag fails
// with ErrBadMessage.
type MsgType string

const (
	MsgHandshake    MsgType = "handshake"
	MsgMove         MsgType = "move"
	MsgState        MsgType = "state"
	MsgPaired       MsgType = "paired"
	MsgSessionEnded MsgType = "sessionEnded"
	MsgError        MsgType = "error"
)

// Error codes carried by MsgError envelopes.
const (
	CodeNotYourTurn  = "notYourTurn"
	CodeIllegalMove  = "illegalMove"
	CodeSessionEnded = "sessionEnded"
	CodeNotInSession = "notInSession"
	CodeBadMessage   = "badMessage"
	CodeInternal     = "internal"
)

var (
	// ErrBadMessage covers undecodable payloads, unknown tags, and missing
	// required fields. The offending message is dropped, never applied.
	ErrBadMessage = errors.New("malformed message")
	// ErrUnavailable means the channel is not connected; the caller's state
	// is untouched and it may retry after reconnecting.
	ErrUnavailable = errors.New("transport unavailable")
)

// Envelope is the single wire frame. Type selects which fields are
// meaningful; unused fields stay empty and are omitted from the encoding.
type Envelope struct {
	Type MsgType `json:"type"`

	// handshake
	ID string `json:"id,omitempty"`

	// move
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Promotion string `json:"promotion,omitempty"`

	// state, paired, sessionEnded
	SessionID  string `json:"sessionId,omitempty"`
	FEN        string `json:"fen,omitempty"`
	SAN        string `json:"san,omitempty"`
	Turn       string `json:"turn,omitempty"`
	Captured   string `json:"captured,omitempty"`
	OpponentID string `json:"opponentId,omitempty"`
	Color      string `json:"color,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Winner     string `json:"winner,omitempty"`

	// error
	Code string `json:"code,omitempty"`
	Text string `json:"text,omitempty"`
}

var squareRe = regexp.MustCompile(`^[a-h][1-8]$`)

// Decode parses and validates one wire frame.
func Decode(raw []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Validate checks the tag against the closed set and the fields the tag
// requires.
func (e *Envelope) Validate() error {
	switch e.Type {
	case MsgHandshake:
		if strings.TrimSpace(e.ID) == "" {
			return fmt.Errorf("%w: handshake without id", ErrBadMessage)
		}
	case MsgMove:
		from := strings.ToLower(strings.TrimSpace(e.From))
		to := strings.ToLower(strings.TrimSpace(e.To))
		if !squareRe.MatchString(from) || !squareRe.MatchString(to) {
			return fmt.Errorf("%w: move squares %q -> %q", ErrBadMessage, e.From, e.To)
		}
		if p := strings.ToLower(strings.TrimSpace(e.Promotion)); p != "" && (len(p) != 1 || !strings.Contains("qrbn", p)) {
			return fmt.Errorf("%w: promotion %q", ErrBadMessage, e.Promotion)
		}
	case MsgState, MsgPaired, MsgSessionEnded, MsgError:
		// Server-originated frames; nothing required from clients.
	default:
		return fmt.Errorf("%w: unknown type %q", ErrBadMessage, e.Type)
	}
	return nil
}

// MoveData extracts the move fields of a MsgMove envelope.
func (e *Envelope) MoveData() domain.Move {
	return domain.Move{
		From:      strings.ToLower(strings.TrimSpace(e.From)),
		To:        strings.ToLower(strings.TrimSpace(e.To)),
		Promotion: strings.ToLower(strings.TrimSpace(e.Promotion)),
	}
}

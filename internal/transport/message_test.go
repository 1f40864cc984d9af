package transport

import (
	"errors"
	"testing"
)

func TestDecodeHandshake(t *testing.T) {
	e, err := Decode([]byte(`{"type":"handshake","id":"p-1"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Type != MsgHandshake || e.ID != "p-1" {
		t.Fatalf("unexpected envelope: %+v", e)
	}
}

func TestDecodeMove(t *testing.T) {
	e, err := Decode([]byte(`{"type":"move","from":"E2","to":"e4"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	mv := e.MoveData()
	if mv.From != "e2" || mv.To != "e4" || mv.Promotion != "" {
		t.Fatalf("unexpected move: %+v", mv)
	}
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{{`},
		{"unknown type", `{"type":"teleport"}`},
		{"empty type", `{"from":"e2","to":"e4"}`},
		{"handshake without id", `{"type":"handshake"}`},
		{"move bad square", `{"type":"move","from":"z9","to":"e4"}`},
		{"move missing target", `{"type":"move","from":"e2"}`},
		{"move bad promotion", `{"type":"move","from":"e7","to":"e8","promotion":"k"}`},
		{"move long promotion", `{"type":"move","from":"e7","to":"e8","promotion":"rb"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode([]byte(tc.raw)); !errors.Is(err, ErrBadMessage) {
				t.Fatalf("want ErrBadMessage, got %v", err)
			}
		})
	}
}

func TestValidateServerFrames(t *testing.T) {
	for _, typ := range []MsgType{MsgState, MsgPaired, MsgSessionEnded, MsgError} {
		e := &Envelope{Type: typ}
		if err := e.Validate(); err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
	}
}

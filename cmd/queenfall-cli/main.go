package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appcfg "github.com/tsubute/queenfall/internal/config"
	"github.com/tsubute/queenfall/internal/domain"
	"github.com/tsubute/queenfall/internal/match"
	"github.com/tsubute/queenfall/internal/notices"
	"github.com/tsubute/queenfall/internal/obslog"
	"github.com/tsubute/queenfall/internal/pairing"
	"github.com/tsubute/queenfall/internal/peer"
	"github.com/tsubute/queenfall/internal/rules"
	"github.com/tsubute/queenfall/internal/transport"
)

func main() {
	cfg, err := appcfg.LoadClient()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}

	cat, err := notices.New(cfg.NoticeDir)
	if err != nil {
		log.Fatalf("notices init error: %v", err)
	}

	pid := participantID()
	fmt.Printf("playing as %s\n", pid)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := pairing.NewClient(cfg.ServerURL)
	fmt.Println(cat.MustRender("pairing.waiting", nil))
	st, err := client.AwaitPairing(ctx, pid, cfg.PollInterval, cfg.WaitTimeout)
	if err != nil {
		if errors.Is(err, match.ErrNoOpponent) {
			fmt.Println(cat.MustRender("pairing.timeout", nil))
			return
		}
		log.Fatalf("pairing error: %v", err)
	}

	// The color mapping is a pure function of the two identities, so the
	// locally computed value must agree with the server's.
	myColor, _ := match.AssignColors(pid, st.OpponentID)
	if st.Color != "" && st.Color != string(myColor) {
		obslog.L().Warn("color_mismatch",
			zap.String("local", string(myColor)),
			zap.String("server", st.Color),
		)
		myColor = domain.Color(st.Color)
	}
	fmt.Println(cat.MustRender("pairing.matched", map[string]any{
		"OpponentID": st.OpponentID,
		"Color":      string(myColor),
	}))

	machine := peer.NewMachine(rules.NewEngine(), myColor)
	done := make(chan struct{})
	var doneOnce sync.Once
	stop := func() { doneOnce.Do(func() { close(done) }) }

	ch := transport.NewChannel(wsURL(cfg.ServerURL))
	fatal := func() {
		stop()
		ch.Close()
	}
	ch.OnMessage(func(e *transport.Envelope) {
		handleEnvelope(machine, cat, st.OpponentID, e, stop, fatal)
	})
	ch.OnClose(func() {
		select {
		case <-done:
			// Already over (session ended or a fatal desync); the outcome
			// was printed by whoever stopped us.
		default:
			if machine.EndOnDisconnect() {
				reason, winner := machine.Outcome()
				fmt.Println(cat.EndText(reason, winner, machine.Color()))
			}
		}
		stop()
	})
	if err := ch.Connect(ctx); err != nil {
		log.Fatalf("connect error: %v", err)
	}
	defer ch.Close()

	if err := ch.Send(ctx, &transport.Envelope{Type: transport.MsgHandshake, ID: pid}); err != nil {
		log.Fatalf("handshake error: %v", err)
	}

	if machine.MyTurn() {
		fmt.Println(cat.MustRender("session.yourturn", nil))
	} else {
		fmt.Println(cat.MustRender("session.theirturn", map[string]any{"OpponentID": st.OpponentID}))
	}

	go readInput(ctx, ch, done)
	<-done
}

// handleEnvelope mirrors every accepted state frame into the local machine,
// so the client always knows whose turn it is and can detect divergence from
// the server's position. A frame the machine cannot apply, or a position
// mismatch, means the local state can never catch up again: both are fatal
// to the session.
func handleEnvelope(machine *peer.Machine, cat *notices.Catalog, opponentID string, e *transport.Envelope, stop, fatal func()) {
	switch e.Type {
	case transport.MsgState:
		mv := e.MoveData()
		mover := machine.Turn()
		var err error
		if mover == machine.Color() {
			_, err = machine.Propose(mv)
		} else {
			_, err = machine.ApplyRemote(mv)
		}
		if err != nil {
			obslog.L().Error("state_apply_error", zap.String("uci", mv.UCI()), zap.Error(err))
			fmt.Println(cat.MustRender("session.desync", nil))
			fatal()
			return
		}
		if verr := machine.VerifyPosition(e.FEN); verr != nil {
			obslog.L().Error("position_diverged",
				zap.String("local", machine.FEN()),
				zap.String("remote", e.FEN),
			)
			fmt.Println(cat.MustRender("session.desync", nil))
			fatal()
			return
		}
		fmt.Printf("%s played %s\n", mover, e.SAN)
		if !machine.Ended() {
			if machine.MyTurn() {
				fmt.Println(cat.MustRender("session.yourturn", nil))
			} else {
				fmt.Println(cat.MustRender("session.theirturn", map[string]any{"OpponentID": opponentID}))
			}
		}
	case transport.MsgSessionEnded:
		winner := domain.Color(e.Winner)
		fmt.Println(cat.EndText(domain.Reason(e.Reason), winner, machine.Color()))
		stop()
	case transport.MsgError:
		fmt.Println(rejectText(cat, e))
	}
}

func rejectText(cat *notices.Catalog, e *transport.Envelope) string {
	key := "reject." + e.Code
	if s, err := cat.Render(key, map[string]any{"Move": e.Text}); err == nil {
		return s
	}
	return e.Text
}

// readInput turns stdin lines like "e2e4" or "e7e8q" into move envelopes.
func readInput(ctx context.Context, ch *transport.Channel, done chan struct{}) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		select {
		case <-done:
			return
		default:
		}
		line := strings.ToLower(strings.TrimSpace(sc.Text()))
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			ch.Close()
			return
		}
		mv, ok := parseUCI(line)
		if !ok {
			fmt.Println("enter a move like e2e4 (or e7e8q to promote)")
			continue
		}
		err := ch.Send(ctx, &transport.Envelope{
			Type:      transport.MsgMove,
			From:      mv.From,
			To:        mv.To,
			Promotion: mv.Promotion,
		})
		if errors.Is(err, transport.ErrUnavailable) {
			return
		}
	}
}

func parseUCI(s string) (domain.Move, bool) {
	if len(s) != 4 && len(s) != 5 {
		return domain.Move{}, false
	}
	mv := domain.Move{From: s[:2], To: s[2:4]}
	if len(s) == 5 {
		mv.Promotion = s[4:]
	}
	e := transport.Envelope{Type: transport.MsgMove, From: mv.From, To: mv.To, Promotion: mv.Promotion}
	if e.Validate() != nil {
		return domain.Move{}, false
	}
	return mv, true
}

func participantID() string {
	if len(os.Args) > 1 && strings.TrimSpace(os.Args[1]) != "" {
		return strings.TrimSpace(os.Args[1])
	}
	return "p-" + uuid.NewString()[:8]
}

func wsURL(serverURL string) string {
	u := strings.TrimRight(serverURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

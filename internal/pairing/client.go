// Package pairing is the client side of the waiting-slot protocol: register,
// poll, cancel against the REST pairing surface.
package pairing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/tsubute/queenfall/internal/domain"
	"github.com/tsubute/queenfall/internal/match"
)

// Status is the pairing outcome reported by the server.
type Status struct {
	Status     string `json:"status"`
	SessionID  string `json:"sessionId,omitempty"`
	OpponentID string `json:"opponentId,omitempty"`
	Color      string `json:"color,omitempty"`
}

func (s *Status) Paired() bool { return s != nil && s.Status == string(match.RolePaired) }

type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 8},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register puts the participant into the waiting slot, or pairs it with the
// current occupant.
func (c *Client) Register(ctx context.Context, participantID string) (*Status, error) {
	var st Status
	if err := c.doJSON(ctx, "/match/register", participantID, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Check polls the pairing outcome for a waiting participant.
func (c *Client) Check(ctx context.Context, participantID string) (*Status, error) {
	var st Status
	if err := c.doJSON(ctx, "/match/check", participantID, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Cancel withdraws the participant from the waiting slot.
func (c *Client) Cancel(ctx context.Context, participantID string) error {
	return c.doJSON(ctx, "/match/cancel", participantID, nil)
}

// AwaitPairing registers and polls at the given interval until pairing
// occurs, the timeout elapses, or the context is canceled. Timing out
// withdraws the waiting entry and returns match.ErrNoOpponent; the caller may
// re-request later.
func (c *Client) AwaitPairing(ctx context.Context, participantID string, interval, timeout time.Duration) (*Status, error) {
	st, err := c.Register(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if st.Paired() {
		return st, nil
	}
	if interval <= 0 {
		interval = 1500 * time.Millisecond
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = c.Cancel(context.WithoutCancel(ctx), participantID)
			return nil, ctx.Err()
		case <-deadline.C:
			// The opponent may have paired after the last tick. Check once
			// more before withdrawing, or the waiter walks away from a live
			// session its opponent already joined.
			last, lerr := c.Check(ctx, participantID)
			if lerr == nil && last.Paired() {
				return last, nil
			}
			_ = c.Cancel(ctx, participantID)
			if lerr != nil {
				return nil, lerr
			}
			return nil, match.ErrNoOpponent
		case <-tick.C:
			st, err := c.Check(ctx, participantID)
			if err != nil {
				return nil, err
			}
			if st.Paired() {
				return st, nil
			}
		}
	}
}

type pairingRequest struct {
	ParticipantID string `json:"participantId"`
}

func (c *Client) doJSON(ctx context.Context, path, participantID string, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	payload, err := json.Marshal(pairingRequest{ParticipantID: participantID})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req.SetBody(payload)

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrServerUnreachable, err)
			if attempt == attempts {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status == fasthttp.StatusConflict {
			return domain.ErrSelfPairing
		}
		if status < 200 || status >= 300 {
			err := fmt.Errorf("pairing api error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
			if attempt == attempts || !shouldRetryStatus(status) {
				return err
			}
			lastErr = err
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

// ErrServerUnreachable wraps transport-level failures talking to the pairing
// server.
var ErrServerUnreachable = errors.New("pairing server unreachable")

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case fasthttp.StatusInternalServerError,
		fasthttp.StatusBadGateway,
		fasthttp.StatusServiceUnavailable,
		fasthttp.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

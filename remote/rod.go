package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
)

const defaultEvalTimeout = 15 * time.Second

// RodChannel implements Channel over a live rod page. Every call is bounded
// by a per-call timeout; a wedged page surfaces as TimeoutError instead of
// hanging the caller's loop.
type RodChannel struct {
	page    *rod.Page
	timeout time.Duration
	logger  *slog.Logger
}

// RodOption configures a RodChannel.
type RodOption func(*RodChannel)

// WithEvalTimeout bounds each script execution. Default: 15s.
func WithEvalTimeout(d time.Duration) RodOption {
	return func(c *RodChannel) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRodLogger sets a custom logger.
func WithRodLogger(l *slog.Logger) RodOption {
	return func(c *RodChannel) { c.logger = l }
}

// NewRodChannel wraps a rod page as an execution channel.
func NewRodChannel(page *rod.Page, opts ...RodOption) *RodChannel {
	c := &RodChannel{
		page:    page,
		timeout: defaultEvalTimeout,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Execute evaluates the script in the page with the given arguments and
// returns its JSON result envelope.
func (c *RodChannel) Execute(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	op := "script"
	if len(args) > 0 {
		if s, ok := args[0].(string); ok {
			op = s
		}
	}

	res, err := c.page.Context(callCtx).Eval(script, args...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Op: op, Cause: err}
		}
		c.logger.Debug("remote: eval failed", "op", op, "error", err)
		return nil, fmt.Errorf("remote: eval %s: %w", op, err)
	}

	raw, err := json.Marshal(res.Value.Val())
	if err != nil {
		return nil, fmt.Errorf("remote: marshal %s result: %w", op, err)
	}
	return raw, nil
}

// Navigate points the page at a new URL and waits for the load event,
// bounded by the channel timeout. Exposed for session-level entry points;
// the navigate *verb* goes through ScriptActions instead.
func (c *RodChannel) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.page.Context(navCtx).Navigate(url); err != nil {
		return fmt.Errorf("remote: navigate %s: %w", url, err)
	}
	if err := c.page.Context(navCtx).WaitLoad(); err != nil {
		if errors.Is(navCtx.Err(), context.DeadlineExceeded) {
			return &TimeoutError{Op: "navigate", Cause: err}
		}
		c.logger.Warn("remote: wait load", "url", url, "error", err)
	}
	return nil
}

// Package feed consumes envelopes from a live websocket stream and delivers
// them through the same processor the spool drainer uses.
package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"github.com/agentworkforce/hubrelay/internal/envelope"
)

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	URL            string
	Logger         Logger
	MinimumBackoff time.Duration
	MaximumBackoff time.Duration
}

const (
	defaultMinimumBackoff = time.Second
	defaultMaximumBackoff = time.Minute
)

// Listener maintains a websocket subscription to the envelope feed. Each
// text frame is one raw envelope. Connection loss triggers a reconnect with
// capped exponential backoff.
type Listener struct {
	processor *envelope.Processor
	url       string
	logger    Logger

	minimumBackoff time.Duration
	maximumBackoff time.Duration
}

func NewListener(processor *envelope.Processor, opts Options) (*Listener, error) {
	if processor == nil {
		return nil, fmt.Errorf("processor is required")
	}
	url := strings.TrimSpace(opts.URL)
	if url == "" {
		return nil, fmt.Errorf("feed url is required")
	}
	minimum := opts.MinimumBackoff
	if minimum <= 0 {
		minimum = defaultMinimumBackoff
	}
	maximum := opts.MaximumBackoff
	if maximum < minimum {
		maximum = defaultMaximumBackoff
	}
	return &Listener{
		processor:      processor,
		url:            url,
		logger:         opts.Logger,
		minimumBackoff: minimum,
		maximumBackoff: maximum,
	}, nil
}

// Listen blocks reading the feed until the context is canceled.
func (l *Listener) Listen(ctx context.Context) error {
	backoff := l.minimumBackoff
	for {
		err := l.listenOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			l.logf("feed connection lost: %v; reconnecting in %s", err, backoff)
		}
		if err := waitWithContext(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if backoff > l.maximumBackoff {
			backoff = l.maximumBackoff
		}
		if err == nil {
			backoff = l.minimumBackoff
		}
	}
}

func (l *Listener) listenOnce(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, l.url, nil)
	if err != nil {
		return fmt.Errorf("dial feed: %w", err)
	}
	defer conn.Close(websocket.StatusInternalError, "listener shutting down")

	l.logf("feed connected to %s", l.url)
	for {
		kind, data, err := conn.Read(ctx)
		if err != nil {
			var closeErr websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.StatusNormalClosure {
				conn.Close(websocket.StatusNormalClosure, "")
				return nil
			}
			return err
		}
		if kind != websocket.MessageText {
			continue
		}
		if env, err := l.processor.Process(ctx, data); err != nil {
			// Delivery and parse failures are journaled by the
			// processor; the stream keeps going.
			l.logf("feed envelope %s failed: %v", env.ID, err)
		}
	}
}

func (l *Listener) logf(format string, args ...any) {
	if l.logger == nil {
		return
	}
	l.logger.Printf(format, args...)
}

func waitWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

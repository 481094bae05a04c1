package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// GatewayCallbacks are invoked per inbound frame. A nil callback drops
// that event type. Callback errors are logged, never fatal to the stream.
type GatewayCallbacks struct {
	MessageCreate func(ctx context.Context, evt *RawEvent) error
	MessageUpdate func(ctx context.Context, evt *RawEvent) error
	MessageDelete func(ctx context.Context, evt *RawEvent) error
}

// GatewayConsumer subscribes to the platform's real-time event stream over
// a websocket. Delivery is at-least-once: after a reconnect the stream
// resumes from the last acknowledged sequence and may replay frames, so
// downstream consumers must dedup by event ID.
type GatewayConsumer struct {
	Host      string
	Token     string
	UserAgent string
	Callbacks GatewayCallbacks
	Logger    zerolog.Logger

	// lastSeq is the most recent sequence number received. Handling is
	// concurrent downstream, so this is best-effort and read atomically.
	lastSeq atomic.Int64
}

// LastSeq returns the most recently observed stream sequence number
func (gc *GatewayConsumer) LastSeq() int64 {
	return gc.lastSeq.Load()
}

// Run connects and consumes frames until ctx is cancelled, reconnecting
// with capped backoff on stream failure.
func (gc *GatewayConsumer) Run(ctx context.Context) error {
	backoff := time.Second
	const maxBackoff = time.Minute

	for {
		err := gc.consumeStream(ctx)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}

		gc.Logger.Error().Err(err).Dur("backoff", backoff).Msg("gateway stream failed, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (gc *GatewayConsumer) consumeStream(ctx context.Context) error {
	u, err := url.Parse(gc.Host)
	if err != nil {
		return fmt.Errorf("invalid gateway host: %w", err)
	}
	if cur := gc.lastSeq.Load(); cur != 0 {
		u.RawQuery = fmt.Sprintf("seq=%d", cur)
	}

	header := http.Header{}
	if gc.UserAgent != "" {
		header.Set("User-Agent", gc.UserAgent)
	}
	if gc.Token != "" {
		header.Set("Authorization", "Bot "+gc.Token)
	}

	gc.Logger.Info().Str("upstream", gc.Host).Int64("seq", gc.lastSeq.Load()).Msg("subscribing to event stream")

	con, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return fmt.Errorf("dialing gateway: %w", err)
	}
	defer func() { _ = con.Close() }()

	// unblock ReadJSON on cancellation
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = con.Close()
		case <-done:
		}
	}()

	for {
		var evt RawEvent
		if err := con.ReadJSON(&evt); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("reading gateway frame: %w", err)
		}

		if evt.Seq != 0 {
			gc.lastSeq.Store(evt.Seq)
		}
		gc.handleFrame(ctx, &evt)
	}
}

func (gc *GatewayConsumer) handleFrame(ctx context.Context, evt *RawEvent) {
	var cb func(context.Context, *RawEvent) error
	switch evt.Type {
	case EventMessageCreate:
		cb = gc.Callbacks.MessageCreate
	case EventMessageUpdate:
		cb = gc.Callbacks.MessageUpdate
	case EventMessageDelete:
		cb = gc.Callbacks.MessageDelete
	default:
		return
	}
	if cb == nil {
		return
	}

	if err := cb(ctx, evt); err != nil && !errors.Is(err, context.Canceled) {
		gc.Logger.Error().Err(err).Str("type", evt.Type).Int64("seq", evt.Seq).Msg("event handler failed")
	}
}

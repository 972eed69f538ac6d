package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"chat-client/internal/models"
	"chat-client/internal/observability"
	"chat-client/internal/telemetry"
)

// WebsocketFeed subscribes to per-conversation change events over a
// websocket. Connection loss triggers bounded reconnects with backoff;
// a terminal failure closes the subscription with its error so the
// caller can surface connectivity degradation.
type WebsocketFeed struct {
	baseURL     string
	token       string
	dialer      *websocket.Dialer
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	emitter     *telemetry.Emitter
}

// WebsocketOptions configures a WebsocketFeed.
type WebsocketOptions struct {
	BaseURL     string
	Token       string
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Emitter     *telemetry.Emitter
}

// NewWebsocketFeed builds a websocket feed client.
func NewWebsocketFeed(opts WebsocketOptions) *WebsocketFeed {
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 10
	}
	return &WebsocketFeed{
		baseURL:     opts.BaseURL,
		token:       opts.Token,
		dialer:      websocket.DefaultDialer,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		maxDelay:    opts.MaxDelay,
		emitter:     opts.Emitter,
	}
}

// Subscribe dials the conversation's event channel and starts the read
// loop. Events buffer in the subscription until consumed.
func (f *WebsocketFeed) Subscribe(ctx context.Context, conversationID int64) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := newSubscription(cancel)

	conn, err := f.dial(ctx, conversationID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe conversation %d: %w", conversationID, err)
	}

	observability.IncWSActive("feed")
	go f.readLoop(ctx, conversationID, conn, sub)
	return sub, nil
}

func (f *WebsocketFeed) dial(ctx context.Context, conversationID int64) (*websocket.Conn, error) {
	url := fmt.Sprintf("%s/conversations/%d/events", f.baseURL, conversationID)
	header := http.Header{}
	if f.token != "" {
		header.Set("Authorization", "Bearer "+f.token)
	}
	conn, _, err := f.dialer.DialContext(ctx, url, header)
	return conn, err
}

func (f *WebsocketFeed) readLoop(ctx context.Context, conversationID int64, conn *websocket.Conn, sub *Subscription) {
	recon := newReconnector(f.baseDelay, f.maxDelay, f.maxAttempts)
	recon.markConnected()

	defer observability.DecWSActive("feed")

	for {
		err := f.consume(ctx, conversationID, conn, sub)
		conn.Close()
		if ctx.Err() != nil {
			sub.finish(nil)
			return
		}

		observability.IncWSEvent("feed", "ws_error")
		next, rerr := f.reconnect(ctx, conversationID, recon, err)
		if rerr != nil {
			sub.finish(rerr)
			return
		}
		if next == nil {
			// cancelled while waiting to reconnect
			sub.finish(nil)
			return
		}
		conn = next
	}
}

// consume reads one connection until it fails. A watcher closes the
// connection on context cancel, since websocket reads do not take one.
func (f *WebsocketFeed) consume(ctx context.Context, conversationID int64, conn *websocket.Conn, sub *Subscription) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var ev models.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("feed: dropping malformed event for conversation %d: %v", conversationID, err)
			continue
		}
		sub.deliver(ev)
	}
}

// reconnect redials with backoff until it succeeds, attempts run out, or
// the subscription is cancelled.
func (f *WebsocketFeed) reconnect(ctx context.Context, conversationID int64, recon *reconnector, cause error) (*websocket.Conn, error) {
	for recon.shouldReconnect() {
		delay := recon.nextDelay()
		log.Printf("feed: connection lost for conversation %d, reconnecting in %s: %v", conversationID, delay, cause)
		f.emitter.Emit(ctx, telemetry.SyncEvent{
			Kind:           telemetry.KindFeedReconnect,
			ConversationID: conversationID,
			Reason:         cause.Error(),
		})

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, nil // treated as clean close by caller
		}

		conn, err := f.dial(ctx, conversationID)
		if err == nil {
			recon.markConnected()
			observability.IncWSEvent("feed", "ws_reconnect")
			return conn, nil
		}
		cause = err
	}

	f.emitter.Emit(ctx, telemetry.SyncEvent{
		Kind:           telemetry.KindFeedError,
		ConversationID: conversationID,
		Reason:         cause.Error(),
	})
	return nil, fmt.Errorf("feed reconnect failed for conversation %d: %w", conversationID, cause)
}

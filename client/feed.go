package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/saicgr/AIFitnessCoach-sub010/feed"
	"github.com/saicgr/AIFitnessCoach-sub010/status"
)

// Feed is a live subscription to the daemon's event feed. Create one
// with Client.Feed and receive from Events until it is closed.
type Feed struct {
	url    string
	token  string
	format string
	logger *slog.Logger

	// Reconnection.
	reconnect  bool
	maxRetries int
	baseDelay  time.Duration

	// Connection state.
	conn      net.Conn
	codec     feed.Codec
	mu        sync.Mutex
	closed    atomic.Bool
	done      atomic.Bool
	sessionID string

	// Request-response correlation.
	pending sync.Map // frameID → chan *feed.Frame

	// Topics to restore after a reconnect.
	topicsMu sync.Mutex
	topics   map[string]struct{}

	events chan *feed.Event
}

// Feed connects to the daemon's WebSocket feed and subscribes to the
// given topics. With no topics it subscribes to the firehose.
//
// Topics follow the feed convention:
//   - "mutation:<mutationID>" — events for a specific mutation
//   - "entity:<entityType>"   — mutation events for one entity type
//   - "mutations"             — all mutation lifecycle events
//   - "passes"                — sync pass boundaries
//   - "deadletters"           — dead-letter, recovery and export events
//   - "firehose"              — everything
func (c *Client) Feed(ctx context.Context, topics ...string) (*Feed, error) {
	if len(topics) == 0 {
		topics = []string{feed.TopicFirehose}
	}

	f := &Feed{
		url:        c.feedURL(),
		token:      c.token,
		format:     c.format,
		logger:     c.logger,
		reconnect:  c.reconnect,
		maxRetries: c.maxRetries,
		baseDelay:  c.baseDelay,
		topics:     make(map[string]struct{}),
		events:     make(chan *feed.Event, 64),
	}

	if err := f.connect(ctx); err != nil {
		return nil, fmt.Errorf("fitsync/client: feed dial: %w", err)
	}
	go f.readLoop()

	for _, topic := range topics {
		if err := f.Subscribe(ctx, topic); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return f, nil
}

// feedURL converts the REST base URL into the WebSocket feed URL.
func (c *Client) feedURL() string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/v1/feed"
}

// connect establishes the WebSocket connection and completes the auth
// handshake. It reads the auth response directly since the readLoop
// hasn't started yet.
func (f *Feed) connect(ctx context.Context) error {
	conn, _, _, err := ws.Dial(ctx, f.url)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	f.conn = conn
	f.codec = feed.GetCodec(f.format)

	// The auth frame is always JSON; the negotiated codec applies from
	// the response onward.
	authData, marshalErr := json.Marshal(feed.AuthRequest{Token: f.token, Format: f.format})
	if marshalErr != nil {
		_ = conn.Close()
		return fmt.Errorf("marshal auth request: %w", marshalErr)
	}
	authFrame := &feed.Frame{
		ID:        feed.GenerateFrameID(),
		Type:      feed.FrameRequest,
		Method:    feed.MethodAuth,
		Data:      authData,
		Timestamp: time.Now().UTC(),
	}
	raw, marshalErr := json.Marshal(authFrame)
	if marshalErr != nil {
		_ = conn.Close()
		return fmt.Errorf("marshal auth frame: %w", marshalErr)
	}
	if writeErr := wsutil.WriteClientText(conn, raw); writeErr != nil {
		_ = conn.Close()
		return fmt.Errorf("write auth frame: %w", writeErr)
	}

	type readResult struct {
		resp *feed.Frame
		err  error
	}
	resultCh := make(chan readResult, 1)

	go func() {
		data, _, readErr := wsutil.ReadServerData(conn)
		if readErr != nil {
			resultCh <- readResult{err: fmt.Errorf("read auth response: %w", readErr)}
			return
		}
		frame, decErr := f.codec.Decode(data)
		if decErr != nil && f.codec.Name() != feed.CodecNameJSON {
			// Handshake errors arrive as JSON, before format negotiation.
			frame, decErr = feed.GetCodec(feed.CodecNameJSON).Decode(data)
		}
		if decErr != nil {
			resultCh <- readResult{err: fmt.Errorf("decode auth response: %w", decErr)}
			return
		}
		resultCh <- readResult{resp: frame}
	}()

	select {
	case result := <-resultCh:
		if result.err != nil {
			_ = conn.Close()
			return result.err
		}
		resp := result.resp
		if resp.Type == feed.FrameErr {
			_ = conn.Close()
			msg := "unknown error"
			if resp.Error != nil {
				msg = resp.Error.Message
			}
			return fmt.Errorf("auth failed: %s", msg)
		}
		var authResp feed.AuthResponse
		if len(resp.Data) > 0 {
			if unmarshalErr := json.Unmarshal(resp.Data, &authResp); unmarshalErr != nil {
				f.logger.Warn("feed: bad auth response payload", slog.String("error", unmarshalErr.Error()))
			}
		}
		f.sessionID = authResp.SessionID
		f.logger.Info("feed connected",
			slog.String("session_id", f.sessionID),
			slog.String("format", f.format),
		)
		return nil
	case <-ctx.Done():
		_ = conn.Close()
		return ctx.Err()
	case <-time.After(10 * time.Second):
		_ = conn.Close()
		return fmt.Errorf("auth timeout")
	}
}

// readLoop reads frames from the WebSocket and dispatches them.
func (f *Feed) readLoop() {
	for {
		if f.closed.Load() {
			f.finish()
			return
		}

		data, _, err := wsutil.ReadServerData(f.conn)
		if err != nil {
			if f.closed.Load() {
				f.finish()
				return
			}
			f.logger.Warn("feed read error", slog.String("error", err.Error()))
			if f.reconnect {
				f.tryReconnect()
			} else {
				f.finish()
			}
			return
		}

		frame, decErr := f.codec.Decode(data)
		if decErr != nil {
			f.logger.Warn("feed: invalid frame", slog.String("error", decErr.Error()))
			continue
		}

		switch frame.Type {
		case feed.FrameResponse, feed.FrameErr:
			// Correlate with the pending request.
			if val, ok := f.pending.Load(frame.CorrelID); ok {
				ch := val.(chan *feed.Frame) //nolint:errcheck // pending map always stores chan *feed.Frame
				select {
				case ch <- frame:
				default:
				}
			}
		case feed.FrameEvent:
			var evt feed.Event
			if unmarshalErr := json.Unmarshal(frame.Data, &evt); unmarshalErr != nil {
				f.logger.Warn("feed: invalid event payload", slog.String("error", unmarshalErr.Error()))
				continue
			}
			select {
			case f.events <- &evt:
			default:
				// Drop if the consumer is slow.
			}
		case feed.FramePong:
			// Ignore pong frames.
		}
	}
}

// tryReconnect attempts to reconnect with exponential backoff and
// restores the topic set on success.
func (f *Feed) tryReconnect() {
	delay := f.baseDelay
	for i := range f.maxRetries {
		if f.closed.Load() {
			f.finish()
			return
		}
		f.logger.Info("feed reconnecting",
			slog.Int("attempt", i+1),
			slog.Duration("delay", delay),
		)
		time.Sleep(delay)

		if err := f.connect(context.Background()); err != nil {
			f.logger.Warn("feed reconnect failed", slog.String("error", err.Error()))
			delay = min(delay*2, 30*time.Second)
			continue
		}

		f.resubscribe()
		f.logger.Info("feed reconnected")
		go f.readLoop()
		return
	}
	f.logger.Error("feed: max reconnection attempts reached")
	f.finish()
}

// resubscribe restores the topic set on a fresh connection.
func (f *Feed) resubscribe() {
	f.topicsMu.Lock()
	topics := make([]string, 0, len(f.topics))
	for topic := range f.topics {
		topics = append(topics, topic)
	}
	f.topicsMu.Unlock()

	for _, topic := range topics {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := f.subscribe(ctx, topic); err != nil {
			f.logger.Warn("feed resubscribe failed",
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
}

// Subscribe adds a topic to the feed. The topic survives reconnects.
func (f *Feed) Subscribe(ctx context.Context, topic string) error {
	if err := f.subscribe(ctx, topic); err != nil {
		return fmt.Errorf("fitsync/client: subscribe to %q: %w", topic, err)
	}
	f.topicsMu.Lock()
	f.topics[topic] = struct{}{}
	f.topicsMu.Unlock()
	return nil
}

func (f *Feed) subscribe(ctx context.Context, topic string) error {
	_, err := f.request(ctx, feed.MethodSubscribe, feed.SubscribeRequest{Channel: topic})
	return err
}

// Unsubscribe removes a topic from the feed.
func (f *Feed) Unsubscribe(ctx context.Context, topic string) error {
	f.topicsMu.Lock()
	delete(f.topics, topic)
	f.topicsMu.Unlock()

	if _, err := f.request(ctx, feed.MethodUnsubscribe, feed.UnsubscribeRequest{Channel: topic}); err != nil {
		return fmt.Errorf("fitsync/client: unsubscribe from %q: %w", topic, err)
	}
	return nil
}

// Status fetches the current status snapshot over the feed connection.
func (f *Feed) Status(ctx context.Context) (*status.Snapshot, error) {
	resp, err := f.request(ctx, feed.MethodStatus, nil)
	if err != nil {
		return nil, fmt.Errorf("fitsync/client: feed status: %w", err)
	}
	var snap status.Snapshot
	if unmarshalErr := json.Unmarshal(resp.Data, &snap); unmarshalErr != nil {
		return nil, fmt.Errorf("fitsync/client: decode status: %w", unmarshalErr)
	}
	return &snap, nil
}

// request sends a request frame and waits for the correlated response.
func (f *Feed) request(ctx context.Context, method string, data any) (*feed.Frame, error) {
	frame := &feed.Frame{
		ID:        feed.GenerateFrameID(),
		Type:      feed.FrameRequest,
		Method:    method,
		Timestamp: time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal request data: %w", err)
		}
		frame.Data = raw
	}

	respCh := make(chan *feed.Frame, 1)
	f.pending.Store(frame.ID, respCh)
	defer f.pending.Delete(frame.ID)

	if err := f.writeFrame(frame); err != nil {
		return nil, err
	}

	select {
	case resp := <-respCh:
		if resp.Type == feed.FrameErr {
			msg := "unknown error"
			if resp.Error != nil {
				msg = resp.Error.Message
			}
			return nil, fmt.Errorf("feed error: %s", msg)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// writeFrame encodes and sends a frame with the negotiated codec.
// Msgpack frames go out as binary messages, JSON as text.
func (f *Feed) writeFrame(frame *feed.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.codec.Encode(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if f.codec.Name() == feed.CodecNameMsgpack {
		return wsutil.WriteClientBinary(f.conn, data)
	}
	return wsutil.WriteClientText(f.conn, data)
}

// Events returns the feed's event channel. It is closed when the feed
// shuts down.
func (f *Feed) Events() <-chan *feed.Event { return f.events }

// SessionID returns the session ID assigned by the server.
func (f *Feed) SessionID() string { return f.sessionID }

// Close terminates the feed connection. The events channel is closed
// once the read loop observes the shutdown.
func (f *Feed) Close() error {
	if f.closed.Swap(true) {
		return nil // already closed
	}
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

// finish closes the events channel exactly once.
func (f *Feed) finish() {
	if f.done.Swap(true) {
		return
	}
	close(f.events)
}

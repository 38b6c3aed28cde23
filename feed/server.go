package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/saicgr/AIFitnessCoach-sub010/status"
)

// Server is the WebSocket feed server. It upgrades HTTP connections,
// performs the auth handshake, replays the current status snapshot and
// then streams broker events to the client.
type Server struct {
	broker       *Broker
	tracker      *status.Tracker
	auth         Authenticator
	defaultCodec Codec
	conns        *ConnectionManager
	logger       *slog.Logger

	// Raw sockets, so Close can terminate hijacked connections the
	// HTTP server no longer knows about.
	netConns sync.Map // connID → net.Conn
}

// Option configures a Server.
type Option func(*Server)

// WithAuthenticator sets the authenticator for incoming connections.
func WithAuthenticator(auth Authenticator) Option {
	return func(s *Server) { s.auth = auth }
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithDefaultCodec sets the codec used when the client does not
// request a format.
func WithDefaultCodec(codec Codec) Option {
	return func(s *Server) { s.defaultCodec = codec }
}

// NewServer creates a new feed server.
func NewServer(broker *Broker, tracker *status.Tracker, opts ...Option) *Server {
	s := &Server{
		broker:       broker,
		tracker:      tracker,
		defaultCodec: &JSONCodec{},
		conns:        NewConnectionManager(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.auth == nil {
		s.auth = &NoopAuthenticator{}
	}
	return s
}

// Broker returns the underlying feed broker.
func (s *Server) Broker() *Broker { return s.broker }

// Connections returns the connection manager.
func (s *Server) Connections() *ConnectionManager { return s.conns }

// ServeHTTP upgrades the request to a WebSocket and serves the feed
// protocol on it. The connection outlives the handler; it is closed
// when the client disconnects or the server is closed.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		// UpgradeHTTP has already written the error response.
		s.logger.Warn("feed upgrade failed", slog.String("error", err.Error()))
		return
	}

	// The request context dies with the handler; the connection does not.
	go func() {
		defer conn.Close() //nolint:errcheck // nothing to do with a close error here

		if serveErr := s.serve(context.Background(), conn); serveErr != nil {
			s.logger.Warn("feed connection error", slog.String("error", serveErr.Error()))
		}
	}()
}

// Close terminates all active feed connections.
func (s *Server) Close() {
	s.netConns.Range(func(key, value any) bool {
		value.(net.Conn).Close() //nolint:errcheck // best-effort teardown
		s.netConns.Delete(key)
		return true
	})
}

// serve runs the frame protocol on an upgraded connection.
func (s *Server) serve(ctx context.Context, conn net.Conn) error {
	connID := "ws-" + generateFrameID()
	s.logger.Info("feed connected", slog.String("conn_id", connID))

	// Wait for auth frame. Auth frames are always JSON (before codec
	// negotiation).
	authData, _, readErr := wsutil.ReadClientData(conn)
	if readErr != nil {
		return fmt.Errorf("feed: read auth frame: %w", readErr)
	}

	var authFrame Frame
	if err := json.Unmarshal(authData, &authFrame); err != nil {
		writeRawJSON(conn, NewErrorFrame("", ErrCodeBadRequest, "invalid auth frame"))
		return fmt.Errorf("feed: unmarshal auth frame: %w", err)
	}

	if authFrame.Method != MethodAuth {
		writeRawJSON(conn, NewErrorFrame(authFrame.ID, ErrCodeBadRequest, "first frame must be auth"))
		return fmt.Errorf("feed: expected auth frame, got %q", authFrame.Method)
	}

	var authReq AuthRequest
	if len(authFrame.Data) > 0 {
		if err := json.Unmarshal(authFrame.Data, &authReq); err != nil {
			writeRawJSON(conn, NewErrorFrame(authFrame.ID, ErrCodeBadRequest, "invalid auth data"))
			return err
		}
	}

	token := authReq.Token
	if token == "" {
		token = authFrame.Token
	}
	identity, authErr := s.auth.Authenticate(ctx, token)
	if authErr != nil {
		writeRawJSON(conn, NewErrorFrame(authFrame.ID, ErrCodeUnauthorized, "authentication failed"))
		return fmt.Errorf("feed: auth failed: %w", authErr)
	}

	// Negotiate codec.
	codec := s.defaultCodec
	if authReq.Format != "" {
		codec = GetCodec(authReq.Format)
	}

	// Register connection state.
	feedConn := NewConnection(connID, identity, codec)
	s.conns.Add(feedConn)
	s.netConns.Store(connID, conn)
	defer func() {
		s.broker.RemoveSubscriber(connID)
		s.conns.Remove(connID)
		s.netConns.Delete(connID)
		s.logger.Info("feed disconnected", slog.String("conn_id", connID))
	}()

	// The read loop and the event forwarder both write frames, so all
	// writes go through a shared writer.
	writer := &connWriter{conn: conn, codec: codec}

	// Send auth response.
	resp, respErr := NewResponseFrame(authFrame.ID, AuthResponse{
		Format:    codec.Name(),
		SessionID: connID,
	})
	if respErr != nil {
		return fmt.Errorf("feed: marshal auth response: %w", respErr)
	}
	if err := writer.write(resp); err != nil {
		return err
	}

	s.logger.Info("feed authenticated",
		slog.String("conn_id", connID),
		slog.String("subject", identity.Subject),
		slog.String("codec", codec.Name()),
	)

	// Replay the current status snapshot as the first event so clients
	// start from a known state before live events arrive.
	if s.tracker != nil {
		snapEvt := &Event{
			Type:      EventStatusSnapshot,
			Timestamp: time.Now().UTC(),
			Topic:     "status",
			Data:      mustMarshal(s.tracker.Current()),
		}
		snapFrame, snapErr := NewEventFrame("status", snapEvt)
		if snapErr != nil {
			return fmt.Errorf("feed: marshal snapshot: %w", snapErr)
		}
		if err := writer.write(snapFrame); err != nil {
			return err
		}
	}

	// Create a subscriber for this connection and forward broker
	// events to the WebSocket.
	sub := s.broker.Subscribe(connID)
	go s.forwardEvents(writer, sub)

	// Frame processing loop.
	for {
		data, _, err := wsutil.ReadClientData(conn)
		if err != nil {
			return nil // Connection closed.
		}

		feedConn.Touch()

		frame, decErr := codec.Decode(data)
		if decErr != nil {
			s.writeOrLog(writer, NewErrorFrame("", ErrCodeBadRequest, "invalid frame: "+decErr.Error()))
			continue
		}

		// Handle ping/pong.
		if frame.Type == FramePing {
			s.writeOrLog(writer, &Frame{
				ID:        generateFrameID(),
				Type:      FramePong,
				CorrelID:  frame.ID,
				Timestamp: frame.Timestamp,
			})
			continue
		}

		// Check authorization for the method.
		if frame.Method != "" {
			reqScope := RequiredScope(frame.Method)
			if reqScope != "" && !identity.HasScope(reqScope) {
				s.writeOrLog(writer, NewErrorFrame(frame.ID, ErrCodeForbidden, "insufficient permissions"))
				continue
			}
		}

		// Handle credits replenishment.
		if frame.Credits > 0 {
			sub.AddCredits(int64(frame.Credits))
			continue
		}

		s.handleFrame(writer, frame, feedConn, sub)
	}
}

// handleFrame dispatches a decoded request frame.
func (s *Server) handleFrame(writer *connWriter, frame *Frame, feedConn *Connection, sub *Subscriber) {
	switch frame.Method {
	case MethodSubscribe:
		var req SubscribeRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			s.writeOrLog(writer, NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid subscribe data"))
			return
		}
		if err := ValidateTopic(req.Channel); err != nil {
			s.writeOrLog(writer, NewErrorFrame(frame.ID, ErrCodeBadRequest, err.Error()))
			return
		}
		s.broker.SubscribeTo(feedConn.ID, req.Channel)
		feedConn.AddSubscription(req.Channel)
		if req.Credits > 0 {
			sub.AddCredits(int64(req.Credits))
		}
		s.respondOrLog(writer, frame.ID, SubscribeResponse{Channel: req.Channel})

	case MethodUnsubscribe:
		var req UnsubscribeRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			s.writeOrLog(writer, NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid unsubscribe data"))
			return
		}
		s.broker.Unsubscribe(feedConn.ID, req.Channel)
		feedConn.RemoveSubscription(req.Channel)
		s.respondOrLog(writer, frame.ID, SubscribeResponse{Channel: req.Channel})

	case MethodStatus:
		if s.tracker == nil {
			s.writeOrLog(writer, NewErrorFrame(frame.ID, ErrCodeNotFound, "status tracking disabled"))
			return
		}
		s.respondOrLog(writer, frame.ID, s.tracker.Current())

	case MethodAuth:
		s.writeOrLog(writer, NewErrorFrame(frame.ID, ErrCodeConflict, "already authenticated"))

	default:
		s.writeOrLog(writer, NewErrorFrame(frame.ID, ErrCodeMethodNotFound, "unknown method "+frame.Method))
	}
}

// forwardEvents reads from the subscriber channel and writes events
// to the WebSocket connection.
func (s *Server) forwardEvents(writer *connWriter, sub *Subscriber) {
	for evt := range sub.C() {
		evtFrame, err := NewEventFrame(evt.Topic, evt)
		if err != nil {
			continue
		}
		if writeErr := writer.write(evtFrame); writeErr != nil {
			return // Connection gone.
		}
	}
}

// respondOrLog builds a response frame and writes it, logging failures.
func (s *Server) respondOrLog(writer *connWriter, correlID string, data any) {
	resp, err := NewResponseFrame(correlID, data)
	if err != nil {
		s.logger.Warn("feed: marshal response", slog.String("error", err.Error()))
		return
	}
	s.writeOrLog(writer, resp)
}

// writeOrLog writes a frame, logging write failures.
func (s *Server) writeOrLog(writer *connWriter, frame *Frame) {
	if err := writer.write(frame); err != nil {
		s.logger.Warn("feed: write frame", slog.String("error", err.Error()))
	}
}

// connWriter serializes frame writes to one WebSocket connection.
type connWriter struct {
	mu    sync.Mutex
	conn  net.Conn
	codec Codec
}

func (w *connWriter) write(frame *Frame) error {
	data, err := w.codec.Encode(frame)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.codec.Name() == CodecNameJSON {
		return wsutil.WriteServerText(w.conn, data)
	}
	return wsutil.WriteServerBinary(w.conn, data)
}

// writeRawJSON writes a JSON frame before codec negotiation completes.
// Best effort; used for error responses during the handshake.
func writeRawJSON(conn net.Conn, frame *Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	_ = wsutil.WriteServerText(conn, data)
}

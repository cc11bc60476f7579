// Package transport provides the concrete stream/sink bindings: a WebSocket
// binding for gin routers and an in-process channel binding for tests and
// embedding.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/syncroom/syncroom/pkg/v1/joint"
	"github.com/syncroom/syncroom/pkg/v1/logging"
	"github.com/syncroom/syncroom/pkg/v1/wire"
	"go.uber.org/zap"
)

// ErrSinkOverflow is returned by a WebSocket sink when the outbound queue is
// full. The frame is dropped; the connection stays up.
var ErrSinkOverflow = errors.New("transport: outbound queue full")

// errSinkClosed is returned on sends after the connection tore down.
var errSinkClosed = errors.New("transport: sink closed")

// wsConnection is the slice of *websocket.Conn the binding relies on,
// extracted so tests can substitute a mock connection.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// WebsocketJoint binds a Joint to WebSocket connections. Each connection
// gets a writer goroutine fed from a bounded queue, so the sink handle the
// broadcaster fans out through is cheap to copy and preserves enqueue order.
type WebsocketJoint struct {
	joint *joint.Joint

	upgrader     websocket.Upgrader
	sendBuffer   int
	writeTimeout time.Duration
	msgRate      rate.Limit
	msgBurst     int

	mu    sync.Mutex
	conns map[wsConnection]struct{}
}

// Option configures a WebsocketJoint.
type Option func(*WebsocketJoint)

// WithCheckOrigin replaces the upgrade origin check. The default accepts
// every origin; hosts that serve browsers should restrict it.
func WithCheckOrigin(check func(r *http.Request) bool) Option {
	return func(wj *WebsocketJoint) { wj.upgrader.CheckOrigin = check }
}

// WithSendBuffer sets the per-connection outbound queue length.
func WithSendBuffer(n int) Option {
	return func(wj *WebsocketJoint) { wj.sendBuffer = n }
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(wj *WebsocketJoint) { wj.writeTimeout = d }
}

// WithMessageRate throttles inbound messages per connection. Reads block
// once the budget is spent, which pushes back on the peer through TCP.
func WithMessageRate(limit rate.Limit, burst int) Option {
	return func(wj *WebsocketJoint) {
		wj.msgRate = limit
		wj.msgBurst = burst
	}
}

// NewWebsocketJoint wraps a Joint for WebSocket serving.
func NewWebsocketJoint(j *joint.Joint, opts ...Option) *WebsocketJoint {
	wj := &WebsocketJoint{
		joint:        j,
		sendBuffer:   64,
		writeTimeout: 10 * time.Second,
		msgRate:      rate.Inf,
		conns:        make(map[wsConnection]struct{}),
	}
	wj.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	for _, opt := range opts {
		opt(wj)
	}
	return wj
}

// ServeWs upgrades one HTTP request and serves the connection until it
// terminates. Intended as a gin route handler.
func (wj *WebsocketJoint) ServeWs(c *gin.Context) {
	conn, err := wj.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}
	wj.HandleConnection(c.Request.Context(), conn)
}

// HandleConnection wires an established connection into the Joint and
// blocks until the peer goes away. Exposed for tests and non-gin hosts.
func (wj *WebsocketJoint) HandleConnection(ctx context.Context, conn wsConnection) {
	wj.track(conn)
	defer wj.untrack(conn)

	sendQueue := make(chan []byte, wj.sendBuffer)
	sink := &wsSink{queue: sendQueue}
	stream := &wsStream{conn: conn, limiter: rate.NewLimiter(wj.msgRate, max(wj.msgBurst, 1))}

	var writerDone sync.WaitGroup
	writerDone.Add(1)
	go func() {
		defer writerDone.Done()
		wj.writePump(ctx, conn, sendQueue)
	}()

	wj.joint.Serve(ctx, stream, sink)

	// Serve returned: the client is deregistered, so no fan-out will pick
	// this sink up again. Close the queue to flush and stop the writer.
	sink.close()
	writerDone.Wait()
	_ = conn.Close()
}

// writePump drains the outbound queue onto the connection. A closed queue
// sends a close frame and returns.
func (wj *WebsocketJoint) writePump(ctx context.Context, conn wsConnection, queue <-chan []byte) {
	for frame := range queue {
		_ = conn.SetWriteDeadline(time.Now().Add(wj.writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			logging.Warn(ctx, "websocket write failed", zap.Error(err))
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// Shutdown closes every tracked connection, unblocking their Serve loops.
func (wj *WebsocketJoint) Shutdown(ctx context.Context) error {
	wj.mu.Lock()
	conns := make([]wsConnection, 0, len(wj.conns))
	for conn := range wj.conns {
		conns = append(conns, conn)
	}
	wj.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	logging.Info(ctx, "websocket joint shut down", zap.Int("connections", len(conns)))
	return nil
}

func (wj *WebsocketJoint) track(conn wsConnection) {
	wj.mu.Lock()
	wj.conns[conn] = struct{}{}
	wj.mu.Unlock()
}

func (wj *WebsocketJoint) untrack(conn wsConnection) {
	wj.mu.Lock()
	delete(wj.conns, conn)
	wj.mu.Unlock()
}

// wsStream yields inbound frames. Non-text frames are skipped; an unparsable
// text frame is a transport error and terminates the connection.
type wsStream struct {
	conn    wsConnection
	limiter *rate.Limiter
}

func (s *wsStream) Next(ctx context.Context) (wire.ClientMessage, error) {
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return wire.ClientMessage{}, err
		}
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return wire.ClientMessage{}, err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		msg, err := wire.DecodeClientMessage(data)
		if err != nil {
			return wire.ClientMessage{}, err
		}
		return msg, nil
	}
}

// wsSink is the producer endpoint of the connection's outbound queue.
// Copies share the same queue; enqueue is non-blocking so one slow client
// cannot stall a room broadcast.
type wsSink struct {
	mu     sync.RWMutex
	closed bool
	queue  chan []byte
}

func (s *wsSink) Send(_ context.Context, resp wire.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errSinkClosed
	}
	select {
	case s.queue <- data:
		return nil
	default:
		return ErrSinkOverflow
	}
}

func (s *wsSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.queue)
}

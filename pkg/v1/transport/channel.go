package transport

import (
	"context"
	"io"
	"sync"

	"github.com/syncroom/syncroom/pkg/v1/joint"
	"github.com/syncroom/syncroom/pkg/v1/wire"
)

// ChannelJoint binds a Joint to in-process Go channels. It serves embedded
// hosts and tests that want engine semantics without a network stack.
type ChannelJoint struct {
	joint   *joint.Joint
	outSize int
}

// NewChannelJoint wraps a Joint for channel serving. outSize bounds each
// connection's outbound channel.
func NewChannelJoint(j *joint.Joint, outSize int) *ChannelJoint {
	if outSize <= 0 {
		outSize = 64
	}
	return &ChannelJoint{joint: j, outSize: outSize}
}

// Connection is one channel-backed client session. Closing In disconnects;
// Out is closed after teardown completes; Done is closed at the same time.
type Connection struct {
	In   chan<- wire.ClientMessage
	Out  <-chan wire.Response
	Done <-chan struct{}
}

// Connect registers a new client and returns its channel pair. The session
// ends when the caller closes In or cancels ctx; either way the client is
// deregistered and Out is closed.
func (cj *ChannelJoint) Connect(ctx context.Context) *Connection {
	in := make(chan wire.ClientMessage)
	out := make(chan wire.Response, cj.outSize)
	done := make(chan struct{})

	stream := &chanStream{in: in}
	sink := &chanSink{out: out}

	go func() {
		defer close(done)
		cj.joint.Serve(ctx, stream, sink)
		sink.close()
	}()

	return &Connection{In: in, Out: out, Done: done}
}

// chanStream yields messages from the inbound channel. A closed channel is a
// normal disconnect.
type chanStream struct {
	in <-chan wire.ClientMessage
}

func (s *chanStream) Next(ctx context.Context) (wire.ClientMessage, error) {
	select {
	case <-ctx.Done():
		return wire.ClientMessage{}, ctx.Err()
	case msg, ok := <-s.in:
		if !ok {
			return wire.ClientMessage{}, io.EOF
		}
		return msg, nil
	}
}

// chanSink delivers responses into the outbound channel. Unlike the
// WebSocket sink it blocks when the buffer is full: an in-process consumer
// is expected to keep up, and blocking keeps delivery lossless for tests.
type chanSink struct {
	mu     sync.RWMutex
	closed bool
	out    chan<- wire.Response
}

func (s *chanSink) Send(ctx context.Context, resp wire.Response) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errSinkClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.out <- resp:
		return nil
	}
}

func (s *chanSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	close(s.out)
}

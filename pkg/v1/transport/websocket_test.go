package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncroom/syncroom/pkg/v1/joint"
	"github.com/syncroom/syncroom/pkg/v1/wire"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never held")
}

func decodeResponses(t *testing.T, frames [][]byte) []wire.Response {
	t.Helper()
	responses := make([]wire.Response, len(frames))
	for i, frame := range frames {
		require.NoError(t, json.Unmarshal(frame, &responses[i]))
	}
	return responses
}

func TestHandleConnectionLifecycle(t *testing.T) {
	j := joint.New(newCounterReducer())
	wj := NewWebsocketJoint(j)
	conn := newMockConn()

	done := make(chan struct{})
	go func() {
		defer close(done)
		wj.HandleConnection(context.Background(), conn)
	}()

	conn.pushText(`{"message":{"type":"Create"},"client_token":""}`)
	waitFor(t, func() bool { return len(conn.Writes()) == 2 })

	responses := decodeResponses(t, conn.Writes())
	assert.Equal(t, wire.StateSent(`{"counter":0}`), responses[0])
	assert.Equal(t, wire.RoomCreated(0), responses[1])

	conn.pushText(`{"message":{"type":"Action","data":"{\"type\":\"Add\",\"data\":5}"},"client_token":""}`)
	waitFor(t, func() bool { return len(conn.Writes()) == 3 })

	responses = decodeResponses(t, conn.Writes())
	assert.Equal(t, wire.StatusAction, responses[2].Status)
	assert.Contains(t, responses[2].Payload, `"counter":5`)

	require.NoError(t, conn.Close())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("connection handler did not return after close")
	}
	assert.Zero(t, j.Broadcaster().ClientCount())
}

func TestNonTextFramesSkipped(t *testing.T) {
	j := joint.New(newCounterReducer())
	wj := NewWebsocketJoint(j)
	conn := newMockConn()

	done := make(chan struct{})
	go func() {
		defer close(done)
		wj.HandleConnection(context.Background(), conn)
	}()

	conn.push(websocket.BinaryMessage, []byte{0x01, 0x02})
	conn.pushText(`{"message":{"type":"Create"},"client_token":""}`)
	waitFor(t, func() bool { return len(conn.Writes()) == 2 })

	require.NoError(t, conn.Close())
	<-done
}

func TestUnparsableFrameTerminatesConnection(t *testing.T) {
	j := joint.New(newCounterReducer())
	wj := NewWebsocketJoint(j)
	conn := newMockConn()

	done := make(chan struct{})
	go func() {
		defer close(done)
		wj.HandleConnection(context.Background(), conn)
	}()

	conn.pushText(`garbage`)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("bad frame did not terminate the connection")
	}
	assert.Zero(t, j.Broadcaster().ClientCount())
	require.NoError(t, conn.Close())
}

func TestShutdownClosesConnections(t *testing.T) {
	j := joint.New(newCounterReducer())
	wj := NewWebsocketJoint(j)
	conn := newMockConn()

	done := make(chan struct{})
	go func() {
		defer close(done)
		wj.HandleConnection(context.Background(), conn)
	}()

	conn.pushText(`{"message":{"type":"Create"},"client_token":""}`)
	waitFor(t, func() bool { return len(conn.Writes()) == 2 })

	require.NoError(t, wj.Shutdown(context.Background()))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown did not terminate the connection")
	}
	assert.Zero(t, j.Broadcaster().ClientCount())
}

func TestSinkOverflowDropsFrame(t *testing.T) {
	sink := &wsSink{queue: make(chan []byte, 1)}

	require.NoError(t, sink.Send(context.Background(), wire.RoomCreated(0)))
	err := sink.Send(context.Background(), wire.RoomCreated(1))
	assert.ErrorIs(t, err, ErrSinkOverflow)
}

func TestSinkSendAfterClose(t *testing.T) {
	sink := &wsSink{queue: make(chan []byte, 1)}
	sink.close()

	err := sink.Send(context.Background(), wire.RoomCreated(0))
	assert.ErrorIs(t, err, errSinkClosed)

	// Closing twice is a no-op.
	sink.close()
}

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/syncroom/syncroom/pkg/v1/types"
)

// counterReducer is a one-integer reducer for end-to-end transport tests.
type counterReducer struct {
	counter int
}

type counterAction struct {
	Type string `json:"type"`
	Data int    `json:"data"`
}

type counterState struct {
	Counter int `json:"counter"`
}

func newCounterReducer() *counterReducer {
	return &counterReducer{}
}

func (r *counterReducer) Clone() types.Reducer {
	return newCounterReducer()
}

func (r *counterReducer) DecodeAction(raw string) (types.Action, error) {
	var action counterAction
	if err := json.Unmarshal([]byte(raw), &action); err != nil {
		return nil, err
	}
	return action, nil
}

func (r *counterReducer) Dispatch(_ context.Context, author types.ClientID, action types.Action) (*types.ActionResult, error) {
	a, ok := action.(counterAction)
	if !ok || a.Type != "Add" {
		return nil, errors.New("unsupported action")
	}
	r.counter += a.Data
	return &types.ActionResult{
		Status: "Add",
		State:  counterState{Counter: r.counter},
		Author: author,
		Data:   strconv.Itoa(a.Data),
	}, nil
}

func (r *counterReducer) Snapshot() any {
	return counterState{Counter: r.counter}
}

// mockConn is an in-memory wsConnection. Reads are fed through a channel;
// writes are recorded. Close unblocks any pending read.
type mockConn struct {
	reads chan mockFrame

	mu     sync.Mutex
	writes [][]byte
	closed bool

	closeOnce sync.Once
}

type mockFrame struct {
	messageType int
	data        []byte
}

func newMockConn() *mockConn {
	return &mockConn{reads: make(chan mockFrame, 16)}
}

func (c *mockConn) push(messageType int, data []byte) {
	c.reads <- mockFrame{messageType: messageType, data: data}
}

func (c *mockConn) pushText(frame string) {
	c.push(websocket.TextMessage, []byte(frame))
}

func (c *mockConn) ReadMessage() (int, []byte, error) {
	frame, ok := <-c.reads
	if !ok {
		return 0, nil, net.ErrClosed
	}
	return frame.messageType, frame.data, nil
}

func (c *mockConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	if messageType == websocket.TextMessage {
		c.writes = append(c.writes, append([]byte(nil), data...))
	}
	return nil
}

func (c *mockConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.reads)
	})
	return nil
}

func (c *mockConn) SetWriteDeadline(time.Time) error {
	return nil
}

func (c *mockConn) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

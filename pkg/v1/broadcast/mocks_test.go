package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/syncroom/syncroom/pkg/v1/types"
	"github.com/syncroom/syncroom/pkg/v1/wire"
)

// mockSink records every response it receives. failErr, when set, makes all
// sends fail.
type mockSink struct {
	mu       sync.Mutex
	received []wire.Response
	failErr  error
}

func newMockSink() *mockSink {
	return &mockSink{}
}

func (s *mockSink) Send(_ context.Context, resp wire.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.received = append(s.received, resp)
	return nil
}

func (s *mockSink) Responses() []wire.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.Response(nil), s.received...)
}

func (s *mockSink) Statuses() []wire.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	statuses := make([]wire.Status, len(s.received))
	for i, r := range s.received {
		statuses[i] = r.Status
	}
	return statuses
}

func (s *mockSink) Last() (wire.Response, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.received) == 0 {
		return wire.Response{}, false
	}
	return s.received[len(s.received)-1], true
}

// counterAction is the single action the counter reducer understands.
type counterAction struct {
	Type string `json:"type"`
	Data int    `json:"data"`
}

// counterReducer is a minimal reducer holding one integer. It rejects
// unknown actions and panics on a "Panic" action for crash-path tests.
type counterReducer struct {
	counter int
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
	if !ok {
		return nil, types.ErrInvalidAction
	}
	if a.Type == "Panic" {
		panic("counter reducer exploded")
	}
	if a.Type != "Add" {
		return nil, errors.New("unsupported action: " + a.Type)
	}
	r.counter += a.Data
	return &types.ActionResult{
		Status: "Add",
		State:  counterState{Counter: r.counter},
		Author: author,
		Data:   fmt.Sprintf("%d", a.Data),
	}, nil
}

func (r *counterReducer) Snapshot() any {
	return counterState{Counter: r.counter}
}

// addClient registers a fresh client with a recording sink.
func addClient(b *Broadcaster, id types.ClientID) *mockSink {
	sink := newMockSink()
	b.AddClient(NewClient(id, "", ""), sink)
	return sink
}

// createMsg, joinMsg, actionMsg, leaveMsg build inbound messages the way a
// connected client would send them.
func createMsg() wire.ClientMessage {
	return wire.ClientMessage{Message: wire.Method{Type: wire.MethodCreate}}
}

func joinMsg(room uint64) wire.ClientMessage {
	return wire.ClientMessage{Message: wire.Method{Type: wire.MethodJoin, Room: room}}
}

func actionMsg(raw string) wire.ClientMessage {
	return wire.ClientMessage{Message: wire.Method{Type: wire.MethodAction, Action: raw}}
}

func leaveMsg() wire.ClientMessage {
	return wire.ClientMessage{Message: wire.Method{Type: wire.MethodLeave}}
}

// addAction encodes an Add for the counter reducer.
func addAction(n int) string {
	return fmt.Sprintf(`{"type":"Add","data":%d}`, n)
}

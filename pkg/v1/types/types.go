// Package types holds the core identifiers and contracts shared across the
// framework: client/room ids, the Reducer contract, and the transport-neutral
// Sink/Stream boundary.
package types

import (
	"context"
	"errors"

	"github.com/syncroom/syncroom/pkg/v1/wire"
)

// ClientID uniquely identifies a connected client. Allocated by the Joint at
// connection acceptance and unique among currently-connected clients.
type ClientID uint64

// RoomID uniquely identifies a room. Allocated monotonically at room
// creation, strictly increasing within a process lifetime.
type RoomID uint64

// ErrInvalidAction is returned by Reducer.DecodeAction when the raw payload
// cannot be parsed into the reducer's action type. The core reports it to the
// sender as a ServerError and keeps the connection open.
var ErrInvalidAction = errors.New("invalid action")

// ActionResult is the outcome of a successful dispatch, broadcast to every
// room member as the payload of an Action response.
//
// Status names the action variant so client-side code can route the event.
// State is a full snapshot of the room state after the action; the framework
// broadcasts full snapshots rather than diffs.
type ActionResult struct {
	Status string   `json:"status"`
	State  any      `json:"state"`
	Author ClientID `json:"author"`
	Data   string   `json:"data"`
}

// Action is a reducer-defined request payload. The concrete type is owned by
// the reducer; the core only moves decoded actions from DecodeAction into
// Dispatch.
type Action = any

// Reducer owns the mutable state of one room. One instance exists per room,
// produced by cloning the Joint's default reducer at room creation.
//
// The core guarantees that Dispatch and Snapshot never run concurrently for
// the same room: both are invoked only while the room's exclusive lock is
// held. Implementations therefore need no internal locking.
type Reducer interface {
	// DecodeAction parses a wire-encoded action ({"type":...,"data":...})
	// into the reducer's action type. It must not touch reducer state.
	// Return an error wrapping ErrInvalidAction for malformed input.
	DecodeAction(raw string) (Action, error)

	// Dispatch applies one action on behalf of the authoring client and
	// returns the result to broadcast. A returned error is a rejection: the
	// room state must be left unchanged and the reason is reported to the
	// author only.
	Dispatch(ctx context.Context, author ClientID, action Action) (*ActionResult, error)

	// Snapshot returns a serializable copy of the current state, sent to
	// clients as they join the room.
	Snapshot() any

	// Clone produces an independent reducer with equivalent initial state
	// for a fresh room.
	Clone() Reducer
}

// Sink accepts outbound responses for one client. Sink values are handed out
// to the broadcaster for fan-out, so implementations must be cheap to copy
// and safe for concurrent Send calls; concurrent sends must not interleave
// the bytes of a single response.
//
// A Send error marks one dropped frame, not a dead connection: the core logs
// it and moves on. Connection teardown is driven by the Stream side.
type Sink interface {
	Send(ctx context.Context, resp wire.Response) error
}

// Stream yields inbound messages for one client. Next blocks until a message
// arrives or the connection terminates; io.EOF (or any other error) is
// terminal and ends the connection's processing loop.
type Stream interface {
	Next(ctx context.Context) (wire.ClientMessage, error)
}

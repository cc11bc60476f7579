package broadcast

import (
	"context"
	"errors"
	"time"

	"github.com/syncroom/syncroom/pkg/v1/logging"
	"github.com/syncroom/syncroom/pkg/v1/metrics"
	"github.com/syncroom/syncroom/pkg/v1/types"
	"github.com/syncroom/syncroom/pkg/v1/wire"
	"go.uber.org/zap"
)

// errReducerCrashed marks a trapped reducer panic. The room state is
// undefined afterwards but the room keeps serving.
var errReducerCrashed = errors.New("reducer crashed")

// RoomEnvelope addresses a response to every member of a room.
type RoomEnvelope struct {
	Room     types.RoomID
	Response wire.Response
}

// ClientEnvelope addresses a response to a single client.
type ClientEnvelope struct {
	Client   types.ClientID
	Response wire.Response
}

// Dispatcher applies actions to room reducers under the per-room lock. It
// produces response envelopes and leaves fan-out to the broadcaster.
type Dispatcher struct {
	rooms *roomRegistry
}

func newDispatcher(rooms *roomRegistry) *Dispatcher {
	return &Dispatcher{rooms: rooms}
}

// Dispatch applies one decoded action on behalf of author. On success it
// returns a room envelope carrying the serialized ActionResult; on any
// failure a client envelope for the author.
func (d *Dispatcher) Dispatch(ctx context.Context, author types.ClientID, action types.Action, room *Room) (*RoomEnvelope, *ClientEnvelope) {
	d.rooms.mu.Lock()
	member := room.Members.Has(author)
	d.rooms.mu.Unlock()
	if !member {
		return nil, &ClientEnvelope{Client: author, Response: wire.ClientError("Client not in room")}
	}

	result, err := d.apply(ctx, author, action, room)
	if err != nil {
		if errors.Is(err, errReducerCrashed) {
			return nil, &ClientEnvelope{Client: author, Response: wire.ServerError(errReducerCrashed.Error())}
		}
		// A reducer rejection: state unchanged, reason goes back to the
		// author only.
		return nil, &ClientEnvelope{Client: author, Response: wire.ClientError(err.Error())}
	}

	payload, err := marshalToString(result)
	if err != nil {
		logging.Error(ctx, "failed to encode action result", zap.Uint64("roomId", uint64(room.ID)), zap.Error(err))
		return nil, &ClientEnvelope{Client: author, Response: wire.ServerError("Failed to encode action result")}
	}
	return &RoomEnvelope{Room: room.ID, Response: wire.Action(payload)}, nil
}

// DispatchRaw parses a wire-encoded action with the room's reducer and then
// applies it. Used by the out-of-band dispatch path.
func (d *Dispatcher) DispatchRaw(ctx context.Context, author types.ClientID, raw string, room *Room) (*types.ActionResult, error) {
	action, err := room.reducer.DecodeAction(raw)
	if err != nil {
		return nil, err
	}
	return d.apply(ctx, author, action, room)
}

// apply runs the reducer under the room lock, trapping panics so one broken
// action cannot take the room down.
func (d *Dispatcher) apply(ctx context.Context, author types.ClientID, action types.Action, room *Room) (result *types.ActionResult, err error) {
	start := time.Now()
	status := "ok"
	defer func() {
		metrics.DispatchDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}()

	room.mu.Lock()
	defer room.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			logging.Error(ctx, "reducer panicked during dispatch",
				zap.Uint64("roomId", uint64(room.ID)),
				zap.Uint64("clientId", uint64(author)),
				zap.Any("panic", r))
			status = "crashed"
			result = nil
			err = errReducerCrashed
		}
	}()

	result, err = room.reducer.Dispatch(ctx, author, action)
	if err != nil {
		status = "rejected"
	}
	return result, err
}

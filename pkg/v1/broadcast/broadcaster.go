// Package broadcast implements the room fan-out engine: client, room and
// sink registries, per-room serialized dispatch, and ordered broadcast of
// responses to room members.
package broadcast

import (
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/syncroom/syncroom/pkg/v1/logging"
	"github.com/syncroom/syncroom/pkg/v1/metrics"
	"github.com/syncroom/syncroom/pkg/v1/types"
	"github.com/syncroom/syncroom/pkg/v1/wire"
	"go.uber.org/zap"
)

// Broadcaster owns the population of clients, rooms and sinks. It interprets
// inbound client messages, mutates the registries, drives the dispatcher and
// routes responses to rooms or individual clients.
//
// Per-message errors never terminate a connection; only terminal stream
// events do, and those are handled by the Joint.
type Broadcaster struct {
	clients *clientRegistry
	rooms   *roomRegistry
	sinks   *sinkRegistry

	dispatcher *Dispatcher

	// defaultReducer is cloned into every new room.
	defaultReducer types.Reducer
}

// New creates a Broadcaster that seeds new rooms by cloning defaultReducer.
func New(defaultReducer types.Reducer) *Broadcaster {
	rooms := newRoomRegistry()
	return &Broadcaster{
		clients:        newClientRegistry(),
		rooms:          rooms,
		sinks:          newSinkRegistry(),
		dispatcher:     newDispatcher(rooms),
		defaultReducer: defaultReducer,
	}
}

// AddClient registers a connected client and its sink. The client record is
// inserted before the sink so a registered sink always has a client.
func (b *Broadcaster) AddClient(client *Client, sink types.Sink) {
	b.clients.mu.Lock()
	b.clients.clients[client.ID] = client
	b.clients.mu.Unlock()

	b.sinks.mu.Lock()
	b.sinks.sinks[client.ID] = sink
	b.sinks.mu.Unlock()
}

// RemoveClient tears a client down: if it is in a room, the leave side
// effects run first (membership removal, RoomLeft to the remaining members),
// then the client is deleted from both registries.
func (b *Broadcaster) RemoveClient(ctx context.Context, clientID types.ClientID) {
	var leftRoom *types.RoomID

	b.clients.mu.Lock()
	if client, ok := b.clients.clients[clientID]; ok {
		if client.Room != nil {
			roomID := *client.Room
			b.rooms.mu.Lock()
			if room, ok := b.rooms.rooms[roomID]; ok {
				room.Members.Delete(clientID)
				setRoomMembersGauge(room)
			}
			b.rooms.mu.Unlock()
			client.Room = nil
			leftRoom = &roomID
		}
		delete(b.clients.clients, clientID)
	}
	b.clients.mu.Unlock()

	b.sinks.mu.Lock()
	delete(b.sinks.sinks, clientID)
	b.sinks.mu.Unlock()

	if leftRoom != nil {
		b.fanOutRoom(ctx, *leftRoom, wire.RoomLeft(uint64(clientID)))
	}
}

// HandleStream pulls messages from a client's stream until a terminal event
// and feeds them through the message state machine. It does not perform
// teardown; the Joint owns that.
func (b *Broadcaster) HandleStream(ctx context.Context, clientID types.ClientID, stream types.Stream) {
	for {
		msg, err := stream.Next(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				logging.Warn(ctx, "client stream terminated", zap.Uint64("clientId", uint64(clientID)), zap.Error(err))
			}
			return
		}
		b.ProcessMessage(ctx, clientID, msg)
	}
}

// ProcessMessage runs one inbound message through the state machine and
// delivers the resulting responses to their audience.
func (b *Broadcaster) ProcessMessage(ctx context.Context, clientID types.ClientID, msg wire.ClientMessage) {
	roomEnv, clientEnv := b.processEvent(ctx, clientID, msg)

	outcome := "ok"
	if clientEnv != nil {
		outcome = "error"
	}
	metrics.Messages.WithLabelValues(string(msg.Message.Type), outcome).Inc()

	switch {
	case clientEnv != nil:
		b.sendToClient(ctx, clientEnv.Client, clientEnv.Response)
	case roomEnv != nil:
		if msg.Message.Type == wire.MethodLeave {
			// The leaver is already out of the member set but still
			// observes its own departure.
			b.sendToClient(ctx, clientID, roomEnv.Response)
		}
		b.fanOutRoom(ctx, roomEnv.Room, roomEnv.Response)
	}
}

// processEvent is the per-client state machine over {Idle, InRoom}. It
// returns exactly one envelope: a room envelope on success, a client
// envelope on rejection.
func (b *Broadcaster) processEvent(ctx context.Context, clientID types.ClientID, msg wire.ClientMessage) (*RoomEnvelope, *ClientEnvelope) {
	switch msg.Message.Type {
	case wire.MethodCreate:
		env, room, errEnv := b.handleCreate(clientID)
		if errEnv != nil {
			return nil, errEnv
		}
		b.sendState(ctx, clientID, room)
		return env, nil
	case wire.MethodJoin:
		env, room, errEnv := b.handleJoin(clientID, types.RoomID(msg.Message.Room))
		if errEnv != nil {
			return nil, errEnv
		}
		b.sendState(ctx, clientID, room)
		return env, nil
	case wire.MethodAction:
		return b.handleAction(ctx, clientID, msg.Message.Action)
	case wire.MethodLeave:
		return b.handleLeave(clientID)
	default:
		return nil, &ClientEnvelope{Client: clientID, Response: wire.ServerError("Unknown message type")}
	}
}

// handleCreate allocates a new room owned by the client. The default
// reducer is cloned before any registry lock is taken; reducer code never
// runs under an engine lock other than the room's own.
func (b *Broadcaster) handleCreate(clientID types.ClientID) (*RoomEnvelope, *Room, *ClientEnvelope) {
	reducer := b.defaultReducer.Clone()

	b.clients.mu.Lock()
	defer b.clients.mu.Unlock()

	client, ok := b.clients.clients[clientID]
	if !ok {
		return nil, nil, &ClientEnvelope{Client: clientID, Response: wire.NotFound("Client not found")}
	}
	if client.Room != nil {
		return nil, nil, &ClientEnvelope{Client: clientID, Response: wire.ClientError("Leave current room before creating new")}
	}

	b.rooms.mu.Lock()
	roomID := b.rooms.allocate()
	room := newRoom(roomID, clientID, reducer)
	b.rooms.rooms[roomID] = room
	setRoomMembersGauge(room)
	b.rooms.mu.Unlock()

	client.Room = &roomID
	metrics.ActiveRooms.Inc()

	return &RoomEnvelope{Room: roomID, Response: wire.RoomCreated(uint64(roomID))}, room, nil
}

// handleJoin adds the client to an existing room.
func (b *Broadcaster) handleJoin(clientID types.ClientID, roomID types.RoomID) (*RoomEnvelope, *Room, *ClientEnvelope) {
	b.clients.mu.Lock()
	defer b.clients.mu.Unlock()

	client, ok := b.clients.clients[clientID]
	if !ok {
		return nil, nil, &ClientEnvelope{Client: clientID, Response: wire.NotFound("Client not found")}
	}
	if client.Room != nil {
		return nil, nil, &ClientEnvelope{Client: clientID, Response: wire.ClientError("Leave current room before joining new")}
	}

	b.rooms.mu.Lock()
	room, ok := b.rooms.rooms[roomID]
	if !ok {
		b.rooms.mu.Unlock()
		return nil, nil, &ClientEnvelope{Client: clientID, Response: wire.NotFound("Room not found")}
	}
	room.Members.Insert(clientID)
	setRoomMembersGauge(room)
	b.rooms.mu.Unlock()

	client.Room = &roomID

	return &RoomEnvelope{Room: roomID, Response: wire.RoomJoined(uint64(clientID))}, room, nil
}

// handleAction decodes the raw action with the room's reducer and hands it
// to the dispatcher. Registry locks are released before the reducer runs.
func (b *Broadcaster) handleAction(ctx context.Context, clientID types.ClientID, raw string) (*RoomEnvelope, *ClientEnvelope) {
	room, errEnv := b.currentRoom(clientID)
	if errEnv != nil {
		return nil, errEnv
	}

	action, err := room.reducer.DecodeAction(raw)
	if err != nil {
		// Historically reported as a server error even though the bad
		// payload came from the client.
		return nil, &ClientEnvelope{Client: clientID, Response: wire.ServerError("Invalid action")}
	}

	return b.dispatcher.Dispatch(ctx, clientID, action, room)
}

// handleLeave removes the client from its current room.
func (b *Broadcaster) handleLeave(clientID types.ClientID) (*RoomEnvelope, *ClientEnvelope) {
	b.clients.mu.Lock()
	defer b.clients.mu.Unlock()

	client, ok := b.clients.clients[clientID]
	if !ok {
		return nil, &ClientEnvelope{Client: clientID, Response: wire.NotFound("Client not found")}
	}
	if client.Room == nil {
		return nil, &ClientEnvelope{Client: clientID, Response: wire.NotFound("Client not in room")}
	}
	roomID := *client.Room

	b.rooms.mu.Lock()
	room, ok := b.rooms.rooms[roomID]
	if !ok {
		b.rooms.mu.Unlock()
		return nil, &ClientEnvelope{Client: clientID, Response: wire.NotFound("Room not found")}
	}
	room.Members.Delete(clientID)
	setRoomMembersGauge(room)
	b.rooms.mu.Unlock()

	client.Room = nil

	return &RoomEnvelope{Room: roomID, Response: wire.RoomLeft(uint64(clientID))}, nil
}

// currentRoom resolves the client's room under the registry locks and
// releases them before returning.
func (b *Broadcaster) currentRoom(clientID types.ClientID) (*Room, *ClientEnvelope) {
	b.clients.mu.Lock()
	client, ok := b.clients.clients[clientID]
	if !ok {
		b.clients.mu.Unlock()
		return nil, &ClientEnvelope{Client: clientID, Response: wire.NotFound("Client not found")}
	}
	if client.Room == nil {
		b.clients.mu.Unlock()
		return nil, &ClientEnvelope{Client: clientID, Response: wire.NotFound("Client not in room")}
	}
	roomID := *client.Room
	b.clients.mu.Unlock()

	b.rooms.mu.Lock()
	room, ok := b.rooms.rooms[roomID]
	b.rooms.mu.Unlock()
	if !ok {
		return nil, &ClientEnvelope{Client: clientID, Response: wire.NotFound("Room not found")}
	}
	return room, nil
}

// ExternalDispatch applies a wire-encoded action on behalf of a client
// outside any inbound message, with the same per-room serialization. The
// result is returned to the caller and not broadcast.
func (b *Broadcaster) ExternalDispatch(ctx context.Context, clientID types.ClientID, rawAction string) (*types.ActionResult, error) {
	room, errEnv := b.currentRoom(clientID)
	if errEnv != nil {
		return nil, errors.New(errEnv.Response.Text)
	}
	return b.dispatcher.DispatchRaw(ctx, clientID, rawAction, room)
}

// sendState delivers a state snapshot to a client that just entered a room.
// It is sent before the room-level broadcast so a joiner always sees its
// initial state before its own first action result.
func (b *Broadcaster) sendState(ctx context.Context, clientID types.ClientID, room *Room) {
	payload, err := room.snapshotJSON()
	if err != nil {
		logging.Error(ctx, "failed to serialize room state",
			zap.Uint64("roomId", uint64(room.ID)),
			zap.Uint64("clientId", uint64(clientID)),
			zap.Error(err))
		b.sendToClient(ctx, clientID, wire.ServerError("Failed to serialize state"))
		return
	}
	b.sendToClient(ctx, clientID, wire.StateSent(payload))
}

// fanOutRoom broadcasts a response to every member of a room. The member
// snapshot is taken under the registry locks in the fixed order, the locks
// are released, and sends happen outside them. Individual send failures are
// logged and otherwise ignored; they do not evict the client.
func (b *Broadcaster) fanOutRoom(ctx context.Context, roomID types.RoomID, resp wire.Response) {
	type target struct {
		client types.ClientID
		sink   types.Sink
	}
	var targets []target

	b.clients.mu.Lock()
	b.rooms.mu.Lock()
	b.sinks.mu.Lock()

	room, ok := b.rooms.rooms[roomID]
	if !ok {
		b.sinks.mu.Unlock()
		b.rooms.mu.Unlock()
		b.clients.mu.Unlock()
		logging.Warn(ctx, "broadcast to unknown room", zap.Uint64("roomId", uint64(roomID)))
		return
	}

	for memberID := range room.Members {
		if _, ok := b.clients.clients[memberID]; !ok {
			logging.Warn(ctx, "room member missing from client registry",
				zap.Uint64("roomId", uint64(roomID)),
				zap.Uint64("clientId", uint64(memberID)))
			continue
		}
		sink, ok := b.sinks.sinks[memberID]
		if !ok {
			logging.Warn(ctx, "room member has no sink",
				zap.Uint64("roomId", uint64(roomID)),
				zap.Uint64("clientId", uint64(memberID)))
			continue
		}
		targets = append(targets, target{client: memberID, sink: sink})
	}

	b.sinks.mu.Unlock()
	b.rooms.mu.Unlock()
	b.clients.mu.Unlock()

	for _, t := range targets {
		if err := t.sink.Send(ctx, resp); err != nil {
			metrics.DroppedResponses.Inc()
			logging.Warn(ctx, "failed to send response to room member",
				zap.Uint64("roomId", uint64(roomID)),
				zap.Uint64("clientId", uint64(t.client)),
				zap.Error(err))
		}
	}
}

// sendToClient delivers a response to one client, looking the sink up
// without holding the lock across the send.
func (b *Broadcaster) sendToClient(ctx context.Context, clientID types.ClientID, resp wire.Response) {
	sink, ok := b.sinks.get(clientID)
	if !ok {
		logging.Debug(ctx, "dropping response for client without sink", zap.Uint64("clientId", uint64(clientID)))
		return
	}
	if err := sink.Send(ctx, resp); err != nil {
		metrics.DroppedResponses.Inc()
		logging.Warn(ctx, "failed to send response to client", zap.Uint64("clientId", uint64(clientID)), zap.Error(err))
	}
}

// HasClient reports whether a client is currently registered.
func (b *Broadcaster) HasClient(clientID types.ClientID) bool {
	b.clients.mu.Lock()
	defer b.clients.mu.Unlock()
	_, ok := b.clients.clients[clientID]
	return ok
}

// HasSink reports whether a sink is registered for the client.
func (b *Broadcaster) HasSink(clientID types.ClientID) bool {
	b.sinks.mu.Lock()
	defer b.sinks.mu.Unlock()
	_, ok := b.sinks.sinks[clientID]
	return ok
}

// ClientRoom returns the room the client is a member of, if any.
func (b *Broadcaster) ClientRoom(clientID types.ClientID) (types.RoomID, bool) {
	b.clients.mu.Lock()
	defer b.clients.mu.Unlock()
	client, ok := b.clients.clients[clientID]
	if !ok || client.Room == nil {
		return 0, false
	}
	return *client.Room, true
}

// RoomMembers returns the current member set of a room.
func (b *Broadcaster) RoomMembers(roomID types.RoomID) ([]types.ClientID, bool) {
	b.rooms.mu.Lock()
	defer b.rooms.mu.Unlock()
	room, ok := b.rooms.rooms[roomID]
	if !ok {
		return nil, false
	}
	return room.Members.UnsortedList(), true
}

// ClientCount returns the number of registered clients.
func (b *Broadcaster) ClientCount() int {
	b.clients.mu.Lock()
	defer b.clients.mu.Unlock()
	return len(b.clients.clients)
}

// RoomCount returns the number of rooms created so far.
func (b *Broadcaster) RoomCount() int {
	b.rooms.mu.Lock()
	defer b.rooms.mu.Unlock()
	return len(b.rooms.rooms)
}

// setRoomMembersGauge refreshes the per-room member gauge. Caller must hold
// the room registry lock.
func setRoomMembersGauge(room *Room) {
	metrics.RoomMembers.WithLabelValues(strconv.FormatUint(uint64(room.ID), 10)).Set(float64(room.Members.Len()))
}

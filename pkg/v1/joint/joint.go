// Package joint provides the top-level façade of the fan-out engine. A
// Joint owns one broadcaster and turns accepted transport connections into
// registered clients with a guaranteed teardown path.
package joint

import (
	"context"
	"math/rand/v2"

	"github.com/syncroom/syncroom/pkg/v1/broadcast"
	"github.com/syncroom/syncroom/pkg/v1/logging"
	"github.com/syncroom/syncroom/pkg/v1/metrics"
	"github.com/syncroom/syncroom/pkg/v1/types"
	"go.uber.org/zap"
)

// Joint coordinates transport connections with one shared broadcaster.
// Transport bindings call Serve once per accepted connection; host code can
// reach the engine out-of-band through ExternalDispatch.
type Joint struct {
	broadcaster *broadcast.Broadcaster
}

// New creates a Joint whose rooms start from clones of defaultReducer.
func New(defaultReducer types.Reducer) *Joint {
	return &Joint{broadcaster: broadcast.New(defaultReducer)}
}

// Broadcaster exposes the underlying engine for registries introspection.
func (j *Joint) Broadcaster() *broadcast.Broadcaster {
	return j.broadcaster
}

// Serve drives one connection: it allocates a client id, registers the
// stream/sink pair, and pumps inbound messages until the stream terminates.
// Teardown always runs, whatever the termination path: leave side effects
// for the client's room, then removal from both registries.
//
// Serve blocks until the connection is done and is safe to call from many
// goroutines at once.
func (j *Joint) Serve(ctx context.Context, stream types.Stream, sink types.Sink) {
	clientID := j.allocateClientID()
	ctx = context.WithValue(ctx, logging.ClientIDKey, uint64(clientID))

	client := broadcast.NewClient(clientID, "", "")
	j.broadcaster.AddClient(client, sink)
	metrics.IncConnection()
	logging.Info(ctx, "client connected")

	defer func() {
		j.broadcaster.RemoveClient(ctx, clientID)
		metrics.DecConnection()
		logging.Info(ctx, "client disconnected")
	}()

	j.broadcaster.HandleStream(ctx, clientID, stream)
}

// ExternalDispatch applies a wire-encoded action on behalf of clientID from
// outside any connection, e.g. an HTTP handler acting for a connected user.
// It runs under the same per-room serialization as inbound actions.
func (j *Joint) ExternalDispatch(ctx context.Context, clientID types.ClientID, rawAction string) (*types.ActionResult, error) {
	return j.broadcaster.ExternalDispatch(ctx, clientID, rawAction)
}

// allocateClientID draws random 64-bit ids until one is free among the
// currently connected clients. Collisions are astronomically unlikely, so
// the loop effectively runs once.
func (j *Joint) allocateClientID() types.ClientID {
	for {
		id := types.ClientID(rand.Uint64())
		if !j.broadcaster.HasClient(id) {
			return id
		}
		logging.Warn(context.Background(), "client id collision, drawing again", zap.Uint64("clientId", uint64(id)))
	}
}

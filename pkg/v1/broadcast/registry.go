package broadcast

import (
	"encoding/json"
	"sync"

	"github.com/syncroom/syncroom/pkg/v1/types"
)

// The engine's shared state lives in three independently locked maps. When
// more than one registry lock is needed at once, acquisition follows the
// fixed order clients -> rooms -> sinks. No registry lock is ever held
// across a reducer call or a sink send; the room reducer lock is the
// innermost resource and is never nested with registry locks.

// clientRegistry maps client ids to client records.
type clientRegistry struct {
	mu      sync.Mutex
	clients map[types.ClientID]*Client
}

func newClientRegistry() *clientRegistry {
	return &clientRegistry{clients: make(map[types.ClientID]*Client)}
}

// roomRegistry maps room ids to rooms and allocates ids. Ids are handed out
// monotonically starting at zero and never reused; rooms persist for the
// process lifetime.
type roomRegistry struct {
	mu     sync.Mutex
	nextID types.RoomID
	rooms  map[types.RoomID]*Room
}

func newRoomRegistry() *roomRegistry {
	return &roomRegistry{rooms: make(map[types.RoomID]*Room)}
}

// allocate reserves the next room id. Caller must hold r.mu.
func (r *roomRegistry) allocate() types.RoomID {
	id := r.nextID
	r.nextID++
	return id
}

// sinkRegistry maps client ids to their outbound sinks. Invariant: every
// registered sink belongs to a registered client.
type sinkRegistry struct {
	mu    sync.Mutex
	sinks map[types.ClientID]types.Sink
}

func newSinkRegistry() *sinkRegistry {
	return &sinkRegistry{sinks: make(map[types.ClientID]types.Sink)}
}

// get returns the sink for a client without holding the lock across the
// caller's send.
func (s *sinkRegistry) get(id types.ClientID) (types.Sink, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sink, ok := s.sinks[id]
	return sink, ok
}

func marshalToString(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

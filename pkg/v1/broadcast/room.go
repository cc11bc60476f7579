package broadcast

import (
	"sync"

	"github.com/syncroom/syncroom/pkg/v1/types"

	"k8s.io/utils/set"
)

// RoomStatus marks a room as public or secret-protected. The engine stores
// the status but does not gate joins on it; enforcement is left to hosts.
type RoomStatus struct {
	private bool
	secret  string
}

// Public returns the default open room status.
func Public() RoomStatus {
	return RoomStatus{}
}

// Private returns a room status carrying a join secret.
func Private(secret string) RoomStatus {
	return RoomStatus{private: true, secret: secret}
}

// IsPrivate reports whether the room carries a join secret.
func (s RoomStatus) IsPrivate() bool {
	return s.private
}

// Secret returns the join secret for private rooms.
func (s RoomStatus) Secret() (string, bool) {
	return s.secret, s.private
}

// Room is a set of clients sharing one reducer instance.
//
// Identity and membership fields are guarded by the room registry's lock.
// The reducer is guarded by the room's own mutex, the innermost lock of the
// engine: it is held for the full duration of a dispatch and for snapshot
// reads that must be consistent with in-flight dispatches.
type Room struct {
	ID      types.RoomID
	OwnerID types.ClientID
	Members set.Set[types.ClientID]
	Status  RoomStatus

	mu      sync.Mutex
	reducer types.Reducer
}

func newRoom(id types.RoomID, owner types.ClientID, reducer types.Reducer) *Room {
	return &Room{
		ID:      id,
		OwnerID: owner,
		Members: set.New(owner),
		Status:  Public(),
		reducer: reducer,
	}
}

// snapshotJSON serializes the current reducer state under the room lock.
func (r *Room) snapshotJSON() (string, error) {
	r.mu.Lock()
	state := r.reducer.Snapshot()
	r.mu.Unlock()

	return marshalToString(state)
}

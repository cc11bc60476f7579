package broadcast

import (
	"github.com/syncroom/syncroom/pkg/v1/types"
)

// Client is one connected client's registry record. Fields are guarded by
// the client registry's lock.
type Client struct {
	ID types.ClientID
	// Room is the id of the room the client is a member of, nil while idle.
	// A client belongs to at most one room.
	Room *types.RoomID
	// Label is a developer-assigned display name, empty by default.
	Label string
	// Token is the opaque client token from the transport handshake. The
	// engine echoes it through without interpretation.
	Token string
}

// NewClient returns an idle client record.
func NewClient(id types.ClientID, label, token string) *Client {
	return &Client{ID: id, Label: label, Token: token}
}

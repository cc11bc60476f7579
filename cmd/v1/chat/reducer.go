package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/syncroom/syncroom/pkg/v1/types"
)

// chatAction is the wire shape of a chat room action.
type chatAction struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	ID   uint64 `json:"id,omitempty"`
}

const (
	actionSetName       = "set_name"
	actionSendMessage   = "send_message"
	actionDeleteMessage = "delete_message"
)

// chatMessage is one entry in the room's message log.
type chatMessage struct {
	ID     uint64         `json:"id"`
	Author types.ClientID `json:"author"`
	Text   string         `json:"text"`
}

// chatState is the snapshot every joiner receives.
type chatState struct {
	Names    map[types.ClientID]string `json:"names"`
	Messages []chatMessage             `json:"messages"`
}

// chatReducer holds one room's chat state. The engine serializes all calls
// per room, so no internal locking is needed.
type chatReducer struct {
	names    map[types.ClientID]string
	messages []chatMessage
	nextID   uint64
}

func newChatReducer() *chatReducer {
	return &chatReducer{names: make(map[types.ClientID]string)}
}

func (r *chatReducer) Clone() types.Reducer {
	return newChatReducer()
}

func (r *chatReducer) DecodeAction(raw string) (types.Action, error) {
	var action chatAction
	if err := json.Unmarshal([]byte(raw), &action); err != nil {
		return nil, err
	}
	switch action.Type {
	case actionSetName, actionSendMessage, actionDeleteMessage:
		return action, nil
	default:
		return nil, types.ErrInvalidAction
	}
}

func (r *chatReducer) Dispatch(_ context.Context, author types.ClientID, action types.Action) (*types.ActionResult, error) {
	a, ok := action.(chatAction)
	if !ok {
		return nil, types.ErrInvalidAction
	}

	switch a.Type {
	case actionSetName:
		return r.setName(author, a.Text)
	case actionSendMessage:
		return r.sendMessage(author, a.Text)
	case actionDeleteMessage:
		return r.deleteMessage(author, a.ID)
	default:
		return nil, types.ErrInvalidAction
	}
}

func (r *chatReducer) setName(author types.ClientID, name string) (*types.ActionResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("name must not be empty")
	}
	r.names[author] = name
	return r.result("name_set", author, name), nil
}

func (r *chatReducer) sendMessage(author types.ClientID, text string) (*types.ActionResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("message must not be empty")
	}
	if _, named := r.names[author]; !named {
		return nil, errors.New("set a name before sending messages")
	}
	msg := chatMessage{ID: r.nextID, Author: author, Text: text}
	r.nextID++
	r.messages = append(r.messages, msg)
	data, _ := json.Marshal(msg)
	return r.result("message_sent", author, string(data)), nil
}

func (r *chatReducer) deleteMessage(author types.ClientID, id uint64) (*types.ActionResult, error) {
	for i, msg := range r.messages {
		if msg.ID != id {
			continue
		}
		if msg.Author != author {
			return nil, errors.New("only the author may delete a message")
		}
		r.messages = append(r.messages[:i], r.messages[i+1:]...)
		return r.result("message_deleted", author, fmt.Sprintf("%d", id)), nil
	}
	return nil, fmt.Errorf("message %d not found", id)
}

func (r *chatReducer) Snapshot() any {
	state := chatState{
		Names:    make(map[types.ClientID]string, len(r.names)),
		Messages: append([]chatMessage(nil), r.messages...),
	}
	for id, name := range r.names {
		state.Names[id] = name
	}
	return state
}

func (r *chatReducer) result(status string, author types.ClientID, data string) *types.ActionResult {
	return &types.ActionResult{
		Status: status,
		State:  r.Snapshot(),
		Author: author,
		Data:   data,
	}
}

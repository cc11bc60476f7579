// Package wire defines the JSON frame formats exchanged with clients.
//
// Every frame is a single UTF-8 JSON text message. Inbound frames decode to
// ClientMessage; outbound frames encode from Response. The codec is
// transport-agnostic: adapters hand the core decoded messages and receive
// Response values to serialize, without inspecting payload contents.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MethodType names the inbound message variants a client may send.
type MethodType string

const (
	MethodCreate MethodType = "Create"
	MethodJoin   MethodType = "Join"
	MethodAction MethodType = "Action"
	MethodLeave  MethodType = "Leave"
)

// ErrUnknownMethod is returned when an inbound frame carries an
// unrecognized message type.
var ErrUnknownMethod = errors.New("wire: unknown message type")

// Method is the tagged union inside a ClientMessage. Join carries a room id,
// Action carries the reducer action serialized as a JSON string; Create and
// Leave carry no data.
type Method struct {
	Type MethodType
	// Room is the target room id for Join.
	Room uint64
	// Action is the wire-encoded reducer action for Action. Its content is
	// itself JSON ({"type":"<ActionName>","data":<payload>}), but the core
	// treats it as opaque until the room's reducer parses it.
	Action string
}

type methodEnvelope struct {
	Type MethodType      `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON encodes the method as {"type":...} with a "data" field only for
// the variants that carry one.
func (m Method) MarshalJSON() ([]byte, error) {
	env := methodEnvelope{Type: m.Type}
	switch m.Type {
	case MethodCreate, MethodLeave:
	case MethodJoin:
		data, err := json.Marshal(m.Room)
		if err != nil {
			return nil, err
		}
		env.Data = data
	case MethodAction:
		data, err := json.Marshal(m.Action)
		if err != nil {
			return nil, err
		}
		env.Data = data
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, m.Type)
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes the tagged method union, validating that data-carrying
// variants actually carry their payload.
func (m *Method) UnmarshalJSON(data []byte) error {
	var env methodEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	switch env.Type {
	case MethodCreate, MethodLeave:
		*m = Method{Type: env.Type}
	case MethodJoin:
		if env.Data == nil {
			return errors.New("wire: Join message missing room id")
		}
		var room uint64
		if err := json.Unmarshal(env.Data, &room); err != nil {
			return fmt.Errorf("wire: Join room id: %w", err)
		}
		*m = Method{Type: MethodJoin, Room: room}
	case MethodAction:
		if env.Data == nil {
			return errors.New("wire: Action message missing payload")
		}
		var action string
		if err := json.Unmarshal(env.Data, &action); err != nil {
			return fmt.Errorf("wire: Action payload: %w", err)
		}
		*m = Method{Type: MethodAction, Action: action}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMethod, env.Type)
	}
	return nil
}

// ClientMessage is one inbound frame. ClientToken is developer-opaque and
// echoed through untouched; the core never interprets it.
type ClientMessage struct {
	Message     Method `json:"message"`
	ClientToken string `json:"client_token"`
}

// DecodeClientMessage parses one inbound text frame.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, err
	}
	return msg, nil
}

// Status tags the outbound response variants.
type Status string

const (
	StatusRoomCreated Status = "RoomCreated"
	StatusRoomJoined  Status = "RoomJoined"
	StatusStateSent   Status = "StateSent"
	StatusAction      Status = "Action"
	StatusRoomLeft    Status = "RoomLeft"
	StatusNotFound    Status = "NotFound"
	StatusClientError Status = "ClientError"
	StatusServerError Status = "ServerError"
)

// Response is one outbound frame, serialized as {"status":<tag>,"message":<payload>}.
//
// Exactly one payload field is meaningful per status:
//   - ID for RoomCreated (room id), RoomJoined and RoomLeft (client id)
//   - Payload for StateSent and Action (serialized JSON, re-emitted nested)
//   - Text for NotFound, ClientError and ServerError
type Response struct {
	Status  Status
	ID      uint64
	Payload string
	Text    string
}

func RoomCreated(roomID uint64) Response {
	return Response{Status: StatusRoomCreated, ID: roomID}
}

func RoomJoined(clientID uint64) Response {
	return Response{Status: StatusRoomJoined, ID: clientID}
}

func RoomLeft(clientID uint64) Response {
	return Response{Status: StatusRoomLeft, ID: clientID}
}

// StateSent wraps a serialized state snapshot for the joining client.
func StateSent(payload string) Response {
	return Response{Status: StatusStateSent, Payload: payload}
}

// Action wraps a serialized action result broadcast to a room.
func Action(payload string) Response {
	return Response{Status: StatusAction, Payload: payload}
}

func NotFound(msg string) Response {
	return Response{Status: StatusNotFound, Text: msg}
}

func ClientError(msg string) Response {
	return Response{Status: StatusClientError, Text: msg}
}

func ServerError(msg string) Response {
	return Response{Status: StatusServerError, Text: msg}
}

type responseEnvelope struct {
	Status  Status          `json:"status"`
	Message json.RawMessage `json:"message"`
}

// MarshalJSON emits the two-field wire object. StateSent and Action payloads
// that hold valid JSON are nested as objects rather than double-encoded
// strings; anything else falls back to a plain JSON string.
func (r Response) MarshalJSON() ([]byte, error) {
	var message json.RawMessage
	switch r.Status {
	case StatusRoomCreated, StatusRoomJoined, StatusRoomLeft:
		data, err := json.Marshal(r.ID)
		if err != nil {
			return nil, err
		}
		message = data
	case StatusStateSent, StatusAction:
		if json.Valid([]byte(r.Payload)) {
			message = json.RawMessage(r.Payload)
		} else {
			data, err := json.Marshal(r.Payload)
			if err != nil {
				return nil, err
			}
			message = data
		}
	case StatusNotFound, StatusClientError, StatusServerError:
		data, err := json.Marshal(r.Text)
		if err != nil {
			return nil, err
		}
		message = data
	default:
		return nil, fmt.Errorf("wire: unknown response status %q", r.Status)
	}
	return json.Marshal(responseEnvelope{Status: r.Status, Message: message})
}

// UnmarshalJSON decodes a wire frame back into a Response. Used by the
// channel adapter and by client-side consumers of the protocol.
func (r *Response) UnmarshalJSON(data []byte) error {
	var env responseEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	if env.Message == nil {
		return errors.New("wire: response missing message field")
	}
	switch env.Status {
	case StatusRoomCreated, StatusRoomJoined, StatusRoomLeft:
		var id uint64
		if err := json.Unmarshal(env.Message, &id); err != nil {
			return fmt.Errorf("wire: response id: %w", err)
		}
		*r = Response{Status: env.Status, ID: id}
	case StatusStateSent, StatusAction:
		// A string message means the payload was not valid JSON and was
		// encoded verbatim; unwrap it. Otherwise keep the nested JSON text.
		var payload string
		if err := json.Unmarshal(env.Message, &payload); err != nil {
			payload = string(env.Message)
		}
		*r = Response{Status: env.Status, Payload: payload}
	case StatusNotFound, StatusClientError, StatusServerError:
		var text string
		if err := json.Unmarshal(env.Message, &text); err != nil {
			return fmt.Errorf("wire: response text: %w", err)
		}
		*r = Response{Status: env.Status, Text: text}
	default:
		return fmt.Errorf("wire: unknown response status %q", env.Status)
	}
	return nil
}

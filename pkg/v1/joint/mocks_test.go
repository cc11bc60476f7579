package joint

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/syncroom/syncroom/pkg/v1/types"
)

// counterReducer is a one-integer reducer used to exercise the Joint.
type counterReducer struct {
	counter int
}

type counterAction struct {
	Type string `json:"type"`
	Data int    `json:"data"`
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
	if !ok || a.Type != "Add" {
		return nil, errors.New("unsupported action")
	}
	r.counter += a.Data
	return &types.ActionResult{
		Status: "Add",
		State:  counterState{Counter: r.counter},
		Author: author,
		Data:   strconv.Itoa(a.Data),
	}, nil
}

func (r *counterReducer) Snapshot() any {
	return counterState{Counter: r.counter}
}

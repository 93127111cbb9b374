package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	IntentCheckBox  = "CHECK_BOX"
	IntentStartGame = "START_GAME"
	IntentLeaveRoom = "LEAVE_ROOM"
)

var ErrMalformed = errors.New("malformed message")

// Intent is a request published by a client on a control channel.
type Intent interface {
	Name() string
	intentPayload() any
}

type CheckBox struct {
	Box int
}

type StartGame struct{}

type LeaveRoom struct {
	ClientID string
}

type UnknownIntent struct {
	IntentName string
	Data       json.RawMessage
}

func (CheckBox) Name() string        { return IntentCheckBox }
func (StartGame) Name() string       { return IntentStartGame }
func (LeaveRoom) Name() string       { return IntentLeaveRoom }
func (i UnknownIntent) Name() string { return i.IntentName }

func (i CheckBox) intentPayload() any      { return i.Box }
func (StartGame) intentPayload() any       { return nil }
func (i LeaveRoom) intentPayload() any     { return i.ClientID }
func (i UnknownIntent) intentPayload() any { return i.Data }

func EncodeIntent(i Intent) (Envelope, error) {
	payload := i.intentPayload()
	if payload == nil {
		return Envelope{Name: i.Name()}, nil
	}

	if raw, ok := payload.(json.RawMessage); ok {
		return Envelope{Name: i.Name(), Data: raw}, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s: %w", i.Name(), err)
	}

	return Envelope{Name: i.Name(), Data: data}, nil
}

func DecodeIntent(env Envelope) (Intent, error) {
	switch env.Name {
	case IntentCheckBox:
		var i CheckBox
		if err := unmarshal(env, &i.Box); err != nil {
			return nil, err
		}
		return i, nil
	case IntentStartGame:
		return StartGame{}, nil
	case IntentLeaveRoom:
		var i LeaveRoom
		if err := unmarshal(env, &i.ClientID); err != nil {
			return nil, err
		}
		return i, nil
	default:
		return UnknownIntent{IntentName: env.Name, Data: env.Data}, nil
	}
}

package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Message is a decoded inbound frame. Body holds exactly one of the typed
// payload structs declared in this package, selected by Event.
type Message struct {
	Event string
	Seq   uint64
	Body  any
}

// requiredFields lists the payload fields that must be present, per event.
var requiredFields = map[string][]string{
	EventIdentify:    {"userId"},
	EventJoinRoom:    {"roomId", "userId"},
	EventLeaveRoom:   {"roomId", "userId"},
	EventCreateTask:  {"title"},
	EventUpdateTask:  {"taskId"},
	EventDeleteTask:  {"taskId"},
	EventUserEditing: {"roomId", "userId", "taskId"},
	EventConflict:    {"roomId", "taskId", "userId"},
}

// Decode parses and validates a raw inbound frame. Unknown events and frames
// missing required payload fields are rejected here so handlers only ever see
// well-formed messages.
func Decode(raw []byte) (*Message, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("frame is not valid JSON")
	}

	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if frame.Event == "" {
		return nil, fmt.Errorf("frame missing 'event' field")
	}

	required, known := requiredFields[frame.Event]
	if !known {
		return nil, fmt.Errorf("unknown event '%s'", frame.Event)
	}
	payload := string(frame.Payload)
	for _, field := range required {
		if !gjson.Get(payload, field).Exists() {
			return nil, fmt.Errorf("event '%s' missing required field '%s'", frame.Event, field)
		}
	}

	msg := &Message{Event: frame.Event, Seq: frame.Seq}
	var err error
	switch frame.Event {
	case EventIdentify:
		msg.Body, err = unmarshalBody[Identify](frame.Payload)
	case EventJoinRoom:
		msg.Body, err = unmarshalBody[JoinRoom](frame.Payload)
	case EventLeaveRoom:
		msg.Body, err = unmarshalBody[LeaveRoom](frame.Payload)
	case EventCreateTask:
		msg.Body, err = unmarshalBody[CreateTask](frame.Payload)
	case EventUpdateTask:
		msg.Body, err = unmarshalBody[UpdateTask](frame.Payload)
	case EventDeleteTask:
		msg.Body, err = unmarshalBody[DeleteTask](frame.Payload)
	case EventUserEditing:
		msg.Body, err = unmarshalBody[UserEditing](frame.Payload)
	case EventConflict:
		msg.Body, err = unmarshalBody[Conflict](frame.Payload)
	}
	if err != nil {
		return nil, fmt.Errorf("event '%s': %w", frame.Event, err)
	}
	return msg, nil
}

func unmarshalBody[T any](raw json.RawMessage) (T, error) {
	var body T
	if err := json.Unmarshal(raw, &body); err != nil {
		return body, err
	}
	return body, nil
}

// Encode builds an outbound frame for the given event and payload.
func Encode(event string, seq uint64, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload for '%s': %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Seq: seq, Payload: body})
}

package websocket

import (
	"fmt"

	"github.com/google/uuid"
)

type socketMessageType int

const (
	Update socketMessageType = iota
	Command
	Response
	ErrorResponse
	Welcome
)

// SocketMessage is the unit of communication over the hub. The Id field
// can be used when replying to a message so the receiving client is aware
// of which message the reply is for. Origin/Target identify the client a
// message came from, or is destined to - a nil Target broadcasts.
type SocketMessage struct {
	Title  string                 `json:"title"`
	Body   map[string]interface{} `json:"arguments"`
	Id     int                    `json:"id"`
	Type   socketMessageType      `json:"type"`
	Origin *uuid.UUID             `json:"-"`
	Target *uuid.UUID             `json:"-"`
}

// ValidateArguments checks the message body contains each required key
// with a value of the expected primitive type.
func (message *SocketMessage) ValidateArguments(required map[string]string) error {
	const errFmt = "failed to validate key '%v' with type '%v' - %#v"

	for key, expectedType := range required {
		v, ok := message.Body[key]
		if !ok {
			return fmt.Errorf("failed to validate key '%v' - key is missing", key)
		}

		switch expectedType {
		case "number", "int":
			if _, ok := v.(float64); !ok {
				return fmt.Errorf(errFmt, key, expectedType, v)
			}
		case "string":
			if str, ok := v.(string); !ok || str == "" {
				return fmt.Errorf(errFmt, key, expectedType, v)
			}
		default:
			return fmt.Errorf(errFmt, key, expectedType, "unknown type")
		}
	}

	return nil
}

// FormReply returns a NEW message targetted back at the origin of this
// message, carrying the same id so the client can pair the reply with its
// source request.
func (message *SocketMessage) FormReply(replyTitle string, replyBody map[string]interface{}, replyType socketMessageType) *SocketMessage {
	if replyBody != nil {
		replyBody["command"] = message.Body
	}

	return &SocketMessage{
		Title:  replyTitle,
		Body:   replyBody,
		Type:   replyType,
		Id:     message.Id,
		Target: message.Origin,
	}
}

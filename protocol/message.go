// Package protocol defines the wire format exchanged with the editor peer:
// JSON objects with a "type" discriminator and a "data" payload, framed by
// the websocket transport.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/c360/editorbridge/errors"
)

// Canonical message types. Peer -> engine types are classified by the
// session; anything else carrying data.requestId is treated as a response
// to a correlated request.
const (
	// Engine -> peer
	TypeHello          = "hello"
	TypePing           = "ping"
	TypeExecuteCommand = "executeCommand"

	// Peer -> engine
	TypePong          = "pong"
	TypeLog           = "log"
	TypeEditorState   = "editorState"
	TypeCommandResult = "commandResult"
)

// Message is the tagged-union wire envelope.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Parse decodes raw bytes into a Message, requiring a non-empty type tag.
func Parse(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, errors.WrapProtocol(err, "protocol", "Parse", "unmarshal message")
	}
	if msg.Type == "" {
		return Message{}, errors.WrapProtocol(
			errors.ErrMalformedMessage, "protocol", "Parse", "missing type tag")
	}
	return msg, nil
}

// New builds a Message of the given type with data marshaled from v.
// A nil v produces an envelope with no data field.
func New(msgType string, v any) (Message, error) {
	msg := Message{Type: msgType}
	if v == nil {
		return msg, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, errors.WrapProtocol(err, "protocol", "New", "marshal data")
	}
	msg.Data = data
	return msg, nil
}

// NewRequest builds a correlated request envelope: the operation name is the
// type tag and the request id is injected into the data payload alongside
// the caller's arguments.
func NewRequest(operation, requestID string, args map[string]any) (Message, error) {
	data := make(map[string]any, len(args)+1)
	for k, v := range args {
		data[k] = v
	}
	data["requestId"] = requestID
	return New(operation, data)
}

// Response is the decoded payload of a correlated response. Result carries
// the designated result field; Error, when non-empty, is a peer-reported
// failure for the request.
type Response struct {
	RequestID string          `json:"requestId"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// DecodeResponse extracts the response payload from a message's data field.
// The boolean is false when the data carries no request id, meaning the
// message is not a correlated response.
func DecodeResponse(msg Message) (Response, bool) {
	if len(msg.Data) == 0 {
		return Response{}, false
	}
	var resp Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return Response{}, false
	}
	if resp.RequestID == "" {
		return Response{}, false
	}
	return resp, true
}

// Hello is the handshake announcement sent once per new connection. It
// carries the probe interval so the peer can align its liveness
// expectations with the engine's.
type Hello struct {
	Engine           string `json:"engine"`
	Version          string `json:"version"`
	ProbeIntervalSec int    `json:"probeIntervalSec"`
}

// LogPayload is the data carried by a peer log message.
type LogPayload struct {
	Message   string `json:"message"`
	Stack     string `json:"stack,omitempty"`
	Level     string `json:"level"`
	Timestamp string `json:"timestamp,omitempty"` // RFC3339; arrival time used when absent
}

// ExecutePayload is the data carried by a legacy fire-and-forget execution
// request. The result arrives as a commandResult message with no request id.
type ExecutePayload struct {
	Code string `json:"code"`
}

// CommandResultPayload is the data carried by the legacy execution result.
type CommandResultPayload struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Encode serializes a message to its wire form.
func (m Message) Encode() ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, errors.WrapProtocol(err, "protocol", "Encode", "marshal message")
	}
	return raw, nil
}

// String implements fmt.Stringer for log output without dumping payloads.
func (m Message) String() string {
	return fmt.Sprintf("%s (%d bytes)", m.Type, len(m.Data))
}

// Package protocol defines the JSON frames exchanged over the cord
// websocket channel and the REST mirror.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/cord/pkg/types"
)

// MessageType distinguishes the three frame kinds
type MessageType string

const (
	TypeRequest  MessageType = "request"
	TypeResponse MessageType = "response"
	TypeChange   MessageType = "change"
)

// Operation is an RPC verb
type Operation string

const (
	OpRead     Operation = "read"
	OpWrite    Operation = "write"
	OpMerge    Operation = "merge"
	OpDelete   Operation = "delete"
	OpBatch    Operation = "batch"
	OpIdentity Operation = "identity"
)

var aliases = map[string]Operation{
	"read":           OpRead,
	"get":            OpRead,
	"write":          OpWrite,
	"set":            OpWrite,
	"merge":          OpMerge,
	"update":         OpMerge,
	"delete":         OpDelete,
	"remove":         OpDelete,
	"batch":          OpBatch,
	"updateroot":     OpBatch,
	"update-root":    OpBatch,
	"identity":       OpIdentity,
	"auth.anonymous": OpIdentity,
}

// ParseOperation resolves an operation name or one of its aliases
func ParseOperation(s string) (Operation, error) {
	if op, ok := aliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return op, nil
	}
	return "", fmt.Errorf("%w: %q", types.ErrUnsupportedOperation, s)
}

// Mutating reports whether op changes the tree
func (op Operation) Mutating() bool {
	switch op {
	case OpWrite, OpMerge, OpDelete, OpBatch:
		return true
	}
	return false
}

// Status of a response
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Error codes carried by failed responses
const (
	CodeInvalidPayload       = "invalid_payload"
	CodeUnsupportedOperation = "unsupported_operation"
	CodeInternal             = "internal"
)

// Message is a single frame. Requests carry Op, Path and Payload.
// Responses echo the RequestID with a Status and either Result or
// Error. Change frames carry Path and At.
type Message struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"id,omitempty"`
	Op        Operation       `json:"op,omitempty"`
	Path      string          `json:"path,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Status    Status          `json:"status,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Code      string          `json:"code,omitempty"`
	At        int64           `json:"at,omitempty"`
}

// ReadPayload is the payload of a read request
type ReadPayload struct {
	Query types.Query `json:"query,omitempty"`
}

// WritePayload is the payload of write and merge requests
type WritePayload struct {
	Value types.Node `json:"value"`
}

// BatchPayload maps paths to values; a null value removes the path
type BatchPayload struct {
	Updates map[string]types.Node `json:"updates"`
}

// IdentityPayload optionally names an identity the caller already holds
type IdentityPayload struct {
	ExistingID string `json:"existing_id,omitempty"`
}

// ReadResult is the result of a read
type ReadResult struct {
	Value  types.Node `json:"value"`
	Exists bool       `json:"exists"`
}

// IdentityResult is the result of an identity request
type IdentityResult struct {
	ID string `json:"id"`
}

// NewRequest builds a request frame
func NewRequest(id string, op Operation, path string, payload interface{}) (*Message, error) {
	msg := &Message{
		Type:      TypeRequest,
		RequestID: id,
		Op:        op,
		Path:      types.NormalizePath(path),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		msg.Payload = raw
	}
	return msg, nil
}

// NewResponse builds a successful response frame
func NewResponse(id string, result interface{}) (*Message, error) {
	msg := &Message{Type: TypeResponse, RequestID: id, Status: StatusOK}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to encode result: %w", err)
		}
		msg.Result = raw
	}
	return msg, nil
}

// NewErrorResponse builds a failed response frame for err
func NewErrorResponse(id string, err error) *Message {
	return &Message{
		Type:      TypeResponse,
		RequestID: id,
		Status:    StatusError,
		Error:     err.Error(),
		Code:      CodeFor(err),
	}
}

// NewChange builds a change announcement frame
func NewChange(path string, at time.Time) *Message {
	return &Message{
		Type: TypeChange,
		Path: types.NormalizePath(path),
		At:   at.UnixMilli(),
	}
}

// DecodePayload unmarshals the request payload into v. An absent payload
// leaves v untouched.
func (m *Message) DecodePayload(v interface{}) error {
	return decode(m.Payload, v)
}

// DecodeResult unmarshals the response result into v
func (m *Message) DecodeResult(v interface{}) error {
	return decode(m.Result, v)
}

func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		if errors.Is(err, types.ErrInvalidPayload) {
			return err
		}
		return fmt.Errorf("%w: %v", types.ErrInvalidPayload, err)
	}
	return nil
}

// CodeFor maps an error to its wire code
func CodeFor(err error) string {
	switch {
	case errors.Is(err, types.ErrInvalidPayload):
		return CodeInvalidPayload
	case errors.Is(err, types.ErrUnsupportedOperation):
		return CodeUnsupportedOperation
	default:
		return CodeInternal
	}
}

// SentinelFor maps a wire code back to the matching error value, or nil
// when the code has no local counterpart.
func SentinelFor(code string) error {
	switch code {
	case CodeInvalidPayload:
		return types.ErrInvalidPayload
	case CodeUnsupportedOperation:
		return types.ErrUnsupportedOperation
	default:
		return nil
	}
}

// Encode marshals a frame
func Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a frame and checks its type
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: malformed frame: %v", types.ErrInvalidPayload, err)
	}
	switch m.Type {
	case TypeRequest, TypeResponse, TypeChange:
	default:
		return nil, fmt.Errorf("%w: unknown frame type %q", types.ErrInvalidPayload, m.Type)
	}
	return &m, nil
}

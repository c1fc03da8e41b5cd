package manager

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/cord/pkg/protocol"
	"github.com/cuemby/cord/pkg/types"
)

// empty is the result of operations that return nothing
type empty struct{}

// Execute decodes payload for op, applies it and returns the value to send
// back as the response result
func (m *Manager) Execute(op protocol.Operation, path string, payload json.RawMessage) (interface{}, error) {
	path = types.NormalizePath(path)
	m.RecordRequest(string(op), path, payload)

	switch op {
	case protocol.OpRead:
		var p protocol.ReadPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		value, found := m.Read(path, p.Query)
		m.logger.Debug().Str("path", path).Bool("found", found).Msg("read")
		return protocol.ReadResult{Value: value, Exists: found && !value.IsNull()}, nil

	case protocol.OpWrite:
		var p protocol.WritePayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		if err := m.Write(path, p.Value); err != nil {
			return nil, err
		}
		return empty{}, nil

	case protocol.OpMerge:
		var p protocol.WritePayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		if err := m.Merge(path, p.Value); err != nil {
			return nil, err
		}
		return empty{}, nil

	case protocol.OpDelete:
		if err := m.Delete(path); err != nil {
			return nil, err
		}
		return empty{}, nil

	case protocol.OpBatch:
		var p protocol.BatchPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		if p.Updates == nil {
			return nil, fmt.Errorf("%w: batch requires an updates object", types.ErrInvalidPayload)
		}
		if err := m.Batch(p.Updates); err != nil {
			return nil, err
		}
		return empty{}, nil

	case protocol.OpIdentity:
		var p protocol.IdentityPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		return protocol.IdentityResult{ID: m.Identity(p.ExistingID)}, nil

	default:
		return nil, fmt.Errorf("%w: %q", types.ErrUnsupportedOperation, op)
	}
}

func decodePayload(payload json.RawMessage, v interface{}) error {
	msg := protocol.Message{Payload: payload}
	return msg.DecodePayload(v)
}

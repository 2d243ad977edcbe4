// ABOUTME: Strict decoding of inbound channel frames
// ABOUTME: Unknown types, unknown fields and missing required fields are rejected

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalidFrame is wrapped by every decoding failure.
var ErrInvalidFrame = errors.New("invalid frame")

// DecodeUser parses a frame received on a user channel.
func DecodeUser(data []byte) (UserFrame, error) {
	typ, err := peekType(data)
	if err != nil {
		return nil, err
	}

	switch typ {
	case TypeMessage:
		var f Message
		if err := decodeStrict(data, &f, "message"); err != nil {
			return nil, err
		}
		f.Message = strings.TrimSpace(f.Message)
		if f.Message == "" {
			return nil, fmt.Errorf("%w: message is required", ErrInvalidFrame)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%w: unknown frame type %q", ErrInvalidFrame, typ)
	}
}

// DecodeOperator parses a frame received on an operator channel.
func DecodeOperator(data []byte) (OperatorFrame, error) {
	typ, err := peekType(data)
	if err != nil {
		return nil, err
	}

	switch typ {
	case TypeTakeover:
		var f Takeover
		if err := decodeStrict(data, &f, "sess_id"); err != nil {
			return nil, err
		}
		if err := requireSessID(f.SessID); err != nil {
			return nil, err
		}
		return f, nil
	case TypeReply:
		var f Reply
		if err := decodeStrict(data, &f, "sess_id", "message"); err != nil {
			return nil, err
		}
		if err := requireSessID(f.SessID); err != nil {
			return nil, err
		}
		f.Message = strings.TrimSpace(f.Message)
		if f.Message == "" {
			return nil, fmt.Errorf("%w: message is required", ErrInvalidFrame)
		}
		return f, nil
	case TypeResolve:
		var f Resolve
		if err := decodeStrict(data, &f, "sess_id"); err != nil {
			return nil, err
		}
		if err := requireSessID(f.SessID); err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%w: unknown frame type %q", ErrInvalidFrame, typ)
	}
}

func peekType(data []byte) (FrameType, error) {
	var head struct {
		Type FrameType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if head.Type == "" {
		return "", fmt.Errorf("%w: missing type", ErrInvalidFrame)
	}
	return head.Type, nil
}

// decodeStrict decodes into v, accepting only "type" plus the named fields.
func decodeStrict(data []byte, v any, fields ...string) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	for key := range raw {
		if key != "type" && !slices.Contains(fields, key) {
			return fmt.Errorf("%w: unknown field %q", ErrInvalidFrame, key)
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return nil
}

func requireSessID(id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: sess_id is required", ErrInvalidFrame)
	}
	return nil
}

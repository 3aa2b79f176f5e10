package eav

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedAttributes is returned when an attribute payload is neither a
// map nor JSON text encoding an object.
var ErrMalformedAttributes = errors.New("malformed attribute payload")

// Decode normalizes an incoming attribute payload into a name->value map.
// A nil payload, blank text, or JSON null decode to an empty map.
func Decode(payload any) (map[string]any, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out, nil
	case string:
		return decodeText([]byte(v))
	case []byte:
		return decodeText(v)
	case json.RawMessage:
		return decodeText(v)
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrMalformedAttributes, payload)
	}
}

func decodeText(data []byte) (map[string]any, error) {
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAttributes, err)
	}
	return out, nil
}

// encodeValue turns an attribute value into the text stored in the pivot
// value column. Strings are stored verbatim, everything else as JSON.
func encodeValue(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("encode attribute value: %w", err)
		}
		return string(data), nil
	}
}

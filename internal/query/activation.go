package query

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedActivation is returned for filter, select or sorting
// parameters that are not JSON objects.
var ErrMalformedActivation = errors.New("malformed activation")

// ParseActivations decodes a JSON object of name -> value activations.
// Blank input yields an empty map.
func ParseActivations(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedActivation, err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// ParseSorting decodes a JSON object of sorter -> direction pairs keeping
// the order in which the keys appear; that order is the ordering priority.
func ParseSorting(raw string) ([]SortTerm, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedActivation, err)
	}
	if tok == nil {
		return nil, nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: sorting must be an object", ErrMalformedActivation)
	}

	var terms []SortTerm
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedActivation, err)
		}
		name, _ := keyTok.(string)
		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedActivation, err)
		}
		terms = append(terms, SortTerm{Name: name, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedActivation, err)
	}
	return terms, nil
}

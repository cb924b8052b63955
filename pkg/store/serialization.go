package store

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Serialization helpers
//
// Values are stored as JSON. Reading a value back therefore yields the JSON
// rendering of what was written: numbers come back as float64, objects as
// map[string]any and arrays as []any.

// EncodeValue converts a value to its stored form.
func EncodeValue(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return raw, nil
}

// DecodeValue converts a stored value back to a Go value.
func DecodeValue(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return v, nil
}

func encodeIDs(ids []string) ([]byte, error) {
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to encode id sequence: %w", err)
	}
	return raw, nil
}

func decodeIDs(raw []byte) ([]string, error) {
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("failed to decode id sequence: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func encodeEvent(ev *ChangeEvent) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal change event: %w", err)
	}
	return raw, nil
}

func decodeEvent(payload []byte) (*ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal change event: %w", err)
	}
	return &ev, nil
}

// shallowEqual reports whether a and b are the same comparable value.
// Values of non-comparable types (maps, slices) are never equal, so writing
// a structured value always counts as a change.
func shallowEqual(a, b any) (equal bool) {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	// Comparable struct types can still hold non-comparable values in
	// interface fields, which panics on ==.
	defer func() {
		if recover() != nil {
			equal = false
		}
	}()
	return a == b
}

func cloneIDs(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

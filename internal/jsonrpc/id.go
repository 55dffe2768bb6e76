package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ID is a JSON-RPC request id: a string or a number on the wire.
type ID struct {
	value any
}

// NewID builds an ID from a string or integer value.
func NewID(value any) *ID {
	switch v := value.(type) {
	case string:
		return &ID{value: v}
	case int:
		return &ID{value: int64(v)}
	case int32:
		return &ID{value: int64(v)}
	case int64:
		return &ID{value: v}
	case float64:
		return &ID{value: v}
	default:
		return nil
	}
}

// Key returns a map key for the id. String and numeric ids never collide:
// the string "1" and the number 1 are distinct correlation ids.
func (id *ID) Key() string {
	if id == nil || id.value == nil {
		return ""
	}
	switch v := id.value.(type) {
	case string:
		return "s:" + v
	default:
		return fmt.Sprintf("n:%v", v)
	}
}

func (id *ID) String() string {
	if id == nil || id.value == nil {
		return ""
	}
	return fmt.Sprintf("%v", id.value)
}

// MarshalJSON implements json.Marshaler.
func (id *ID) MarshalJSON() ([]byte, error) {
	if id == nil || id.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler. Numbers with no fractional
// part decode as int64 so they round-trip without a trailing ".0". A
// literal null leaves the id empty: it is not the number 0.
func (id *ID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		id.value = nil
		return nil
	}
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		if num == float64(int64(num)) {
			id.value = int64(num)
		} else {
			id.value = num
		}
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		id.value = str
		return nil
	}
	return fmt.Errorf("jsonrpc: id must be a string or number, got %s", string(data))
}

package storage

import (
	"encoding/json"
	"fmt"
	"math"
)

// KeyField is the primary-key field every stored record carries.
const KeyField = "id"

// Record represents one schema-less record in a store
type Record map[string]interface{}

// Serialize converts a record to JSON bytes
func (r Record) Serialize() ([]byte, error) {
	buf := getBuffer()
	defer putBuffer(buf)

	if err := json.NewEncoder(buf).Encode(r); err != nil {
		return nil, fmt.Errorf("failed to serialize record: %w", err)
	}

	// Trim the trailing newline added by Encode
	b := buf.Bytes()
	if len(b) > 0 && b[len(b)-1] == '\n' {
		b = b[:len(b)-1]
	}

	// The buffer goes back to the pool
	result := make([]byte, len(b))
	copy(result, b)
	return result, nil
}

// DeserializeRecord creates a record from JSON bytes and stamps it with id.
func DeserializeRecord(data []byte, id int64) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to deserialize record: %w", err)
	}
	if r == nil {
		r = Record{}
	}
	r[KeyField] = id
	return r, nil
}

// ID returns the primary key if the record carries an integral one.
func (r Record) ID() (int64, bool) {
	return ToKey(r[KeyField])
}

// ToKey converts a primary-key value of any numeric kind to int64.
func ToKey(v interface{}) (int64, bool) {
	switch id := v.(type) {
	case int64:
		return id, true
	case int:
		return int64(id), true
	case int32:
		return int64(id), true
	case uint32:
		return int64(id), true
	case uint64:
		if id > math.MaxInt64 {
			return 0, false
		}
		return int64(id), true
	case float64:
		if id != math.Trunc(id) || id > math.MaxInt64 || id < math.MinInt64 {
			return 0, false
		}
		return int64(id), true
	case json.Number:
		i, err := id.Int64()
		return i, err == nil
	}
	return 0, false
}

// Clone creates a deep copy of the record
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	clone := make(Record, len(r))
	for k, v := range r {
		clone[k] = deepCopyValue(v)
	}
	return clone
}

// deepCopyValue creates a deep copy of a value
func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case Record:
		return val.Clone()
	case map[string]interface{}:
		return map[string]interface{}(Record(val).Clone())
	case []interface{}:
		cp := make([]interface{}, len(val))
		for i, item := range val {
			cp[i] = deepCopyValue(item)
		}
		return cp
	case []Record:
		cp := make([]Record, len(val))
		for i, item := range val {
			cp[i] = item.Clone()
		}
		return cp
	default:
		// Primitives (string, number, bool) are copied by value
		return val
	}
}

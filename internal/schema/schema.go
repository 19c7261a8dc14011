// Package schema implements the flat, typed key-value bag replicated between
// the client and the party backend.
//
// The wire format is string-to-string. Each key declares the wire type of its
// value with a single-character tag at the end of the key: 'b' for boolean,
// 'j' for a JSON document serialized as a string, 'U' for an unsigned integer
// in decimal text, and anything else for a raw string. The tag convention is
// wire-visible and must be preserved bit-exact.
//
// A key never changes its tag during its lifetime. This is a caller-enforced
// invariant; the codec does not police it at runtime.
package schema

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
)

// Kind is the decoded wire type of a schema key.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindJSON
	KindUint
)

// KindOf reports the wire type declared by the key's trailing tag character.
func KindOf(key string) Kind {
	if key == "" {
		return KindString
	}
	switch key[len(key)-1] {
	case 'b':
		return KindBool
	case 'j':
		return KindJSON
	case 'U':
		return KindUint
	default:
		return KindString
	}
}

// Schema is the replicated property bag. Insertion order is irrelevant; the
// map form is the canonical representation.
type Schema map[string]string

// New returns an empty schema.
func New() Schema {
	return Schema{}
}

// FromWire wraps an already-encoded wire map. The map is copied so later
// mutations do not alias server-owned data.
func FromWire(m map[string]string) Schema {
	s := make(Schema, len(m))
	maps.Copy(s, m)
	return s
}

// Set encodes value according to the key's tag and stores the text form.
// JSON keys accept any marshalable value, boolean keys require a bool,
// unsigned-integer keys accept any non-negative integer type, and string
// keys coerce via fmt.Sprint.
func (s Schema) Set(key string, value any) error {
	switch KindOf(key) {
	case KindJSON:
		b, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("schema: encode %s: %w", key, err)
		}
		s[key] = string(b)
	case KindBool:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("schema: key %s requires bool, got %T", key, value)
		}
		s[key] = strconv.FormatBool(v)
	case KindUint:
		u, err := toUint(value)
		if err != nil {
			return fmt.Errorf("schema: key %s: %w", key, err)
		}
		s[key] = strconv.FormatUint(u, 10)
	default:
		s[key] = fmt.Sprint(value)
	}
	return nil
}

func toUint(value any) (uint64, error) {
	switch v := value.(type) {
	case uint64:
		return v, nil
	case uint:
		return uint64(v), nil
	case uint32:
		return uint64(v), nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf("negative value %d", v)
		}
		return uint64(v), nil
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("negative value %d", v)
		}
		return uint64(v), nil
	default:
		return 0, fmt.Errorf("requires unsigned integer, got %T", value)
	}
}

// GetJSON decodes the JSON document stored under key into v. An unset or
// empty value decodes as the empty object, leaving v's zero fields intact.
// The decode always follows the tag of the key being read, independent of
// how the value was written.
func (s Schema) GetJSON(key string, v any) error {
	raw, ok := s[key]
	if !ok || raw == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("schema: decode %s: %w", key, err)
	}
	return nil
}

// GetBool returns the boolean stored under key; unset keys read as false.
func (s Schema) GetBool(key string) bool {
	return s[key] == "true"
}

// GetUint returns the unsigned integer stored under key. The second return
// reports whether the key was set and parsed; unset keys have no value.
func (s Schema) GetUint(key string) (uint64, bool) {
	raw, ok := s[key]
	if !ok {
		return 0, false
	}
	u, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return u, true
}

// GetString returns the raw string stored under key; unset keys read as "".
func (s Schema) GetString(key string) string {
	return s[key]
}

// Merge bulk-applies already-encoded wire values without re-encoding. Used
// when folding server-delivered deltas into the local bag.
func (s Schema) Merge(delta map[string]string) {
	maps.Copy(s, delta)
}

// Remove deletes the given keys.
func (s Schema) Remove(keys []string) {
	for _, k := range keys {
		delete(s, k)
	}
}

// Clone returns an independent copy.
func (s Schema) Clone() Schema {
	return FromWire(s)
}

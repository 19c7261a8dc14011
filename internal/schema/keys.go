package schema

// Typed key handles. Application code builds a table of these once per key
// namespace and never inspects suffix tags by hand. The tag embedded in the
// key literal must match the handle type; that is checked by the namespace's
// own tests, not at runtime.

// StringKey reads and writes a raw-string key.
type StringKey string

func (k StringKey) Get(s Schema) string    { return s.GetString(string(k)) }
func (k StringKey) Set(s Schema, v string) { s[string(k)] = v }
func (k StringKey) In(s Schema) bool       { _, ok := s[string(k)]; return ok }
func (k StringKey) String() string         { return string(k) }

// BoolKey reads and writes a 'b'-tagged key.
type BoolKey string

func (k BoolKey) Get(s Schema) bool    { return s.GetBool(string(k)) }
func (k BoolKey) Set(s Schema, v bool) { _ = s.Set(string(k), v) }
func (k BoolKey) String() string       { return string(k) }

// UintKey reads and writes a 'U'-tagged key.
type UintKey string

func (k UintKey) Get(s Schema) (uint64, bool) { return s.GetUint(string(k)) }
func (k UintKey) Set(s Schema, v uint64)      { _ = s.Set(string(k), v) }
func (k UintKey) String() string              { return string(k) }

// JSONKey reads and writes a 'j'-tagged key holding a document of type T.
type JSONKey[T any] string

// Get decodes the stored document. An unset key yields T's zero value.
func (k JSONKey[T]) Get(s Schema) (T, error) {
	var v T
	err := s.GetJSON(string(k), &v)
	return v, err
}

// Set encodes v and stores it under the key.
func (k JSONKey[T]) Set(s Schema, v T) error {
	return s.Set(string(k), v)
}

func (k JSONKey[T]) String() string { return string(k) }

package bencode

import "sort"

// Kind identifies which of the four bencode value variants (plus the
// pre-encoded escape hatch) a Value holds.
type Kind uint8

const (
	KindInt Kind = iota
	KindBytes
	KindList
	KindDict
	// KindRaw holds a pre-encoded blob that Encode inserts verbatim,
	// letting callers avoid re-encoding an expensive sub-structure
	// (spec.md §4.1, "Type dispatch on encode").
	KindRaw
)

// Value is the tagged variant used to represent a decoded (or
// to-be-encoded) bencode value. String VALUES are always raw bytes —
// bencode draws no distinction between text and binary payloads, and
// this package never guesses — while dict keys are plain Go strings,
// since Go strings are themselves arbitrary byte sequences and strict
// byte-wise ordering falls out of normal string comparison.
type Value struct {
	kind Kind
	i    int64
	b    []byte
	list []Value
	dict map[string]Value
	raw  []byte
}

// Int wraps a signed integer as a bencode integer value.
func Int(n int64) Value { return Value{kind: KindInt, i: n} }

// Bool encodes as i1e/i0e, per spec.md's "Type dispatch on encode".
func Bool(b bool) Value {
	if b {
		return Int(1)
	}
	return Int(0)
}

// Bytes wraps a byte slice as a bencode string value. The slice is not
// copied; callers should not mutate it after passing it in.
func Bytes(b []byte) Value { return Value{kind: KindBytes, b: b} }

// Str is a convenience wrapper for Bytes([]byte(s)).
func Str(s string) Value { return Bytes([]byte(s)) }

// List wraps a sequence of values as a bencode list.
func List(items ...Value) Value { return Value{kind: KindList, list: items} }

// Dict wraps a string-keyed map as a bencode dictionary. Key iteration
// order on encode is always ascending lexicographic on raw key bytes,
// regardless of the map's natural (random) iteration order.
func Dict(m map[string]Value) Value { return Value{kind: KindDict, dict: m} }

// Raw marks data as already bencode-encoded; Encode inserts it verbatim
// rather than re-encoding it.
func Raw(data []byte) Value { return Value{kind: KindRaw, raw: data} }

// Kind reports which variant this Value holds.
func (v Value) Kind() Kind { return v.kind }

// Int returns the wrapped integer and true, or (0, false) if v is not
// a KindInt value.
func (v Value) Int() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

// Bytes returns the wrapped byte string and true, or (nil, false) if v
// is not a KindBytes value.
func (v Value) Bytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return v.b, true
}

// List returns the wrapped sequence and true, or (nil, false) if v is
// not a KindList value.
func (v Value) List() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

// Dict returns the wrapped mapping and true, or (nil, false) if v is
// not a KindDict value.
func (v Value) Dict() (map[string]Value, bool) {
	if v.kind != KindDict {
		return nil, false
	}
	return v.dict, true
}

// DictGet is a convenience lookup into a KindDict value; ok is false if
// v isn't a dict or the key is absent.
func (v Value) DictGet(key string) (Value, bool) {
	d, isDict := v.Dict()
	if !isDict {
		return Value{}, false
	}
	val, ok := d[key]
	return val, ok
}

// sortedKeys returns a dict's keys in ascending lexicographic order on
// raw bytes, satisfying spec.md §4.1/§8's map-key-ordering contract.
func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

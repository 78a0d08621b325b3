package bencode

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/sirupsen/logrus"
)

// Encode serializes a Value to its canonical bencode wire form. The
// dispatch mirrors original_source/bencode.py's encode_func table:
// integers, byte strings, lists, dicts, and a pre-encoded escape hatch,
// plus the boolean-as-integer projection from spec.md §4.1.
func Encode(v Value) []byte {
	buf := make([]byte, 0, 64)
	return appendValue(buf, v)
}

func appendValue(buf []byte, v Value) []byte {
	switch v.kind {
	case KindInt:
		buf = append(buf, 'i')
		buf = strconv.AppendInt(buf, v.i, 10)
		buf = append(buf, 'e')
	case KindBytes:
		buf = appendByteString(buf, v.b)
	case KindList:
		buf = append(buf, 'l')
		for _, item := range v.list {
			buf = appendValue(buf, item)
		}
		buf = append(buf, 'e')
	case KindDict:
		buf = append(buf, 'd')
		for _, key := range sortedKeys(v.dict) {
			buf = appendByteString(buf, []byte(key))
			buf = appendValue(buf, v.dict[key])
		}
		buf = append(buf, 'e')
	case KindRaw:
		buf = append(buf, v.raw...)
	default:
		logrus.WithField("kind", v.kind).Error("bencode: Encode called on Value of unknown kind")
	}
	return buf
}

func appendByteString(buf, s []byte) []byte {
	buf = strconv.AppendInt(buf, int64(len(s)), 10)
	buf = append(buf, ':')
	return append(buf, s...)
}

// Marshal converts a Go value into canonical bencode using the same
// `bencode:"name,omitempty"` struct tags krpc.Msg is declared with.
// Supported source types: bool, all integer kinds, string, []byte,
// map[string]T, slices/arrays, structs, pointers (nil pointers are
// omitted if tagged omitempty, encoded as their pointee otherwise),
// interface values (encoded as their dynamic value), and Value/Raw for
// pre-encoded escape hatches.
func Marshal(x any) ([]byte, error) {
	v, err := toValue(reflect.ValueOf(x), false)
	if err != nil {
		return nil, err
	}
	return Encode(v), nil
}

// Marshaler lets a type own its bencode encoding, for shapes Marshal's
// struct-tag reflection can't express directly — e.g. krpc's Error,
// which is a two-element list on the wire, not a dict.
type Marshaler interface {
	MarshalBencode() (Value, error)
}

func toValue(rv reflect.Value, omitEmptyOK bool) (Value, error) {
	if !rv.IsValid() {
		return Value{}, fmt.Errorf("bencode: %w: invalid reflect.Value", ErrUnsupportedType)
	}

	if raw, ok := rv.Interface().(Value); ok {
		return raw, nil
	}

	if m, ok := rv.Interface().(Marshaler); ok {
		return m.MarshalBencode()
	}
	if rv.CanAddr() {
		if m, ok := rv.Addr().Interface().(Marshaler); ok {
			return m.MarshalBencode()
		}
	}

	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return Value{}, fmt.Errorf("bencode: %w: nil pointer", ErrUnsupportedType)
		}
		return toValue(rv.Elem(), omitEmptyOK)
	case reflect.Interface:
		if rv.IsNil() {
			return Value{}, fmt.Errorf("bencode: %w: nil interface", ErrUnsupportedType)
		}
		return toValue(rv.Elem(), omitEmptyOK)
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Int(int64(rv.Uint())), nil
	case reflect.String:
		return Str(rv.String()), nil
	case reflect.Slice, reflect.Array:
		return sliceToValue(rv)
	case reflect.Map:
		return mapToValue(rv)
	case reflect.Struct:
		return structToValue(rv)
	default:
		return Value{}, fmt.Errorf("bencode: %w: kind %s", ErrUnsupportedType, rv.Kind())
	}
}

func sliceToValue(rv reflect.Value) (Value, error) {
	// []byte (and named byte slices) encode as a bencode string, not a
	// list of small integers.
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		b := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(b), rv)
		return Bytes(b), nil
	}
	items := make([]Value, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		v, err := toValue(rv.Index(i), false)
		if err != nil {
			return Value{}, err
		}
		items[i] = v
	}
	return List(items...), nil
}

func mapToValue(rv reflect.Value) (Value, error) {
	if rv.Type().Key().Kind() != reflect.String {
		return Value{}, fmt.Errorf("bencode: %w: map key must be string", ErrUnsupportedType)
	}
	d := make(map[string]Value, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		v, err := toValue(iter.Value(), false)
		if err != nil {
			return Value{}, err
		}
		d[iter.Key().String()] = v
	}
	return Dict(d), nil
}

func structToValue(rv reflect.Value) (Value, error) {
	t := rv.Type()
	d := make(map[string]Value)
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" { // unexported
			continue
		}
		name, omitEmpty, skip := parseTag(field)
		if skip {
			continue
		}
		fv := rv.Field(i)
		if omitEmpty && isEmptyValue(fv) {
			continue
		}
		val, err := toValue(fv, omitEmpty)
		if err != nil {
			if omitEmpty {
				continue
			}
			return Value{}, fmt.Errorf("bencode: field %s: %w", field.Name, err)
		}
		d[name] = val
	}
	return Dict(d), nil
}

func parseTag(field reflect.StructField) (name string, omitEmpty bool, skip bool) {
	tag := field.Tag.Get("bencode")
	if tag == "-" {
		return "", false, true
	}
	name = field.Name
	if tag == "" {
		return name, false, false
	}
	parts := splitComma(tag)
	if parts[0] != "" {
		name = parts[0]
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		return v.IsNil()
	case reflect.Slice, reflect.Map, reflect.Array:
		return v.Len() == 0
	case reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Struct:
		return false
	default:
		return false
	}
}

package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Value is a sealed union over the JSON value kinds a property may hold.
// Only Null, String, Number, Bool, Array and Object implement it.
type Value interface {
	value()
}

// Null is the JSON null.
type Null struct{}

func (Null) value() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String is a JSON string.
type String string

func (String) value() {}

// Number is a JSON number. Integers round-trip exactly up to 2^53.
type Number float64

func (Number) value() {}

// Bool is a JSON boolean.
type Bool bool

func (Bool) value() {}

// Array is an ordered list of values.
type Array []Value

func (Array) value() {}

// Object maps string keys to values.
type Object map[string]Value

func (Object) value() {}

// Keys returns the object's keys in sorted order.
func (o Object) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type propertyEnvelope struct {
	Value json.RawMessage `json:"value"`
}

// FromAny converts a decoded JSON value or a Go scalar into a Value.
func FromAny(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return x, nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case float64:
		return numberOf(x)
	case float32:
		return numberOf(float64(x))
	case int:
		return Number(x), nil
	case int32:
		return Number(x), nil
	case int64:
		return Number(x), nil
	case uint:
		return Number(x), nil
	case uint32:
		return Number(x), nil
	case uint64:
		return Number(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", x, err)
		}
		return numberOf(f)
	case []any:
		arr := make(Array, len(x))
		for i, e := range x {
			ev, err := FromAny(e)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			arr[i] = ev
		}
		return arr, nil
	case []string:
		arr := make(Array, len(x))
		for i, e := range x {
			arr[i] = String(e)
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(x))
		for k, e := range x {
			ev, err := FromAny(e)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			obj[k] = ev
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported property value type %T", v)
	}
}

func numberOf(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("property value %v is not representable in JSON", f)
	}
	return Number(f), nil
}

// ToAny converts a Value back into plain Go values (string, float64, bool,
// nil, []any, map[string]any).
func ToAny(v Value) any {
	switch x := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(x)
	case Number:
		return float64(x)
	case Bool:
		return bool(x)
	case Array:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = ToAny(e)
		}
		return out
	case Object:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = ToAny(e)
		}
		return out
	default:
		panic(fmt.Sprintf("schema: unknown Value %T", v))
	}
}

// EncodeProperty renders v in its stored form {"value": v}. The encoding is
// canonical (object keys sorted, no HTML escaping) so stored values can be
// compared as text.
func EncodeProperty(v Value) (string, error) {
	if v == nil {
		v = Null{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]Value{"value": v}); err != nil {
		return "", fmt.Errorf("failed to encode property value: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// DecodeProperty parses the stored form produced by EncodeProperty.
func DecodeProperty(s string) (Value, error) {
	var env propertyEnvelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return nil, fmt.Errorf("failed to decode property envelope: %w", err)
	}
	if len(env.Value) == 0 {
		return Null{}, nil
	}
	return DecodeValue(env.Value)
}

// DecodeValue parses a bare JSON document into a Value.
func DecodeValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode property value: %w", err)
	}
	return FromAny(raw)
}

// Equal reports whether a and b encode identically.
func Equal(a, b Value) bool {
	ea, err := EncodeProperty(a)
	if err != nil {
		return false
	}
	eb, err := EncodeProperty(b)
	if err != nil {
		return false
	}
	return ea == eb
}

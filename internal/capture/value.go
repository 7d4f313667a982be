package capture

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Kind is the type of a captured value.
type Kind string

const (
	KindNone        Kind = "none"
	KindNumber      Kind = "number"
	KindString      Kind = "string"
	KindNumberArray Kind = "number_array"
	KindStringArray Kind = "string_array"
)

// Value is a value recorded for one item at save time, with enough type
// information to validate a later write-back.
type Value struct {
	Kind    Kind
	Number  float64
	Text    string
	Numbers []float64
	Texts   []string
}

// NumberValue returns a scalar numeric value.
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Number: n} }

// StringValue returns a scalar string value.
func StringValue(s string) Value { return Value{Kind: KindString, Text: s} }

// NumberArrayValue returns a numeric array value. An empty array has no value.
func NumberArrayValue(ns []float64) Value {
	if len(ns) == 0 {
		return Value{Kind: KindNone}
	}
	return Value{Kind: KindNumberArray, Numbers: ns}
}

// StringArrayValue returns a string array value. An empty array has no value.
func StringArrayValue(ss []string) Value {
	if len(ss) == 0 {
		return Value{Kind: KindNone}
	}
	return Value{Kind: KindStringArray, Texts: ss}
}

// IsArray reports whether v is an array kind.
func (v Value) IsArray() bool {
	return v.Kind == KindNumberArray || v.Kind == KindStringArray
}

// Len is the element count: 0 for none, 1 for scalars, the array length otherwise.
func (v Value) Len() int {
	switch v.Kind {
	case KindNone:
		return 0
	case KindNumberArray:
		return len(v.Numbers)
	case KindStringArray:
		return len(v.Texts)
	default:
		return 1
	}
}

// Equal compares kind and content.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNumber:
		return v.Number == o.Number
	case KindString:
		return v.Text == o.Text
	case KindNumberArray:
		return slices.Equal(v.Numbers, o.Numbers)
	case KindStringArray:
		return slices.Equal(v.Texts, o.Texts)
	default:
		return true
	}
}

// String returns the JSON form used in capture files.
func (v Value) String() string {
	b, err := v.MarshalJSON()
	if err != nil {
		return "null"
	}
	return string(b)
}

// MarshalJSON encodes v as a bare JSON number, string, array or null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNumber:
		return json.Marshal(v.Number)
	case KindString:
		return json.Marshal(v.Text)
	case KindNumberArray:
		return json.Marshal(v.Numbers)
	case KindStringArray:
		return json.Marshal(v.Texts)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a bare JSON value. Booleans, objects and mixed arrays are rejected.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := fromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func fromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Value{Kind: KindNone}, nil
	case float64:
		return NumberValue(t), nil
	case string:
		return StringValue(t), nil
	case []any:
		if len(t) == 0 {
			return Value{Kind: KindNone}, nil
		}
		switch t[0].(type) {
		case float64:
			ns := make([]float64, len(t))
			for i, e := range t {
				n, ok := e.(float64)
				if !ok {
					return Value{}, fmt.Errorf("mixed array: element %d is not a number", i)
				}
				ns[i] = n
			}
			return NumberArrayValue(ns), nil
		case string:
			ss := make([]string, len(t))
			for i, e := range t {
				s, ok := e.(string)
				if !ok {
					return Value{}, fmt.Errorf("mixed array: element %d is not a string", i)
				}
				ss[i] = s
			}
			return StringArrayValue(ss), nil
		default:
			return Value{}, fmt.Errorf("unsupported array element type %T", t[0])
		}
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", raw)
	}
}

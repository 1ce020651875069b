package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cognicore/expertkb/pkg/expertkb/internalerr"
	"github.com/cognicore/expertkb/pkg/expertkb/normalize"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNone Kind = iota
	KindString
	KindNumber
	KindBool
	KindJSON
)

// String returns the type name used in snapshots and rendered output.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindJSON:
		return "object"
	default:
		return "none"
	}
}

// Value is a fact value: a string, a number, a boolean or a JSON document.
// The zero Value is unset and never truthy.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	raw  json.RawMessage
}

// String creates a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number creates a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool creates a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// JSON creates a structured value from a JSON document.
func JSON(raw []byte) (Value, error) {
	trimmed := bytes.TrimSpace(raw)
	if !json.Valid(trimmed) {
		return Value{}, fmt.Errorf("%w: malformed JSON value %q", internalerr.ErrInvalidInput, string(raw))
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return Value{}, fmt.Errorf("%w: %v", internalerr.ErrInvalidInput, err)
	}
	return Value{kind: KindJSON, raw: json.RawMessage(compact.Bytes())}, nil
}

// FromAny converts a decoded YAML or JSON scalar/collection into a Value.
func FromAny(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return x, nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case int:
		return Number(float64(x)), nil
	case int64:
		return Number(float64(x)), nil
	case uint64:
		return Number(float64(x)), nil
	case float32:
		return Number(float64(x)), nil
	case float64:
		return Number(x), nil
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return Value{}, fmt.Errorf("%w: unsupported value %T: %v", internalerr.ErrInvalidInput, v, err)
		}
		return JSON(data)
	}
}

// ParseValue coerces user text into the most specific Value.
// Example: "25" → Number(25), "verdadeiro" → Bool(true), `"abc"` → String("abc")
func ParseValue(text string) (Value, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return String(""), nil
	}

	switch normalize.Text(s) {
	case "true", "verdadeiro", "sim", "yes":
		return Bool(true), nil
	case "false", "falso", "nao", "no":
		return Bool(false), nil
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return Number(f), nil
	}

	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'') {
		return String(s[1 : len(s)-1]), nil
	}

	if s[0] == '{' || s[0] == '[' {
		return JSON([]byte(s))
	}

	return String(s), nil
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsZero reports whether the value is unset.
func (v Value) IsZero() bool { return v.kind == KindNone }

// Raw returns the JSON document of a structured value.
func (v Value) Raw() json.RawMessage {
	if v.kind != KindJSON {
		return nil
	}
	return v.raw
}

// Truthy mirrors how a condition treats a fact value: empty strings, zero,
// false, null documents and unset values are false.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindString:
		return v.str != ""
	case KindNumber:
		return v.num != 0 && !math.IsNaN(v.num)
	case KindBool:
		return v.b
	case KindJSON:
		return string(v.raw) != "null"
	default:
		return false
	}
}

// Float coerces the value to a number for ordering comparisons.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, !math.IsNaN(v.num)
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Items returns the elements of a JSON array value, or nil.
func (v Value) Items() []Value {
	if v.kind != KindJSON || len(v.raw) == 0 || v.raw[0] != '[' {
		return nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(v.raw, &elems); err != nil {
		return nil
	}
	out := make([]Value, 0, len(elems))
	for _, e := range elems {
		var item Value
		if err := item.UnmarshalJSON(e); err != nil {
			continue
		}
		out = append(out, item)
	}
	return out
}

// Equal compares two values. Numbers compare numerically even when one side
// is numeric text; everything else compares by normalized text.
func (v Value) Equal(o Value) bool {
	if v.kind == KindNone || o.kind == KindNone {
		return v.kind == o.kind
	}
	if v.kind == o.kind {
		switch v.kind {
		case KindNumber:
			return v.num == o.num
		case KindBool:
			return v.b == o.b
		case KindJSON:
			return bytes.Equal(v.raw, o.raw)
		case KindString:
			return normalize.Equal(v.str, o.str)
		}
	}
	if v.kind != KindJSON && o.kind != KindJSON {
		a, okA := v.Float()
		b, okB := o.Float()
		if okA && okB {
			return a == b
		}
	}
	return normalize.Equal(v.String(), o.String())
}

// String renders the value for traces and chat output.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindJSON:
		return string(v.raw)
	default:
		return ""
	}
}

// MarshalJSON encodes the value as its natural JSON form.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindJSON:
		return v.raw, nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a natural JSON value into the matching variant.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*v = Value{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case '{', '[':
		parsed, err := JSON(data)
		if err != nil {
			return err
		}
		*v = parsed
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		*v = Number(f)
	}
	return nil
}

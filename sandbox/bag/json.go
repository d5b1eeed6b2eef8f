package bag

import (
	"encoding/json"
	"fmt"
)

// FromJSON converts a decoded any (as produced by encoding/json's
// default unmarshalling into interface{}) into a Value. Object keys
// become Mapping keys; JSON numbers that round-trip through an int64
// without loss become Int, otherwise Float.
func FromJSON(v any) Value {
	switch t := v.(type) {
	case nil:
		return NullValue()
	case bool:
		return BoolValue(t)
	case string:
		return StringValue(t)
	case float64:
		if i := int64(t); float64(i) == t {
			return IntValue(i)
		}
		return FloatValue(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return IntValue(i)
		}
		f, _ := t.Float64()
		return FloatValue(f)
	case []any:
		out := make([]Value, len(t))
		for i, e := range t {
			out[i] = FromJSON(e)
		}
		return SequenceValue(out)
	case map[string]any:
		out := make(map[string]Value, len(t))
		for k, e := range t {
			out[k] = FromJSON(e)
		}
		return MappingValue(out)
	default:
		return StringValue(fmt.Sprintf("%v", t))
	}
}

// ToJSON converts a Value back into the plain any tree encoding/json
// expects for marshalling.
func ToJSON(v Value) any {
	switch v.Kind {
	case Null:
		return nil
	case Bool:
		return v.BoolVal
	case Int:
		return v.IntVal
	case Float:
		return v.FloatVal
	case String:
		return v.StringVal
	case Sequence:
		out := make([]any, len(v.SeqVal))
		for i, e := range v.SeqVal {
			out[i] = ToJSON(e)
		}
		return out
	case Mapping:
		out := make(map[string]any, len(v.MapVal))
		for k, e := range v.MapVal {
			out[k] = ToJSON(e)
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON satisfies json.Marshaler so Values can appear directly in
// API response structs.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(ToJSON(v))
}

// UnmarshalJSON satisfies json.Unmarshaler so request bodies can bind
// straight into a Value field.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromJSON(raw)
	return nil
}

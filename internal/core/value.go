package core

import (
	"encoding/json"
	"time"
)

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	KindString ValueKind = iota
	KindInt
	KindFloat
	KindBool
	KindTime
	KindMap
)

// Value is the tagged union used for free-form metadata on entries and
// events. Keeping the union explicit avoids the interface{} bags the rest of
// the pipeline would otherwise have to type-switch over.
type Value struct {
	Kind ValueKind
	Str  string
	Int  int64
	Flt  float64
	Bool bool
	Time time.Time
	Map  Metadata
}

// Metadata maps well-known string keys to tagged values.
type Metadata map[string]Value

// Well-known metadata keys. Stages attach these; nothing else should invent
// ad-hoc keys without adding a constant here.
const (
	MetaSanitized        = "sanitized"
	MetaSanitizedAt      = "sanitized_at"
	MetaOriginalLength   = "original_length"
	MetaSanitizedLength  = "sanitized_length"
	MetaDangerPatterns   = "danger_patterns"
	MetaValidationResult = "validation_result"
	MetaParsingMethod    = "parsing_method"
	MetaPatternName      = "pattern_name"
	MetaUnparsed         = "unparsed"
	MetaLineNumber       = "line_number"
	MetaTruncated        = "truncated"
)

// Parsing method values recorded under MetaParsingMethod.
const (
	ParseMethodLearned  = "learned_pattern"
	ParseMethodDetected = "auto_detected"
	ParseMethodStatic   = "static"
	ParseMethodFallback = "unparsed_fallback"
)

func StringValue(s string) Value  { return Value{Kind: KindString, Str: s} }
func IntValue(i int64) Value      { return Value{Kind: KindInt, Int: i} }
func FloatValue(f float64) Value  { return Value{Kind: KindFloat, Flt: f} }
func BoolValue(b bool) Value      { return Value{Kind: KindBool, Bool: b} }
func TimeValue(t time.Time) Value { return Value{Kind: KindTime, Time: t} }
func MapValue(m Metadata) Value   { return Value{Kind: KindMap, Map: m} }

// MarshalJSON emits the naked variant so wire payloads stay plain JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.Str)
	case KindInt:
		return json.Marshal(v.Int)
	case KindFloat:
		return json.Marshal(v.Flt)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindTime:
		return json.Marshal(v.Time.UTC().Format(time.RFC3339Nano))
	case KindMap:
		return json.Marshal(v.Map)
	default:
		return json.Marshal(nil)
	}
}

// UnmarshalJSON restores the closest variant from plain JSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			*v = TimeValue(ts)
		} else {
			*v = StringValue(t)
		}
	case float64:
		if t == float64(int64(t)) {
			*v = IntValue(int64(t))
		} else {
			*v = FloatValue(t)
		}
	case bool:
		*v = BoolValue(t)
	case map[string]interface{}:
		m := Metadata{}
		for k, item := range t {
			b, err := json.Marshal(item)
			if err != nil {
				continue
			}
			var inner Value
			if err := inner.UnmarshalJSON(b); err == nil {
				m[k] = inner
			}
		}
		*v = MapValue(m)
	default:
		*v = Value{}
	}
	return nil
}

// Clone deep-copies the metadata map.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		if v.Kind == KindMap {
			v.Map = v.Map.Clone()
		}
		out[k] = v
	}
	return out
}

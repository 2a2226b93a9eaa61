package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// FlagType is the declared type of both values of a flag.
type FlagType string

const (
	FlagTypeBoolean FlagType = "boolean"
	FlagTypeString  FlagType = "string"
	FlagTypeNumber  FlagType = "number"
	FlagTypeJSON    FlagType = "json"
)

// ValueKind tags the concrete shape held by a FlagValue.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindString
	KindNumber
	KindJSON
)

// FlagValue is a tagged union over the JSON scalar/object shapes a flag or
// variation may carry. On the wire it is the raw JSON value itself
// (e.g. `"valueA": "red"`), the tag is recovered from the JSON shape.
type FlagValue struct {
	Kind ValueKind
	Bool bool
	Str  string
	Num  float64
	Raw  json.RawMessage
}

func BoolValue(v bool) FlagValue      { return FlagValue{Kind: KindBool, Bool: v} }
func StringValue(v string) FlagValue  { return FlagValue{Kind: KindString, Str: v} }
func NumberValue(v float64) FlagValue { return FlagValue{Kind: KindNumber, Num: v} }
func JSONValue(v json.RawMessage) FlagValue {
	return FlagValue{Kind: KindJSON, Raw: v}
}

func (v FlagValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindBool:
		return json.Marshal(v.Bool)
	case KindString:
		return json.Marshal(v.Str)
	case KindNumber:
		return json.Marshal(v.Num)
	case KindJSON:
		if len(v.Raw) == 0 {
			return []byte("null"), nil
		}
		return v.Raw, nil
	case KindNull:
		return []byte("null"), nil
	}
	return nil, fmt.Errorf("%s: unknown value kind %d", ParseErrorCode, v.Kind)
}

func (v *FlagValue) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return errors.New(ParseErrorCode)
	}
	switch trimmed[0] {
	case 't', 'f':
		v.Kind = KindBool
		return json.Unmarshal(trimmed, &v.Bool)
	case '"':
		v.Kind = KindString
		return json.Unmarshal(trimmed, &v.Str)
	case '{', '[':
		v.Kind = KindJSON
		v.Raw = append(json.RawMessage(nil), trimmed...)
		return nil
	case 'n':
		v.Kind = KindNull
		return nil
	default:
		v.Kind = KindNumber
		return json.Unmarshal(trimmed, &v.Num)
	}
}

// Interface returns the value as a plain Go value, for use in logs and
// generic JSON payloads.
func (v FlagValue) Interface() interface{} {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num
	case KindJSON:
		var out interface{}
		_ = json.Unmarshal(v.Raw, &out)
		return out
	}
	return nil
}

func (v FlagValue) String() string {
	switch v.Kind {
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindJSON:
		return string(v.Raw)
	}
	return "null"
}

// MatchesType reports whether the value's kind agrees with the declared flag type.
func (v FlagValue) MatchesType(t FlagType) bool {
	switch t {
	case FlagTypeBoolean:
		return v.Kind == KindBool
	case FlagTypeString:
		return v.Kind == KindString
	case FlagTypeNumber:
		return v.Kind == KindNumber
	case FlagTypeJSON:
		return v.Kind == KindJSON
	}
	return false
}

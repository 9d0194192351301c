package rpcio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Kind discriminates the variant held by an ArgValue.
type Kind int

const (
	KindNone Kind = iota
	KindBool
	KindInt64
	KindDouble
	KindString
	KindStringList
)

// ArgValue is a tagged union over {none, bool, int64, double, string,
// list<string>}. It carries value-copy semantics: Clone returns a value that
// shares no backing storage with the receiver.
type ArgValue struct {
	Kind   Kind
	Bool   bool
	Int64  int64
	Double float64
	Str    string
	List   []string
}

func NoneArg() ArgValue                  { return ArgValue{Kind: KindNone} }
func BoolArg(v bool) ArgValue            { return ArgValue{Kind: KindBool, Bool: v} }
func Int64Arg(v int64) ArgValue          { return ArgValue{Kind: KindInt64, Int64: v} }
func DoubleArg(v float64) ArgValue       { return ArgValue{Kind: KindDouble, Double: v} }
func StringArg(v string) ArgValue        { return ArgValue{Kind: KindString, Str: v} }
func StringListArg(v []string) ArgValue {
	cp := make([]string, len(v))
	copy(cp, v)
	return ArgValue{Kind: KindStringList, List: cp}
}

// Clone returns a deep copy; the returned value shares no slice storage with
// the receiver.
func (a ArgValue) Clone() ArgValue {
	if a.Kind != KindStringList {
		return a
	}
	return StringListArg(a.List)
}

// AsString returns the string form of a scalar value, and whether the kind
// supports a string view at all (KindNone and KindStringList do not).
func (a ArgValue) AsString() (string, bool) {
	switch a.Kind {
	case KindString:
		return a.Str, true
	case KindBool:
		return fmt.Sprintf("%t", a.Bool), true
	case KindInt64:
		return fmt.Sprintf("%d", a.Int64), true
	case KindDouble:
		return fmt.Sprintf("%g", a.Double), true
	default:
		return "", false
	}
}

// AsInt64 returns the integer value when Kind is KindInt64.
func (a ArgValue) AsInt64() (int64, bool) {
	if a.Kind != KindInt64 {
		return 0, false
	}
	return a.Int64, true
}

// String renders a debug/log-friendly representation.
func (a ArgValue) String() string {
	switch a.Kind {
	case KindNone:
		return "<none>"
	case KindBool:
		return fmt.Sprintf("%t", a.Bool)
	case KindInt64:
		return fmt.Sprintf("%d", a.Int64)
	case KindDouble:
		return fmt.Sprintf("%g", a.Double)
	case KindString:
		return a.Str
	case KindStringList:
		return fmt.Sprintf("%v", a.List)
	default:
		return "<invalid>"
	}
}

// ArgMap is the mutable argument dictionary threaded through a request's
// middleware pipeline. Insertion order is irrelevant; names are unique.
type ArgMap map[string]ArgValue

// Clone returns a map with every value deep-copied.
func (m ArgMap) Clone() ArgMap {
	out := make(ArgMap, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

// ParamsToArgMap converts a JSON-RPC params object into an ArgMap following
// the conversion rules: bool/number/string map directly, arrays become a
// string list (non-string elements are skipped with a warning), anything
// else (null, nested object) is re-serialized to its JSON text and stored
// as a string.
func ParamsToArgMap(params json.RawMessage) (ArgMap, error) {
	args := ArgMap{}
	if len(params) == 0 {
		return args, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(params, &obj); err != nil {
		return nil, fmt.Errorf("invalid parameters - must be an object: %w", err)
	}

	for key, raw := range obj {
		args[key] = rawToArgValue(raw)
	}
	return args, nil
}

func rawToArgValue(raw json.RawMessage) ArgValue {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return StringArg(string(raw))
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return BoolArg(b)
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil && !bytes.HasPrefix(bytes.TrimSpace(raw), []byte(`"`)) {
		if i, err := n.Int64(); err == nil {
			return Int64Arg(i)
		}
		if f, err := n.Float64(); err == nil {
			return DoubleArg(f)
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return StringArg(s)
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		list := make([]string, 0, len(arr))
		for _, item := range arr {
			var itemStr string
			if err := json.Unmarshal(item, &itemStr); err == nil {
				list = append(list, itemStr)
			} else {
				slog.Warn("skipping non-string element in array argument", "element", string(item))
			}
		}
		return StringListArg(list)
	}

	// Nested object or anything else: fall back to its JSON text.
	return StringArg(string(raw))
}

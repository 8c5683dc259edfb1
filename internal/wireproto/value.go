// Package wireproto implements the length-delimited, self-describing binary
// envelope carried over the radio link: Messages (Request/Response), packed
// and unpacked as tagged values.
package wireproto

import "fmt"

// Kind tags a Value's wire representation.
type Kind byte

const (
	KindNull Kind = iota
	KindBool
	KindI64
	KindBytes
	KindString
	KindList
	KindMap
)

// Value is the open-ended payload type carried in request/response bodies
// and vars. Handlers validate shape at their own boundary; this package
// never infers Go types from call sites.
type Value struct {
	Kind Kind
	B    bool
	I    int64
	Buf  []byte
	S    string
	L    []Value
	M    map[string]Value
}

func Null() Value                { return Value{Kind: KindNull} }
func Bool(b bool) Value          { return Value{Kind: KindBool, B: b} }
func Int(i int64) Value          { return Value{Kind: KindI64, I: i} }
func Bytes(b []byte) Value       { return Value{Kind: KindBytes, Buf: b} }
func Str(s string) Value         { return Value{Kind: KindString, S: s} }
func List(v ...Value) Value      { return Value{Kind: KindList, L: v} }
func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{Kind: KindMap, M: m}
}

// IsNull reports whether v is the null value (also true for a zero Value).
func (v Value) IsNull() bool { return v.Kind == KindNull }

// AsString returns the string payload, or ok=false if v is not a String.
func (v Value) AsString() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}
	return v.S, true
}

// AsInt returns the integer payload, or ok=false if v is not an I64.
func (v Value) AsInt() (int64, bool) {
	if v.Kind != KindI64 {
		return 0, false
	}
	return v.I, true
}

// AsBool returns the bool payload, or ok=false if v is not a Bool.
func (v Value) AsBool() (bool, bool) {
	if v.Kind != KindBool {
		return false, false
	}
	return v.B, true
}

// AsBytes returns the byte payload, or ok=false if v is not Bytes.
func (v Value) AsBytes() ([]byte, bool) {
	if v.Kind != KindBytes {
		return nil, false
	}
	return v.Buf, true
}

// AsList returns the list payload, or ok=false if v is not a List.
func (v Value) AsList() ([]Value, bool) {
	if v.Kind != KindList {
		return nil, false
	}
	return v.L, true
}

// AsMap returns the map payload, or ok=false if v is not a Map.
func (v Value) AsMap() (map[string]Value, bool) {
	if v.Kind != KindMap {
		return nil, false
	}
	return v.M, true
}

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.B)
	case KindI64:
		return fmt.Sprintf("%d", v.I)
	case KindBytes:
		return fmt.Sprintf("bytes(%d)", len(v.Buf))
	case KindString:
		return v.S
	case KindList:
		return fmt.Sprintf("list(%d)", len(v.L))
	case KindMap:
		return fmt.Sprintf("map(%d)", len(v.M))
	default:
		return "?"
	}
}

package common

import (
	"errors"
	"fmt"
	"strconv"
)

// ProcessID identifies one side of a process message exchange.
type ProcessID int

// Process identifiers.
const (
	ProcessBrowser ProcessID = iota
	ProcessRenderer
)

func (p ProcessID) String() string {
	switch p {
	case ProcessBrowser:
		return "Browser"
	case ProcessRenderer:
		return "Renderer"
	default:
		return "ProcessID(" + strconv.Itoa(int(p)) + ")"
	}
}

// wire returns the lower case name used in the JSON form.
func (p ProcessID) wire() string {
	switch p {
	case ProcessRenderer:
		return "renderer"
	default:
		return "browser"
	}
}

func parseProcessID(s string) (ProcessID, error) {
	switch s {
	case "browser":
		return ProcessBrowser, nil
	case "renderer":
		return ProcessRenderer, nil
	default:
		return 0, fmt.Errorf("%w: unknown process %q", ErrInvalidMessage, s)
	}
}

// ValueType is the type tag of a process message argument.
type ValueType int

// Value types.
const (
	ValueTypeInvalid ValueType = iota
	ValueTypeNull
	ValueTypeBool
	ValueTypeInt
	ValueTypeDouble
	ValueTypeString
)

var valueTypeNames = map[ValueType]string{ //nolint:gochecknoglobals
	ValueTypeInvalid: "Invalid",
	ValueTypeNull:    "Null",
	ValueTypeBool:    "Bool",
	ValueTypeInt:     "Int",
	ValueTypeDouble:  "Double",
	ValueTypeString:  "String",
}

func (t ValueType) String() string {
	if s, ok := valueTypeNames[t]; ok {
		return s
	}
	return "ValueType(" + strconv.Itoa(int(t)) + ")"
}

// Value is one typed argument of a process message.
// The zero Value is invalid.
type Value struct {
	typ ValueType
	b   bool
	i   int32
	d   float64
	s   string
}

// NullValue returns a null value.
func NullValue() Value { return Value{typ: ValueTypeNull} }

// BoolValue returns a bool value.
func BoolValue(b bool) Value { return Value{typ: ValueTypeBool, b: b} }

// IntValue returns a 32-bit integer value.
func IntValue(i int32) Value { return Value{typ: ValueTypeInt, i: i} }

// DoubleValue returns a double value.
func DoubleValue(d float64) Value { return Value{typ: ValueTypeDouble, d: d} }

// StringValue returns a string value.
func StringValue(s string) Value { return Value{typ: ValueTypeString, s: s} }

// Type returns the type tag of v.
func (v Value) Type() ValueType { return v.typ }

// Interface returns the Go value held by v, nil for null and invalid values.
func (v Value) Interface() any {
	switch v.typ {
	case ValueTypeBool:
		return v.b
	case ValueTypeInt:
		return v.i
	case ValueTypeDouble:
		return v.d
	case ValueTypeString:
		return v.s
	default:
		return nil
	}
}

// ErrReadOnly is returned when modifying a read-only list.
var ErrReadOnly = errors.New("list is read-only")

// ListValue is an ordered list of typed values.
type ListValue struct {
	values   []Value
	readOnly bool
}

// NewListValue returns a writable list holding values.
func NewListValue(values ...Value) *ListValue {
	return &ListValue{values: append([]Value(nil), values...)}
}

// Len returns the number of values in the list.
func (l *ListValue) Len() int {
	if l == nil {
		return 0
	}
	return len(l.values)
}

// IsReadOnly reports whether the list can be modified.
func (l *ListValue) IsReadOnly() bool {
	return l.readOnly
}

// Get returns the value at index i, or an invalid value when out of range.
func (l *ListValue) Get(i int) Value {
	if i < 0 || i >= l.Len() {
		return Value{}
	}
	return l.values[i]
}

// Type returns the type of the value at index i.
func (l *ListValue) Type(i int) ValueType {
	return l.Get(i).typ
}

// GetBool returns the bool at index i, false when it is not a bool.
func (l *ListValue) GetBool(i int) bool { return l.Get(i).b }

// GetInt returns the int at index i, 0 when it is not an int.
func (l *ListValue) GetInt(i int) int32 { return l.Get(i).i }

// GetDouble returns the double at index i, 0 when it is not a double.
func (l *ListValue) GetDouble(i int) float64 { return l.Get(i).d }

// GetString returns the string at index i, "" when it is not a string.
func (l *ListValue) GetString(i int) string { return l.Get(i).s }

// Append adds values to the end of the list.
func (l *ListValue) Append(values ...Value) error {
	if l.readOnly {
		return ErrReadOnly
	}
	l.values = append(l.values, values...)
	return nil
}

// Set stores v at index i, growing the list with null values as needed.
func (l *ListValue) Set(i int, v Value) error {
	if l.readOnly {
		return ErrReadOnly
	}
	if i < 0 {
		return fmt.Errorf("negative index %d", i)
	}
	for len(l.values) <= i {
		l.values = append(l.values, NullValue())
	}
	l.values[i] = v
	return nil
}

// Values returns a copy of the values in the list.
func (l *ListValue) Values() []Value {
	if l == nil {
		return nil
	}
	return append([]Value(nil), l.values...)
}

// ProcessMessage is a named message carrying typed arguments between the
// browser process and the render process.
type ProcessMessage struct {
	name string
	args *ListValue
}

// NewProcessMessage creates a writable message.
func NewProcessMessage(name string, args ...Value) *ProcessMessage {
	return &ProcessMessage{name: name, args: NewListValue(args...)}
}

// Name returns the message name.
func (m *ProcessMessage) Name() string { return m.name }

// Arguments returns the message arguments.
func (m *ProcessMessage) Arguments() *ListValue { return m.args }

// IsValid reports whether the message can be sent.
func (m *ProcessMessage) IsValid() bool {
	return m != nil && m.name != "" && m.args != nil
}

// IsReadOnly reports whether the message was received and cannot be modified.
func (m *ProcessMessage) IsReadOnly() bool {
	return m.args.readOnly
}

// Copy returns a writable copy of m.
func (m *ProcessMessage) Copy() *ProcessMessage {
	return NewProcessMessage(m.name, m.args.values...)
}

func (m *ProcessMessage) freeze() *ProcessMessage {
	m.args.readOnly = true
	return m
}

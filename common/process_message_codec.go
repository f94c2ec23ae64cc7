package common

import (
	"fmt"
	"math"

	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
)

// envelope is a process message in transit with its endpoints.
type envelope struct {
	source ProcessID
	target ProcessID
	msg    *ProcessMessage
}

// marshalEnvelope encodes e in the JSON form shared with the bridge script:
//
//	{"name":"n","source":"browser","target":"renderer","args":[{"type":"int","value":1}]}
func marshalEnvelope(e envelope) ([]byte, error) {
	if !e.msg.IsValid() {
		return nil, fmt.Errorf("%w: message has no name", ErrInvalidMessage)
	}

	w := jwriter.Writer{}
	w.RawString(`{"name":`)
	w.String(e.msg.name)
	w.RawString(`,"source":`)
	w.String(e.source.wire())
	w.RawString(`,"target":`)
	w.String(e.target.wire())
	w.RawString(`,"args":[`)
	for i, v := range e.msg.args.values {
		if i > 0 {
			w.RawByte(',')
		}
		if err := writeValue(&w, v); err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
	}
	w.RawString(`]}`)

	return w.BuildBytes() //nolint:wrapcheck
}

func writeValue(w *jwriter.Writer, v Value) error {
	w.RawString(`{"type":`)
	switch v.typ {
	case ValueTypeNull:
		w.String("null")
	case ValueTypeBool:
		w.String("bool")
		w.RawString(`,"value":`)
		w.Bool(v.b)
	case ValueTypeInt:
		w.String("int")
		w.RawString(`,"value":`)
		w.Int32(v.i)
	case ValueTypeDouble:
		if math.IsNaN(v.d) || math.IsInf(v.d, 0) {
			return fmt.Errorf("%w: non-finite double %v", ErrInvalidMessage, v.d)
		}
		w.String("double")
		w.RawString(`,"value":`)
		w.Float64(v.d)
	case ValueTypeString:
		w.String("string")
		w.RawString(`,"value":`)
		w.String(v.s)
	default:
		return fmt.Errorf("%w: invalid value", ErrInvalidMessage)
	}
	w.RawByte('}')

	return nil
}

// unmarshalEnvelope decodes the JSON form of a process message.
// The decoded message is read-only.
func unmarshalEnvelope(payload []byte) (envelope, error) {
	if !gjson.ValidBytes(payload) {
		return envelope{}, fmt.Errorf("%w: malformed JSON", ErrInvalidMessage)
	}
	res := gjson.ParseBytes(payload)

	name := res.Get("name")
	if name.Type != gjson.String || name.Str == "" {
		return envelope{}, fmt.Errorf("%w: missing name", ErrInvalidMessage)
	}

	var (
		e   envelope
		err error
	)
	if e.source, err = parseProcessID(res.Get("source").String()); err != nil {
		return envelope{}, err
	}
	if e.target, err = parseProcessID(res.Get("target").String()); err != nil {
		return envelope{}, err
	}

	args := res.Get("args")
	if args.Exists() && !args.IsArray() {
		return envelope{}, fmt.Errorf("%w: args is not an array", ErrInvalidMessage)
	}
	values := make([]Value, 0, len(args.Array()))
	for i, a := range args.Array() {
		v, err := readValue(a)
		if err != nil {
			return envelope{}, fmt.Errorf("argument %d: %w", i, err)
		}
		values = append(values, v)
	}

	e.msg = NewProcessMessage(name.Str, values...).freeze()

	return e, nil
}

func readValue(a gjson.Result) (Value, error) {
	val := a.Get("value")
	switch typ := a.Get("type").String(); typ {
	case "null":
		return NullValue(), nil
	case "bool":
		if !val.IsBool() {
			return Value{}, fmt.Errorf("%w: bool value %s", ErrInvalidMessage, val.Raw)
		}
		return BoolValue(val.Bool()), nil
	case "int":
		if val.Type != gjson.Number {
			return Value{}, fmt.Errorf("%w: int value %s", ErrInvalidMessage, val.Raw)
		}
		n := val.Int()
		if float64(n) != val.Num || n < math.MinInt32 || n > math.MaxInt32 {
			return Value{}, fmt.Errorf("%w: int value %s out of range", ErrInvalidMessage, val.Raw)
		}
		return IntValue(int32(n)), nil
	case "double":
		if val.Type != gjson.Number {
			return Value{}, fmt.Errorf("%w: double value %s", ErrInvalidMessage, val.Raw)
		}
		return DoubleValue(val.Num), nil
	case "string":
		if val.Type != gjson.String {
			return Value{}, fmt.Errorf("%w: string value %s", ErrInvalidMessage, val.Raw)
		}
		return StringValue(val.Str), nil
	default:
		return Value{}, fmt.Errorf("%w: unknown value type %q", ErrInvalidMessage, typ)
	}
}

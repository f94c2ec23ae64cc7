package common

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListValue(t *testing.T) {
	t.Parallel()

	l := NewListValue(StringValue("a"), IntValue(7))
	require.NoError(t, l.Append(BoolValue(true), DoubleValue(0.5)))
	require.NoError(t, l.Set(6, NullValue()))

	assert.Equal(t, 7, l.Len())
	assert.Equal(t, "a", l.GetString(0))
	assert.Equal(t, int32(7), l.GetInt(1))
	assert.True(t, l.GetBool(2))
	assert.InDelta(t, 0.5, l.GetDouble(3), 0)
	for i := 4; i < 7; i++ {
		assert.Equal(t, ValueTypeNull, l.Type(i), "index %d", i)
	}

	// Out of range and mismatched accessors return zero values.
	assert.Equal(t, ValueTypeInvalid, l.Type(-1))
	assert.Equal(t, ValueTypeInvalid, l.Type(7))
	assert.Equal(t, "", l.GetString(1))
	assert.Equal(t, int32(0), l.GetInt(0))
	assert.Nil(t, l.Get(99).Interface())

	require.Error(t, l.Set(-1, NullValue()))

	vals := l.Values()
	vals[0] = StringValue("changed")
	assert.Equal(t, "a", l.GetString(0))
}

func TestProcessMessage(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		assert.True(t, NewProcessMessage("myMessage").IsValid())
		assert.False(t, NewProcessMessage("").IsValid())

		var nilMsg *ProcessMessage
		assert.False(t, nilMsg.IsValid())
	})

	t.Run("read_only", func(t *testing.T) {
		t.Parallel()

		msg := NewProcessMessage("myMessage", StringValue("x")).freeze()
		assert.True(t, msg.IsReadOnly())
		assert.True(t, msg.Arguments().IsReadOnly())
		require.ErrorIs(t, msg.Arguments().Append(NullValue()), ErrReadOnly)
		require.ErrorIs(t, msg.Arguments().Set(0, NullValue()), ErrReadOnly)

		cp := msg.Copy()
		assert.False(t, cp.IsReadOnly())
		require.NoError(t, cp.Arguments().Append(IntValue(1)))
		assert.Equal(t, 2, cp.Arguments().Len())
		assert.Equal(t, 1, msg.Arguments().Len())
	})
}

func TestValueStrings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Browser", ProcessBrowser.String())
	assert.Equal(t, "Renderer", ProcessRenderer.String())
	assert.Equal(t, "ProcessID(9)", ProcessID(9).String())

	for typ, want := range map[ValueType]string{
		ValueTypeNull:   "Null",
		ValueTypeBool:   "Bool",
		ValueTypeInt:    "Int",
		ValueTypeDouble: "Double",
		ValueTypeString: "String",
	} {
		assert.Equal(t, want, typ.String())
	}
}

func TestEnvelopeWireForm(t *testing.T) {
	t.Parallel()

	msg := NewProcessMessage("myMessage",
		NullValue(), BoolValue(true), IntValue(-3), DoubleValue(1.25), StringValue(`say "hi"`))
	b, err := marshalEnvelope(envelope{source: ProcessBrowser, target: ProcessRenderer, msg: msg})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"name": "myMessage",
		"source": "browser",
		"target": "renderer",
		"args": [
			{"type": "null"},
			{"type": "bool", "value": true},
			{"type": "int", "value": -3},
			{"type": "double", "value": 1.25},
			{"type": "string", "value": "say \"hi\""}
		]
	}`, string(b))

	env, err := unmarshalEnvelope(b)
	require.NoError(t, err)
	assert.Equal(t, ProcessBrowser, env.source)
	assert.Equal(t, ProcessRenderer, env.target)
	assert.True(t, env.msg.IsReadOnly())
	assert.Equal(t, msg.Arguments().Values(), env.msg.Arguments().Values())
}

func TestEnvelopeMarshalErrors(t *testing.T) {
	t.Parallel()

	_, err := marshalEnvelope(envelope{msg: NewProcessMessage("")})
	require.ErrorIs(t, err, ErrInvalidMessage)

	_, err = marshalEnvelope(envelope{msg: NewProcessMessage("m", DoubleValue(math.NaN()))})
	require.ErrorIs(t, err, ErrInvalidMessage)

	_, err = marshalEnvelope(envelope{msg: NewProcessMessage("m", Value{})})
	require.ErrorIs(t, err, ErrInvalidMessage)
}

func TestEnvelopeUnmarshalErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name, payload string
	}{
		{"malformed", `{"name":`},
		{"no_name", `{"source":"browser","target":"browser"}`},
		{"empty_name", `{"name":"","source":"browser","target":"browser"}`},
		{"bad_source", `{"name":"m","source":"gpu","target":"browser"}`},
		{"bad_target", `{"name":"m","source":"browser"}`},
		{"args_not_array", `{"name":"m","source":"browser","target":"browser","args":{}}`},
		{"unknown_type", `{"name":"m","source":"browser","target":"browser","args":[{"type":"list"}]}`},
		{"int_fraction", `{"name":"m","source":"browser","target":"browser","args":[{"type":"int","value":1.5}]}`},
		{"int_range", `{"name":"m","source":"browser","target":"browser","args":[{"type":"int","value":2147483648}]}`},
		{"bool_string", `{"name":"m","source":"browser","target":"browser","args":[{"type":"bool","value":"true"}]}`},
		{"string_number", `{"name":"m","source":"browser","target":"browser","args":[{"type":"string","value":1}]}`},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := unmarshalEnvelope([]byte(tc.payload))
			require.ErrorIs(t, err, ErrInvalidMessage)
		})
	}

	env, err := unmarshalEnvelope([]byte(`{"name":"m","source":"renderer","target":"browser"}`))
	require.NoError(t, err)
	assert.Equal(t, 0, env.msg.Arguments().Len())
}

package arbor

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/arbormap/arbor/store"
)

func TestToValue(t *testing.T) {
	when := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		in   any
		want store.Value
	}{
		{"string", "hi", store.StringValue("hi")},
		{"bool", true, store.BoolValue(true)},
		{"int", 42, store.LongValue(42)},
		{"int64", int64(-7), store.LongValue(-7)},
		{"float", 2.5, store.DoubleValue(2.5)},
		{"time", when, store.DateValue(when)},
		{"bytes", []byte{1, 2}, store.BinaryValue([]byte{1, 2})},
		{"language", language.German, store.StringValue("de")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := toValue(reflect.ValueOf(tc.in))
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(got), "want %v, got %v", tc.want, got)
		})
	}

	t.Run("unsupported", func(t *testing.T) {
		_, err := toValue(reflect.ValueOf(struct{}{}))
		assert.ErrorIs(t, err, ErrUnsupportedType)
	})
}

func TestFromValueCoercion(t *testing.T) {
	t.Run("long into string", func(t *testing.T) {
		got, err := fromValue(reflect.TypeOf(""), store.LongValue(12))
		require.NoError(t, err)
		assert.Equal(t, "12", got.Interface())
	})

	t.Run("string into int", func(t *testing.T) {
		got, err := fromValue(reflect.TypeOf(int64(0)), store.StringValue("34"))
		require.NoError(t, err)
		assert.Equal(t, int64(34), got.Interface())
	})

	t.Run("long into float", func(t *testing.T) {
		got, err := fromValue(reflect.TypeOf(float64(0)), store.LongValue(3))
		require.NoError(t, err)
		assert.Equal(t, 3.0, got.Interface())
	})

	t.Run("string into bool", func(t *testing.T) {
		got, err := fromValue(reflect.TypeOf(false), store.StringValue("true"))
		require.NoError(t, err)
		assert.Equal(t, true, got.Interface())
	})

	t.Run("bad parse", func(t *testing.T) {
		_, err := fromValue(reflect.TypeOf(int64(0)), store.StringValue("not a number"))
		assert.Error(t, err)
	})

	t.Run("any takes the natural form", func(t *testing.T) {
		got, err := fromValue(anyType, store.LongValue(9))
		require.NoError(t, err)
		assert.Equal(t, int64(9), got.Interface())
	})

	t.Run("language tag", func(t *testing.T) {
		got, err := fromValue(languageTagType, store.StringValue("de"))
		require.NoError(t, err)
		assert.Equal(t, language.German, got.Interface())
	})
}

func TestSerializeRoundTrip(t *testing.T) {
	type payload struct {
		A int
		B string
		C []float64
	}
	in := payload{A: 1, B: "two", C: []float64{3, 4.5}}

	data, err := serializeValue(reflect.ValueOf(in))
	require.NoError(t, err)
	require.NotEmpty(t, data)

	out, err := deserializeValue(reflect.TypeOf(payload{}), data)
	require.NoError(t, err)
	assert.Equal(t, in, out.Interface())

	t.Run("corrupt payload", func(t *testing.T) {
		_, err := deserializeValue(reflect.TypeOf(payload{}), []byte("junk"))
		assert.Error(t, err)
	})
}

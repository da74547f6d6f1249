package serializer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestNew(t *testing.T) {
	tests := []struct {
		format  string
		want    any
		wantErr bool
	}{
		{format: "", want: JSON{}},
		{format: FormatJSON, want: JSON{}},
		{format: FormatProto, want: Proto{}},
		{format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			s, err := New(tt.format)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, s)
		})
	}
}

func TestJSON_Struct(t *testing.T) {
	type reading struct {
		Sensor string  `json:"sensor"`
		Value  float64 `json:"value"`
	}

	data, err := JSON{}.Serialize(reading{Sensor: "t1", Value: 21.5})
	require.NoError(t, err)
	assert.JSONEq(t, `{"sensor":"t1","value":21.5}`, string(data))

	var got reading
	require.NoError(t, JSON{}.Deserialize(data, &got))
	assert.Equal(t, reading{Sensor: "t1", Value: 21.5}, got)
}

func TestJSON_InvalidInput(t *testing.T) {
	var n int
	assert.Error(t, JSON{}.Deserialize([]byte("{"), &n))
}

func TestProto_Message(t *testing.T) {
	data, err := Proto{}.Serialize(wrapperspb.String("hello"))
	require.NoError(t, err)

	got := &wrapperspb.StringValue{}
	require.NoError(t, Proto{}.Deserialize(data, got))
	assert.Equal(t, "hello", got.GetValue())
}

func TestProto_PointerToPointer(t *testing.T) {
	data, err := Proto{}.Serialize(wrapperspb.Int32(42))
	require.NoError(t, err)

	var got *wrapperspb.Int32Value
	require.NoError(t, Proto{}.Deserialize(data, &got))
	require.NotNil(t, got)
	assert.Equal(t, int32(42), got.GetValue())
}

func TestProto_RejectsPlainValues(t *testing.T) {
	_, err := Proto{}.Serialize("plain")
	assert.ErrorIs(t, err, ErrNotProtoMessage)

	var s string
	assert.ErrorIs(t, Proto{}.Deserialize(nil, &s), ErrNotProtoMessage)
}

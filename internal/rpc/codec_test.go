package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_InvokeLayout(t *testing.T) {
	data, err := encodeMessage(&message{ID: 1, Kind: kindInvoke, Name: "Add", Params: [][]byte{[]byte("2"), nil}})
	require.NoError(t, err)

	want := []byte{
		1, 0, 0, 0, // id
		10,         // kind
		3, 0, 0, 0, 'A', 'd', 'd',
		2, 0, 0, 0, // param count
		1, 0, 0, 0, '2',
		0xff, 0xff, 0xff, 0xff, // nil blob
	}
	assert.Equal(t, want, data)

	m, err := decodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, "Add", m.Name)
	require.Len(t, m.Params, 2)
	assert.Equal(t, []byte("2"), m.Params[0])
	assert.Nil(t, m.Params[1])
}

func TestCodec_ResponseWithError(t *testing.T) {
	in := &message{ID: 42, Kind: kindResponse, Error: &errorInfo{Type: "*errors.errorString", Message: "x", Details: "stack"}}
	data, err := encodeMessage(in)
	require.NoError(t, err)

	out, err := decodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestCodec_RejectsMalformed(t *testing.T) {
	valid, err := encodeMessage(&message{ID: 3, Kind: kindSubscribe, Name: "Ticked"})
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":        nil,
		"truncated":    valid[:len(valid)-2],
		"trailing":     append(append([]byte(nil), valid...), 0),
		"unknown kind": {0, 0, 0, 0, 99},
		"bad count":    {0, 0, 0, 0, 10, 0, 0, 0, 0, 0xff, 0xff, 0xff, 0x7f},
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decodeMessage(data)
			assert.ErrorIs(t, err, ErrMalformedMessage)
		})
	}

	_, err = encodeMessage(&message{Kind: 77})
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

package authenticated

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey(t *testing.T) {
	a := DeriveKey([]byte("secret"), []byte("salt"))
	b := DeriveKey([]byte("secret"), []byte("salt"))
	c := DeriveKey([]byte("secret"), []byte("other"))

	require.Len(t, a, keyLength)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Nil(t, DeriveKey(nil, []byte("salt")))
}

func TestChallengeAuthenticator(t *testing.T) {
	key := DeriveKey([]byte("secret"), nil)
	server := NewChallengeAuthenticator(key)
	client := NewChallengeAuthenticator(key)

	login := client.GetLoginMessage("svc", "rr-1")
	handshake := server.GetHandshakeMessage("svc", "rr-1", login)
	require.Len(t, handshake, nonceLength)
	assert.NotEqual(t, handshake, server.GetHandshakeMessage("svc", "rr-1", login))

	response := client.GetHandshakeResponseMessage("svc", "rr-1", handshake)
	assert.True(t, server.Authenticate("svc", "rr-1", login, handshake, response))

	t.Run("login must match receiver", func(t *testing.T) {
		assert.False(t, server.Authenticate("svc", "rr-2", login, handshake, response))
	})

	t.Run("wrong key", func(t *testing.T) {
		other := NewChallengeAuthenticator([]byte("other"))
		forged := other.GetHandshakeResponseMessage("svc", "rr-1", handshake)
		assert.False(t, server.Authenticate("svc", "rr-1", login, handshake, forged))
	})

	t.Run("malformed handshake", func(t *testing.T) {
		assert.Nil(t, client.GetHandshakeResponseMessage("svc", "rr-1", []byte("short")))
	})
}

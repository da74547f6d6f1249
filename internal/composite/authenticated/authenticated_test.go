package authenticated

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-duplex/internal/channel/local"
	"github.com/dep2p/go-duplex/pkg/interfaces"
	"github.com/dep2p/go-duplex/pkg/lib/log"
)

const waitFor = 3 * time.Second

func newNetwork() *local.Network {
	return local.NewNetwork(local.WithLogger(log.Discard()))
}

// startService 在 svc 上启动认证回显服务
func startService(t *testing.T, n *local.Network, key []byte, opts ...Option) (*InputChannel, *atomic.Int32) {
	t.Helper()

	auth := NewChallengeAuthenticator(key)
	raw, err := n.CreateDuplexInputChannel("svc")
	require.NoError(t, err)
	in, err := NewInputChannel(raw, auth.GetHandshakeMessage, auth.Authenticate, append(opts, WithLogger(log.Discard()))...)
	require.NoError(t, err)

	var received atomic.Int32
	in.MessageReceived().Subscribe(func(a interfaces.DuplexChannelMessageEventArgs) {
		received.Add(1)
		_ = in.SendResponseMessage(a.ResponseReceiverID, append([]byte("echo:"), a.Message...))
	})
	require.NoError(t, in.StartListening())
	t.Cleanup(in.StopListening)
	return in, &received
}

func newClient(t *testing.T, n *local.Network, key []byte, opts ...Option) *OutputChannel {
	t.Helper()

	auth := NewChallengeAuthenticator(key)
	raw, err := n.CreateDuplexOutputChannel("svc")
	require.NoError(t, err)
	out, err := NewOutputChannel(raw, auth.GetLoginMessage, auth.GetHandshakeResponseMessage, append(opts, WithLogger(log.Discard()))...)
	require.NoError(t, err)
	return out
}

func TestNewChannels_Validation(t *testing.T) {
	n := newNetwork()
	rawOut, _ := n.CreateDuplexOutputChannel("svc")
	rawIn, _ := n.CreateDuplexInputChannel("svc")
	auth := NewChallengeAuthenticator([]byte("k"))

	_, err := NewOutputChannel(nil, auth.GetLoginMessage, auth.GetHandshakeResponseMessage)
	assert.ErrorIs(t, err, ErrNilUnderlying)
	_, err = NewOutputChannel(rawOut, nil, auth.GetHandshakeResponseMessage)
	assert.ErrorIs(t, err, ErrNilCallback)
	_, err = NewInputChannel(nil, auth.GetHandshakeMessage, auth.Authenticate)
	assert.ErrorIs(t, err, ErrNilUnderlying)
	_, err = NewInputChannel(rawIn, auth.GetHandshakeMessage, nil)
	assert.ErrorIs(t, err, ErrNilCallback)
}

func TestAuthentication_Succeeds(t *testing.T) {
	n := newNetwork()
	key := DeriveKey([]byte("password"), []byte("salt"))
	in, _ := startService(t, n, key)

	connected := make(chan string, 1)
	in.ResponseReceiverConnected().Subscribe(func(a interfaces.ResponseReceiverEventArgs) {
		connected <- a.ResponseReceiverID
	})

	out := newClient(t, n, key)
	opened := make(chan struct{}, 1)
	out.ConnectionOpened().Subscribe(func(interfaces.DuplexChannelEventArgs) { opened <- struct{}{} })
	responses := make(chan string, 1)
	out.ResponseMessageReceived().Subscribe(func(a interfaces.DuplexChannelMessageEventArgs) {
		responses <- string(a.Message)
	})

	require.NoError(t, out.OpenConnection())
	defer out.CloseConnection()
	assert.True(t, out.IsConnected())
	assert.ErrorIs(t, out.OpenConnection(), ErrAlreadyConnected)

	select {
	case <-opened:
	case <-time.After(waitFor):
		t.Fatal("no opened event")
	}
	select {
	case id := <-connected:
		assert.Equal(t, out.ResponseReceiverID(), id)
	case <-time.After(waitFor):
		t.Fatal("service did not announce the client")
	}
	assert.Equal(t, 1, in.AuthenticatedCount())
	assert.Equal(t, 0, in.PendingCount())

	require.NoError(t, out.SendMessage([]byte("hi")))
	select {
	case r := <-responses:
		assert.Equal(t, "echo:hi", r)
	case <-time.After(waitFor):
		t.Fatal("no response")
	}
}

func TestAuthentication_WrongKey(t *testing.T) {
	n := newNetwork()
	in, received := startService(t, n, DeriveKey([]byte("right"), nil))

	out := newClient(t, n, DeriveKey([]byte("wrong"), nil), WithAuthenticationTimeout(time.Second))
	err := out.OpenConnection()
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.False(t, out.IsConnected())
	assert.ErrorIs(t, out.SendMessage([]byte("x")), ErrNotConnected)

	assert.Equal(t, 0, in.AuthenticatedCount())
	assert.Equal(t, int32(0), received.Load())
}

func TestAuthentication_Timeout(t *testing.T) {
	n := newNetwork()
	// 不响应的服务
	silent, _ := n.CreateDuplexInputChannel("svc")
	require.NoError(t, silent.StartListening())

	out := newClient(t, n, []byte("k"), WithAuthenticationTimeout(100*time.Millisecond))
	start := time.Now()
	err := out.OpenConnection()
	assert.ErrorIs(t, err, ErrAuthenticationTimeout)
	assert.Less(t, time.Since(start), waitFor)
	assert.False(t, out.IsConnected())
	assert.False(t, out.Underlying().IsConnected())
}

func TestAuthentication_NilLogin(t *testing.T) {
	n := newNetwork()
	startService(t, n, []byte("k"))

	raw, _ := n.CreateDuplexOutputChannel("svc")
	out, err := NewOutputChannel(raw,
		func(string, string) []byte { return nil },
		func(string, string, []byte) []byte { return []byte("x") },
		WithLogger(log.Discard()),
	)
	require.NoError(t, err)

	assert.ErrorIs(t, out.OpenConnection(), ErrAuthenticationFailed)
	assert.False(t, raw.IsConnected())
}

func TestAuthentication_BadAcknowledge(t *testing.T) {
	n := newNetwork()
	fake, _ := n.CreateDuplexInputChannel("svc")
	step := 0
	fake.MessageReceived().Subscribe(func(a interfaces.DuplexChannelMessageEventArgs) {
		step++
		if step == 1 {
			_ = fake.SendResponseMessage(a.ResponseReceiverID, []byte("challenge"))
			return
		}
		_ = fake.SendResponseMessage(a.ResponseReceiverID, []byte("NO"))
	})
	require.NoError(t, fake.StartListening())

	raw, _ := n.CreateDuplexOutputChannel("svc")
	out, err := NewOutputChannel(raw,
		func(string, string) []byte { return []byte("login") },
		func(string, string, []byte) []byte { return []byte("response") },
		WithLogger(log.Discard()),
	)
	require.NoError(t, err)

	assert.ErrorIs(t, out.OpenConnection(), ErrAuthenticationFailed)
	assert.False(t, out.IsConnected())
}

func TestService_NoDeliveryBeforeAuthentication(t *testing.T) {
	n := newNetwork()
	in, received := startService(t, n, []byte("k"))

	raw, _ := n.CreateDuplexOutputChannelWithID("svc", "intruder")
	handshakes := make(chan []byte, 1)
	raw.ResponseMessageReceived().Subscribe(func(a interfaces.DuplexChannelMessageEventArgs) {
		handshakes <- a.Message
	})
	closed := make(chan struct{}, 1)
	raw.ConnectionClosed().Subscribe(func(interfaces.DuplexChannelEventArgs) { closed <- struct{}{} })

	require.NoError(t, raw.OpenConnection())
	require.NoError(t, raw.SendMessage([]byte("intruder")))
	select {
	case <-handshakes:
	case <-time.After(waitFor):
		t.Fatal("no handshake")
	}
	assert.Equal(t, 1, in.PendingCount())
	assert.ErrorIs(t, in.SendResponseMessage("intruder", []byte("x")), ErrNotAuthenticated)

	require.NoError(t, raw.SendMessage([]byte("application payload")))
	select {
	case <-closed:
	case <-time.After(waitFor):
		t.Fatal("unauthenticated client not disconnected")
	}

	assert.Equal(t, int32(0), received.Load())
	assert.Equal(t, 0, in.PendingCount())
	assert.Equal(t, 0, in.AuthenticatedCount())
}

func TestService_AuthenticatePanicRejects(t *testing.T) {
	n := newNetwork()
	auth := NewChallengeAuthenticator([]byte("k"))
	raw, _ := n.CreateDuplexInputChannel("svc")
	in, err := NewInputChannel(raw, auth.GetHandshakeMessage,
		func(string, string, []byte, []byte, []byte) bool { panic("boom") },
		WithLogger(log.Discard()),
	)
	require.NoError(t, err)
	require.NoError(t, in.StartListening())
	defer in.StopListening()

	out := newClient(t, n, []byte("k"), WithAuthenticationTimeout(time.Second))
	assert.Error(t, out.OpenConnection())
	assert.Equal(t, 0, in.AuthenticatedCount())
}

func TestService_AuthenticationCancelled(t *testing.T) {
	n := newNetwork()
	cancelled := make(chan string, 1)
	in, _ := startService(t, n, []byte("k"), WithAuthenticationCancelled(func(_, rrID string, login []byte) {
		cancelled <- rrID + ":" + string(login)
	}))

	raw, _ := n.CreateDuplexOutputChannelWithID("svc", "c1")
	handshakes := make(chan struct{}, 1)
	raw.ResponseMessageReceived().Subscribe(func(interfaces.DuplexChannelMessageEventArgs) {
		handshakes <- struct{}{}
	})
	require.NoError(t, raw.OpenConnection())
	require.NoError(t, raw.SendMessage([]byte("c1")))
	select {
	case <-handshakes:
	case <-time.After(waitFor):
		t.Fatal("no handshake")
	}

	raw.CloseConnection()
	select {
	case got := <-cancelled:
		assert.Equal(t, "c1:c1", got)
	case <-time.After(waitFor):
		t.Fatal("cancellation not reported")
	}
	assert.Equal(t, 0, in.PendingCount())
}

func TestAuthenticatedDisconnect_RaisesEvents(t *testing.T) {
	n := newNetwork()
	key := []byte("k")
	in, _ := startService(t, n, key)

	disconnected := make(chan string, 1)
	in.ResponseReceiverDisconnected().Subscribe(func(a interfaces.ResponseReceiverEventArgs) {
		disconnected <- a.ResponseReceiverID
	})

	out := newClient(t, n, key)
	require.NoError(t, out.OpenConnection())

	closed := make(chan struct{}, 1)
	out.ConnectionClosed().Subscribe(func(interfaces.DuplexChannelEventArgs) { closed <- struct{}{} })
	out.CloseConnection()
	out.CloseConnection()

	select {
	case <-closed:
	case <-time.After(waitFor):
		t.Fatal("client closed event missing")
	}
	select {
	case id := <-disconnected:
		assert.Equal(t, out.ResponseReceiverID(), id)
	case <-time.After(waitFor):
		t.Fatal("service disconnected event missing")
	}
	assert.Equal(t, 0, in.AuthenticatedCount())
}

func TestMessagingSystem(t *testing.T) {
	n := newNetwork()
	auth := NewChallengeAuthenticator(DeriveKey([]byte("shared"), []byte("salt")))
	factory := NewMessagingSystem(n, auth.Callbacks(), WithLogger(log.Discard()))

	in, err := factory.CreateDuplexInputChannel("svc")
	require.NoError(t, err)
	require.NoError(t, in.StartListening())
	defer in.StopListening()

	out, err := factory.CreateDuplexOutputChannelWithID("svc", "client-7")
	require.NoError(t, err)
	require.NoError(t, out.OpenConnection())
	defer out.CloseConnection()
	assert.Equal(t, "client-7", out.ResponseReceiverID())

	_, err = NewMessagingSystem(n, Callbacks{}).CreateDuplexOutputChannel("svc")
	assert.ErrorIs(t, err, ErrNilCallback)
}

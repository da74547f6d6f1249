package attach

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-duplex/internal/channel/local"
	"github.com/dep2p/go-duplex/pkg/interfaces"
	"github.com/dep2p/go-duplex/pkg/lib/log"
)

func TestOutputAttacher_AttachOpensConnection(t *testing.T) {
	n := local.NewNetwork(local.WithLogger(log.Discard()))
	in, _ := n.CreateDuplexInputChannel("svc")
	require.NoError(t, in.StartListening())

	a := NewOutputAttacher(OutputHandlers{
		ConnectionClosed: func(interfaces.DuplexChannelEventArgs) {},
	})
	out, _ := n.CreateDuplexOutputChannel("svc")

	assert.ErrorIs(t, a.Attach(nil), ErrNilChannel)
	assert.ErrorIs(t, a.Send([]byte("x")), ErrNotAttached)

	require.NoError(t, a.Attach(out))
	assert.True(t, a.IsAttached())
	assert.True(t, out.IsConnected())
	assert.ErrorIs(t, a.Attach(out), ErrAlreadyAttached)
	require.NoError(t, a.Send([]byte("x")))

	a.Detach()
	assert.False(t, a.IsAttached())
	assert.False(t, out.IsConnected())
	assert.Equal(t, 0, out.ConnectionClosed().Count())

	assert.NotPanics(t, a.Detach)
}

func TestOutputAttacher_OpenFailureRollsBack(t *testing.T) {
	n := local.NewNetwork(local.WithLogger(log.Discard()))
	a := NewOutputAttacher(OutputHandlers{
		ResponseMessageReceived: func(interfaces.DuplexChannelMessageEventArgs) {},
	})
	out, _ := n.CreateDuplexOutputChannel("nobody")

	err := a.Attach(out)
	assert.ErrorIs(t, err, local.ErrNoListener)
	assert.False(t, a.IsAttached())
	assert.Equal(t, 0, out.ResponseMessageReceived().Count())
}

func TestInputAttacher_Lifecycle(t *testing.T) {
	n := local.NewNetwork(local.WithLogger(log.Discard()))
	received := make(chan string, 1)
	a := NewInputAttacher(InputHandlers{
		MessageReceived: func(m interfaces.DuplexChannelMessageEventArgs) { received <- string(m.Message) },
	})
	in, _ := n.CreateDuplexInputChannel("svc")

	require.NoError(t, a.Attach(in))
	assert.True(t, in.IsListening())
	assert.ErrorIs(t, a.SendResponse("missing", []byte("x")), local.ErrResponseReceiverNotFound)

	out, _ := n.CreateDuplexOutputChannel("svc")
	require.NoError(t, out.OpenConnection())
	require.NoError(t, out.SendMessage([]byte("hello")))
	select {
	case m := <-received:
		assert.Equal(t, "hello", m)
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}

	a.Detach()
	assert.False(t, in.IsListening())
	assert.Equal(t, 0, in.MessageReceived().Count())
	assert.ErrorIs(t, a.SendResponse(out.ResponseReceiverID(), nil), ErrNotAttached)
}

func TestInputAttacher_ListenFailureRollsBack(t *testing.T) {
	n := local.NewNetwork(local.WithLogger(log.Discard()))
	first, _ := n.CreateDuplexInputChannel("svc")
	require.NoError(t, first.StartListening())

	a := NewInputAttacher(InputHandlers{
		ResponseReceiverConnected: func(interfaces.ResponseReceiverEventArgs) {},
	})
	second, _ := n.CreateDuplexInputChannel("svc")
	err := a.Attach(second)
	assert.ErrorIs(t, err, local.ErrAddressInUse)
	assert.False(t, a.IsAttached())
	assert.Equal(t, 0, second.ResponseReceiverConnected().Count())
}

func TestInputAttacher_Disconnect(t *testing.T) {
	n := local.NewNetwork(local.WithLogger(log.Discard()))
	a := NewInputAttacher(InputHandlers{})
	assert.ErrorIs(t, a.Disconnect("anyone"), ErrNotAttached)

	in, _ := n.CreateDuplexInputChannel("svc")
	require.NoError(t, a.Attach(in))
	defer a.Detach()

	out, _ := n.CreateDuplexOutputChannel("svc")
	require.NoError(t, out.OpenConnection())

	require.NoError(t, a.Disconnect(out.ResponseReceiverID()))
	require.Eventually(t, func() bool { return !out.IsConnected() }, 2*time.Second, 10*time.Millisecond)
}

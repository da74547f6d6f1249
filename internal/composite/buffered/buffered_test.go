package buffered

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-duplex/internal/channel/local"
	"github.com/dep2p/go-duplex/pkg/interfaces"
	"github.com/dep2p/go-duplex/pkg/lib/event"
	"github.com/dep2p/go-duplex/pkg/lib/log"
)

const waitFor = 3 * time.Second

func fastOptions(maxOffline time.Duration) []Option {
	return []Option{
		WithMaxOfflineTime(maxOffline),
		WithRetryInterval(20 * time.Millisecond),
		WithLogger(log.Discard()),
	}
}

// recorder 收集服务端收到的消息
type recorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *recorder) add(a interfaces.DuplexChannelMessageEventArgs) {
	r.mu.Lock()
	r.messages = append(r.messages, string(a.Message))
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func TestNewChannels_NilUnderlying(t *testing.T) {
	_, err := NewOutputChannel(nil)
	assert.ErrorIs(t, err, ErrNilUnderlying)
	_, err = NewInputChannel(nil)
	assert.ErrorIs(t, err, ErrNilUnderlying)
}

func TestOutputChannel_SendBeforeOpen(t *testing.T) {
	n := local.NewNetwork(local.WithLogger(log.Discard()))
	raw, err := n.CreateDuplexOutputChannel("svc")
	require.NoError(t, err)
	out, err := NewOutputChannel(raw, fastOptions(time.Second)...)
	require.NoError(t, err)

	assert.ErrorIs(t, out.SendMessage([]byte("x")), ErrNotConnected)
	assert.NotPanics(t, out.CloseConnection)
}

func TestOutputChannel_DeliversAfterServiceAppears(t *testing.T) {
	n := local.NewNetwork(local.WithLogger(log.Discard()))
	factory := NewMessagingSystem(n, fastOptions(2*time.Second)...)

	out, err := factory.CreateDuplexOutputChannel("svc")
	require.NoError(t, err)
	require.NoError(t, out.OpenConnection())
	defer out.CloseConnection()

	assert.True(t, out.IsConnected())
	assert.False(t, out.(*OutputChannel).IsOnline())
	require.NoError(t, out.SendMessage([]byte("m1")))

	time.Sleep(200 * time.Millisecond)

	in, err := n.CreateDuplexInputChannel("svc")
	require.NoError(t, err)
	rec := &recorder{}
	in.MessageReceived().Subscribe(rec.add)
	require.NoError(t, in.StartListening())
	defer in.StopListening()

	assert.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, waitFor, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"m1"}, rec.snapshot())
	assert.Equal(t, 0, out.(*OutputChannel).QueueLength())
}

func TestOutputChannel_PreservesOrder(t *testing.T) {
	n := local.NewNetwork(local.WithLogger(log.Discard()))
	raw, _ := n.CreateDuplexOutputChannel("svc")
	out, err := NewOutputChannel(raw, fastOptions(2*time.Second)...)
	require.NoError(t, err)
	require.NoError(t, out.OpenConnection())
	defer out.CloseConnection()

	const count = 50
	var want []string
	for i := 0; i < count/2; i++ {
		msg := fmt.Sprintf("m%d", i)
		want = append(want, msg)
		require.NoError(t, out.SendMessage([]byte(msg)))
	}

	in, _ := n.CreateDuplexInputChannel("svc")
	rec := &recorder{}
	in.MessageReceived().Subscribe(rec.add)
	require.NoError(t, in.StartListening())
	defer in.StopListening()

	for i := count / 2; i < count; i++ {
		msg := fmt.Sprintf("m%d", i)
		want = append(want, msg)
		require.NoError(t, out.SendMessage([]byte(msg)))
	}

	assert.Eventually(t, func() bool { return len(rec.snapshot()) == count }, waitFor, 10*time.Millisecond)
	assert.Equal(t, want, rec.snapshot())
}

func TestOutputChannel_OfflineWindowExpires(t *testing.T) {
	n := local.NewNetwork(local.WithLogger(log.Discard()))
	raw, _ := n.CreateDuplexOutputChannel("svc")
	out, err := NewOutputChannel(raw, fastOptions(150*time.Millisecond)...)
	require.NoError(t, err)

	closed := make(chan struct{}, 1)
	out.ConnectionClosed().Subscribe(func(interfaces.DuplexChannelEventArgs) { closed <- struct{}{} })
	dropped := make(chan DroppedMessagesEventArgs, 1)
	out.MessagesDropped().Subscribe(func(a DroppedMessagesEventArgs) { dropped <- a })

	require.NoError(t, out.OpenConnection())
	require.NoError(t, out.SendMessage([]byte("lost")))

	select {
	case <-closed:
	case <-time.After(waitFor):
		t.Fatal("connection not closed after offline window")
	}
	select {
	case a := <-dropped:
		require.Len(t, a.Messages, 1)
		assert.Equal(t, "lost", string(a.Messages[0]))
	case <-time.After(waitFor):
		t.Fatal("no dropped event")
	}

	assert.False(t, out.IsConnected())
	assert.Equal(t, 0, out.QueueLength())
	assert.ErrorIs(t, out.SendMessage([]byte("x")), ErrNotConnected)

	// 可重新打开
	require.NoError(t, out.OpenConnection())
	out.CloseConnection()
}

func TestOutputChannel_ReconnectsAfterServerDisconnect(t *testing.T) {
	n := local.NewNetwork(local.WithLogger(log.Discard()))
	in, _ := n.CreateDuplexInputChannel("svc")
	rec := &recorder{}
	in.MessageReceived().Subscribe(rec.add)
	require.NoError(t, in.StartListening())
	defer in.StopListening()

	raw, _ := n.CreateDuplexOutputChannelWithID("svc", "client-1")
	out, err := NewOutputChannel(raw, fastOptions(2*time.Second)...)
	require.NoError(t, err)

	offline := make(chan struct{}, 4)
	online := make(chan struct{}, 4)
	out.ConnectionOffline().Subscribe(func(interfaces.DuplexChannelEventArgs) { offline <- struct{}{} })
	out.ConnectionOnline().Subscribe(func(interfaces.DuplexChannelEventArgs) { online <- struct{}{} })

	require.NoError(t, out.OpenConnection())
	defer out.CloseConnection()
	assert.Eventually(t, out.IsOnline, waitFor, 10*time.Millisecond)

	require.NoError(t, in.DisconnectResponseReceiver("client-1"))

	select {
	case <-offline:
	case <-time.After(waitFor):
		t.Fatal("no offline event")
	}
	assert.Eventually(t, out.IsOnline, waitFor, 10*time.Millisecond)
	assert.True(t, out.IsConnected())

	require.NoError(t, out.SendMessage([]byte("after")))
	assert.Eventually(t, func() bool {
		msgs := rec.snapshot()
		return len(msgs) == 1 && msgs[0] == "after"
	}, waitFor, 10*time.Millisecond)
}

func TestOutputChannel_CloseIsIdempotent(t *testing.T) {
	n := local.NewNetwork(local.WithLogger(log.Discard()))
	raw, _ := n.CreateDuplexOutputChannel("svc")
	out, _ := NewOutputChannel(raw, fastOptions(time.Second)...)

	closed := 0
	var mu sync.Mutex
	out.ConnectionClosed().Subscribe(func(interfaces.DuplexChannelEventArgs) {
		mu.Lock()
		closed++
		mu.Unlock()
	})

	require.NoError(t, out.OpenConnection())
	assert.ErrorIs(t, out.OpenConnection(), ErrAlreadyConnected)
	require.NoError(t, out.SendMessage([]byte("pending")))

	out.CloseConnection()
	out.CloseConnection()

	mu.Lock()
	assert.Equal(t, 1, closed)
	mu.Unlock()
	assert.False(t, out.IsConnected())
	assert.False(t, raw.IsConnected())
}

func TestInputChannel_OfflineClientKeepsIdentity(t *testing.T) {
	n := local.NewNetwork(local.WithLogger(log.Discard()))
	rawIn, _ := n.CreateDuplexInputChannel("svc")
	in, err := NewInputChannel(rawIn, fastOptions(300*time.Millisecond)...)
	require.NoError(t, err)

	var mu sync.Mutex
	events := []string{}
	record := func(kind string) func(interfaces.ResponseReceiverEventArgs) {
		return func(a interfaces.ResponseReceiverEventArgs) {
			mu.Lock()
			events = append(events, kind+":"+a.ResponseReceiverID)
			mu.Unlock()
		}
	}
	in.ResponseReceiverConnected().Subscribe(record("connected"))
	in.ResponseReceiverDisconnected().Subscribe(record("disconnected"))
	in.ResponseReceiverOnline().Subscribe(record("online"))
	in.ResponseReceiverOffline().Subscribe(record("offline"))
	snapshot := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), events...)
	}

	require.NoError(t, in.StartListening())
	defer in.StopListening()

	client, _ := n.CreateDuplexOutputChannelWithID("svc", "c1")
	require.NoError(t, client.OpenConnection())
	assert.Eventually(t, func() bool { return len(snapshot()) == 1 }, waitFor, 10*time.Millisecond)

	client.CloseConnection()
	assert.Eventually(t, func() bool { return len(snapshot()) == 2 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, 1, in.ReceiverCount())
	assert.False(t, in.IsResponseReceiverOnline("c1"))

	require.NoError(t, client.OpenConnection())
	assert.Eventually(t, func() bool { return len(snapshot()) == 3 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, []string{"connected:c1", "offline:c1", "online:c1"}, snapshot())

	client.CloseConnection()
	assert.Eventually(t, func() bool { return len(snapshot()) == 5 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, "disconnected:c1", snapshot()[4])
	assert.Equal(t, 0, in.ReceiverCount())
}

func TestInputChannel_ResponseWaitsForReceiver(t *testing.T) {
	n := local.NewNetwork(local.WithLogger(log.Discard()))
	rawIn, _ := n.CreateDuplexInputChannel("svc")
	in, _ := NewInputChannel(rawIn, fastOptions(2*time.Second)...)

	assert.ErrorIs(t, in.SendResponseMessage("c1", []byte("x")), ErrNotListening)
	require.NoError(t, in.StartListening())
	defer in.StopListening()

	require.NoError(t, in.SendResponseMessage("c1", []byte("early")))
	assert.Equal(t, 1, in.ReceiverCount())

	client, _ := n.CreateDuplexOutputChannelWithID("svc", "c1")
	responses := make(chan string, 1)
	client.ResponseMessageReceived().Subscribe(func(a interfaces.DuplexChannelMessageEventArgs) {
		responses <- string(a.Message)
	})
	require.NoError(t, client.OpenConnection())
	defer client.CloseConnection()

	select {
	case r := <-responses:
		assert.Equal(t, "early", r)
	case <-time.After(waitFor):
		t.Fatal("queued response not delivered")
	}
}

func TestInputChannel_DisconnectResponseReceiver(t *testing.T) {
	n := local.NewNetwork(local.WithLogger(log.Discard()))
	rawIn, _ := n.CreateDuplexInputChannel("svc")
	in, _ := NewInputChannel(rawIn, fastOptions(time.Second)...)
	require.NoError(t, in.StartListening())
	defer in.StopListening()

	disconnected := make(chan struct{}, 1)
	in.ResponseReceiverDisconnected().Subscribe(func(interfaces.ResponseReceiverEventArgs) {
		disconnected <- struct{}{}
	})

	client, _ := n.CreateDuplexOutputChannelWithID("svc", "c1")
	require.NoError(t, client.OpenConnection())
	assert.Eventually(t, func() bool { return in.IsResponseReceiverOnline("c1") }, waitFor, 10*time.Millisecond)

	require.NoError(t, in.DisconnectResponseReceiver("c1"))
	assert.Equal(t, 0, in.ReceiverCount())
	assert.Eventually(t, func() bool { return !client.IsConnected() }, waitFor, 10*time.Millisecond)

	select {
	case <-disconnected:
		t.Fatal("explicit disconnect must not raise disconnected")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBufferedPair_EndToEnd(t *testing.T) {
	n := local.NewNetwork(local.WithLogger(log.Discard()))
	factory := NewMessagingSystem(n, fastOptions(2*time.Second)...)

	in, err := factory.CreateDuplexInputChannel("svc")
	require.NoError(t, err)
	in.MessageReceived().Subscribe(func(a interfaces.DuplexChannelMessageEventArgs) {
		_ = in.SendResponseMessage(a.ResponseReceiverID, append([]byte("re:"), a.Message...))
	})
	require.NoError(t, in.StartListening())
	defer in.StopListening()

	out, err := factory.CreateDuplexOutputChannelWithID("svc", "client-9")
	require.NoError(t, err)
	responses := make(chan string, 1)
	out.ResponseMessageReceived().Subscribe(func(a interfaces.DuplexChannelMessageEventArgs) {
		assert.Equal(t, "client-9", a.ResponseReceiverID)
		responses <- string(a.Message)
	})
	require.NoError(t, out.OpenConnection())
	defer out.CloseConnection()

	require.NoError(t, out.SendMessage([]byte("ping")))
	select {
	case r := <-responses:
		assert.Equal(t, "re:ping", r)
	case <-time.After(waitFor):
		t.Fatal("no response")
	}
}

// ============================================================================
//                              可编排的底层通道
// ============================================================================

type openStep struct {
	delay time.Duration
	err   error
}

// scriptedOutput 打开与发送结果按脚本执行的底层输出通道
type scriptedOutput struct {
	mu        sync.Mutex
	connected bool
	opens     []openStep
	failSends map[int]bool
	attempts  int
	sent      []string

	opened   event.Event[interfaces.DuplexChannelEventArgs]
	closed   event.Event[interfaces.DuplexChannelEventArgs]
	received event.Event[interfaces.DuplexChannelMessageEventArgs]
}

func (f *scriptedOutput) ChannelID() string          { return "scripted" }
func (f *scriptedOutput) ResponseReceiverID() string { return "scripted-rr" }

func (f *scriptedOutput) OpenConnection() error {
	f.mu.Lock()
	var step openStep
	if len(f.opens) > 0 {
		step = f.opens[0]
		f.opens = f.opens[1:]
	}
	f.mu.Unlock()

	if step.delay > 0 {
		time.Sleep(step.delay)
	}
	if step.err != nil {
		return step.err
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	f.opened.Raise(interfaces.DuplexChannelEventArgs{ChannelID: f.ChannelID()})
	return nil
}

func (f *scriptedOutput) CloseConnection() {
	f.mu.Lock()
	was := f.connected
	f.connected = false
	f.mu.Unlock()
	if was {
		f.closed.Raise(interfaces.DuplexChannelEventArgs{ChannelID: f.ChannelID()})
	}
}

func (f *scriptedOutput) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// SendMessage 第 n 次发送尝试（从 1 计）在 failSends[n] 为真时失败
func (f *scriptedOutput) SendMessage(message []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return errors.New("scripted: not connected")
	}
	f.attempts++
	if f.failSends[f.attempts] {
		return errors.New("scripted: transient send failure")
	}
	f.sent = append(f.sent, string(message))
	return nil
}

func (f *scriptedOutput) ConnectionOpened() *event.Event[interfaces.DuplexChannelEventArgs] {
	return &f.opened
}

func (f *scriptedOutput) ConnectionClosed() *event.Event[interfaces.DuplexChannelEventArgs] {
	return &f.closed
}

func (f *scriptedOutput) ResponseMessageReceived() *event.Event[interfaces.DuplexChannelMessageEventArgs] {
	return &f.received
}

func (f *scriptedOutput) snapshot() (sent []string, attempts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...), f.attempts
}

func TestOutputChannel_RetriesFailedSendInOrder(t *testing.T) {
	raw := &scriptedOutput{failSends: map[int]bool{3: true}}
	out, err := NewOutputChannel(raw, fastOptions(2*time.Second)...)
	require.NoError(t, err)
	require.NoError(t, out.OpenConnection())
	defer out.CloseConnection()
	require.Eventually(t, raw.IsConnected, waitFor, 5*time.Millisecond)

	var want []string
	for i := 1; i <= 5; i++ {
		msg := fmt.Sprintf("m%d", i)
		want = append(want, msg)
		require.NoError(t, out.SendMessage([]byte(msg)))
	}

	require.Eventually(t, func() bool {
		sent, _ := raw.snapshot()
		return len(sent) == len(want)
	}, waitFor, 5*time.Millisecond)
	sent, attempts := raw.snapshot()
	assert.Equal(t, want, sent)
	assert.Equal(t, len(want)+1, attempts)
	assert.Equal(t, 0, out.QueueLength())
	assert.True(t, out.IsConnected())
}

func TestOutputChannel_ExpiryDuringSlowReconnectClosesUnderlying(t *testing.T) {
	raw := &scriptedOutput{opens: []openStep{
		{err: errors.New("scripted: refused")},
		{delay: 400 * time.Millisecond},
	}}
	out, err := NewOutputChannel(raw,
		WithMaxOfflineTime(250*time.Millisecond),
		WithRetryInterval(50*time.Millisecond),
		WithLogger(log.Discard()),
	)
	require.NoError(t, err)

	closed := make(chan struct{}, 1)
	out.ConnectionClosed().Subscribe(func(interfaces.DuplexChannelEventArgs) { closed <- struct{}{} })
	dropped := make(chan DroppedMessagesEventArgs, 1)
	out.MessagesDropped().Subscribe(func(a DroppedMessagesEventArgs) { dropped <- a })

	require.NoError(t, out.OpenConnection())
	require.NoError(t, out.SendMessage([]byte("queued")))

	select {
	case <-closed:
	case <-time.After(waitFor):
		t.Fatal("connection not closed after offline window")
	}
	select {
	case a := <-dropped:
		require.Len(t, a.Messages, 1)
		assert.Equal(t, "queued", string(a.Messages[0]))
	case <-time.After(waitFor):
		t.Fatal("no dropped event")
	}

	assert.False(t, out.IsConnected())
	assert.False(t, raw.IsConnected())
	time.Sleep(200 * time.Millisecond)
	assert.False(t, raw.IsConnected())
	sent, _ := raw.snapshot()
	assert.Empty(t, sent)
}

package duplex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-duplex/config"
	"github.com/dep2p/go-duplex/pkg/lib/event"
)

const waitFor = 5 * time.Second

// Greeter 测试用服务接口
type Greeter interface {
	Greet(name string) (string, error)
	Joined() *event.Event[string]
}

type greeter struct {
	joined event.Event[string]
}

func (g *greeter) Greet(name string) (string, error) {
	if name == "" {
		return "", errors.New("empty name")
	}
	g.joined.Raise(name)
	return "hello " + name, nil
}

func (g *greeter) Joined() *event.Event[string] { return &g.joined }

func startNode(t *testing.T, opts ...Option) *Node {
	t.Helper()
	opts = append([]Option{WithLogOutput(io.Discard)}, opts...)
	node, err := Start(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Close() })
	return node
}

func TestNode_Lifecycle(t *testing.T) {
	node, err := New(WithLogOutput(io.Discard))
	require.NoError(t, err)

	ctx := context.Background()
	assert.ErrorIs(t, node.Stop(ctx), ErrNotStarted)
	require.NoError(t, node.Start(ctx))
	assert.True(t, node.IsStarted())
	assert.ErrorIs(t, node.Start(ctx), ErrAlreadyStarted)
	require.NoError(t, node.Stop(ctx))
	assert.False(t, node.IsStarted())

	require.NoError(t, node.Close())
	require.NoError(t, node.Close())
	assert.ErrorIs(t, node.Start(ctx), ErrNodeClosed)
	_, err = node.CreateInputChannel("svc")
	assert.ErrorIs(t, err, ErrNodeClosed)
	_, err = NewBrokerClient(node)
	assert.ErrorIs(t, err, ErrNodeClosed)
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := New(WithLogOutput(io.Discard), WithTransport("carrier-pigeon"))
	assert.ErrorIs(t, err, config.ErrInvalidValue)

	_, err = New(WithLogOutput(io.Discard), WithAuthentication("", "salt"))
	assert.ErrorIs(t, err, config.ErrMissingValue)

	_, err = New(WithLogOutput(io.Discard), WithConfig(nil))
	assert.ErrorIs(t, err, ErrNilConfig)

	_, err = New(WithLogOutput(io.Discard), WithSerializer("xml"))
	assert.ErrorIs(t, err, config.ErrInvalidValue)
}

func TestNode_RPCOverComposedLocalStack(t *testing.T) {
	node := startNode(t,
		WithBuffered(2*time.Second),
		WithAuthentication("s3cret", "salt"),
	)

	svc, err := NewRPCService[Greeter](node, &greeter{})
	require.NoError(t, err)
	in, err := node.CreateInputChannel("greeter")
	require.NoError(t, err)
	require.NoError(t, svc.AttachDuplexInputChannel(in))

	client, err := NewRPCClient[Greeter](node)
	require.NoError(t, err)
	out, err := node.CreateOutputChannel("greeter")
	require.NoError(t, err)
	require.NoError(t, client.AttachDuplexOutputChannel(out))

	joined := make(chan string, 1)
	_, err = SubscribeEvent(client, "Joined", func(name string) { joined <- name })
	require.NoError(t, err)
	require.Eventually(t, func() bool { return svc.SubscriberCount("Joined") == 1 }, waitFor, 10*time.Millisecond)

	ctx := context.Background()
	reply, err := Call[string](ctx, client, "Greet", "ada")
	require.NoError(t, err)
	assert.Equal(t, "hello ada", reply)

	select {
	case name := <-joined:
		assert.Equal(t, "ada", name)
	case <-time.After(waitFor):
		t.Fatal("remote event not delivered")
	}

	_, err = Call[string](ctx, client, "Greet", "")
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "empty name", remote.Message)
}

func TestNode_AuthenticationRejectsForeignKey(t *testing.T) {
	server := startNode(t, WithTransport(config.TransportWebSocket), WithAuthentication("right", "salt"))
	client := startNode(t, WithTransport(config.TransportWebSocket),
		WithAuthentication("wrong", "salt"),
		WithAuthenticationTimeout(2*time.Second),
	)

	channelID := wsChannelID(t, "secure")
	in, err := server.CreateInputChannel(channelID)
	require.NoError(t, err)
	require.NoError(t, in.StartListening())
	defer in.StopListening()

	out, err := client.CreateOutputChannel(channelID)
	require.NoError(t, err)
	assert.Error(t, out.OpenConnection())
	assert.False(t, out.IsConnected())
}

func TestNode_BrokerOverWebSocket(t *testing.T) {
	node := startNode(t, WithTransport(config.TransportWebSocket), WithAuthentication("s3cret", ""))

	svc, err := NewBrokerService(node)
	require.NoError(t, err)
	channelID := wsChannelID(t, "broker")
	in, err := node.CreateInputChannel(channelID)
	require.NoError(t, err)
	require.NoError(t, svc.AttachDuplexInputChannel(in))

	newClient := func() *BrokerClient {
		c, err := NewBrokerClient(node)
		require.NoError(t, err)
		out, err := node.CreateOutputChannel(channelID)
		require.NoError(t, err)
		require.NoError(t, c.AttachDuplexOutputChannel(out))
		return c
	}
	temps, alerts, pub := newClient(), newClient(), newClient()

	var mu sync.Mutex
	got := map[string][]string{}
	record := func(who string) func(BrokerMessageEventArgs) {
		return func(a BrokerMessageEventArgs) {
			mu.Lock()
			got[who] = append(got[who], a.MessageTypeID)
			mu.Unlock()
		}
	}
	temps.BrokerMessageReceived().Subscribe(record("temps"))
	alerts.BrokerMessageReceived().Subscribe(record("alerts"))

	require.NoError(t, temps.SubscribeRegExp("temp.*"))
	require.NoError(t, alerts.Subscribe("alerts"))
	require.Eventually(t, func() bool {
		exact, regex := svc.SubscriptionCount()
		return exact == 1 && regex == 1
	}, waitFor, 10*time.Millisecond)

	require.NoError(t, pub.PublishValue("temp.kitchen", 21.5))
	require.NoError(t, pub.PublishValue("alerts", "smoke"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got["temps"]) == 1 && len(got["alerts"]) == 1
	}, waitFor, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"temp.kitchen"}, got["temps"])
	assert.Equal(t, []string{"alerts"}, got["alerts"])
}

func TestNode_MetricsRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	node := startNode(t, WithMetricsRegisterer(reg))

	svc, err := NewBrokerService(node)
	require.NoError(t, err)
	in, err := node.CreateInputChannel("metrics")
	require.NoError(t, err)
	require.NoError(t, svc.AttachDuplexInputChannel(in))
	require.NoError(t, svc.Publish("nobody", nil))

	expected := `
# HELP duplex_broker_publications_total Messages published to the broker.
# TYPE duplex_broker_publications_total counter
duplex_broker_publications_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "duplex_broker_publications_total"))
}

// wsChannelID 返回本机空闲端口上的 ChannelID
func wsChannelID(t *testing.T, path string) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	return fmt.Sprintf("ws://%s/%s", addr, path)
}

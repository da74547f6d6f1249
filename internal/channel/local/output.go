package local

import (
	"sync"

	"github.com/dep2p/go-duplex/internal/dispatch"
	"github.com/dep2p/go-duplex/pkg/interfaces"
	"github.com/dep2p/go-duplex/pkg/lib/event"
	"github.com/dep2p/go-duplex/pkg/lib/log"
)

// OutputChannel 进程内输出通道
type OutputChannel struct {
	network            *Network
	channelID          string
	responseReceiverID string
	dispatcher         *dispatch.Serial

	mu     sync.Mutex
	server *InputChannel

	connectionOpened        event.Event[interfaces.DuplexChannelEventArgs]
	connectionClosed        event.Event[interfaces.DuplexChannelEventArgs]
	responseMessageReceived event.Event[interfaces.DuplexChannelMessageEventArgs]
}

var _ interfaces.DuplexOutputChannel = (*OutputChannel)(nil)

func newOutputChannel(n *Network, channelID, responseReceiverID string) *OutputChannel {
	return &OutputChannel{
		network:            n,
		channelID:          channelID,
		responseReceiverID: responseReceiverID,
		dispatcher:         dispatch.NewSerial(),
	}
}

// ChannelID 返回服务地址
func (o *OutputChannel) ChannelID() string { return o.channelID }

// ResponseReceiverID 返回连接标识
func (o *OutputChannel) ResponseReceiverID() string { return o.responseReceiverID }

// ConnectionOpened 连接打开事件
func (o *OutputChannel) ConnectionOpened() *event.Event[interfaces.DuplexChannelEventArgs] {
	return &o.connectionOpened
}

// ConnectionClosed 连接关闭事件
func (o *OutputChannel) ConnectionClosed() *event.Event[interfaces.DuplexChannelEventArgs] {
	return &o.connectionClosed
}

// ResponseMessageReceived 响应消息事件
func (o *OutputChannel) ResponseMessageReceived() *event.Event[interfaces.DuplexChannelMessageEventArgs] {
	return &o.responseMessageReceived
}

// OpenConnection 连接到同一 Network 上监听 ChannelID 的输入通道
func (o *OutputChannel) OpenConnection() error {
	o.mu.Lock()
	if o.server != nil {
		o.mu.Unlock()
		return ErrAlreadyConnected
	}

	server := o.network.lookup(o.channelID)
	if server == nil {
		o.mu.Unlock()
		return ErrNoListener
	}
	if err := server.accept(o); err != nil {
		o.mu.Unlock()
		return err
	}
	o.server = server
	o.mu.Unlock()

	o.network.logger.Debug("本地连接已打开", "channelID", o.channelID, "responseReceiverID", log.TruncateID(o.responseReceiverID, 8))

	args := o.eventArgs()
	o.dispatcher.Invoke(func() { o.connectionOpened.Raise(args) })
	return nil
}

// CloseConnection 关闭连接
func (o *OutputChannel) CloseConnection() {
	o.mu.Lock()
	server := o.server
	o.server = nil
	o.mu.Unlock()

	if server == nil {
		return
	}
	server.release(o)

	o.network.logger.Debug("本地连接已关闭", "channelID", o.channelID, "responseReceiverID", log.TruncateID(o.responseReceiverID, 8))

	args := o.eventArgs()
	o.dispatcher.Invoke(func() { o.connectionClosed.Raise(args) })
}

// IsConnected 返回连接是否已打开
func (o *OutputChannel) IsConnected() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.server != nil
}

// SendMessage 发送消息
func (o *OutputChannel) SendMessage(message []byte) error {
	o.mu.Lock()
	server := o.server
	o.mu.Unlock()

	if server == nil {
		return ErrNotConnected
	}
	return server.deliver(o, cloneBytes(message))
}

// deliverResponse 由输入通道调用，投递响应消息
func (o *OutputChannel) deliverResponse(from *InputChannel, message []byte) error {
	o.mu.Lock()
	connected := o.server == from
	o.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}

	args := interfaces.DuplexChannelMessageEventArgs{
		ChannelID:          o.channelID,
		ResponseReceiverID: o.responseReceiverID,
		Message:            message,
	}
	o.dispatcher.Invoke(func() { o.responseMessageReceived.Raise(args) })
	return nil
}

// dropByServer 由输入通道调用，服务端主动断开
func (o *OutputChannel) dropByServer(from *InputChannel) {
	o.mu.Lock()
	dropped := o.server == from
	if dropped {
		o.server = nil
	}
	o.mu.Unlock()

	if !dropped {
		return
	}
	args := o.eventArgs()
	o.dispatcher.Invoke(func() { o.connectionClosed.Raise(args) })
}

func (o *OutputChannel) eventArgs() interfaces.DuplexChannelEventArgs {
	return interfaces.DuplexChannelEventArgs{
		ChannelID:          o.channelID,
		ResponseReceiverID: o.responseReceiverID,
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

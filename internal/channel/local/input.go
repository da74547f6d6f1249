package local

import (
	"sync"

	"github.com/dep2p/go-duplex/internal/dispatch"
	"github.com/dep2p/go-duplex/pkg/interfaces"
	"github.com/dep2p/go-duplex/pkg/lib/event"
	"github.com/dep2p/go-duplex/pkg/lib/log"
)

// InputChannel 进程内输入通道
//
// 锁顺序：OutputChannel.mu 可在持有期间获取 InputChannel.mu，反之不允许。
type InputChannel struct {
	network    *Network
	channelID  string
	dispatcher *dispatch.Serial

	mu        sync.Mutex
	listening bool
	clients   map[string]*OutputChannel

	responseReceiverConnected    event.Event[interfaces.ResponseReceiverEventArgs]
	responseReceiverDisconnected event.Event[interfaces.ResponseReceiverEventArgs]
	messageReceived              event.Event[interfaces.DuplexChannelMessageEventArgs]
}

var _ interfaces.DuplexInputChannel = (*InputChannel)(nil)

func newInputChannel(n *Network, channelID string) *InputChannel {
	return &InputChannel{
		network:    n,
		channelID:  channelID,
		dispatcher: dispatch.NewSerial(),
		clients:    make(map[string]*OutputChannel),
	}
}

// ChannelID 返回监听地址
func (in *InputChannel) ChannelID() string { return in.channelID }

// ResponseReceiverConnected 客户端连接事件
func (in *InputChannel) ResponseReceiverConnected() *event.Event[interfaces.ResponseReceiverEventArgs] {
	return &in.responseReceiverConnected
}

// ResponseReceiverDisconnected 客户端断开事件
func (in *InputChannel) ResponseReceiverDisconnected() *event.Event[interfaces.ResponseReceiverEventArgs] {
	return &in.responseReceiverDisconnected
}

// MessageReceived 消息事件
func (in *InputChannel) MessageReceived() *event.Event[interfaces.DuplexChannelMessageEventArgs] {
	return &in.messageReceived
}

// StartListening 在 Network 上注册为 ChannelID 的监听者
func (in *InputChannel) StartListening() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.listening {
		return ErrAlreadyListening
	}
	if err := in.network.register(in); err != nil {
		return err
	}
	in.listening = true

	in.network.logger.Debug("本地监听已启动", "channelID", in.channelID)
	return nil
}

// StopListening 注销监听并断开所有客户端
func (in *InputChannel) StopListening() {
	in.mu.Lock()
	if !in.listening {
		in.mu.Unlock()
		return
	}
	in.listening = false
	clients := in.clients
	in.clients = make(map[string]*OutputChannel)
	in.mu.Unlock()

	in.network.unregister(in)
	for _, c := range clients {
		c.dropByServer(in)
	}

	in.network.logger.Debug("本地监听已停止", "channelID", in.channelID, "droppedClients", len(clients))
}

// IsListening 返回是否正在监听
func (in *InputChannel) IsListening() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.listening
}

// SendResponseMessage 向指定客户端发送消息
func (in *InputChannel) SendResponseMessage(responseReceiverID string, message []byte) error {
	in.mu.Lock()
	client := in.clients[responseReceiverID]
	in.mu.Unlock()

	if client == nil {
		return ErrResponseReceiverNotFound
	}
	return client.deliverResponse(in, cloneBytes(message))
}

// DisconnectResponseReceiver 断开指定客户端，客户端不存在时不报错
func (in *InputChannel) DisconnectResponseReceiver(responseReceiverID string) error {
	in.mu.Lock()
	client := in.clients[responseReceiverID]
	delete(in.clients, responseReceiverID)
	in.mu.Unlock()

	if client != nil {
		client.dropByServer(in)
		in.network.logger.Debug("已断开客户端", "channelID", in.channelID, "responseReceiverID", log.TruncateID(responseReceiverID, 8))
	}
	return nil
}

// ConnectedCount 返回已连接客户端数量
func (in *InputChannel) ConnectedCount() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.clients)
}

// accept 由输出通道在持有自身锁时调用
func (in *InputChannel) accept(client *OutputChannel) error {
	in.mu.Lock()
	if !in.listening {
		in.mu.Unlock()
		return ErrNoListener
	}
	if _, exists := in.clients[client.responseReceiverID]; exists {
		in.mu.Unlock()
		return ErrDuplicateReceiver
	}
	in.clients[client.responseReceiverID] = client
	in.mu.Unlock()

	args := interfaces.ResponseReceiverEventArgs{ResponseReceiverID: client.responseReceiverID}
	in.dispatcher.Invoke(func() { in.responseReceiverConnected.Raise(args) })
	return nil
}

// release 客户端主动关闭
func (in *InputChannel) release(client *OutputChannel) {
	in.mu.Lock()
	removed := in.clients[client.responseReceiverID] == client
	if removed {
		delete(in.clients, client.responseReceiverID)
	}
	in.mu.Unlock()

	if !removed {
		return
	}
	args := interfaces.ResponseReceiverEventArgs{ResponseReceiverID: client.responseReceiverID}
	in.dispatcher.Invoke(func() { in.responseReceiverDisconnected.Raise(args) })
}

// deliver 投递客户端消息
func (in *InputChannel) deliver(client *OutputChannel, message []byte) error {
	in.mu.Lock()
	connected := in.clients[client.responseReceiverID] == client
	in.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}

	args := interfaces.DuplexChannelMessageEventArgs{
		ChannelID:          in.channelID,
		ResponseReceiverID: client.responseReceiverID,
		Message:            message,
	}
	in.dispatcher.Invoke(func() { in.messageReceived.Raise(args) })
	return nil
}

// Package local 实现进程内消息系统
//
// Network 充当进程内"网络"：输入通道按 ChannelID 注册为监听者，
// 输出通道打开连接时按 ChannelID 查找监听者。
// 每一侧的事件都经由自己的 dispatch.Serial 依次投递，
// 因此发送方不会被接收方的处理器阻塞，单侧事件顺序与发送顺序一致。
package local

import (
	"sync"

	"github.com/google/uuid"

	"github.com/dep2p/go-duplex/pkg/interfaces"
	"github.com/dep2p/go-duplex/pkg/lib/log"
)

// Network 进程内消息系统
type Network struct {
	logger log.Interface

	mu        sync.Mutex
	listeners map[string]*InputChannel
}

// 确保 Network 实现了 interfaces.MessagingSystemFactory 接口
var _ interfaces.MessagingSystemFactory = (*Network)(nil)

// Option 配置选项函数
type Option func(*Network)

// WithLogger 设置 logger
func WithLogger(l log.Interface) Option {
	return func(n *Network) {
		if l != nil {
			n.logger = l
		}
	}
}

// NewNetwork 创建进程内消息系统
func NewNetwork(opts ...Option) *Network {
	n := &Network{
		logger:    log.Logger("channel/local"),
		listeners: make(map[string]*InputChannel),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// CreateDuplexOutputChannel 创建输出通道
func (n *Network) CreateDuplexOutputChannel(channelID string) (interfaces.DuplexOutputChannel, error) {
	return n.CreateDuplexOutputChannelWithID(channelID, uuid.NewString())
}

// CreateDuplexOutputChannelWithID 使用指定 ResponseReceiverID 创建输出通道
func (n *Network) CreateDuplexOutputChannelWithID(channelID, responseReceiverID string) (interfaces.DuplexOutputChannel, error) {
	if channelID == "" {
		return nil, ErrEmptyChannelID
	}
	if responseReceiverID == "" {
		responseReceiverID = uuid.NewString()
	}
	return newOutputChannel(n, channelID, responseReceiverID), nil
}

// CreateDuplexInputChannel 创建输入通道
func (n *Network) CreateDuplexInputChannel(channelID string) (interfaces.DuplexInputChannel, error) {
	if channelID == "" {
		return nil, ErrEmptyChannelID
	}
	return newInputChannel(n, channelID), nil
}

// Close 停止所有监听者
func (n *Network) Close() {
	n.mu.Lock()
	listeners := make([]*InputChannel, 0, len(n.listeners))
	for _, l := range n.listeners {
		listeners = append(listeners, l)
	}
	n.mu.Unlock()

	for _, l := range listeners {
		l.StopListening()
	}
}

// ListenerCount 返回当前监听者数量
func (n *Network) ListenerCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners)
}

func (n *Network) register(in *InputChannel) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.listeners[in.channelID]; exists {
		return ErrAddressInUse
	}
	n.listeners[in.channelID] = in
	return nil
}

func (n *Network) unregister(in *InputChannel) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.listeners[in.channelID] == in {
		delete(n.listeners, in.channelID)
	}
}

func (n *Network) lookup(channelID string) *InputChannel {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.listeners[channelID]
}

package authenticated

import (
	"github.com/dep2p/go-duplex/pkg/interfaces"
)

// MessagingSystem 认证通道工厂
type MessagingSystem struct {
	underlying interfaces.MessagingSystemFactory
	callbacks  Callbacks
	opts       []Option
}

var _ interfaces.MessagingSystemFactory = (*MessagingSystem)(nil)

// NewMessagingSystem 创建认证通道工厂
//
// 创建输出通道需要客户端回调，创建输入通道需要服务端回调；
// 缺少对应回调时 Create 返回 ErrNilCallback。
func NewMessagingSystem(underlying interfaces.MessagingSystemFactory, callbacks Callbacks, opts ...Option) *MessagingSystem {
	if callbacks.HandleAuthenticationCancelled != nil {
		opts = append([]Option{WithAuthenticationCancelled(callbacks.HandleAuthenticationCancelled)}, opts...)
	}
	return &MessagingSystem{underlying: underlying, callbacks: callbacks, opts: opts}
}

// CreateDuplexOutputChannel 创建认证输出通道
func (m *MessagingSystem) CreateDuplexOutputChannel(channelID string) (interfaces.DuplexOutputChannel, error) {
	ch, err := m.underlying.CreateDuplexOutputChannel(channelID)
	if err != nil {
		return nil, err
	}
	return NewOutputChannel(ch, m.callbacks.GetLoginMessage, m.callbacks.GetHandshakeResponseMessage, m.opts...)
}

// CreateDuplexOutputChannelWithID 使用指定标识创建认证输出通道
func (m *MessagingSystem) CreateDuplexOutputChannelWithID(channelID, responseReceiverID string) (interfaces.DuplexOutputChannel, error) {
	ch, err := m.underlying.CreateDuplexOutputChannelWithID(channelID, responseReceiverID)
	if err != nil {
		return nil, err
	}
	return NewOutputChannel(ch, m.callbacks.GetLoginMessage, m.callbacks.GetHandshakeResponseMessage, m.opts...)
}

// CreateDuplexInputChannel 创建认证输入通道
func (m *MessagingSystem) CreateDuplexInputChannel(channelID string) (interfaces.DuplexInputChannel, error) {
	ch, err := m.underlying.CreateDuplexInputChannel(channelID)
	if err != nil {
		return nil, err
	}
	return NewInputChannel(ch, m.callbacks.GetHandshakeMessage, m.callbacks.Authenticate, m.opts...)
}

package buffered

import (
	"github.com/dep2p/go-duplex/pkg/interfaces"
)

// MessagingSystem 缓冲通道工厂
//
// 由底层工厂创建通道，再以相同选项包装为缓冲通道。
type MessagingSystem struct {
	underlying interfaces.MessagingSystemFactory
	opts       []Option
}

var _ interfaces.MessagingSystemFactory = (*MessagingSystem)(nil)

// NewMessagingSystem 创建缓冲通道工厂
func NewMessagingSystem(underlying interfaces.MessagingSystemFactory, opts ...Option) *MessagingSystem {
	return &MessagingSystem{underlying: underlying, opts: opts}
}

// CreateDuplexOutputChannel 创建缓冲输出通道
func (m *MessagingSystem) CreateDuplexOutputChannel(channelID string) (interfaces.DuplexOutputChannel, error) {
	ch, err := m.underlying.CreateDuplexOutputChannel(channelID)
	if err != nil {
		return nil, err
	}
	return NewOutputChannel(ch, m.opts...)
}

// CreateDuplexOutputChannelWithID 使用指定标识创建缓冲输出通道
func (m *MessagingSystem) CreateDuplexOutputChannelWithID(channelID, responseReceiverID string) (interfaces.DuplexOutputChannel, error) {
	ch, err := m.underlying.CreateDuplexOutputChannelWithID(channelID, responseReceiverID)
	if err != nil {
		return nil, err
	}
	return NewOutputChannel(ch, m.opts...)
}

// CreateDuplexInputChannel 创建缓冲输入通道
func (m *MessagingSystem) CreateDuplexInputChannel(channelID string) (interfaces.DuplexInputChannel, error) {
	ch, err := m.underlying.CreateDuplexInputChannel(channelID)
	if err != nil {
		return nil, err
	}
	return NewInputChannel(ch, m.opts...)
}

// 本文件定义双工通道抽象：客户端侧的 DuplexOutputChannel、
// 服务端侧的 DuplexInputChannel，以及创建二者的 MessagingSystemFactory。

package interfaces

import (
	"github.com/dep2p/go-duplex/pkg/lib/event"
)

// ============================================================================
//                              事件参数
// ============================================================================

// DuplexChannelEventArgs 连接事件参数
type DuplexChannelEventArgs struct {
	// ChannelID 服务地址
	ChannelID string

	// ResponseReceiverID 连接实例标识
	ResponseReceiverID string

	// SenderAddress 对端地址（传输层提供，可能为空）
	SenderAddress string
}

// DuplexChannelMessageEventArgs 消息事件参数
type DuplexChannelMessageEventArgs struct {
	// ChannelID 服务地址
	ChannelID string

	// ResponseReceiverID 连接实例标识
	ResponseReceiverID string

	// SenderAddress 对端地址
	SenderAddress string

	// Message 消息内容
	Message []byte
}

// ResponseReceiverEventArgs 服务端侧的客户端连接事件参数
type ResponseReceiverEventArgs struct {
	// ResponseReceiverID 客户端连接标识
	ResponseReceiverID string

	// SenderAddress 客户端地址
	SenderAddress string
}

// ============================================================================
//                              通道接口
// ============================================================================

// DuplexOutputChannel 客户端侧双工通道
//
// 向服务发送消息并接收响应消息。
type DuplexOutputChannel interface {
	// ChannelID 返回服务地址
	ChannelID() string

	// ResponseReceiverID 返回本连接实例的唯一标识
	ResponseReceiverID() string

	// OpenConnection 打开连接
	OpenConnection() error

	// CloseConnection 关闭连接，可重复调用
	CloseConnection()

	// IsConnected 返回连接是否已打开
	IsConnected() bool

	// SendMessage 发送消息
	SendMessage(message []byte) error

	// ConnectionOpened 连接打开事件
	ConnectionOpened() *event.Event[DuplexChannelEventArgs]

	// ConnectionClosed 连接关闭事件
	ConnectionClosed() *event.Event[DuplexChannelEventArgs]

	// ResponseMessageReceived 响应消息事件
	ResponseMessageReceived() *event.Event[DuplexChannelMessageEventArgs]
}

// DuplexInputChannel 服务端侧双工通道
//
// 接收客户端消息，并按 ResponseReceiverID 回复。
type DuplexInputChannel interface {
	// ChannelID 返回监听地址
	ChannelID() string

	// StartListening 开始监听
	StartListening() error

	// StopListening 停止监听并断开所有客户端
	StopListening()

	// IsListening 返回是否正在监听
	IsListening() bool

	// SendResponseMessage 向指定客户端发送消息
	SendResponseMessage(responseReceiverID string, message []byte) error

	// DisconnectResponseReceiver 断开指定客户端
	DisconnectResponseReceiver(responseReceiverID string) error

	// ResponseReceiverConnected 客户端连接事件
	ResponseReceiverConnected() *event.Event[ResponseReceiverEventArgs]

	// ResponseReceiverDisconnected 客户端断开事件
	ResponseReceiverDisconnected() *event.Event[ResponseReceiverEventArgs]

	// MessageReceived 消息事件
	MessageReceived() *event.Event[DuplexChannelMessageEventArgs]
}

// MessagingSystemFactory 通道工厂
type MessagingSystemFactory interface {
	// CreateDuplexOutputChannel 创建输出通道，ResponseReceiverID 自动生成
	CreateDuplexOutputChannel(channelID string) (DuplexOutputChannel, error)

	// CreateDuplexOutputChannelWithID 使用指定的 ResponseReceiverID 创建输出通道
	CreateDuplexOutputChannelWithID(channelID, responseReceiverID string) (DuplexOutputChannel, error)

	// CreateDuplexInputChannel 创建输入通道
	CreateDuplexInputChannel(channelID string) (DuplexInputChannel, error)
}

// ============================================================================
//                              挂接接口
// ============================================================================

// AttachableDuplexOutputChannel 可挂接输出通道的组件（RPC 客户端、Broker 客户端）
type AttachableDuplexOutputChannel interface {
	// AttachDuplexOutputChannel 挂接通道并打开连接
	AttachDuplexOutputChannel(ch DuplexOutputChannel) error

	// DetachDuplexOutputChannel 关闭连接并解除挂接
	DetachDuplexOutputChannel()

	// IsDuplexOutputChannelAttached 返回是否已挂接
	IsDuplexOutputChannelAttached() bool

	// AttachedDuplexOutputChannel 返回已挂接的通道，未挂接时为 nil
	AttachedDuplexOutputChannel() DuplexOutputChannel
}

// AttachableDuplexInputChannel 可挂接输入通道的组件（RPC 服务、Broker）
type AttachableDuplexInputChannel interface {
	// AttachDuplexInputChannel 挂接通道并开始监听
	AttachDuplexInputChannel(ch DuplexInputChannel) error

	// DetachDuplexInputChannel 停止监听并解除挂接
	DetachDuplexInputChannel()

	// IsDuplexInputChannelAttached 返回是否已挂接
	IsDuplexInputChannelAttached() bool

	// AttachedDuplexInputChannel 返回已挂接的通道，未挂接时为 nil
	AttachedDuplexInputChannel() DuplexInputChannel
}

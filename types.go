package duplex

import (
	"github.com/dep2p/go-duplex/internal/broker"
	"github.com/dep2p/go-duplex/internal/composite/authenticated"
	"github.com/dep2p/go-duplex/internal/composite/buffered"
	"github.com/dep2p/go-duplex/internal/rpc"
	"github.com/dep2p/go-duplex/pkg/interfaces"
)

// ════════════════════════════════════════════════════════════════════════════
//                              通道
// ════════════════════════════════════════════════════════════════════════════

type (
	// DuplexOutputChannel 客户端侧双工通道
	DuplexOutputChannel = interfaces.DuplexOutputChannel

	// DuplexInputChannel 服务端侧双工通道
	DuplexInputChannel = interfaces.DuplexInputChannel

	// MessagingSystemFactory 通道工厂
	MessagingSystemFactory = interfaces.MessagingSystemFactory

	// Serializer 负载序列化器
	Serializer = interfaces.Serializer

	// DuplexChannelEventArgs 连接事件参数
	DuplexChannelEventArgs = interfaces.DuplexChannelEventArgs

	// DuplexChannelMessageEventArgs 消息事件参数
	DuplexChannelMessageEventArgs = interfaces.DuplexChannelMessageEventArgs

	// ResponseReceiverEventArgs 服务端客户端事件参数
	ResponseReceiverEventArgs = interfaces.ResponseReceiverEventArgs
)

// ════════════════════════════════════════════════════════════════════════════
//                              组合层
// ════════════════════════════════════════════════════════════════════════════

type (
	// BufferedOutputChannel 缓冲输出通道，缓冲层启用时 CreateOutputChannel 的返回值可断言为此类型
	BufferedOutputChannel = buffered.OutputChannel

	// DroppedMessagesEventArgs 离线超时丢弃的消息
	DroppedMessagesEventArgs = buffered.DroppedMessagesEventArgs

	// AuthCallbacks 认证回调集合
	AuthCallbacks = authenticated.Callbacks
)

// ════════════════════════════════════════════════════════════════════════════
//                              组件
// ════════════════════════════════════════════════════════════════════════════

type (
	// RemoteError 服务方法返回的错误
	RemoteError = rpc.RemoteError

	// BrokerService 发布订阅服务
	BrokerService = broker.Service

	// BrokerClient 发布订阅客户端
	BrokerClient = broker.Client

	// BrokerMessageEventArgs 发布订阅消息事件参数
	BrokerMessageEventArgs = broker.MessageReceivedEventArgs
)

// 组件错误
var (
	ErrRPCTimeout            = rpc.ErrTimeout
	ErrRPCNotAttached        = rpc.ErrNotAttached
	ErrMethodNotFound        = rpc.ErrMethodNotFound
	ErrAuthenticationTimeout = authenticated.ErrAuthenticationTimeout
	ErrAuthenticationFailed  = authenticated.ErrAuthenticationFailed
)

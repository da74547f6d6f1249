package broker

import (
	"errors"
	"fmt"

	"github.com/dep2p/go-duplex/internal/attach"
	"github.com/dep2p/go-duplex/pkg/interfaces"
	"github.com/dep2p/go-duplex/pkg/lib/event"
	"github.com/dep2p/go-duplex/pkg/lib/log"
)

// Client Broker 客户端
type Client struct {
	serializer interfaces.Serializer
	logger     log.Interface
	attacher   *attach.OutputAttacher

	messageReceived  event.Event[MessageReceivedEventArgs]
	connectionOpened event.Event[interfaces.DuplexChannelEventArgs]
	connectionClosed event.Event[interfaces.DuplexChannelEventArgs]
}

var _ interfaces.AttachableDuplexOutputChannel = (*Client)(nil)

// NewClient 创建 Broker 客户端
func NewClient(opts ...Option) *Client {
	s := newSettings("broker/client", opts)
	c := &Client{
		serializer: s.serializer,
		logger:     s.logger,
	}
	c.attacher = attach.NewOutputAttacher(attach.OutputHandlers{
		ConnectionOpened:        c.connectionOpened.Raise,
		ConnectionClosed:        c.connectionClosed.Raise,
		ResponseMessageReceived: c.onResponseMessage,
	})
	return c
}

// AttachDuplexOutputChannel 挂接通道并打开连接
func (c *Client) AttachDuplexOutputChannel(ch interfaces.DuplexOutputChannel) error {
	err := c.attacher.Attach(ch)
	if errors.Is(err, attach.ErrAlreadyAttached) {
		return ErrAlreadyAttached
	}
	return err
}

// DetachDuplexOutputChannel 关闭连接并解除挂接
func (c *Client) DetachDuplexOutputChannel() {
	c.attacher.Detach()
}

// IsDuplexOutputChannelAttached 返回是否已挂接
func (c *Client) IsDuplexOutputChannelAttached() bool {
	return c.attacher.IsAttached()
}

// AttachedDuplexOutputChannel 返回已挂接的通道
func (c *Client) AttachedDuplexOutputChannel() interfaces.DuplexOutputChannel {
	return c.attacher.Channel()
}

// BrokerMessageReceived 收到订阅消息事件
func (c *Client) BrokerMessageReceived() *event.Event[MessageReceivedEventArgs] {
	return &c.messageReceived
}

// ConnectionOpened 连接打开事件
func (c *Client) ConnectionOpened() *event.Event[interfaces.DuplexChannelEventArgs] {
	return &c.connectionOpened
}

// ConnectionClosed 连接关闭事件
func (c *Client) ConnectionClosed() *event.Event[interfaces.DuplexChannelEventArgs] {
	return &c.connectionClosed
}

// ============================================================================
//                              订阅
// ============================================================================

// Subscribe 订阅指定类型的消息
func (c *Client) Subscribe(messageTypes ...string) error {
	return c.sendTypes(kindSubscribe, messageTypes)
}

// SubscribeRegExp 订阅类型匹配正则表达式的消息
//
// 表达式在 Broker 侧按 RE2 语法编译，无效的表达式在首次匹配时被丢弃。
// 匹配为部分匹配，"temp" 也会匹配 "xtempy"，需要完整匹配时使用 ^ 与 $ 锚定。
func (c *Client) SubscribeRegExp(patterns ...string) error {
	return c.sendTypes(kindSubscribeRegExp, patterns)
}

// Unsubscribe 取消指定类型的订阅
func (c *Client) Unsubscribe(messageTypes ...string) error {
	return c.sendTypes(kindUnsubscribe, messageTypes)
}

// UnsubscribeRegExp 取消正则订阅
func (c *Client) UnsubscribeRegExp(patterns ...string) error {
	return c.sendTypes(kindUnsubscribeRegExp, patterns)
}

// UnsubscribeAll 取消全部订阅
func (c *Client) UnsubscribeAll() error {
	return c.send(&brokerMessage{Kind: kindUnsubscribeAll})
}

// Publish 发布消息
func (c *Client) Publish(messageTypeID string, payload []byte) error {
	if messageTypeID == "" {
		return ErrEmptyType
	}
	return c.send(&brokerMessage{Kind: kindPublish, Types: []string{messageTypeID}, Payload: payload})
}

// PublishValue 序列化 v 后发布
func (c *Client) PublishValue(messageTypeID string, v any) error {
	payload, err := c.serializer.Serialize(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return c.Publish(messageTypeID, payload)
}

// Unmarshal 用客户端的序列化器解析消息负载
func (c *Client) Unmarshal(args MessageReceivedEventArgs, v any) error {
	if err := c.serializer.Deserialize(args.Message, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSerialization, args.MessageTypeID, err)
	}
	return nil
}

func (c *Client) sendTypes(kind requestKind, types []string) error {
	if len(types) == 0 {
		return ErrEmptyTypes
	}
	for _, t := range types {
		if t == "" {
			return ErrEmptyType
		}
	}
	return c.send(&brokerMessage{Kind: kind, Types: types})
}

func (c *Client) send(m *brokerMessage) error {
	data, err := encode(m)
	if err != nil {
		return err
	}
	err = c.attacher.Send(data)
	if errors.Is(err, attach.ErrNotAttached) {
		return ErrNotAttached
	}
	return err
}

func (c *Client) onResponseMessage(args interfaces.DuplexChannelMessageEventArgs) {
	msg, err := decode(args.Message)
	if err != nil {
		c.logger.Warn("Broker 消息解析失败，关闭连接", "err", err)
		c.dropConnection()
		return
	}
	if msg.Kind != kindPublish || len(msg.Types) != 1 {
		c.logger.Warn("客户端收到意外报文，关闭连接", "kind", msg.Kind.String())
		c.dropConnection()
		return
	}
	c.messageReceived.Raise(MessageReceivedEventArgs{
		MessageTypeID: msg.Types[0],
		Message:       msg.Payload,
	})
}

// dropConnection 在通道事件路径上调用，关闭须异步进行
func (c *Client) dropConnection() {
	if ch := c.attacher.Channel(); ch != nil {
		go ch.CloseConnection()
	}
}

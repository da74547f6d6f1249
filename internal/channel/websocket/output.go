package websocket

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/dep2p/go-duplex/internal/dispatch"
	"github.com/dep2p/go-duplex/pkg/interfaces"
	"github.com/dep2p/go-duplex/pkg/lib/event"
	"github.com/dep2p/go-duplex/pkg/lib/log"
)

// OutputChannel WebSocket 输出通道
type OutputChannel struct {
	system             *MessagingSystem
	channelID          string
	responseReceiverID string
	dispatcher         *dispatch.Serial

	// openMu 串行化拨号，mu 只保护连接状态
	openMu sync.Mutex
	mu     sync.Mutex
	conn   *conn

	connectionOpened        event.Event[interfaces.DuplexChannelEventArgs]
	connectionClosed        event.Event[interfaces.DuplexChannelEventArgs]
	responseMessageReceived event.Event[interfaces.DuplexChannelMessageEventArgs]
}

var _ interfaces.DuplexOutputChannel = (*OutputChannel)(nil)

func newOutputChannel(m *MessagingSystem, channelID, responseReceiverID string) *OutputChannel {
	return &OutputChannel{
		system:             m,
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

// OpenConnection 拨号连接服务
func (o *OutputChannel) OpenConnection() error {
	o.openMu.Lock()
	defer o.openMu.Unlock()

	if o.IsConnected() {
		return ErrAlreadyConnected
	}

	u, err := parseChannelID(o.channelID)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set(receiverIDParam, o.responseReceiverID)
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(context.Background(), o.system.config.HandshakeTimeout)
	defer cancel()
	ws, resp, err := o.system.dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %s: %w", redact(u), resp.Status, err)
		}
		return fmt.Errorf("dial %s: %w", redact(u), err)
	}

	c := newConn(ws, o.system.config)
	o.mu.Lock()
	o.conn = c
	o.mu.Unlock()

	o.system.logger.Debug("WebSocket 连接已打开", "channelID", o.channelID, "responseReceiverID", log.TruncateID(o.responseReceiverID, 8))

	args := o.eventArgs()
	o.dispatcher.Invoke(func() { o.connectionOpened.Raise(args) })
	go o.readLoop(c)
	return nil
}

// CloseConnection 关闭连接
func (o *OutputChannel) CloseConnection() {
	o.mu.Lock()
	c := o.conn
	o.conn = nil
	o.mu.Unlock()

	if c == nil {
		return
	}
	c.shutdown()

	o.system.logger.Debug("WebSocket 连接已关闭", "channelID", o.channelID, "responseReceiverID", log.TruncateID(o.responseReceiverID, 8))

	args := o.eventArgs()
	o.dispatcher.Invoke(func() { o.connectionClosed.Raise(args) })
}

// IsConnected 返回连接是否已打开
func (o *OutputChannel) IsConnected() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conn != nil
}

// SendMessage 以一个二进制帧发送消息
func (o *OutputChannel) SendMessage(message []byte) error {
	o.mu.Lock()
	c := o.conn
	o.mu.Unlock()

	if c == nil {
		return ErrNotConnected
	}
	if err := c.write(message); err != nil {
		return fmt.Errorf("write to %s: %w", o.channelID, err)
	}
	o.system.metrics.BytesSent(o.channelID, len(message))
	return nil
}

func (o *OutputChannel) readLoop(c *conn) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			o.mu.Lock()
			current := o.conn == c
			if current {
				o.conn = nil
			}
			o.mu.Unlock()

			c.close()
			if current {
				o.system.logger.Debug("WebSocket 连接被断开", "channelID", o.channelID, "err", err)
				args := o.eventArgs()
				o.dispatcher.Invoke(func() { o.connectionClosed.Raise(args) })
			}
			return
		}

		o.system.metrics.BytesReceived(o.channelID, len(data))
		args := interfaces.DuplexChannelMessageEventArgs{
			ChannelID:          o.channelID,
			ResponseReceiverID: o.responseReceiverID,
			Message:            data,
		}
		o.dispatcher.Invoke(func() { o.responseMessageReceived.Raise(args) })
	}
}

func (o *OutputChannel) eventArgs() interfaces.DuplexChannelEventArgs {
	return interfaces.DuplexChannelEventArgs{
		ChannelID:          o.channelID,
		ResponseReceiverID: o.responseReceiverID,
	}
}

// redact 日志与错误中不带查询参数
func redact(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	return c.String()
}

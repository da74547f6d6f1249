package buffered

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-duplex/internal/core/metrics"
	"github.com/dep2p/go-duplex/pkg/interfaces"
	"github.com/dep2p/go-duplex/pkg/lib/event"
	"github.com/dep2p/go-duplex/pkg/lib/log"
)

// DroppedMessagesEventArgs 消息丢弃事件参数
type DroppedMessagesEventArgs struct {
	// ChannelID 服务地址
	ChannelID string

	// ResponseReceiverID 连接实例标识
	ResponseReceiverID string

	// Messages 被丢弃的消息，按入队顺序
	Messages [][]byte
}

type queuedMessage struct {
	seq        uint64
	data       []byte
	enqueuedAt time.Time
}

// outputSession 一次逻辑连接的状态
//
// 每次 OpenConnection 创建新的 session，后台循环只服务于创建它们的 session。
type outputSession struct {
	stop   chan struct{}
	tokens [3]event.Token

	queue   []queuedMessage
	nextSeq uint64

	sending  bool
	sendDone chan struct{}

	reconnecting  bool
	reconnectDone chan struct{}
}

// OutputChannel 缓冲输出通道
//
// 逻辑连接在底层连接断开期间保持打开：发送的消息进入 FIFO 队列，
// 后台循环按 RetryInterval 重连底层通道并按序发送队列。
// 连续离线超过 MaxOfflineTime 时丢弃队列并关闭逻辑连接。
type OutputChannel struct {
	underlying interfaces.DuplexOutputChannel

	config  Config
	logger  log.Interface
	metrics *metrics.Metrics
	clock   clock.Clock

	mu      sync.Mutex
	session *outputSession

	connectionOpened        event.Event[interfaces.DuplexChannelEventArgs]
	connectionClosed        event.Event[interfaces.DuplexChannelEventArgs]
	responseMessageReceived event.Event[interfaces.DuplexChannelMessageEventArgs]
	connectionOnline        event.Event[interfaces.DuplexChannelEventArgs]
	connectionOffline       event.Event[interfaces.DuplexChannelEventArgs]
	messagesDropped         event.Event[DroppedMessagesEventArgs]
}

var _ interfaces.DuplexOutputChannel = (*OutputChannel)(nil)

// NewOutputChannel 包装底层输出通道
func NewOutputChannel(underlying interfaces.DuplexOutputChannel, opts ...Option) (*OutputChannel, error) {
	if underlying == nil {
		return nil, ErrNilUnderlying
	}
	s := newSettings("composite/buffered", opts)
	return &OutputChannel{
		underlying: underlying,
		config:     s.config,
		logger:     s.logger,
		metrics:    s.metrics,
		clock:      s.clock,
	}, nil
}

// ChannelID 返回服务地址
func (o *OutputChannel) ChannelID() string { return o.underlying.ChannelID() }

// ResponseReceiverID 返回连接实例标识
func (o *OutputChannel) ResponseReceiverID() string { return o.underlying.ResponseReceiverID() }

// Underlying 返回被包装的通道
func (o *OutputChannel) Underlying() interfaces.DuplexOutputChannel { return o.underlying }

// ConnectionOpened 逻辑连接打开事件
func (o *OutputChannel) ConnectionOpened() *event.Event[interfaces.DuplexChannelEventArgs] {
	return &o.connectionOpened
}

// ConnectionClosed 逻辑连接关闭事件
func (o *OutputChannel) ConnectionClosed() *event.Event[interfaces.DuplexChannelEventArgs] {
	return &o.connectionClosed
}

// ResponseMessageReceived 响应消息事件
func (o *OutputChannel) ResponseMessageReceived() *event.Event[interfaces.DuplexChannelMessageEventArgs] {
	return &o.responseMessageReceived
}

// ConnectionOnline 底层连接恢复事件
func (o *OutputChannel) ConnectionOnline() *event.Event[interfaces.DuplexChannelEventArgs] {
	return &o.connectionOnline
}

// ConnectionOffline 底层连接断开事件（逻辑连接仍打开）
func (o *OutputChannel) ConnectionOffline() *event.Event[interfaces.DuplexChannelEventArgs] {
	return &o.connectionOffline
}

// MessagesDropped 离线超时导致消息被丢弃的事件
func (o *OutputChannel) MessagesDropped() *event.Event[DroppedMessagesEventArgs] {
	return &o.messagesDropped
}

// IsConnected 返回逻辑连接是否打开
func (o *OutputChannel) IsConnected() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session != nil
}

// IsOnline 返回底层连接是否打开
func (o *OutputChannel) IsOnline() bool {
	return o.underlying.IsConnected()
}

// QueueLength 返回尚未送达的消息数
func (o *OutputChannel) QueueLength() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return 0
	}
	return len(o.session.queue)
}

// OpenConnection 打开逻辑连接
//
// 立即返回；底层连接由后台循环建立。
func (o *OutputChannel) OpenConnection() error {
	o.mu.Lock()
	if o.session != nil {
		o.mu.Unlock()
		return ErrAlreadyConnected
	}
	s := &outputSession{stop: make(chan struct{})}
	s.tokens[0] = o.underlying.ConnectionOpened().Subscribe(o.onUnderlyingOpened)
	s.tokens[1] = o.underlying.ConnectionClosed().Subscribe(o.onUnderlyingClosed)
	s.tokens[2] = o.underlying.ResponseMessageReceived().Subscribe(o.onUnderlyingMessage)
	o.session = s
	o.mu.Unlock()

	o.logger.Debug("缓冲连接已打开", "channelID", o.ChannelID(), "rrID", log.TruncateID(o.ResponseReceiverID(), 8))
	o.connectionOpened.Raise(o.eventArgs())

	o.startReconnect(s)
	return nil
}

// CloseConnection 关闭逻辑连接
//
// 停止后台循环，关闭底层连接并清空队列。可重复调用。
func (o *OutputChannel) CloseConnection() {
	o.mu.Lock()
	s := o.session
	if s == nil {
		o.mu.Unlock()
		return
	}
	o.session = nil
	close(s.stop)
	o.unsubscribe(s)
	pending := len(s.queue)
	s.queue = nil
	sendDone, reconnectDone := s.sendDone, s.reconnectDone
	o.mu.Unlock()

	if !waitDone(o.clock, sendDone, o.config.CloseWaitTimeout) {
		o.logger.Warn("等待发送循环退出超时", "channelID", o.ChannelID())
	}
	if !waitDone(o.clock, reconnectDone, o.config.CloseWaitTimeout) {
		o.logger.Warn("等待重连循环退出超时", "channelID", o.ChannelID())
	}

	o.underlying.CloseConnection()

	if pending > 0 {
		o.logger.Debug("关闭连接时清空未发送消息", "channelID", o.ChannelID(), "count", pending)
	}
	o.connectionClosed.Raise(o.eventArgs())
}

// SendMessage 将消息加入发送队列
//
// 逻辑连接打开时总是成功；实际发送由后台循环完成。
func (o *OutputChannel) SendMessage(message []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := o.session
	if s == nil {
		return ErrNotConnected
	}
	s.nextSeq++
	s.queue = append(s.queue, queuedMessage{
		seq:        s.nextSeq,
		data:       append([]byte(nil), message...),
		enqueuedAt: o.clock.Now(),
	})
	o.startSendingLocked(s)
	return nil
}

// ============================================================================
//                              后台循环
// ============================================================================

func (o *OutputChannel) startSendingLocked(s *outputSession) {
	if s.sending || len(s.queue) == 0 {
		return
	}
	s.sending = true
	s.sendDone = make(chan struct{})
	go o.sendLoop(s, s.sendDone)
}

// sendLoop 按 FIFO 顺序发送队首消息，失败时保留队首并重试
func (o *OutputChannel) sendLoop(s *outputSession, done chan struct{}) {
	defer close(done)

	for {
		o.mu.Lock()
		if o.session != s || len(s.queue) == 0 {
			s.sending = false
			o.mu.Unlock()
			return
		}
		head := s.queue[0]
		o.mu.Unlock()

		if o.underlying.IsConnected() {
			err := o.underlying.SendMessage(head.data)
			if err == nil {
				o.mu.Lock()
				if o.session == s && len(s.queue) > 0 && s.queue[0].seq == head.seq {
					s.queue[0] = queuedMessage{}
					s.queue = s.queue[1:]
				}
				o.mu.Unlock()
				continue
			}
			o.logger.Debug("发送失败，稍后重试", "channelID", o.ChannelID(), "err", err)
		}

		if o.clock.Since(head.enqueuedAt) > o.config.MaxOfflineTime {
			o.fail(s, "message waited longer than max offline time", true)
			return
		}

		select {
		case <-s.stop:
			return
		case <-o.clock.After(o.config.RetryInterval):
		}
	}
}

func (o *OutputChannel) startReconnect(s *outputSession) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session != s || s.reconnecting {
		return
	}
	s.reconnecting = true
	s.reconnectDone = make(chan struct{})
	go o.reconnectLoop(s, s.reconnectDone)
}

// reconnectLoop 在离线窗口内反复尝试打开底层连接
func (o *OutputChannel) reconnectLoop(s *outputSession, done chan struct{}) {
	defer close(done)

	start := o.clock.Now()
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		if !o.underlying.IsConnected() {
			o.metrics.ReconnectAttempt()
			if err := o.underlying.OpenConnection(); err != nil {
				o.logger.Debug("重连失败", "channelID", o.ChannelID(), "err", err)

				if o.clock.Since(start) > o.config.MaxOfflineTime {
					o.fail(s, "reconnect window exceeded", false)
					return
				}
				select {
				case <-s.stop:
					return
				case <-o.clock.After(o.config.RetryInterval):
				}
				continue
			}
		}

		o.mu.Lock()
		s.reconnecting = false
		stale := o.session != s
		if !stale {
			o.startSendingLocked(s)
		}
		o.mu.Unlock()

		// 打开期间会话已关闭，底层连接不能留给已关闭的会话
		if stale {
			o.underlying.CloseConnection()
			return
		}

		// 标记清除前底层可能再次断开，此时断开事件已被忽略
		if !o.underlying.IsConnected() {
			o.startReconnect(s)
		}
		return
	}
}

func (o *OutputChannel) resumeSending(s *outputSession) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == s {
		o.startSendingLocked(s)
	}
}

// fail 离线超时：丢弃队列并关闭逻辑连接
//
// 由发送循环调用时先等待重连循环退出，避免其后打开的底层连接泄漏。
func (o *OutputChannel) fail(s *outputSession, reason string, waitReconnect bool) {
	o.mu.Lock()
	if o.session != s {
		o.mu.Unlock()
		return
	}
	o.session = nil
	close(s.stop)
	o.unsubscribe(s)
	dropped := make([][]byte, 0, len(s.queue))
	for _, m := range s.queue {
		dropped = append(dropped, m.data)
	}
	s.queue = nil
	var reconnectDone chan struct{}
	if waitReconnect && s.reconnecting {
		reconnectDone = s.reconnectDone
	}
	o.mu.Unlock()

	if !waitDone(o.clock, reconnectDone, o.config.CloseWaitTimeout) {
		o.logger.Warn("等待重连循环退出超时", "channelID", o.ChannelID())
	}
	o.underlying.CloseConnection()

	o.logger.Warn("离线超时，关闭缓冲连接", "channelID", o.ChannelID(), "reason", reason, "dropped", len(dropped))
	o.metrics.MessagesDropped(len(dropped))
	if len(dropped) > 0 {
		o.messagesDropped.Raise(DroppedMessagesEventArgs{
			ChannelID:          o.ChannelID(),
			ResponseReceiverID: o.ResponseReceiverID(),
			Messages:           dropped,
		})
	}
	o.connectionClosed.Raise(o.eventArgs())
}

func (o *OutputChannel) unsubscribe(s *outputSession) {
	o.underlying.ConnectionOpened().Unsubscribe(s.tokens[0])
	o.underlying.ConnectionClosed().Unsubscribe(s.tokens[1])
	o.underlying.ResponseMessageReceived().Unsubscribe(s.tokens[2])
}

// ============================================================================
//                              底层事件
// ============================================================================

func (o *OutputChannel) current() *outputSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

func (o *OutputChannel) onUnderlyingOpened(interfaces.DuplexChannelEventArgs) {
	s := o.current()
	if s == nil {
		return
	}
	o.connectionOnline.Raise(o.eventArgs())
	o.resumeSending(s)
}

func (o *OutputChannel) onUnderlyingClosed(interfaces.DuplexChannelEventArgs) {
	s := o.current()
	if s == nil {
		return
	}
	o.logger.Debug("底层连接断开，开始重连", "channelID", o.ChannelID())
	o.connectionOffline.Raise(o.eventArgs())
	o.startReconnect(s)
}

func (o *OutputChannel) onUnderlyingMessage(args interfaces.DuplexChannelMessageEventArgs) {
	if o.current() == nil {
		return
	}
	o.responseMessageReceived.Raise(interfaces.DuplexChannelMessageEventArgs{
		ChannelID:          o.ChannelID(),
		ResponseReceiverID: o.ResponseReceiverID(),
		SenderAddress:      args.SenderAddress,
		Message:            args.Message,
	})
}

func (o *OutputChannel) eventArgs() interfaces.DuplexChannelEventArgs {
	return interfaces.DuplexChannelEventArgs{
		ChannelID:          o.ChannelID(),
		ResponseReceiverID: o.ResponseReceiverID(),
	}
}

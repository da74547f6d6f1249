package authenticated

import (
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-duplex/internal/core/metrics"
	"github.com/dep2p/go-duplex/pkg/interfaces"
	"github.com/dep2p/go-duplex/pkg/lib/event"
	"github.com/dep2p/go-duplex/pkg/lib/log"
)

// outputState 客户端认证状态
type outputState int

const (
	stateIdle outputState = iota
	stateAwaitingHandshake
	stateAwaitingAcknowledge
	stateAuthenticated
	stateClosed
)

func (s outputState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateAwaitingHandshake:
		return "awaiting-handshake"
	case stateAwaitingAcknowledge:
		return "awaiting-acknowledge"
	case stateAuthenticated:
		return "authenticated"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// OutputChannel 认证输出通道
//
// OpenConnection 打开底层连接后执行 登录 → 握手 → 响应 → 确认 流程，
// 认证完成前阻塞，认证完成后消息直接透传。
type OutputChannel struct {
	underlying           interfaces.DuplexOutputChannel
	getLogin             GetLoginMessage
	getHandshakeResponse GetHandshakeResponseMessage

	config  Config
	logger  log.Interface
	metrics *metrics.Metrics
	clock   clock.Clock

	// openMu 串行化 OpenConnection
	openMu sync.Mutex

	mu     sync.Mutex
	state  outputState
	result chan error
	tokens [2]event.Token

	connectionOpened        event.Event[interfaces.DuplexChannelEventArgs]
	connectionClosed        event.Event[interfaces.DuplexChannelEventArgs]
	responseMessageReceived event.Event[interfaces.DuplexChannelMessageEventArgs]
}

var _ interfaces.DuplexOutputChannel = (*OutputChannel)(nil)

// NewOutputChannel 包装底层输出通道
func NewOutputChannel(
	underlying interfaces.DuplexOutputChannel,
	getLogin GetLoginMessage,
	getHandshakeResponse GetHandshakeResponseMessage,
	opts ...Option,
) (*OutputChannel, error) {
	if underlying == nil {
		return nil, ErrNilUnderlying
	}
	if getLogin == nil || getHandshakeResponse == nil {
		return nil, ErrNilCallback
	}
	s := newSettings(opts)
	return &OutputChannel{
		underlying:           underlying,
		getLogin:             getLogin,
		getHandshakeResponse: getHandshakeResponse,
		config:               s.config,
		logger:               s.logger,
		metrics:              s.metrics,
		clock:                s.clock,
	}, nil
}

// ChannelID 返回服务地址
func (o *OutputChannel) ChannelID() string { return o.underlying.ChannelID() }

// ResponseReceiverID 返回连接实例标识
func (o *OutputChannel) ResponseReceiverID() string { return o.underlying.ResponseReceiverID() }

// Underlying 返回被包装的通道
func (o *OutputChannel) Underlying() interfaces.DuplexOutputChannel { return o.underlying }

// ConnectionOpened 认证完成事件
func (o *OutputChannel) ConnectionOpened() *event.Event[interfaces.DuplexChannelEventArgs] {
	return &o.connectionOpened
}

// ConnectionClosed 已认证连接关闭事件
func (o *OutputChannel) ConnectionClosed() *event.Event[interfaces.DuplexChannelEventArgs] {
	return &o.connectionClosed
}

// ResponseMessageReceived 认证后的响应消息事件
func (o *OutputChannel) ResponseMessageReceived() *event.Event[interfaces.DuplexChannelMessageEventArgs] {
	return &o.responseMessageReceived
}

// IsConnected 返回是否已认证
func (o *OutputChannel) IsConnected() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state == stateAuthenticated
}

// OpenConnection 打开连接并完成认证
//
// 阻塞直到认证成功、超时或底层连接关闭；失败时关闭底层连接。
func (o *OutputChannel) OpenConnection() error {
	o.openMu.Lock()
	defer o.openMu.Unlock()

	o.mu.Lock()
	switch o.state {
	case stateAwaitingHandshake, stateAwaitingAcknowledge, stateAuthenticated:
		o.mu.Unlock()
		return ErrAlreadyConnected
	}
	result := make(chan error, 1)
	o.result = result
	o.state = stateAwaitingHandshake
	o.tokens[0] = o.underlying.ConnectionClosed().Subscribe(o.onUnderlyingClosed)
	o.tokens[1] = o.underlying.ResponseMessageReceived().Subscribe(o.onUnderlyingMessage)
	o.mu.Unlock()

	if err := o.underlying.OpenConnection(); err != nil {
		o.teardown()
		return err
	}

	login := o.callLogin()
	if login == nil {
		o.teardown()
		o.metrics.AuthResult(metrics.SideClient, metrics.ResultFailure)
		return ErrAuthenticationFailed
	}
	if err := o.underlying.SendMessage(login); err != nil {
		o.teardown()
		return err
	}

	select {
	case err := <-result:
		if err != nil {
			o.teardown()
			o.metrics.AuthResult(metrics.SideClient, metrics.ResultFailure)
			o.logger.Warn("认证失败", "channelID", o.ChannelID(), "err", err)
			return err
		}
	case <-o.clock.After(o.config.AuthenticationTimeout):
		o.teardown()
		o.metrics.AuthResult(metrics.SideClient, metrics.ResultTimeout)
		o.logger.Warn("认证超时", "channelID", o.ChannelID(), "timeout", o.config.AuthenticationTimeout)
		return ErrAuthenticationTimeout
	}

	o.metrics.AuthResult(metrics.SideClient, metrics.ResultSuccess)
	o.logger.Debug("认证成功", "channelID", o.ChannelID(), "rrID", log.TruncateID(o.ResponseReceiverID(), 8))
	o.connectionOpened.Raise(o.eventArgs())
	return nil
}

// CloseConnection 关闭连接，可重复调用
//
// 正在进行的 OpenConnection 以 ErrConnectionClosed 返回。
func (o *OutputChannel) CloseConnection() {
	o.mu.Lock()
	prev := o.state
	if prev == stateIdle || prev == stateClosed {
		o.mu.Unlock()
		return
	}
	o.state = stateClosed
	o.unsubscribeLocked()
	result := o.result
	o.result = nil
	o.mu.Unlock()

	if result != nil {
		result <- ErrConnectionClosed
	}
	o.underlying.CloseConnection()

	if prev == stateAuthenticated {
		o.connectionClosed.Raise(o.eventArgs())
	}
}

// SendMessage 发送消息，仅在认证完成后可用
func (o *OutputChannel) SendMessage(message []byte) error {
	if !o.IsConnected() {
		return ErrNotConnected
	}
	return o.underlying.SendMessage(message)
}

// ============================================================================
//                              内部实现
// ============================================================================

// teardown 认证失败后复位状态并关闭底层连接
func (o *OutputChannel) teardown() {
	o.mu.Lock()
	o.state = stateClosed
	o.result = nil
	o.unsubscribeLocked()
	o.mu.Unlock()

	o.underlying.CloseConnection()
}

// complete 结束当前认证流程，至多生效一次
func (o *OutputChannel) complete(err error) {
	o.mu.Lock()
	result := o.result
	o.result = nil
	o.mu.Unlock()

	if result != nil {
		result <- err
	}
}

func (o *OutputChannel) unsubscribeLocked() {
	o.underlying.ConnectionClosed().Unsubscribe(o.tokens[0])
	o.underlying.ResponseMessageReceived().Unsubscribe(o.tokens[1])
	o.tokens = [2]event.Token{}
}

func (o *OutputChannel) onUnderlyingMessage(args interfaces.DuplexChannelMessageEventArgs) {
	o.mu.Lock()
	switch o.state {
	case stateAwaitingHandshake:
		o.state = stateAwaitingAcknowledge
		o.mu.Unlock()

		response := o.callHandshakeResponse(args.Message)
		if response == nil {
			o.complete(ErrAuthenticationFailed)
			return
		}
		if err := o.underlying.SendMessage(response); err != nil {
			o.complete(err)
		}

	case stateAwaitingAcknowledge:
		if string(args.Message) != acknowledgeMessage {
			o.mu.Unlock()
			o.complete(ErrAuthenticationFailed)
			return
		}
		o.state = stateAuthenticated
		o.mu.Unlock()
		o.complete(nil)

	case stateAuthenticated:
		o.mu.Unlock()
		o.responseMessageReceived.Raise(interfaces.DuplexChannelMessageEventArgs{
			ChannelID:          o.ChannelID(),
			ResponseReceiverID: o.ResponseReceiverID(),
			SenderAddress:      args.SenderAddress,
			Message:            args.Message,
		})

	default:
		o.mu.Unlock()
	}
}

func (o *OutputChannel) onUnderlyingClosed(interfaces.DuplexChannelEventArgs) {
	o.mu.Lock()
	switch o.state {
	case stateAwaitingHandshake, stateAwaitingAcknowledge:
		o.mu.Unlock()
		o.complete(ErrConnectionClosed)

	case stateAuthenticated:
		o.state = stateClosed
		o.unsubscribeLocked()
		o.mu.Unlock()
		o.logger.Debug("已认证连接被关闭", "channelID", o.ChannelID())
		o.connectionClosed.Raise(o.eventArgs())

	default:
		o.mu.Unlock()
	}
}

func (o *OutputChannel) callLogin() (login []byte) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("GetLoginMessage panic", "panic", r)
			login = nil
		}
	}()
	return o.getLogin(o.ChannelID(), o.ResponseReceiverID())
}

func (o *OutputChannel) callHandshakeResponse(handshake []byte) (response []byte) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("GetHandshakeResponseMessage panic", "panic", r)
			response = nil
		}
	}()
	return o.getHandshakeResponse(o.ChannelID(), o.ResponseReceiverID(), handshake)
}

func (o *OutputChannel) eventArgs() interfaces.DuplexChannelEventArgs {
	return interfaces.DuplexChannelEventArgs{
		ChannelID:          o.ChannelID(),
		ResponseReceiverID: o.ResponseReceiverID(),
	}
}

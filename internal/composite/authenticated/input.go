package authenticated

import (
	"sync"

	"github.com/dep2p/go-duplex/internal/core/metrics"
	"github.com/dep2p/go-duplex/pkg/interfaces"
	"github.com/dep2p/go-duplex/pkg/lib/event"
	"github.com/dep2p/go-duplex/pkg/lib/log"
)

// pendingReceiver 尚未完成认证的客户端
type pendingReceiver struct {
	login     []byte
	handshake []byte
	address   string

	// verifying 已收到响应，正在执行 Authenticate
	verifying bool
}

// InputChannel 认证输入通道
//
// 每个客户端的第一条消息为登录消息，第二条为握手响应；
// 认证通过前客户端对上层不可见。
type InputChannel struct {
	underlying   interfaces.DuplexInputChannel
	getHandshake GetHandshakeMessage
	authenticate Authenticate
	cancelled    HandleAuthenticationCancelled

	logger  log.Interface
	metrics *metrics.Metrics

	// mu 同时保护 pending 与 authenticated，二者键集合不相交
	mu            sync.Mutex
	listening     bool
	tokens        [2]event.Token
	pending       map[string]*pendingReceiver
	authenticated map[string]string

	responseReceiverConnected    event.Event[interfaces.ResponseReceiverEventArgs]
	responseReceiverDisconnected event.Event[interfaces.ResponseReceiverEventArgs]
	messageReceived              event.Event[interfaces.DuplexChannelMessageEventArgs]
}

var _ interfaces.DuplexInputChannel = (*InputChannel)(nil)

// NewInputChannel 包装底层输入通道
func NewInputChannel(
	underlying interfaces.DuplexInputChannel,
	getHandshake GetHandshakeMessage,
	authenticate Authenticate,
	opts ...Option,
) (*InputChannel, error) {
	if underlying == nil {
		return nil, ErrNilUnderlying
	}
	if getHandshake == nil || authenticate == nil {
		return nil, ErrNilCallback
	}
	s := newSettings(opts)
	return &InputChannel{
		underlying:    underlying,
		getHandshake:  getHandshake,
		authenticate:  authenticate,
		cancelled:     s.cancelled,
		logger:        s.logger,
		metrics:       s.metrics,
		pending:       make(map[string]*pendingReceiver),
		authenticated: make(map[string]string),
	}, nil
}

// ChannelID 返回监听地址
func (in *InputChannel) ChannelID() string { return in.underlying.ChannelID() }

// Underlying 返回被包装的通道
func (in *InputChannel) Underlying() interfaces.DuplexInputChannel { return in.underlying }

// ResponseReceiverConnected 客户端认证通过事件
func (in *InputChannel) ResponseReceiverConnected() *event.Event[interfaces.ResponseReceiverEventArgs] {
	return &in.responseReceiverConnected
}

// ResponseReceiverDisconnected 已认证客户端断开事件
func (in *InputChannel) ResponseReceiverDisconnected() *event.Event[interfaces.ResponseReceiverEventArgs] {
	return &in.responseReceiverDisconnected
}

// MessageReceived 已认证客户端的消息事件
func (in *InputChannel) MessageReceived() *event.Event[interfaces.DuplexChannelMessageEventArgs] {
	return &in.messageReceived
}

// StartListening 开始监听
func (in *InputChannel) StartListening() error {
	in.mu.Lock()
	if in.listening {
		in.mu.Unlock()
		return ErrAlreadyListening
	}
	in.tokens[0] = in.underlying.ResponseReceiverDisconnected().Subscribe(in.onUnderlyingDisconnected)
	in.tokens[1] = in.underlying.MessageReceived().Subscribe(in.onUnderlyingMessage)
	in.listening = true
	in.mu.Unlock()

	if err := in.underlying.StartListening(); err != nil {
		in.mu.Lock()
		in.listening = false
		in.unsubscribeLocked()
		in.mu.Unlock()
		return err
	}
	return nil
}

// StopListening 停止监听并清除所有认证状态
func (in *InputChannel) StopListening() {
	in.mu.Lock()
	if !in.listening {
		in.mu.Unlock()
		return
	}
	in.listening = false
	in.unsubscribeLocked()
	in.pending = make(map[string]*pendingReceiver)
	in.authenticated = make(map[string]string)
	in.mu.Unlock()

	in.underlying.StopListening()
}

// IsListening 返回是否正在监听
func (in *InputChannel) IsListening() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.listening
}

// SendResponseMessage 向已认证客户端发送消息
func (in *InputChannel) SendResponseMessage(responseReceiverID string, message []byte) error {
	in.mu.Lock()
	_, ok := in.authenticated[responseReceiverID]
	in.mu.Unlock()

	if !ok {
		return ErrNotAuthenticated
	}
	return in.underlying.SendResponseMessage(responseReceiverID, message)
}

// DisconnectResponseReceiver 断开客户端
func (in *InputChannel) DisconnectResponseReceiver(responseReceiverID string) error {
	in.mu.Lock()
	delete(in.pending, responseReceiverID)
	delete(in.authenticated, responseReceiverID)
	in.mu.Unlock()

	return in.underlying.DisconnectResponseReceiver(responseReceiverID)
}

// AuthenticatedCount 返回已认证客户端数
func (in *InputChannel) AuthenticatedCount() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.authenticated)
}

// PendingCount 返回认证中的客户端数
func (in *InputChannel) PendingCount() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.pending)
}

func (in *InputChannel) unsubscribeLocked() {
	in.underlying.ResponseReceiverDisconnected().Unsubscribe(in.tokens[0])
	in.underlying.MessageReceived().Unsubscribe(in.tokens[1])
	in.tokens = [2]event.Token{}
}

// ============================================================================
//                              底层事件
// ============================================================================

func (in *InputChannel) onUnderlyingMessage(args interfaces.DuplexChannelMessageEventArgs) {
	id := args.ResponseReceiverID

	in.mu.Lock()
	if !in.listening {
		in.mu.Unlock()
		return
	}
	if _, ok := in.authenticated[id]; ok {
		in.mu.Unlock()
		in.messageReceived.Raise(interfaces.DuplexChannelMessageEventArgs{
			ChannelID:          in.ChannelID(),
			ResponseReceiverID: id,
			SenderAddress:      args.SenderAddress,
			Message:            args.Message,
		})
		return
	}

	p, ok := in.pending[id]
	if !ok {
		p = &pendingReceiver{
			login:   append([]byte(nil), args.Message...),
			address: args.SenderAddress,
		}
		in.pending[id] = p
		in.mu.Unlock()
		in.handleLogin(id, p)
		return
	}

	if p.handshake == nil || p.verifying {
		in.mu.Unlock()
		in.reject(id, p, "unexpected message during authentication")
		return
	}
	p.verifying = true
	in.mu.Unlock()
	in.handleResponse(id, p, args.Message)
}

// handleLogin 生成并发送握手消息
func (in *InputChannel) handleLogin(id string, p *pendingReceiver) {
	handshake := in.callHandshake(id, p.login)
	if handshake == nil {
		in.reject(id, p, "handshake refused")
		return
	}

	in.mu.Lock()
	if in.pending[id] != p {
		in.mu.Unlock()
		return
	}
	p.handshake = handshake
	in.mu.Unlock()

	if err := in.underlying.SendResponseMessage(id, handshake); err != nil {
		in.reject(id, p, "send handshake: "+err.Error())
	}
}

// handleResponse 校验响应，通过后发送确认并对外宣告连接
func (in *InputChannel) handleResponse(id string, p *pendingReceiver, response []byte) {
	if !in.callAuthenticate(id, p, response) {
		in.reject(id, p, "authentication rejected")
		return
	}

	in.mu.Lock()
	if in.pending[id] != p {
		in.mu.Unlock()
		return
	}
	delete(in.pending, id)
	in.authenticated[id] = p.address
	in.mu.Unlock()

	if err := in.underlying.SendResponseMessage(id, []byte(acknowledgeMessage)); err != nil {
		in.mu.Lock()
		delete(in.authenticated, id)
		in.mu.Unlock()
		in.metrics.AuthResult(metrics.SideService, metrics.ResultFailure)
		in.logger.Warn("发送认证确认失败", "rrID", log.TruncateID(id, 8), "err", err)
		_ = in.underlying.DisconnectResponseReceiver(id)
		return
	}

	in.metrics.AuthResult(metrics.SideService, metrics.ResultSuccess)
	in.logger.Debug("客户端认证通过", "rrID", log.TruncateID(id, 8))
	in.responseReceiverConnected.Raise(interfaces.ResponseReceiverEventArgs{
		ResponseReceiverID: id,
		SenderAddress:      p.address,
	})
}

// reject 丢弃认证状态并断开客户端
func (in *InputChannel) reject(id string, p *pendingReceiver, reason string) {
	in.mu.Lock()
	if in.pending[id] == p {
		delete(in.pending, id)
	}
	in.mu.Unlock()

	in.metrics.AuthResult(metrics.SideService, metrics.ResultFailure)
	in.logger.Warn("客户端认证失败", "rrID", log.TruncateID(id, 8), "reason", reason)
	if err := in.underlying.DisconnectResponseReceiver(id); err != nil {
		in.logger.Debug("断开客户端失败", "rrID", log.TruncateID(id, 8), "err", err)
	}
}

func (in *InputChannel) onUnderlyingDisconnected(args interfaces.ResponseReceiverEventArgs) {
	id := args.ResponseReceiverID

	in.mu.Lock()
	if address, ok := in.authenticated[id]; ok {
		delete(in.authenticated, id)
		in.mu.Unlock()
		in.responseReceiverDisconnected.Raise(interfaces.ResponseReceiverEventArgs{
			ResponseReceiverID: id,
			SenderAddress:      address,
		})
		return
	}
	p, ok := in.pending[id]
	delete(in.pending, id)
	in.mu.Unlock()

	if ok && in.cancelled != nil {
		in.callCancelled(id, p.login)
	}
}

// ============================================================================
//                              回调保护
// ============================================================================

func (in *InputChannel) callHandshake(id string, login []byte) (handshake []byte) {
	defer func() {
		if r := recover(); r != nil {
			in.logger.Error("GetHandshakeMessage panic", "rrID", log.TruncateID(id, 8), "panic", r)
			handshake = nil
		}
	}()
	return in.getHandshake(in.ChannelID(), id, login)
}

// callAuthenticate 执行 Authenticate，panic 视为拒绝
func (in *InputChannel) callAuthenticate(id string, p *pendingReceiver, response []byte) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			in.logger.Error("Authenticate panic", "rrID", log.TruncateID(id, 8), "panic", r)
			ok = false
		}
	}()
	return in.authenticate(in.ChannelID(), id, p.login, p.handshake, response)
}

func (in *InputChannel) callCancelled(id string, login []byte) {
	defer func() {
		if r := recover(); r != nil {
			in.logger.Error("HandleAuthenticationCancelled panic", "rrID", log.TruncateID(id, 8), "panic", r)
		}
	}()
	in.cancelled(in.ChannelID(), id, login)
}

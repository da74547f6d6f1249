// Package attach 实现通道挂接的公共逻辑
//
// RPC 客户端/服务与 Broker 客户端/服务都以"挂接"方式使用通道：
// 挂接时订阅通道事件并打开连接（或开始监听），解除挂接时关闭并退订。
// 挂接者只观察通道，不拥有通道的生命周期之外的任何状态。
package attach

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dep2p/go-duplex/pkg/interfaces"
	"github.com/dep2p/go-duplex/pkg/lib/event"
)

// 错误定义
var (
	// ErrAlreadyAttached 已挂接通道
	ErrAlreadyAttached = errors.New("attach: channel already attached")

	// ErrNilChannel 通道为 nil
	ErrNilChannel = errors.New("attach: channel is nil")

	// ErrNotAttached 未挂接通道
	ErrNotAttached = errors.New("attach: channel not attached")
)

// ============================================================================
//                              输出通道挂接
// ============================================================================

// OutputHandlers 输出通道事件处理器
//
// 未设置的处理器不订阅。
type OutputHandlers struct {
	ConnectionOpened        func(interfaces.DuplexChannelEventArgs)
	ConnectionClosed        func(interfaces.DuplexChannelEventArgs)
	ResponseMessageReceived func(interfaces.DuplexChannelMessageEventArgs)
}

// OutputAttacher 管理一个输出通道的挂接
type OutputAttacher struct {
	handlers OutputHandlers

	mu     sync.Mutex
	ch     interfaces.DuplexOutputChannel
	tokens outputTokens
}

type outputTokens struct {
	opened, closed, received event.Token
}

// NewOutputAttacher 创建输出通道挂接器
func NewOutputAttacher(handlers OutputHandlers) *OutputAttacher {
	return &OutputAttacher{handlers: handlers}
}

// Attach 挂接通道并在未连接时打开连接
//
// 打开失败时撤销挂接并返回错误。
func (a *OutputAttacher) Attach(ch interfaces.DuplexOutputChannel) error {
	if ch == nil {
		return ErrNilChannel
	}

	a.mu.Lock()
	if a.ch != nil {
		a.mu.Unlock()
		return ErrAlreadyAttached
	}
	a.ch = ch
	a.tokens = outputTokens{
		opened:   subscribe(ch.ConnectionOpened(), a.handlers.ConnectionOpened),
		closed:   subscribe(ch.ConnectionClosed(), a.handlers.ConnectionClosed),
		received: subscribe(ch.ResponseMessageReceived(), a.handlers.ResponseMessageReceived),
	}
	a.mu.Unlock()

	// 打开连接可能阻塞（认证握手），不能持锁
	if ch.IsConnected() {
		return nil
	}
	if err := ch.OpenConnection(); err != nil {
		a.mu.Lock()
		if a.ch == ch {
			a.unsubscribeLocked()
			a.ch = nil
		}
		a.mu.Unlock()
		return fmt.Errorf("open connection to %s: %w", ch.ChannelID(), err)
	}
	return nil
}

// Detach 关闭连接并解除挂接，可重复调用
func (a *OutputAttacher) Detach() {
	a.mu.Lock()
	ch := a.ch
	a.mu.Unlock()
	if ch == nil {
		return
	}

	// 先关闭再退订，同步触发的 ConnectionClosed 仍会送达挂接者
	ch.CloseConnection()

	a.mu.Lock()
	if a.ch == ch {
		a.unsubscribeLocked()
		a.ch = nil
	}
	a.mu.Unlock()
}

// Channel 返回已挂接的通道
func (a *OutputAttacher) Channel() interfaces.DuplexOutputChannel {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ch
}

// IsAttached 返回是否已挂接
func (a *OutputAttacher) IsAttached() bool {
	return a.Channel() != nil
}

// Send 通过已挂接通道发送消息
func (a *OutputAttacher) Send(message []byte) error {
	ch := a.Channel()
	if ch == nil {
		return ErrNotAttached
	}
	return ch.SendMessage(message)
}

func (a *OutputAttacher) unsubscribeLocked() {
	a.ch.ConnectionOpened().Unsubscribe(a.tokens.opened)
	a.ch.ConnectionClosed().Unsubscribe(a.tokens.closed)
	a.ch.ResponseMessageReceived().Unsubscribe(a.tokens.received)
	a.tokens = outputTokens{}
}

// ============================================================================
//                              输入通道挂接
// ============================================================================

// InputHandlers 输入通道事件处理器
type InputHandlers struct {
	ResponseReceiverConnected    func(interfaces.ResponseReceiverEventArgs)
	ResponseReceiverDisconnected func(interfaces.ResponseReceiverEventArgs)
	MessageReceived              func(interfaces.DuplexChannelMessageEventArgs)
}

// InputAttacher 管理一个输入通道的挂接
type InputAttacher struct {
	handlers InputHandlers

	mu     sync.Mutex
	ch     interfaces.DuplexInputChannel
	tokens inputTokens
}

type inputTokens struct {
	connected, disconnected, received event.Token
}

// NewInputAttacher 创建输入通道挂接器
func NewInputAttacher(handlers InputHandlers) *InputAttacher {
	return &InputAttacher{handlers: handlers}
}

// Attach 挂接通道并在未监听时开始监听
func (a *InputAttacher) Attach(ch interfaces.DuplexInputChannel) error {
	if ch == nil {
		return ErrNilChannel
	}

	a.mu.Lock()
	if a.ch != nil {
		a.mu.Unlock()
		return ErrAlreadyAttached
	}
	a.ch = ch
	a.tokens = inputTokens{
		connected:    subscribe(ch.ResponseReceiverConnected(), a.handlers.ResponseReceiverConnected),
		disconnected: subscribe(ch.ResponseReceiverDisconnected(), a.handlers.ResponseReceiverDisconnected),
		received:     subscribe(ch.MessageReceived(), a.handlers.MessageReceived),
	}
	a.mu.Unlock()

	if ch.IsListening() {
		return nil
	}
	if err := ch.StartListening(); err != nil {
		a.mu.Lock()
		if a.ch == ch {
			a.unsubscribeLocked()
			a.ch = nil
		}
		a.mu.Unlock()
		return fmt.Errorf("start listening on %s: %w", ch.ChannelID(), err)
	}
	return nil
}

// Detach 停止监听并解除挂接
func (a *InputAttacher) Detach() {
	a.mu.Lock()
	ch := a.ch
	a.mu.Unlock()
	if ch == nil {
		return
	}

	ch.StopListening()

	a.mu.Lock()
	if a.ch == ch {
		a.unsubscribeLocked()
		a.ch = nil
	}
	a.mu.Unlock()
}

// Channel 返回已挂接的通道
func (a *InputAttacher) Channel() interfaces.DuplexInputChannel {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ch
}

// IsAttached 返回是否已挂接
func (a *InputAttacher) IsAttached() bool {
	return a.Channel() != nil
}

// SendResponse 通过已挂接通道向客户端发送消息
func (a *InputAttacher) SendResponse(responseReceiverID string, message []byte) error {
	ch := a.Channel()
	if ch == nil {
		return ErrNotAttached
	}
	return ch.SendResponseMessage(responseReceiverID, message)
}

// Disconnect 通过已挂接通道断开指定客户端
func (a *InputAttacher) Disconnect(responseReceiverID string) error {
	ch := a.Channel()
	if ch == nil {
		return ErrNotAttached
	}
	return ch.DisconnectResponseReceiver(responseReceiverID)
}

func (a *InputAttacher) unsubscribeLocked() {
	a.ch.ResponseReceiverConnected().Unsubscribe(a.tokens.connected)
	a.ch.ResponseReceiverDisconnected().Unsubscribe(a.tokens.disconnected)
	a.ch.MessageReceived().Unsubscribe(a.tokens.received)
	a.tokens = inputTokens{}
}

func subscribe[T any](e *event.Event[T], handler func(T)) event.Token {
	if handler == nil {
		return 0
	}
	return e.Subscribe(handler)
}

package rpc

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/dep2p/go-duplex/internal/attach"
	"github.com/dep2p/go-duplex/internal/core/metrics"
	"github.com/dep2p/go-duplex/internal/dispatch"
	"github.com/dep2p/go-duplex/pkg/interfaces"
	"github.com/dep2p/go-duplex/pkg/lib/event"
	"github.com/dep2p/go-duplex/pkg/lib/log"
)

// pendingCall 等待响应的请求，只解析一次
type pendingCall struct {
	once sync.Once
	done chan struct{}
	resp *message
	err  error
}

func newPendingCall() *pendingCall {
	return &pendingCall{done: make(chan struct{})}
}

func (p *pendingCall) resolve(resp *message, err error) {
	p.once.Do(func() {
		p.resp = resp
		p.err = err
		close(p.done)
	})
}

// remoteEvent 客户端侧的远程事件
type remoteEvent struct {
	info     *eventInfo
	handlers event.Event[any]
}

// Client RPC 客户端
//
// I 是服务接口类型，仅用于在创建时解析方法与事件表。
// 调用通过 Invoke 或 Call 按方法名发起。
type Client[I any] struct {
	reg        *registry
	config     Config
	serializer interfaces.Serializer
	logger     log.Interface
	metrics    *metrics.Metrics
	clock      clock.Clock
	dispatcher *dispatch.Serial
	attacher   *attach.OutputAttacher

	nextID  atomic.Int32
	pending *xsync.MapOf[int32, *pendingCall]

	// mu 保护事件订阅计数的首次/末次判断
	mu     sync.Mutex
	events map[string]*remoteEvent

	connectionOpened event.Event[interfaces.DuplexChannelEventArgs]
	connectionClosed event.Event[interfaces.DuplexChannelEventArgs]
}

var _ interfaces.AttachableDuplexOutputChannel = (*Client[any])(nil)

// NewClient 创建 RPC 客户端
func NewClient[I any](opts ...Option) (*Client[I], error) {
	reg, err := buildRegistry(interfaceOf[I]())
	if err != nil {
		return nil, err
	}
	s := newSettings("rpc/client", opts)

	c := &Client[I]{
		reg:        reg,
		config:     s.config,
		serializer: s.serializer,
		logger:     s.logger,
		metrics:    s.metrics,
		clock:      s.clock,
		dispatcher: dispatch.NewSerial(),
		pending:    xsync.NewMapOf[int32, *pendingCall](),
		events:     make(map[string]*remoteEvent, len(reg.events)),
	}
	for name, info := range reg.events {
		c.events[name] = &remoteEvent{info: info}
	}
	c.attacher = attach.NewOutputAttacher(attach.OutputHandlers{
		ConnectionOpened:        c.onConnectionOpened,
		ConnectionClosed:        c.onConnectionClosed,
		ResponseMessageReceived: c.onResponseMessage,
	})
	return c, nil
}

// ============================================================================
//                              挂接
// ============================================================================

// AttachDuplexOutputChannel 挂接通道并打开连接
func (c *Client[I]) AttachDuplexOutputChannel(ch interfaces.DuplexOutputChannel) error {
	// 挂接前已连接的通道不会再触发 ConnectionOpened
	wasConnected := ch != nil && ch.IsConnected()
	err := c.attacher.Attach(ch)
	if errors.Is(err, attach.ErrAlreadyAttached) {
		return ErrAlreadyAttached
	}
	if err != nil {
		return err
	}
	if wasConnected {
		go c.resubscribeAll()
	}
	return nil
}

// DetachDuplexOutputChannel 关闭连接并解除挂接
//
// 等待中的调用以 ErrNotAttached 返回。
func (c *Client[I]) DetachDuplexOutputChannel() {
	if !c.attacher.IsAttached() {
		return
	}
	c.failPending(ErrNotAttached)
	c.attacher.Detach()
}

// IsDuplexOutputChannelAttached 返回是否已挂接
func (c *Client[I]) IsDuplexOutputChannelAttached() bool {
	return c.attacher.IsAttached()
}

// AttachedDuplexOutputChannel 返回已挂接的通道
func (c *Client[I]) AttachedDuplexOutputChannel() interfaces.DuplexOutputChannel {
	return c.attacher.Channel()
}

// ConnectionOpened 连接打开事件
func (c *Client[I]) ConnectionOpened() *event.Event[interfaces.DuplexChannelEventArgs] {
	return &c.connectionOpened
}

// ConnectionClosed 连接关闭事件
func (c *Client[I]) ConnectionClosed() *event.Event[interfaces.DuplexChannelEventArgs] {
	return &c.connectionClosed
}

// PendingCount 返回等待响应的请求数
func (c *Client[I]) PendingCount() int {
	return c.pending.Size()
}

// ============================================================================
//                              调用
// ============================================================================

// Invoke 调用远程方法
//
// result 为指向返回值的指针，方法无返回值或调用方不关心时可为 nil。
// 方法名错误、参数个数或类型不匹配时不产生任何网络流量。
func (c *Client[I]) Invoke(ctx context.Context, name string, result any, args ...any) error {
	m, ok := c.reg.methods[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMethodNotFound, name)
	}
	if len(args) != len(m.params) {
		return fmt.Errorf("%w: %s expects %d, got %d", ErrInvalidArgCount, name, len(m.params), len(args))
	}

	params := make([][]byte, len(args))
	for i, arg := range args {
		if arg != nil && !reflect.TypeOf(arg).AssignableTo(m.params[i]) {
			return fmt.Errorf("%w: %s param %d is %T, want %v", ErrInvalidArgType, name, i, arg, m.params[i])
		}
		data, err := c.serializer.Serialize(arg)
		if err != nil {
			return fmt.Errorf("%w: %s param %d: %v", ErrSerialization, name, i, err)
		}
		params[i] = data
	}

	start := c.clock.Now()
	resp, err := c.request(ctx, &message{Kind: kindInvoke, Name: name, Params: params})
	if err != nil {
		c.metrics.RPCCall(callResult(err), c.clock.Since(start))
		return err
	}

	if resp.Error != nil {
		c.metrics.RPCCall(metrics.ResultRemote, c.clock.Since(start))
		return &RemoteError{Type: resp.Error.Type, Message: resp.Error.Message, Details: resp.Error.Details}
	}
	c.metrics.RPCCall(metrics.ResultSuccess, c.clock.Since(start))

	if result == nil || m.result == nil || !resp.HasReturn {
		return nil
	}
	if err := c.serializer.Deserialize(resp.Return, result); err != nil {
		return fmt.Errorf("%w: %s result: %v", ErrSerialization, name, err)
	}
	return nil
}

// Call 调用远程方法并返回类型化结果
//
//	sum, err := rpc.Call[int](ctx, client, "Add", 2, 3)
func Call[R any, I any](ctx context.Context, c *Client[I], name string, args ...any) (R, error) {
	var r R
	err := c.Invoke(ctx, name, &r, args...)
	return r, err
}

// request 发送请求并等待响应，返回前总是移除 pending 记录
func (c *Client[I]) request(ctx context.Context, req *message) (*message, error) {
	ch := c.attacher.Channel()
	if ch == nil {
		return nil, ErrNotAttached
	}
	if !ch.IsConnected() {
		return nil, ErrConnectionClosed
	}

	req.ID = c.nextID.Add(1)
	data, err := encodeMessage(req)
	if err != nil {
		return nil, err
	}

	call := newPendingCall()
	c.pending.Store(req.ID, call)
	defer c.pending.Delete(req.ID)

	// 挂接在登记前被解除时不会再有人解析该请求
	if c.attacher.Channel() != ch {
		return nil, ErrNotAttached
	}

	if err := ch.SendMessage(data); err != nil {
		return nil, fmt.Errorf("send %s %s: %w", req.Kind, req.Name, err)
	}

	var timeout <-chan time.Time
	if c.config.Timeout > 0 {
		timer := c.clock.Timer(c.config.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-call.done:
		if call.err != nil {
			return nil, call.err
		}
		return call.resp, nil
	case <-timeout:
		return nil, fmt.Errorf("%w: %s %s after %v", ErrTimeout, req.Kind, req.Name, c.config.Timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client[I]) failPending(err error) {
	c.pending.Range(func(_ int32, call *pendingCall) bool {
		call.resolve(nil, err)
		return true
	})
}

func callResult(err error) string {
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return metrics.ResultTimeout
	}
	return metrics.ResultFailure
}

// ============================================================================
//                              远程事件
// ============================================================================

// SubscribeRemoteEvent 订阅远程事件
//
// 第一个本地订阅者触发向服务端订阅；服务端订阅失败只记录警告，
// 本地订阅保留，并在下次连接打开时重试。
func (c *Client[I]) SubscribeRemoteEvent(name string, handler func(any)) (event.Token, error) {
	re, ok := c.events[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrEventNotFound, name)
	}
	if handler == nil {
		return 0, fmt.Errorf("%w: nil handler for %s", ErrInvalidArgType, name)
	}

	c.mu.Lock()
	first := re.handlers.Count() == 0
	token := re.handlers.Subscribe(handler)
	c.mu.Unlock()

	if first {
		c.sendSubscription(kindSubscribe, name)
	}
	return token, nil
}

// UnsubscribeRemoteEvent 取消订阅，最后一个本地订阅者取消时通知服务端
func (c *Client[I]) UnsubscribeRemoteEvent(name string, token event.Token) error {
	re, ok := c.events[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEventNotFound, name)
	}

	c.mu.Lock()
	removed := re.handlers.Unsubscribe(token)
	last := removed && re.handlers.Count() == 0
	c.mu.Unlock()

	if last {
		c.sendSubscription(kindUnsubscribe, name)
	}
	return nil
}

// Subscribe 以类型化处理函数订阅远程事件
//
// T 必须与接口中声明的事件参数类型一致。
func Subscribe[T any, I any](c *Client[I], name string, handler func(T)) (event.Token, error) {
	re, ok := c.events[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrEventNotFound, name)
	}
	want := reflect.TypeOf((*T)(nil)).Elem()
	if re.info.argType != want {
		return 0, fmt.Errorf("%w: event %s carries %v, not %v", ErrInvalidArgType, name, re.info.argType, want)
	}
	if handler == nil {
		return 0, fmt.Errorf("%w: nil handler for %s", ErrInvalidArgType, name)
	}
	return c.SubscribeRemoteEvent(name, func(v any) {
		arg, _ := v.(T)
		handler(arg)
	})
}

// sendSubscription 尽力通知服务端订阅变化
func (c *Client[I]) sendSubscription(kind messageKind, name string) {
	ch := c.attacher.Channel()
	if ch == nil || !ch.IsConnected() {
		c.logger.Debug("未连接，订阅变化将在连接后同步", "event", name, "kind", kind.String())
		return
	}
	if _, err := c.request(context.Background(), &message{Kind: kind, Name: name}); err != nil {
		c.logger.Warn("同步远程事件订阅失败", "event", name, "kind", kind.String(), "err", err)
	}
}

// resubscribeAll 连接打开后重新订阅所有有本地订阅者的事件
func (c *Client[I]) resubscribeAll() {
	for name, re := range c.events {
		if re.handlers.Count() > 0 {
			c.sendSubscription(kindSubscribe, name)
		}
	}
}

// raiseEvent 在调度器上执行，反序列化失败只影响本次事件
func (c *Client[I]) raiseEvent(msg *message) {
	re, ok := c.events[msg.Name]
	if !ok {
		c.logger.Warn("收到未知事件", "event", msg.Name)
		return
	}
	if re.handlers.Count() == 0 {
		return
	}
	if len(msg.Params) != 1 {
		c.logger.Warn("事件参数个数错误", "event", msg.Name, "count", len(msg.Params))
		return
	}

	arg := reflect.New(re.info.argType)
	if err := c.serializer.Deserialize(msg.Params[0], arg.Interface()); err != nil {
		c.logger.Warn("事件参数反序列化失败", "event", msg.Name, "err", err)
		return
	}
	re.handlers.Raise(arg.Elem().Interface())
}

// ============================================================================
//                              通道事件
// ============================================================================

func (c *Client[I]) onConnectionOpened(args interfaces.DuplexChannelEventArgs) {
	// 订阅请求需等待响应，不能阻塞通道的事件路径
	go c.resubscribeAll()
	c.connectionOpened.Raise(args)
}

func (c *Client[I]) onConnectionClosed(args interfaces.DuplexChannelEventArgs) {
	c.failPending(ErrConnectionClosed)
	c.connectionClosed.Raise(args)
}

func (c *Client[I]) onResponseMessage(args interfaces.DuplexChannelMessageEventArgs) {
	msg, err := decodeMessage(args.Message)
	if err != nil {
		c.logger.Warn("响应报文解析失败，关闭连接", "err", err)
		c.dropConnection()
		return
	}

	switch msg.Kind {
	case kindResponse:
		if call, ok := c.pending.LoadAndDelete(msg.ID); ok {
			call.resolve(msg, nil)
			return
		}
		c.logger.Debug("丢弃无主响应", "id", msg.ID)
	case kindRaiseEvent:
		c.dispatcher.Invoke(func() { c.raiseEvent(msg) })
	default:
		c.logger.Warn("客户端收到意外报文，关闭连接", "kind", msg.Kind.String())
		c.dropConnection()
	}
}

// dropConnection 协议错误时失败所有等待调用并关闭连接
//
// 在通道事件路径上调用，关闭须异步进行。
func (c *Client[I]) dropConnection() {
	c.failPending(ErrMalformedMessage)
	if ch := c.attacher.Channel(); ch != nil {
		go ch.CloseConnection()
	}
}

package rpc

import (
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/dep2p/go-duplex/internal/attach"
	"github.com/dep2p/go-duplex/pkg/interfaces"
	"github.com/dep2p/go-duplex/pkg/lib/event"
	"github.com/dep2p/go-duplex/pkg/lib/log"
)

// serviceEvent 服务端事件及其远程订阅者
type serviceEvent struct {
	info    *eventInfo
	source  event.Untyped
	token   event.Token
	mu      sync.Mutex
	clients map[string]struct{}
}

func (e *serviceEvent) snapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.clients))
	for id := range e.clients {
		ids = append(ids, id)
	}
	return ids
}

// Service RPC 服务
//
// 每个调用在独立 goroutine 中执行，服务实现须自行保证并发安全。
type Service[I any] struct {
	reg        *registry
	impl       reflect.Value
	serializer interfaces.Serializer
	logger     log.Interface
	attacher   *attach.InputAttacher

	events   map[string]*serviceEvent
	inFlight *xsync.Counter

	connected    event.Event[interfaces.ResponseReceiverEventArgs]
	disconnected event.Event[interfaces.ResponseReceiverEventArgs]
}

var _ interfaces.AttachableDuplexInputChannel = (*Service[any])(nil)

// NewService 创建 RPC 服务
//
// impl 的事件方法在创建时调用一次，此后服务端持有这些事件的订阅直到 Close。
func NewService[I any](impl I, opts ...Option) (*Service[I], error) {
	reg, err := buildRegistry(interfaceOf[I]())
	if err != nil {
		return nil, err
	}
	v := reflect.ValueOf(impl)
	if !v.IsValid() || (v.Kind() == reflect.Pointer && v.IsNil()) {
		return nil, ErrNilService
	}
	s := newSettings("rpc/service", opts)

	svc := &Service[I]{
		reg:        reg,
		impl:       v,
		serializer: s.serializer,
		logger:     s.logger,
		events:     make(map[string]*serviceEvent, len(reg.events)),
		inFlight:   xsync.NewCounter(),
	}

	for name, info := range reg.events {
		out := v.MethodByName(name).Call(nil)[0]
		if out.IsNil() {
			return nil, fmt.Errorf("%w: event %s returned nil", ErrInvalidInterface, name)
		}
		se := &serviceEvent{
			info:    info,
			source:  out.Interface().(event.Untyped),
			clients: make(map[string]struct{}),
		}
		se.token = se.source.SubscribeAny(func(arg any) { svc.broadcast(se, arg) })
		svc.events[name] = se
	}

	svc.attacher = attach.NewInputAttacher(attach.InputHandlers{
		ResponseReceiverConnected:    svc.onReceiverConnected,
		ResponseReceiverDisconnected: svc.onReceiverDisconnected,
		MessageReceived:              svc.onMessage,
	})
	return svc, nil
}

// AttachDuplexInputChannel 挂接通道并开始监听
func (s *Service[I]) AttachDuplexInputChannel(ch interfaces.DuplexInputChannel) error {
	err := s.attacher.Attach(ch)
	if errors.Is(err, attach.ErrAlreadyAttached) {
		return ErrAlreadyAttached
	}
	return err
}

// DetachDuplexInputChannel 停止监听并清空所有远程订阅
func (s *Service[I]) DetachDuplexInputChannel() {
	s.attacher.Detach()
	for _, se := range s.events {
		se.mu.Lock()
		clear(se.clients)
		se.mu.Unlock()
	}
}

// IsDuplexInputChannelAttached 返回是否已挂接
func (s *Service[I]) IsDuplexInputChannelAttached() bool {
	return s.attacher.IsAttached()
}

// AttachedDuplexInputChannel 返回已挂接的通道
func (s *Service[I]) AttachedDuplexInputChannel() interfaces.DuplexInputChannel {
	return s.attacher.Channel()
}

// Close 解除挂接并退订服务实现的事件
func (s *Service[I]) Close() {
	s.DetachDuplexInputChannel()
	for _, se := range s.events {
		se.source.Unsubscribe(se.token)
	}
}

// ResponseReceiverConnected 客户端连接事件
func (s *Service[I]) ResponseReceiverConnected() *event.Event[interfaces.ResponseReceiverEventArgs] {
	return &s.connected
}

// ResponseReceiverDisconnected 客户端断开事件
func (s *Service[I]) ResponseReceiverDisconnected() *event.Event[interfaces.ResponseReceiverEventArgs] {
	return &s.disconnected
}

// InFlight 返回正在执行的调用数
func (s *Service[I]) InFlight() int64 {
	return s.inFlight.Value()
}

// SubscriberCount 返回某事件的远程订阅者数
func (s *Service[I]) SubscriberCount(name string) int {
	se, ok := s.events[name]
	if !ok {
		return 0
	}
	se.mu.Lock()
	defer se.mu.Unlock()
	return len(se.clients)
}

// ============================================================================
//                              请求处理
// ============================================================================

func (s *Service[I]) onMessage(args interfaces.DuplexChannelMessageEventArgs) {
	msg, err := decodeMessage(args.Message)
	if err != nil {
		s.logger.Warn("请求报文解析失败，断开客户端", "receiver", args.ResponseReceiverID, "err", err)
		s.dropReceiver(args.ResponseReceiverID)
		return
	}

	switch msg.Kind {
	case kindInvoke:
		s.inFlight.Inc()
		go func() {
			defer s.inFlight.Dec()
			s.reply(args.ResponseReceiverID, s.invoke(msg))
		}()
	case kindSubscribe:
		s.reply(args.ResponseReceiverID, s.subscribe(msg, args.ResponseReceiverID))
	case kindUnsubscribe:
		s.reply(args.ResponseReceiverID, s.unsubscribe(msg, args.ResponseReceiverID))
	default:
		s.logger.Warn("服务端收到意外报文，断开客户端", "receiver", args.ResponseReceiverID, "kind", msg.Kind.String())
		s.dropReceiver(args.ResponseReceiverID)
	}
}

// dropReceiver 协议错误时断开客户端并清理其订阅
func (s *Service[I]) dropReceiver(receiverID string) {
	s.removeReceiver(receiverID)
	if err := s.attacher.Disconnect(receiverID); err != nil {
		s.logger.Debug("断开客户端失败", "receiver", receiverID, "err", err)
	}
}

func (s *Service[I]) reply(receiverID string, resp *message) {
	data, err := encodeMessage(resp)
	if err != nil {
		s.logger.Error("响应编码失败", "id", resp.ID, "err", err)
		return
	}
	if err := s.attacher.SendResponse(receiverID, data); err != nil {
		s.logger.Debug("发送响应失败", "receiver", receiverID, "id", resp.ID, "err", err)
	}
}

// invoke 执行一次调用，总是返回一个响应
func (s *Service[I]) invoke(msg *message) (resp *message) {
	resp = &message{ID: msg.ID, Kind: kindResponse}

	m, ok := s.reg.methods[msg.Name]
	if !ok {
		resp.Error = errorOf(fmt.Errorf("%w: %s", ErrMethodNotFound, msg.Name))
		return resp
	}
	if len(msg.Params) != len(m.params) {
		resp.Error = errorOf(fmt.Errorf("%w: %s expects %d, got %d", ErrInvalidArgCount, msg.Name, len(m.params), len(msg.Params)))
		return resp
	}

	in := make([]reflect.Value, len(m.params))
	for i, pt := range m.params {
		arg := reflect.New(pt)
		if err := s.serializer.Deserialize(msg.Params[i], arg.Interface()); err != nil {
			resp.Error = errorOf(fmt.Errorf("%w: %s param %d: %v", ErrSerialization, msg.Name, i, err))
			return resp
		}
		in[i] = arg.Elem()
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("服务方法 panic", "method", msg.Name, "panic", r)
			resp.HasReturn = false
			resp.Return = nil
			resp.Error = &errorInfo{
				Type:    fmt.Sprintf("%T", r),
				Message: fmt.Sprint(r),
				Details: string(debug.Stack()),
			}
		}
	}()

	out := s.impl.MethodByName(msg.Name).Call(in)

	if m.returnsError {
		if errV := out[len(out)-1]; !errV.IsNil() {
			resp.Error = errorOf(errV.Interface().(error))
			return resp
		}
	}
	if m.result != nil {
		data, err := s.serializer.Serialize(out[0].Interface())
		if err != nil {
			resp.Error = errorOf(fmt.Errorf("%w: %s result: %v", ErrSerialization, msg.Name, err))
			return resp
		}
		resp.HasReturn = true
		resp.Return = data
	}
	return resp
}

// errorOf Type 取最内层错误的类型，Details 保留完整错误链
func errorOf(err error) *errorInfo {
	root := err
	for {
		next := errors.Unwrap(root)
		if next == nil {
			break
		}
		root = next
	}
	return &errorInfo{
		Type:    fmt.Sprintf("%T", root),
		Message: err.Error(),
		Details: fmt.Sprintf("%+v", err),
	}
}

func (s *Service[I]) subscribe(msg *message, receiverID string) *message {
	resp := &message{ID: msg.ID, Kind: kindResponse}
	se, ok := s.events[msg.Name]
	if !ok {
		resp.Error = errorOf(fmt.Errorf("%w: %s", ErrEventNotFound, msg.Name))
		return resp
	}
	se.mu.Lock()
	se.clients[receiverID] = struct{}{}
	se.mu.Unlock()
	return resp
}

func (s *Service[I]) unsubscribe(msg *message, receiverID string) *message {
	resp := &message{ID: msg.ID, Kind: kindResponse}
	se, ok := s.events[msg.Name]
	if !ok {
		resp.Error = errorOf(fmt.Errorf("%w: %s", ErrEventNotFound, msg.Name))
		return resp
	}
	se.mu.Lock()
	delete(se.clients, receiverID)
	se.mu.Unlock()
	return resp
}

// ============================================================================
//                              事件转发
// ============================================================================

// broadcast 事件参数只序列化一次，发送失败的客户端从所有事件中移除
func (s *Service[I]) broadcast(se *serviceEvent, arg any) {
	receivers := se.snapshot()
	if len(receivers) == 0 {
		return
	}

	param, err := s.serializer.Serialize(arg)
	if err != nil {
		s.logger.Error("事件参数序列化失败", "event", se.info.name, "err", err)
		return
	}
	data, err := encodeMessage(&message{Kind: kindRaiseEvent, Name: se.info.name, Params: [][]byte{param}})
	if err != nil {
		s.logger.Error("事件编码失败", "event", se.info.name, "err", err)
		return
	}

	for _, id := range receivers {
		if err := s.attacher.SendResponse(id, data); err != nil {
			s.logger.Warn("转发事件失败，移除订阅者", "event", se.info.name, "receiver", id, "err", err)
			s.removeReceiver(id)
		}
	}
}

func (s *Service[I]) removeReceiver(receiverID string) {
	for _, se := range s.events {
		se.mu.Lock()
		delete(se.clients, receiverID)
		se.mu.Unlock()
	}
}

func (s *Service[I]) onReceiverConnected(args interfaces.ResponseReceiverEventArgs) {
	s.connected.Raise(args)
}

func (s *Service[I]) onReceiverDisconnected(args interfaces.ResponseReceiverEventArgs) {
	s.removeReceiver(args.ResponseReceiverID)
	s.disconnected.Raise(args)
}

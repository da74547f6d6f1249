// Package event 提供类型化的事件源
//
// Event[T] 是通道与组件对外暴露通知的统一方式：
// 订阅返回 Token，取消订阅使用该 Token；Raise 在锁外回调订阅者，
// 订阅者在回调中增删订阅不会死锁。
package event

import (
	"reflect"
	"sync"
	"sync/atomic"
)

// Token 订阅标识
type Token uint64

var nextToken atomic.Uint64

// Untyped 非泛型视图
//
// 供反射场景（如 RPC 事件注册）在不知道 T 的情况下订阅事件。
type Untyped interface {
	SubscribeAny(handler func(any)) Token
	Unsubscribe(token Token) bool
	ArgType() reflect.Type
}

type sink[T any] struct {
	token   Token
	handler func(T)
}

// Event 类型化事件
//
// 零值可直接使用。
type Event[T any] struct {
	mu    sync.RWMutex
	sinks []sink[T]
}

var _ Untyped = (*Event[int])(nil)

// Subscribe 订阅事件
func (e *Event[T]) Subscribe(handler func(T)) Token {
	if handler == nil {
		return 0
	}
	token := Token(nextToken.Add(1))

	e.mu.Lock()
	e.sinks = append(e.sinks, sink[T]{token: token, handler: handler})
	e.mu.Unlock()

	return token
}

// SubscribeAny 以 any 类型订阅事件
func (e *Event[T]) SubscribeAny(handler func(any)) Token {
	if handler == nil {
		return 0
	}
	return e.Subscribe(func(v T) { handler(v) })
}

// Unsubscribe 取消订阅，返回是否找到该订阅
func (e *Event[T]) Unsubscribe(token Token) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, s := range e.sinks {
		if s.token == token {
			// 复制而非原地修改，Raise 持有的快照不受影响
			sinks := make([]sink[T], 0, len(e.sinks)-1)
			sinks = append(sinks, e.sinks[:i]...)
			e.sinks = append(sinks, e.sinks[i+1:]...)
			return true
		}
	}
	return false
}

// Count 返回当前订阅者数量
func (e *Event[T]) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.sinks)
}

// Raise 触发事件
//
// 在锁外按订阅顺序同步调用各订阅者。
func (e *Event[T]) Raise(arg T) {
	e.mu.RLock()
	sinks := e.sinks
	e.mu.RUnlock()

	for _, s := range sinks {
		s.handler(arg)
	}
}

// ArgType 返回事件参数类型
func (e *Event[T]) ArgType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

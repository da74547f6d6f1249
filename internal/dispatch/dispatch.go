// Package dispatch 提供回调调度抽象
//
// 组件通过 Dispatcher 决定在哪个执行上下文中调用用户回调：
//   - Sync: 在调用方 goroutine 中直接执行
//   - Concurrent: 每个任务一个新 goroutine，无顺序保证
//   - Serial: 单 goroutine 按提交顺序执行，空闲时退出
package dispatch

import (
	"sync"

	"github.com/dep2p/go-duplex/pkg/lib/log"
)

var logger = log.Logger("dispatch")

// Dispatcher 回调调度器
type Dispatcher interface {
	// Invoke 调度执行 fn
	Invoke(fn func())
}

// ============================================================================
//                              Sync
// ============================================================================

// Sync 同步调度器
type Sync struct{}

// Invoke 直接执行 fn
func (Sync) Invoke(fn func()) {
	fn()
}

// ============================================================================
//                              Concurrent
// ============================================================================

// Concurrent 并发调度器
type Concurrent struct{}

// Invoke 在新 goroutine 中执行 fn
func (Concurrent) Invoke(fn func()) {
	go safeRun(fn)
}

// ============================================================================
//                              Serial
// ============================================================================

// Serial 顺序调度器
//
// 任务进入无界队列，由至多一个工作 goroutine 依次执行。
// 队列排空后工作 goroutine 退出，下次提交时再启动。
type Serial struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

// NewSerial 创建顺序调度器
func NewSerial() *Serial {
	return &Serial{}
}

// Invoke 将 fn 加入队列
func (s *Serial) Invoke(fn func()) {
	s.mu.Lock()
	s.queue = append(s.queue, fn)
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.drain()
}

// Pending 返回尚未执行的任务数
func (s *Serial) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Serial) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		safeRun(fn)
	}
}

// safeRun 执行回调，回调 panic 不影响调度器
func safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("回调执行 panic", "panic", r)
		}
	}()
	fn()
}

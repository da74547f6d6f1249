package buffered

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-duplex/internal/core/metrics"
	"github.com/dep2p/go-duplex/pkg/lib/log"
)

// Config 缓冲通道配置
type Config struct {
	// MaxOfflineTime 允许的最长离线时间
	//
	// 输出侧：重连窗口与单条消息的最长等待时间；
	// 输入侧：离线客户端被清理前的保留时间。
	MaxOfflineTime time.Duration

	// RetryInterval 重连、重发与清理的间隔
	RetryInterval time.Duration

	// CloseWaitTimeout 关闭时等待后台循环退出的最长时间
	CloseWaitTimeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxOfflineTime:   10 * time.Second,
		RetryInterval:    300 * time.Millisecond,
		CloseWaitTimeout: 5 * time.Second,
	}
}

type settings struct {
	config  Config
	logger  log.Interface
	metrics *metrics.Metrics
	clock   clock.Clock
}

func newSettings(component string, opts []Option) settings {
	s := settings{
		config: DefaultConfig(),
		logger: log.Logger(component),
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Option 配置选项函数
type Option func(*settings)

// WithMaxOfflineTime 设置最长离线时间
func WithMaxOfflineTime(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.config.MaxOfflineTime = d
		}
	}
}

// WithRetryInterval 设置重试间隔
func WithRetryInterval(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.config.RetryInterval = d
		}
	}
}

// WithCloseWaitTimeout 设置关闭等待时间
func WithCloseWaitTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.config.CloseWaitTimeout = d
		}
	}
}

// WithLogger 设置 logger
func WithLogger(l log.Interface) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics 设置监控指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

// WithClock 设置时间源
func WithClock(c clock.Clock) Option {
	return func(s *settings) {
		if c != nil {
			s.clock = c
		}
	}
}

// waitDone 在 timeout 内等待 done 关闭，返回是否按时退出
func waitDone(c clock.Clock, done <-chan struct{}, timeout time.Duration) bool {
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	case <-c.After(timeout):
		return false
	}
}

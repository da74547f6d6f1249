package rpc

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-duplex/internal/core/metrics"
	"github.com/dep2p/go-duplex/internal/serializer"
	"github.com/dep2p/go-duplex/pkg/interfaces"
	"github.com/dep2p/go-duplex/pkg/lib/log"
)

// Config RPC 配置
type Config struct {
	// Timeout 单次调用超时，0 表示不限制
	Timeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second}
}

type settings struct {
	config     Config
	serializer interfaces.Serializer
	logger     log.Interface
	metrics    *metrics.Metrics
	clock      clock.Clock
}

func newSettings(component string, opts []Option) settings {
	s := settings{
		config:     DefaultConfig(),
		serializer: serializer.JSON{},
		logger:     log.Logger(component),
		clock:      clock.New(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Option 配置选项函数
type Option func(*settings)

// WithTimeout 设置调用超时，0 表示不限制
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d >= 0 {
			s.config.Timeout = d
		}
	}
}

// WithSerializer 设置负载序列化器
func WithSerializer(ser interfaces.Serializer) Option {
	return func(s *settings) {
		if ser != nil {
			s.serializer = ser
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

package broker

import (
	"github.com/dep2p/go-duplex/internal/core/metrics"
	"github.com/dep2p/go-duplex/internal/serializer"
	"github.com/dep2p/go-duplex/pkg/interfaces"
	"github.com/dep2p/go-duplex/pkg/lib/log"
)

// Config Broker 配置
type Config struct {
	// PublisherNotified 发布者自己订阅了该类型时是否也收到
	PublisherNotified bool

	// RegexCacheSize 已编译正则表达式的缓存容量
	RegexCacheSize int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		PublisherNotified: true,
		RegexCacheSize:    256,
	}
}

type settings struct {
	config     Config
	serializer interfaces.Serializer
	logger     log.Interface
	metrics    *metrics.Metrics
}

func newSettings(component string, opts []Option) settings {
	s := settings{
		config:     DefaultConfig(),
		serializer: serializer.JSON{},
		logger:     log.Logger(component),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Option 配置选项函数
type Option func(*settings)

// WithPublisherNotified 设置发布者是否收到自己的发布
func WithPublisherNotified(notified bool) Option {
	return func(s *settings) {
		s.config.PublisherNotified = notified
	}
}

// WithRegexCacheSize 设置正则缓存容量
func WithRegexCacheSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.config.RegexCacheSize = n
		}
	}
}

// WithSerializer 设置 PublishValue 使用的序列化器
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

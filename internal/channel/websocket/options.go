package websocket

import (
	"time"

	"github.com/dep2p/go-duplex/internal/core/metrics"
	"github.com/dep2p/go-duplex/pkg/lib/log"
)

// receiverIDParam 携带 ResponseReceiverID 的查询参数
const receiverIDParam = "rrid"

// Config WebSocket 传输配置
type Config struct {
	// HandshakeTimeout 握手超时
	HandshakeTimeout time.Duration

	// WriteTimeout 单条消息写超时
	WriteTimeout time.Duration

	// ReadBufferSize 读缓冲大小
	ReadBufferSize int

	// WriteBufferSize 写缓冲大小
	WriteBufferSize int

	// MaxMessageSize 单条消息上限，超过时断开连接
	MaxMessageSize int64
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		MaxMessageSize:   4 << 20,
	}
}

// Option 配置选项函数
type Option func(*MessagingSystem)

// WithConfig 整体替换配置，非正值字段保留默认值
func WithConfig(c Config) Option {
	return func(m *MessagingSystem) {
		if c.HandshakeTimeout > 0 {
			m.config.HandshakeTimeout = c.HandshakeTimeout
		}
		if c.WriteTimeout > 0 {
			m.config.WriteTimeout = c.WriteTimeout
		}
		if c.ReadBufferSize > 0 {
			m.config.ReadBufferSize = c.ReadBufferSize
		}
		if c.WriteBufferSize > 0 {
			m.config.WriteBufferSize = c.WriteBufferSize
		}
		if c.MaxMessageSize > 0 {
			m.config.MaxMessageSize = c.MaxMessageSize
		}
	}
}

// WithHandshakeTimeout 设置握手超时
func WithHandshakeTimeout(d time.Duration) Option {
	return func(m *MessagingSystem) {
		if d > 0 {
			m.config.HandshakeTimeout = d
		}
	}
}

// WithMaxMessageSize 设置单条消息上限
func WithMaxMessageSize(n int64) Option {
	return func(m *MessagingSystem) {
		if n > 0 {
			m.config.MaxMessageSize = n
		}
	}
}

// WithMetrics 设置监控指标，收发的消息字节按 ChannelID 计入带宽统计
func WithMetrics(m *metrics.Metrics) Option {
	return func(ms *MessagingSystem) {
		ms.metrics = m
	}
}

// WithLogger 设置 logger
func WithLogger(l log.Interface) Option {
	return func(m *MessagingSystem) {
		if l != nil {
			m.logger = l
		}
	}
}

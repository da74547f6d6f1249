package config

import (
	"fmt"
	"strings"
	"time"
)

// ============================================================================
//                              Logging
// ============================================================================

// LoggingConfig 日志配置
type LoggingConfig struct {
	// Level 日志级别：debug / info / warn / error
	Level string `json:"level"`

	// Format 输出格式：text / json
	Format string `json:"format"`
}

// DefaultLoggingConfig 返回默认日志配置
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{Level: "info", Format: "text"}
}

// Validate 验证日志配置
func (c LoggingConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: logging.level %q", ErrInvalidValue, c.Level)
	}
	switch c.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: logging.format %q", ErrInvalidValue, c.Format)
	}
	return nil
}

// ============================================================================
//                              Transport
// ============================================================================

// 传输类型
const (
	TransportLocal     = "local"
	TransportWebSocket = "websocket"
)

// TransportConfig 传输层配置
type TransportConfig struct {
	// Kind 传输类型：local / websocket
	Kind string `json:"kind"`

	// WebSocket WebSocket 传输参数
	WebSocket WebSocketConfig `json:"websocket"`
}

// WebSocketConfig WebSocket 传输配置
type WebSocketConfig struct {
	// HandshakeTimeout 握手超时
	HandshakeTimeout Duration `json:"handshake_timeout"`

	// ReadBufferSize 读缓冲大小（字节）
	ReadBufferSize int `json:"read_buffer_size"`

	// WriteBufferSize 写缓冲大小（字节）
	WriteBufferSize int `json:"write_buffer_size"`

	// MaxMessageSize 单条消息上限（字节）
	MaxMessageSize int64 `json:"max_message_size"`
}

// DefaultTransportConfig 返回默认传输配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Kind: TransportLocal,
		WebSocket: WebSocketConfig{
			HandshakeTimeout: Duration(10 * time.Second),
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			MaxMessageSize:   4 << 20,
		},
	}
}

// Validate 验证传输配置
func (c TransportConfig) Validate() error {
	switch c.Kind {
	case TransportLocal, TransportWebSocket:
	default:
		return fmt.Errorf("%w: transport.kind %q", ErrInvalidValue, c.Kind)
	}
	if c.WebSocket.HandshakeTimeout <= 0 {
		return fmt.Errorf("%w: transport.websocket.handshake_timeout", ErrNonPositive)
	}
	if c.WebSocket.ReadBufferSize < 0 || c.WebSocket.WriteBufferSize < 0 {
		return fmt.Errorf("%w: transport.websocket buffer size", ErrInvalidValue)
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: transport.websocket.max_message_size", ErrNonPositive)
	}
	return nil
}

// ============================================================================
//                              Serializer
// ============================================================================

// SerializerConfig 序列化配置
type SerializerConfig struct {
	// Format 格式：json / proto
	Format string `json:"format"`
}

// DefaultSerializerConfig 返回默认序列化配置
func DefaultSerializerConfig() SerializerConfig {
	return SerializerConfig{Format: "json"}
}

// Validate 验证序列化配置
func (c SerializerConfig) Validate() error {
	switch c.Format {
	case "json", "proto":
		return nil
	default:
		return fmt.Errorf("%w: serializer.format %q", ErrInvalidValue, c.Format)
	}
}

// ============================================================================
//                              Buffered
// ============================================================================

// BufferedConfig 缓冲通道配置
type BufferedConfig struct {
	// Enabled 是否在传输之上叠加缓冲层
	Enabled bool `json:"enabled"`

	// MaxOfflineTime 允许的最长离线时间
	MaxOfflineTime Duration `json:"max_offline_time"`

	// RetryInterval 重连与重发间隔
	RetryInterval Duration `json:"retry_interval"`
}

// DefaultBufferedConfig 返回默认缓冲配置
func DefaultBufferedConfig() BufferedConfig {
	return BufferedConfig{
		Enabled:        false,
		MaxOfflineTime: Duration(10 * time.Second),
		RetryInterval:  Duration(300 * time.Millisecond),
	}
}

// Validate 验证缓冲配置
func (c BufferedConfig) Validate() error {
	if c.MaxOfflineTime <= 0 {
		return fmt.Errorf("%w: buffered.max_offline_time", ErrNonPositive)
	}
	if c.RetryInterval <= 0 {
		return fmt.Errorf("%w: buffered.retry_interval", ErrNonPositive)
	}
	return nil
}

// ============================================================================
//                              Authentication
// ============================================================================

// AuthenticationConfig 认证配置
type AuthenticationConfig struct {
	// Enabled 是否叠加认证层
	Enabled bool `json:"enabled"`

	// Timeout 客户端等待认证完成的最长时间
	Timeout Duration `json:"timeout"`

	// SharedSecret 挑战认证使用的共享口令
	SharedSecret string `json:"shared_secret,omitempty"`

	// Salt 密钥派生盐值
	Salt string `json:"salt,omitempty"`
}

// DefaultAuthenticationConfig 返回默认认证配置
func DefaultAuthenticationConfig() AuthenticationConfig {
	return AuthenticationConfig{
		Enabled: false,
		Timeout: Duration(30 * time.Second),
	}
}

// Validate 验证认证配置
func (c AuthenticationConfig) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: authentication.timeout", ErrNonPositive)
	}
	if c.Enabled && c.SharedSecret == "" {
		return fmt.Errorf("%w: authentication.shared_secret", ErrMissingValue)
	}
	return nil
}

// ============================================================================
//                              RPC
// ============================================================================

// RPCConfig 远程调用配置
type RPCConfig struct {
	// Timeout 单次调用超时，0 表示不限制
	Timeout Duration `json:"timeout"`
}

// DefaultRPCConfig 返回默认 RPC 配置
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{Timeout: Duration(30 * time.Second)}
}

// Validate 验证 RPC 配置
func (c RPCConfig) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("%w: rpc.timeout", ErrInvalidValue)
	}
	return nil
}

// ============================================================================
//                              Broker
// ============================================================================

// BrokerConfig 发布订阅配置
type BrokerConfig struct {
	// PublisherNotified 发布者是否收到自己发布的消息
	PublisherNotified bool `json:"publisher_notified"`

	// RegexCacheSize 已编译正则缓存容量
	RegexCacheSize int `json:"regex_cache_size"`
}

// DefaultBrokerConfig 返回默认 Broker 配置
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		PublisherNotified: true,
		RegexCacheSize:    256,
	}
}

// Validate 验证 Broker 配置
func (c BrokerConfig) Validate() error {
	if c.RegexCacheSize <= 0 {
		return fmt.Errorf("%w: broker.regex_cache_size", ErrNonPositive)
	}
	return nil
}

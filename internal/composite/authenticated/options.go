package authenticated

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-duplex/internal/core/metrics"
	"github.com/dep2p/go-duplex/pkg/lib/log"
)

// acknowledgeMessage 服务端确认认证成功的消息
const acknowledgeMessage = "OK"

// ============================================================================
//                              回调
// ============================================================================

// GetLoginMessage 客户端生成登录消息，返回 nil 表示放弃连接
type GetLoginMessage func(channelID, responseReceiverID string) []byte

// GetHandshakeResponseMessage 客户端根据握手消息生成响应，返回 nil 表示放弃连接
type GetHandshakeResponseMessage func(channelID, responseReceiverID string, handshake []byte) []byte

// GetHandshakeMessage 服务端根据登录消息生成握手消息，返回 nil 表示拒绝
type GetHandshakeMessage func(channelID, responseReceiverID string, login []byte) []byte

// Authenticate 服务端校验握手响应
type Authenticate func(channelID, responseReceiverID string, login, handshake, response []byte) bool

// HandleAuthenticationCancelled 客户端在认证完成前断开时的通知
type HandleAuthenticationCancelled func(channelID, responseReceiverID string, login []byte)

// Callbacks 认证回调集合
//
// 客户端使用 GetLoginMessage 与 GetHandshakeResponseMessage，
// 服务端使用 GetHandshakeMessage、Authenticate 与可选的 HandleAuthenticationCancelled。
type Callbacks struct {
	GetLoginMessage               GetLoginMessage
	GetHandshakeResponseMessage   GetHandshakeResponseMessage
	GetHandshakeMessage           GetHandshakeMessage
	Authenticate                  Authenticate
	HandleAuthenticationCancelled HandleAuthenticationCancelled
}

// ============================================================================
//                              选项
// ============================================================================

// Config 认证通道配置
type Config struct {
	// AuthenticationTimeout 客户端等待认证完成的最长时间
	AuthenticationTimeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{AuthenticationTimeout: 30 * time.Second}
}

type settings struct {
	config    Config
	logger    log.Interface
	metrics   *metrics.Metrics
	clock     clock.Clock
	cancelled HandleAuthenticationCancelled
}

func newSettings(opts []Option) settings {
	s := settings{
		config: DefaultConfig(),
		logger: log.Logger("composite/authenticated"),
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Option 配置选项函数
type Option func(*settings)

// WithAuthenticationTimeout 设置认证超时
func WithAuthenticationTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.config.AuthenticationTimeout = d
		}
	}
}

// WithAuthenticationCancelled 设置认证取消回调（仅服务端使用）
func WithAuthenticationCancelled(fn HandleAuthenticationCancelled) Option {
	return func(s *settings) {
		s.cancelled = fn
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

package websocket

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-duplex/config"
	"github.com/dep2p/go-duplex/internal/core/metrics"
)

// Module 是 WebSocket 消息系统的 Fx 模块
var Module = fx.Module("channel/websocket",
	fx.Provide(NewFromConfig),
)

// NewFromConfig 按 transport.websocket 配置创建消息系统
func NewFromConfig(cfg *config.Config, m *metrics.Metrics) *MessagingSystem {
	ws := cfg.Transport.WebSocket
	return NewMessagingSystem(WithConfig(Config{
		HandshakeTimeout: ws.HandshakeTimeout.Duration(),
		ReadBufferSize:   ws.ReadBufferSize,
		WriteBufferSize:  ws.WriteBufferSize,
		MaxMessageSize:   ws.MaxMessageSize,
	}), WithMetrics(m))
}

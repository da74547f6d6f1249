package duplex

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-duplex/config"
	"github.com/dep2p/go-duplex/internal/channel/local"
	"github.com/dep2p/go-duplex/internal/channel/websocket"
	"github.com/dep2p/go-duplex/internal/composite/authenticated"
	"github.com/dep2p/go-duplex/internal/composite/buffered"
	"github.com/dep2p/go-duplex/internal/core/metrics"
	"github.com/dep2p/go-duplex/internal/serializer"
	"github.com/dep2p/go-duplex/pkg/interfaces"
)

// transportName 传输工厂在 Fx 容器中的名称，组合后的工厂不带名称
const transportName = `name:"transport"`

// buildFxApp 构建 Fx 应用
//
// 加载顺序：
//  1. 配置、指标、序列化器
//  2. 传输（local 或 websocket）
//  3. 组合层：传输 → 缓冲 → 认证
//  4. 用户扩展与 Node 注入
func buildFxApp(o *options, node *Node) (*fx.App, error) {
	if err := o.config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	modules := []fx.Option{
		fx.Supply(o.config),
		metrics.Module,
		serializer.Module,
	}

	if o.registerer != nil {
		reg := o.registerer
		modules = append(modules, fx.Provide(func() prometheus.Registerer { return reg }))
	}
	if o.authCallbacks != nil {
		modules = append(modules, fx.Supply(o.authCallbacks))
	}

	// ════════════════════════════════════════════════════════════════════════
	// 传输
	// ════════════════════════════════════════════════════════════════════════
	switch o.config.Transport.Kind {
	case config.TransportWebSocket:
		modules = append(modules,
			websocket.Module,
			fx.Provide(fx.Annotate(
				func(m *websocket.MessagingSystem) interfaces.MessagingSystemFactory { return m },
				fx.ResultTags(transportName),
			)),
		)
	default:
		modules = append(modules,
			local.Module,
			fx.Provide(fx.Annotate(
				func(n *local.Network) interfaces.MessagingSystemFactory { return n },
				fx.ResultTags(transportName),
			)),
		)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 组合层与 Node 注入
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules, fx.Provide(provideFactory))
	modules = append(modules, o.userFxOptions...)
	modules = append(modules,
		fx.Invoke(injectNodeComponents(node)),
		// 禁用 Fx 日志输出（避免干扰用户日志）
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	)

	app := fx.New(modules...)
	if err := app.Err(); err != nil {
		return nil, err
	}
	return app, nil
}

// factoryParams 通道工厂组合参数
type factoryParams struct {
	fx.In

	Config    *config.Config
	Transport interfaces.MessagingSystemFactory `name:"transport"`
	Metrics   *metrics.Metrics
	Callbacks *authenticated.Callbacks `optional:"true"`
}

// provideFactory 按配置在传输之上叠加组合层
func provideFactory(p factoryParams) interfaces.MessagingSystemFactory {
	factory := p.Transport

	if b := p.Config.Buffered; b.Enabled {
		factory = buffered.NewMessagingSystem(factory,
			buffered.WithMaxOfflineTime(b.MaxOfflineTime.Duration()),
			buffered.WithRetryInterval(b.RetryInterval.Duration()),
			buffered.WithMetrics(p.Metrics),
		)
		logger.Debug("已叠加缓冲层", "maxOfflineTime", b.MaxOfflineTime.String())
	}

	a := p.Config.Authentication
	if a.Enabled || p.Callbacks != nil {
		var callbacks authenticated.Callbacks
		if p.Callbacks != nil {
			callbacks = *p.Callbacks
		} else {
			key := authenticated.DeriveKey([]byte(a.SharedSecret), []byte(a.Salt))
			callbacks = authenticated.NewChallengeAuthenticator(key).Callbacks()
		}
		factory = authenticated.NewMessagingSystem(factory, callbacks,
			authenticated.WithAuthenticationTimeout(a.Timeout.Duration()),
			authenticated.WithMetrics(p.Metrics),
		)
		logger.Debug("已叠加认证层", "timeout", a.Timeout.String())
	}

	return factory
}

// nodeInjectParams Node 组件注入参数
type nodeInjectParams struct {
	fx.In

	Factory    interfaces.MessagingSystemFactory
	Serializer interfaces.Serializer
	Metrics    *metrics.Metrics
}

// injectNodeComponents 将 Fx 构建的组件注入 Node
func injectNodeComponents(node *Node) func(nodeInjectParams) {
	return func(p nodeInjectParams) {
		node.factory = p.Factory
		node.serializer = p.Serializer
		node.metrics = p.Metrics
	}
}

package duplex

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-duplex/config"
	"github.com/dep2p/go-duplex/internal/composite/authenticated"
)

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	config *config.Config

	// 日志输出，nil 表示 stderr
	logOutput io.Writer

	// 自定义认证回调，设置后即使未配置共享口令也叠加认证层
	authCallbacks *authenticated.Callbacks

	registerer    prometheus.Registerer
	userFxOptions []fx.Option
}

// newOptions 创建默认选项
func newOptions() *options {
	return &options{config: config.NewConfig()}
}

// WithConfig 使用完整配置，后续选项在其基础上覆盖
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return ErrNilConfig
		}
		c := *cfg
		o.config = &c
		return nil
	}
}

// WithConfigFile 从 JSON 文件加载配置
func WithConfigFile(path string) Option {
	return func(o *options) error {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		o.config = cfg
		return nil
	}
}

// WithTransport 选择传输：config.TransportLocal 或 config.TransportWebSocket
func WithTransport(kind string) Option {
	return func(o *options) error {
		switch kind {
		case config.TransportLocal, config.TransportWebSocket:
			o.config.Transport.Kind = kind
			return nil
		default:
			return fmt.Errorf("%w: transport %q", config.ErrInvalidValue, kind)
		}
	}
}

// WithBuffered 叠加缓冲层
//
// maxOfflineTime 为 0 时使用配置中的值。
func WithBuffered(maxOfflineTime time.Duration) Option {
	return func(o *options) error {
		o.config.Buffered.Enabled = true
		if maxOfflineTime > 0 {
			o.config.Buffered.MaxOfflineTime = config.Duration(maxOfflineTime)
		}
		return nil
	}
}

// WithAuthentication 叠加基于共享口令的挑战应答认证层
func WithAuthentication(sharedSecret, salt string) Option {
	return func(o *options) error {
		if sharedSecret == "" {
			return fmt.Errorf("%w: shared secret", config.ErrMissingValue)
		}
		o.config.Authentication.Enabled = true
		o.config.Authentication.SharedSecret = sharedSecret
		o.config.Authentication.Salt = salt
		return nil
	}
}

// WithAuthenticator 使用自定义认证回调叠加认证层
func WithAuthenticator(callbacks AuthCallbacks) Option {
	return func(o *options) error {
		o.authCallbacks = &callbacks
		return nil
	}
}

// WithAuthenticationTimeout 设置客户端认证超时
func WithAuthenticationTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return fmt.Errorf("%w: authentication timeout", config.ErrNonPositive)
		}
		o.config.Authentication.Timeout = config.Duration(d)
		return nil
	}
}

// WithRPCTimeout 设置 RPC 调用超时，0 表示不限制
func WithRPCTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d < 0 {
			return fmt.Errorf("%w: rpc timeout", config.ErrInvalidValue)
		}
		o.config.RPC.Timeout = config.Duration(d)
		return nil
	}
}

// WithSerializer 选择负载序列化格式：json 或 proto
func WithSerializer(format string) Option {
	return func(o *options) error {
		o.config.Serializer.Format = format
		return nil
	}
}

// WithLogLevel 设置日志级别
func WithLogLevel(level string) Option {
	return func(o *options) error {
		o.config.Logging.Level = level
		return nil
	}
}

// WithLogOutput 设置日志输出
func WithLogOutput(w io.Writer) Option {
	return func(o *options) error {
		o.logOutput = w
		return nil
	}
}

// WithMetricsRegisterer 将监控指标注册到 reg
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) error {
		o.registerer = reg
		return nil
	}
}

// WithFxOptions 追加自定义 Fx 选项
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.userFxOptions = append(o.userFxOptions, opts...)
		return nil
	}
}

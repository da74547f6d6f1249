package duplex

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/multierr"

	"github.com/dep2p/go-duplex/config"
	"github.com/dep2p/go-duplex/internal/core/metrics"
	"github.com/dep2p/go-duplex/pkg/interfaces"
	"github.com/dep2p/go-duplex/pkg/lib/log"
)

var logger = log.Logger("duplex")

// Node 消息框架入口
//
// Node 按配置组装传输与组合层，提供通道工厂，
// 并跟踪通过它创建的 RPC 与 Broker 组件，关闭时统一解除挂接。
type Node struct {
	opts *options
	app  *fx.App

	// 由 Fx 注入
	factory    interfaces.MessagingSystemFactory
	serializer interfaces.Serializer
	metrics    *metrics.Metrics

	mu      sync.Mutex
	started bool
	closed  bool
	closers []func() error
}

// ════════════════════════════════════════════════════════════════════════════
//                              构造函数
// ════════════════════════════════════════════════════════════════════════════

// New 创建节点但不启动
//
//	node, err := duplex.New(
//	    duplex.WithTransport(config.TransportWebSocket),
//	    duplex.WithAuthentication("secret", "salt"),
//	)
func New(opts ...Option) (*Node, error) {
	o := newOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	applyLogging(o)

	node := &Node{opts: o}
	app, err := buildFxApp(o, node)
	if err != nil {
		return nil, fmt.Errorf("build fx app: %w", err)
	}
	node.app = app
	return node, nil
}

// Start 创建并启动节点，等价于 New 后调用 Node.Start
func Start(ctx context.Context, opts ...Option) (*Node, error) {
	node, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if err := node.Start(ctx); err != nil {
		return nil, fmt.Errorf("start node: %w", err)
	}
	return node, nil
}

func applyLogging(o *options) {
	w := o.logOutput
	if w == nil {
		w = os.Stderr
	}
	log.SetOutputWithLevel(w, o.config.Logging.Format, log.ParseLevel(o.config.Logging.Level))
}

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期
// ════════════════════════════════════════════════════════════════════════════

// Start 启动节点
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNodeClosed
	}
	if n.started {
		return ErrAlreadyStarted
	}

	if err := n.app.Start(ctx); err != nil {
		return fmt.Errorf("start fx app: %w", err)
	}
	n.started = true
	logger.Info("节点已启动", "transport", n.opts.config.Transport.Kind,
		"buffered", n.opts.config.Buffered.Enabled,
		"authenticated", n.opts.config.Authentication.Enabled || n.opts.authCallbacks != nil)
	return nil
}

// Stop 停止节点
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNodeClosed
	}
	if !n.started {
		return ErrNotStarted
	}

	n.started = false
	if err := n.app.Stop(ctx); err != nil {
		logger.Error("停止节点失败", "err", err)
		return fmt.Errorf("stop fx app: %w", err)
	}
	logger.Info("节点已停止")
	return nil
}

// Close 解除所有组件挂接并停止节点，不可再启动
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	closers := n.closers
	n.closers = nil
	started := n.started
	n.started = false
	n.mu.Unlock()

	var err error
	// 后创建的组件先关闭
	for i := len(closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, closers[i]())
	}
	if started {
		ctx, cancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
		defer cancel()
		err = multierr.Append(err, n.app.Stop(ctx))
	}

	logger.Info("节点已关闭")
	return err
}

// track 登记组件关闭函数
func (n *Node) track(closer func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrNodeClosed
	}
	n.closers = append(n.closers, closer)
	return nil
}

func (n *Node) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// ════════════════════════════════════════════════════════════════════════════
//                              访问器
// ════════════════════════════════════════════════════════════════════════════

// Config 返回生效的配置
func (n *Node) Config() *config.Config {
	return n.opts.config
}

// Factory 返回组合后的通道工厂
func (n *Node) Factory() MessagingSystemFactory {
	return n.factory
}

// Serializer 返回配置的负载序列化器
func (n *Node) Serializer() Serializer {
	return n.serializer
}

// IsStarted 返回节点是否已启动
func (n *Node) IsStarted() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.started
}

// CreateOutputChannel 创建输出通道
func (n *Node) CreateOutputChannel(channelID string) (DuplexOutputChannel, error) {
	if n.isClosed() {
		return nil, ErrNodeClosed
	}
	return n.factory.CreateDuplexOutputChannel(channelID)
}

// CreateOutputChannelWithID 使用指定 ResponseReceiverID 创建输出通道
func (n *Node) CreateOutputChannelWithID(channelID, responseReceiverID string) (DuplexOutputChannel, error) {
	if n.isClosed() {
		return nil, ErrNodeClosed
	}
	return n.factory.CreateDuplexOutputChannelWithID(channelID, responseReceiverID)
}

// CreateInputChannel 创建输入通道
func (n *Node) CreateInputChannel(channelID string) (DuplexInputChannel, error) {
	if n.isClosed() {
		return nil, ErrNodeClosed
	}
	return n.factory.CreateDuplexInputChannel(channelID)
}

package duplex

import (
	"context"

	"github.com/dep2p/go-duplex/internal/broker"
	"github.com/dep2p/go-duplex/internal/rpc"
	"github.com/dep2p/go-duplex/pkg/lib/event"
)

// ════════════════════════════════════════════════════════════════════════════
//                              RPC
// ════════════════════════════════════════════════════════════════════════════

// NewRPCService 以节点配置创建 RPC 服务，节点关闭时服务随之关闭
//
// I 必须是接口类型，impl 实现 I。
func NewRPCService[I any](n *Node, impl I) (*rpc.Service[I], error) {
	svc, err := rpc.NewService[I](impl,
		rpc.WithSerializer(n.serializer),
		rpc.WithMetrics(n.metrics),
	)
	if err != nil {
		return nil, err
	}
	if err := n.track(func() error { svc.Close(); return nil }); err != nil {
		svc.Close()
		return nil, err
	}
	return svc, nil
}

// NewRPCClient 以节点配置创建 RPC 客户端，节点关闭时解除挂接
func NewRPCClient[I any](n *Node) (*rpc.Client[I], error) {
	client, err := rpc.NewClient[I](
		rpc.WithTimeout(n.opts.config.RPC.Timeout.Duration()),
		rpc.WithSerializer(n.serializer),
		rpc.WithMetrics(n.metrics),
	)
	if err != nil {
		return nil, err
	}
	if err := n.track(func() error { client.DetachDuplexOutputChannel(); return nil }); err != nil {
		return nil, err
	}
	return client, nil
}

// Call 调用远程方法并返回类型化结果
func Call[R any, I any](ctx context.Context, c *rpc.Client[I], method string, args ...any) (R, error) {
	return rpc.Call[R](ctx, c, method, args...)
}

// SubscribeEvent 以类型化处理函数订阅远程事件
func SubscribeEvent[T any, I any](c *rpc.Client[I], name string, handler func(T)) (event.Token, error) {
	return rpc.Subscribe(c, name, handler)
}

// ════════════════════════════════════════════════════════════════════════════
//                              Broker
// ════════════════════════════════════════════════════════════════════════════

// NewBrokerService 以节点配置创建 Broker 服务
func NewBrokerService(n *Node) (*BrokerService, error) {
	b := n.opts.config.Broker
	svc, err := broker.NewService(
		broker.WithPublisherNotified(b.PublisherNotified),
		broker.WithRegexCacheSize(b.RegexCacheSize),
		broker.WithSerializer(n.serializer),
		broker.WithMetrics(n.metrics),
	)
	if err != nil {
		return nil, err
	}
	if err := n.track(func() error { svc.DetachDuplexInputChannel(); return nil }); err != nil {
		return nil, err
	}
	return svc, nil
}

// NewBrokerClient 以节点配置创建 Broker 客户端
func NewBrokerClient(n *Node) (*BrokerClient, error) {
	client := broker.NewClient(broker.WithSerializer(n.serializer))
	if err := n.track(func() error { client.DetachDuplexOutputChannel(); return nil }); err != nil {
		return nil, err
	}
	return client, nil
}

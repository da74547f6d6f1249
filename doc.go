// Package duplex 提供基于双工通道的消息框架
//
// 通道是最底层的抽象：客户端侧的 DuplexOutputChannel 向服务发送消息并接收响应，
// 服务端侧的 DuplexInputChannel 接收消息并按 ResponseReceiverID 回复。
// 在通道之上可以叠加组合层，再挂接 RPC 或发布/订阅组件。
//
// # 分层
//
//	┌──────────────────────────────────────────────────────────┐
//	│  组件层    RPC Client/Service    Broker Client/Service    │
//	├──────────────────────────────────────────────────────────┤
//	│  组合层    Authenticated  →  Buffered                    │
//	├──────────────────────────────────────────────────────────┤
//	│  传输层    local（进程内）   websocket                     │
//	└──────────────────────────────────────────────────────────┘
//
// 组合层按配置叠加：认证层在缓冲层之上，缓冲层在传输之上。
// 缓冲层在断线期间排队消息并自动重连，认证层在连接可用前完成挑战应答握手。
//
// # 快速开始
//
//	node, err := duplex.Start(ctx,
//	    duplex.WithTransport(config.TransportWebSocket),
//	    duplex.WithBuffered(10*time.Second),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	// 服务端
//	svc, _ := duplex.NewRPCService[Calculator](node, &calculator{})
//	in, _ := node.CreateInputChannel("ws://127.0.0.1:8091/calc")
//	_ = svc.AttachDuplexInputChannel(in)
//
//	// 客户端
//	client, _ := duplex.NewRPCClient[Calculator](node)
//	out, _ := node.CreateOutputChannel("ws://127.0.0.1:8091/calc")
//	_ = client.AttachDuplexOutputChannel(out)
//	sum, err := duplex.Call[int](ctx, client, "Add", 2, 3)
//
// # 文件组织
//
//   - node.go: Node 生命周期
//   - fx.go: Fx 模块装配与通道工厂组合
//   - options.go: 用户选项
//   - components.go: RPC 与 Broker 组件构造
//   - types.go: 公共类型别名
package duplex

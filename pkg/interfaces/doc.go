// Package interfaces 定义 go-duplex 的公共接口
//
// 文件组织（一个接口文件 = 一类能力）：
//   - channel.go        - 双工通道、通道工厂与挂接接口
//   - serializer.go     - 可插拔负载序列化
//
// # 分层
//
// 传输实现（internal/channel/local、internal/channel/websocket）
// 与组合层（internal/composite/buffered、internal/composite/authenticated）
// 都实现 MessagingSystemFactory，因此可以任意叠加：
//
//	transport → buffered → authenticated → RPC / Broker
//
// RPC 与 Broker 组件实现 AttachableDuplexOutputChannel /
// AttachableDuplexInputChannel，挂接到最外层通道上工作。
//
// # 依赖方向
//
//	duplex（根包） → rpc / broker → composite → channel → interfaces
//
// 禁止反向依赖。
package interfaces

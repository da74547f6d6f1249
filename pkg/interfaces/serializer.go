package interfaces

// Serializer 可插拔序列化能力
//
// RPC 与 Broker 只用它处理业务负载（参数、返回值、事件参数、发布内容），
// 外层信封由各自的编解码器直接编码。
type Serializer interface {
	// Serialize 序列化值
	Serialize(v any) ([]byte, error)

	// Deserialize 反序列化到 v，v 必须是指针
	Deserialize(data []byte, v any) error
}

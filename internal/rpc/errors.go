package rpc

import (
	"errors"
	"fmt"
)

// 错误定义
var (
	// ErrInvalidInterface 类型参数不是合法的服务接口
	ErrInvalidInterface = errors.New("rpc: invalid service interface")

	// ErrMethodNotFound 方法不存在
	ErrMethodNotFound = errors.New("rpc: method not found")

	// ErrEventNotFound 事件不存在
	ErrEventNotFound = errors.New("rpc: event not found")

	// ErrInvalidArgCount 参数个数不匹配
	ErrInvalidArgCount = errors.New("rpc: invalid argument count")

	// ErrInvalidArgType 参数类型不匹配
	ErrInvalidArgType = errors.New("rpc: invalid argument type")

	// ErrSerialization 序列化或反序列化失败
	ErrSerialization = errors.New("rpc: serialization failed")

	// ErrTimeout 调用超时
	ErrTimeout = errors.New("rpc: call timed out")

	// ErrNotAttached 未挂接通道
	ErrNotAttached = errors.New("rpc: channel not attached")

	// ErrConnectionClosed 连接已关闭
	ErrConnectionClosed = errors.New("rpc: connection closed")

	// ErrAlreadyAttached 已挂接通道
	ErrAlreadyAttached = errors.New("rpc: channel already attached")

	// ErrMalformedMessage 报文格式错误
	ErrMalformedMessage = errors.New("rpc: malformed message")

	// ErrNilService 服务实现为 nil
	ErrNilService = errors.New("rpc: service implementation is nil")
)

// RemoteError 服务端方法返回的错误
type RemoteError struct {
	// Type 错误的 Go 类型名
	Type string

	// Message 错误信息
	Message string

	// Details 附加信息，普通错误为完整错误链，panic 时为调用栈
	Details string
}

// Error 实现 error 接口
func (e *RemoteError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("rpc: remote error: %s", e.Message)
	}
	return fmt.Sprintf("rpc: remote error (%s): %s", e.Type, e.Message)
}

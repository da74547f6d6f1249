package broker

import "errors"

// 错误定义
var (
	// ErrNotAttached 未挂接通道
	ErrNotAttached = errors.New("broker: channel not attached")

	// ErrAlreadyAttached 已挂接通道
	ErrAlreadyAttached = errors.New("broker: channel already attached")

	// ErrEmptyTypes 消息类型列表为空
	ErrEmptyTypes = errors.New("broker: no message types given")

	// ErrEmptyType 消息类型为空字符串
	ErrEmptyType = errors.New("broker: empty message type")

	// ErrMalformedMessage 报文格式错误
	ErrMalformedMessage = errors.New("broker: malformed message")

	// ErrSerialization 负载序列化失败
	ErrSerialization = errors.New("broker: serialization failed")
)

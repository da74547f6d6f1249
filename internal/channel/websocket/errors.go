package websocket

import "errors"

// 错误定义
var (
	// ErrInvalidChannelID 通道地址不是合法的 ws:// 或 wss:// URL
	ErrInvalidChannelID = errors.New("websocket: invalid channel id")

	// ErrAlreadyConnected 连接已打开
	ErrAlreadyConnected = errors.New("websocket: connection already open")

	// ErrNotConnected 连接未打开
	ErrNotConnected = errors.New("websocket: connection not open")

	// ErrAlreadyListening 已在监听
	ErrAlreadyListening = errors.New("websocket: already listening")

	// ErrResponseReceiverNotFound 客户端未连接
	ErrResponseReceiverNotFound = errors.New("websocket: response receiver not connected")
)

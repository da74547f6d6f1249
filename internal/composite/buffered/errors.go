package buffered

import "errors"

// 错误定义
var (
	// ErrNilUnderlying 底层通道为 nil
	ErrNilUnderlying = errors.New("buffered: underlying channel is nil")

	// ErrAlreadyConnected 连接已打开
	ErrAlreadyConnected = errors.New("buffered: connection already open")

	// ErrNotConnected 连接未打开
	ErrNotConnected = errors.New("buffered: connection not open")

	// ErrAlreadyListening 已在监听
	ErrAlreadyListening = errors.New("buffered: already listening")

	// ErrNotListening 未在监听
	ErrNotListening = errors.New("buffered: not listening")
)

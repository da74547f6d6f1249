package authenticated

import "errors"

// 错误定义
var (
	// ErrNilUnderlying 底层通道为 nil
	ErrNilUnderlying = errors.New("authenticated: underlying channel is nil")

	// ErrNilCallback 必需的回调为 nil
	ErrNilCallback = errors.New("authenticated: required callback is nil")

	// ErrAuthenticationTimeout 认证超时
	ErrAuthenticationTimeout = errors.New("authenticated: authentication timed out")

	// ErrAuthenticationFailed 认证失败
	ErrAuthenticationFailed = errors.New("authenticated: authentication failed")

	// ErrConnectionClosed 认证完成前连接已关闭
	ErrConnectionClosed = errors.New("authenticated: connection closed during authentication")

	// ErrAlreadyConnected 连接已打开或正在认证
	ErrAlreadyConnected = errors.New("authenticated: connection already open")

	// ErrNotConnected 连接未认证
	ErrNotConnected = errors.New("authenticated: connection not authenticated")

	// ErrAlreadyListening 已在监听
	ErrAlreadyListening = errors.New("authenticated: already listening")

	// ErrNotListening 未在监听
	ErrNotListening = errors.New("authenticated: not listening")

	// ErrNotAuthenticated 客户端未通过认证
	ErrNotAuthenticated = errors.New("authenticated: response receiver not authenticated")
)

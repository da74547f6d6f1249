package local

import "errors"

// 错误定义
var (
	// ErrNoListener 目标地址没有监听者
	ErrNoListener = errors.New("local: no listener on channel")

	// ErrAddressInUse 地址已被监听
	ErrAddressInUse = errors.New("local: channel already has a listener")

	// ErrAlreadyConnected 连接已打开
	ErrAlreadyConnected = errors.New("local: connection already open")

	// ErrNotConnected 连接未打开
	ErrNotConnected = errors.New("local: connection not open")

	// ErrAlreadyListening 已在监听
	ErrAlreadyListening = errors.New("local: already listening")

	// ErrNotListening 未在监听
	ErrNotListening = errors.New("local: not listening")

	// ErrDuplicateReceiver ResponseReceiverID 已被使用
	ErrDuplicateReceiver = errors.New("local: response receiver id already connected")

	// ErrResponseReceiverNotFound 客户端未连接
	ErrResponseReceiverNotFound = errors.New("local: response receiver not connected")

	// ErrEmptyChannelID 通道地址为空
	ErrEmptyChannelID = errors.New("local: channel id is empty")
)

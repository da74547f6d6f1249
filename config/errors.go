package config

import "errors"

// 错误定义
var (
	// ErrNilConfig 配置为 nil
	ErrNilConfig = errors.New("config: config is nil")

	// ErrInvalidValue 配置值无效
	ErrInvalidValue = errors.New("config: invalid value")

	// ErrNonPositive 配置值必须为正
	ErrNonPositive = errors.New("config: value must be positive")

	// ErrMissingValue 缺少必需的配置值
	ErrMissingValue = errors.New("config: missing required value")
)

package duplex

import "errors"

// 公共错误定义
var (
	// ErrNotStarted 节点未启动
	ErrNotStarted = errors.New("duplex: node not started")

	// ErrAlreadyStarted 节点已启动
	ErrAlreadyStarted = errors.New("duplex: node already started")

	// ErrNodeClosed 节点已关闭
	ErrNodeClosed = errors.New("duplex: node closed")

	// ErrNilConfig 配置为 nil
	ErrNilConfig = errors.New("duplex: config is nil")
)

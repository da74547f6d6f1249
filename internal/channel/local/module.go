package local

import (
	"context"

	"go.uber.org/fx"
)

// Module 是进程内消息系统的 Fx 模块
//
// 应用停止时断开所有监听者。
var Module = fx.Module("channel/local",
	fx.Provide(NewFromLifecycle),
)

// NewFromLifecycle 创建 Network 并注册停止钩子
func NewFromLifecycle(lc fx.Lifecycle) *Network {
	n := NewNetwork()
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			n.Close()
			return nil
		},
	})
	return n
}

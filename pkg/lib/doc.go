// Package lib 包含基础设施工具库
//
// 本目录包含与具体通道实现无关的通用工具库：
//
//   - event: 泛型事件（订阅令牌、锁外触发、反射订阅）
//   - log: 基于 log/slog 的组件日志封装
//
// # 与 pkg/ 其他目录的关系
//
//   - interfaces/: 通道、工厂与序列化器的公共接口
//   - lib/: 基础设施工具库（本目录）
//
// # 使用示例
//
//	import (
//	    "github.com/dep2p/go-duplex/pkg/lib/event"
//	    "github.com/dep2p/go-duplex/pkg/lib/log"
//	)
//
//	var logger = log.Logger("mycomponent")
//
//	var changed event.Event[int]
//	token := changed.Subscribe(func(v int) { logger.Info("changed", "value", v) })
//	defer changed.Unsubscribe(token)
package lib

package serializer

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-duplex/config"
	"github.com/dep2p/go-duplex/pkg/interfaces"
)

// Module 是序列化器的 Fx 模块
var Module = fx.Module("serializer",
	fx.Provide(NewFromConfig),
)

// NewFromConfig 按 serializer.format 创建序列化器
func NewFromConfig(cfg *config.Config) (interfaces.Serializer, error) {
	return New(cfg.Serializer.Format)
}

package serializer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-duplex/config"
	"github.com/dep2p/go-duplex/pkg/interfaces"
)

// TestModule_ProvidesConfiguredFormat 测试按配置提供序列化器
func TestModule_ProvidesConfiguredFormat(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Serializer.Format = FormatProto

	var ser interfaces.Serializer
	app := fxtest.New(t,
		fx.Supply(cfg),
		Module,
		fx.Populate(&ser),
	)
	defer app.RequireStart().RequireStop()

	assert.IsType(t, Proto{}, ser)
}

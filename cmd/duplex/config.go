package main

import (
	"os"

	"github.com/dep2p/go-duplex/config"
)

// ============================================================================
//                              配置加载（CLI 专用）
// ============================================================================

// 环境变量名
const (
	envPrefix    = "DUPLEX_"
	envTransport = "TRANSPORT"
	envSecret    = "SECRET"
	envSalt      = "SALT"
	envLogLevel  = "LOG_LEVEL"
)

// buildConfig 按 配置文件 → 环境变量 → 命令行参数 的顺序构建配置
func buildConfig() (*config.Config, error) {
	cfg := config.NewConfig()
	if *configFile != "" {
		loaded, err := config.LoadFile(*configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		// 命令行场景默认跨进程
		cfg.Transport.Kind = *transport
	}

	applyEnvOverrides(cfg)
	applyFlagOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides 应用环境变量覆盖配置
//
// 环境变量优先级高于配置文件，但低于命令行参数。
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv(envPrefix + envTransport); v != "" {
		cfg.Transport.Kind = v
	}
	if v := os.Getenv(envPrefix + envSecret); v != "" {
		cfg.Authentication.Enabled = true
		cfg.Authentication.SharedSecret = v
	}
	if v := os.Getenv(envPrefix + envSalt); v != "" {
		cfg.Authentication.Salt = v
	}
	if v := os.Getenv(envPrefix + envLogLevel); v != "" {
		cfg.Logging.Level = v
	}
}

// applyFlagOverrides 应用显式设置的命令行参数
func applyFlagOverrides(cfg *config.Config) {
	if isFlagSet("transport") {
		cfg.Transport.Kind = *transport
	}
	if *secret != "" {
		cfg.Authentication.Enabled = true
		cfg.Authentication.SharedSecret = *secret
	}
	if isFlagSet("salt") {
		cfg.Authentication.Salt = *salt
	}
	if *buffered > 0 {
		cfg.Buffered.Enabled = true
		cfg.Buffered.MaxOfflineTime = config.Duration(*buffered)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
}

// Package config 提供统一的配置管理
//
// 主 Config 结构体嵌入各组件的子配置，每个子配置在独立文件中定义，
// 支持从 JSON 加载与保存。
//
// 使用示例：
//
//	// 创建默认配置
//	cfg := config.NewConfig()
//	cfg.Buffered.Enabled = true
//	cfg.Buffered.MaxOfflineTime = config.Duration(30 * time.Second)
//
//	// 从文件加载
//	cfg, err := config.LoadFile("duplex.json")
package config

import (
	"fmt"
	"io"
	"os"

	json "github.com/goccy/go-json"
)

// Config 是 go-duplex 的完整配置结构
//
//   - Logging: 日志级别与格式
//   - Transport: 底层传输（进程内 / WebSocket）
//   - Serializer: 负载序列化格式
//   - Buffered: 缓冲组合层
//   - Authentication: 认证组合层
//   - RPC: 远程调用
//   - Broker: 发布订阅
type Config struct {
	// Logging 日志配置
	Logging LoggingConfig `json:"logging"`

	// Transport 传输层配置
	Transport TransportConfig `json:"transport"`

	// Serializer 序列化配置
	Serializer SerializerConfig `json:"serializer"`

	// Buffered 缓冲通道配置
	Buffered BufferedConfig `json:"buffered"`

	// Authentication 认证配置
	Authentication AuthenticationConfig `json:"authentication"`

	// RPC 远程调用配置
	RPC RPCConfig `json:"rpc"`

	// Broker 发布订阅配置
	Broker BrokerConfig `json:"broker"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Logging:        DefaultLoggingConfig(),
		Transport:      DefaultTransportConfig(),
		Serializer:     DefaultSerializerConfig(),
		Buffered:       DefaultBufferedConfig(),
		Authentication: DefaultAuthenticationConfig(),
		RPC:            DefaultRPCConfig(),
		Broker:         DefaultBrokerConfig(),
	}
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if err := c.Transport.Validate(); err != nil {
		return err
	}
	if err := c.Serializer.Validate(); err != nil {
		return err
	}
	if err := c.Buffered.Validate(); err != nil {
		return err
	}
	if err := c.Authentication.Validate(); err != nil {
		return err
	}
	if err := c.RPC.Validate(); err != nil {
		return err
	}
	return c.Broker.Validate()
}

// FromJSON 从 JSON 解析配置
//
// 未出现的字段保留默认值，解析后执行 Validate。
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load 从 reader 读取 JSON 配置
func Load(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return FromJSON(data)
}

// LoadFile 从文件读取 JSON 配置
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// ToJSON 将配置编码为缩进 JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

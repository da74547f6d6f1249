// Package websocket 实现基于 gorilla/websocket 的消息系统
//
// ChannelID 是服务的 ws:// URL，例如 ws://127.0.0.1:8091/calc。
// 输出通道拨号时把 ResponseReceiverID 放在 rrid 查询参数中，
// 输入通道据此识别客户端。每条通道消息对应一个二进制帧。
package websocket

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dep2p/go-duplex/internal/core/metrics"
	"github.com/dep2p/go-duplex/pkg/interfaces"
	"github.com/dep2p/go-duplex/pkg/lib/log"
)

// MessagingSystem WebSocket 消息系统
type MessagingSystem struct {
	config   Config
	logger   log.Interface
	metrics  *metrics.Metrics
	dialer   *websocket.Dialer
	upgrader websocket.Upgrader
}

var _ interfaces.MessagingSystemFactory = (*MessagingSystem)(nil)

// NewMessagingSystem 创建 WebSocket 消息系统
func NewMessagingSystem(opts ...Option) *MessagingSystem {
	m := &MessagingSystem{
		config: DefaultConfig(),
		logger: log.Logger("channel/websocket"),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.dialer = &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: m.config.HandshakeTimeout,
		ReadBufferSize:   m.config.ReadBufferSize,
		WriteBufferSize:  m.config.WriteBufferSize,
	}
	m.upgrader = websocket.Upgrader{
		HandshakeTimeout: m.config.HandshakeTimeout,
		ReadBufferSize:   m.config.ReadBufferSize,
		WriteBufferSize:  m.config.WriteBufferSize,
		// 客户端不是浏览器，不校验 Origin
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return m
}

// Config 返回生效的配置
func (m *MessagingSystem) Config() Config {
	return m.config
}

// CreateDuplexOutputChannel 创建输出通道
func (m *MessagingSystem) CreateDuplexOutputChannel(channelID string) (interfaces.DuplexOutputChannel, error) {
	return m.CreateDuplexOutputChannelWithID(channelID, uuid.NewString())
}

// CreateDuplexOutputChannelWithID 使用指定 ResponseReceiverID 创建输出通道
func (m *MessagingSystem) CreateDuplexOutputChannelWithID(channelID, responseReceiverID string) (interfaces.DuplexOutputChannel, error) {
	if _, err := parseChannelID(channelID); err != nil {
		return nil, err
	}
	if responseReceiverID == "" {
		responseReceiverID = uuid.NewString()
	}
	return newOutputChannel(m, channelID, responseReceiverID), nil
}

// CreateDuplexInputChannel 创建输入通道
func (m *MessagingSystem) CreateDuplexInputChannel(channelID string) (interfaces.DuplexInputChannel, error) {
	u, err := parseChannelID(channelID)
	if err != nil {
		return nil, err
	}
	return newInputChannel(m, channelID, u), nil
}

func parseChannelID(channelID string) (*url.URL, error) {
	u, err := url.Parse(channelID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChannelID, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidChannelID, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidChannelID)
	}
	return u, nil
}

// ============================================================================
//                              连接
// ============================================================================

// conn 包装 websocket 连接，gorilla 要求同一时刻至多一个写者
type conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, config Config) *conn {
	ws.SetReadLimit(config.MaxMessageSize)
	return &conn{ws: ws, writeTimeout: config.WriteTimeout}
}

func (c *conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// shutdown 先发送关闭帧再关闭底层连接
func (c *conn) shutdown() {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.writeTimeout),
	)
	c.writeMu.Unlock()
	c.close()
}

func (c *conn) close() {
	c.closeOnce.Do(func() { _ = c.ws.Close() })
}

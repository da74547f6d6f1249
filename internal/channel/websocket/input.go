package websocket

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"

	"github.com/dep2p/go-duplex/internal/dispatch"
	"github.com/dep2p/go-duplex/pkg/interfaces"
	"github.com/dep2p/go-duplex/pkg/lib/event"
	"github.com/dep2p/go-duplex/pkg/lib/log"
)

// InputChannel WebSocket 输入通道
//
// 在 ChannelID 的 host:port 上启动 HTTP 服务，只接受 ChannelID 路径上的升级请求。
type InputChannel struct {
	system     *MessagingSystem
	channelID  string
	url        *url.URL
	dispatcher *dispatch.Serial

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	clients  map[string]*conn

	responseReceiverConnected    event.Event[interfaces.ResponseReceiverEventArgs]
	responseReceiverDisconnected event.Event[interfaces.ResponseReceiverEventArgs]
	messageReceived              event.Event[interfaces.DuplexChannelMessageEventArgs]
}

var _ interfaces.DuplexInputChannel = (*InputChannel)(nil)

func newInputChannel(m *MessagingSystem, channelID string, u *url.URL) *InputChannel {
	return &InputChannel{
		system:     m,
		channelID:  channelID,
		url:        u,
		dispatcher: dispatch.NewSerial(),
		clients:    make(map[string]*conn),
	}
}

// ChannelID 返回监听地址
func (in *InputChannel) ChannelID() string { return in.channelID }

// ResponseReceiverConnected 客户端连接事件
func (in *InputChannel) ResponseReceiverConnected() *event.Event[interfaces.ResponseReceiverEventArgs] {
	return &in.responseReceiverConnected
}

// ResponseReceiverDisconnected 客户端断开事件
func (in *InputChannel) ResponseReceiverDisconnected() *event.Event[interfaces.ResponseReceiverEventArgs] {
	return &in.responseReceiverDisconnected
}

// MessageReceived 消息事件
func (in *InputChannel) MessageReceived() *event.Event[interfaces.DuplexChannelMessageEventArgs] {
	return &in.messageReceived
}

// Addr 返回实际监听地址，未监听时为 nil
//
// ChannelID 使用端口 0 时，客户端需要用这里的地址拨号。
func (in *InputChannel) Addr() net.Addr {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.listener == nil {
		return nil
	}
	return in.listener.Addr()
}

// StartListening 开始监听
func (in *InputChannel) StartListening() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.server != nil {
		return ErrAlreadyListening
	}

	lis, err := net.Listen("tcp", in.url.Host)
	if err != nil {
		return err
	}

	path := in.url.Path
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, in.handleUpgrade)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: in.system.config.HandshakeTimeout,
	}
	in.server = srv
	in.listener = lis

	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			in.system.logger.Error("WebSocket 服务异常退出", "channelID", in.channelID, "err", err)
		}
	}()

	in.system.logger.Debug("WebSocket 监听已启动", "channelID", in.channelID, "addr", lis.Addr().String())
	return nil
}

// StopListening 停止监听并断开所有客户端
func (in *InputChannel) StopListening() {
	in.mu.Lock()
	srv := in.server
	clients := in.clients
	in.server = nil
	in.listener = nil
	in.clients = make(map[string]*conn)
	in.mu.Unlock()

	if srv == nil {
		return
	}
	// 升级后的连接已被劫持，http.Server.Close 不会关闭它们
	_ = srv.Close()
	for _, c := range clients {
		c.shutdown()
	}

	in.system.logger.Debug("WebSocket 监听已停止", "channelID", in.channelID, "droppedClients", len(clients))
}

// IsListening 返回是否正在监听
func (in *InputChannel) IsListening() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.server != nil
}

// SendResponseMessage 向指定客户端发送消息
func (in *InputChannel) SendResponseMessage(responseReceiverID string, message []byte) error {
	in.mu.Lock()
	c := in.clients[responseReceiverID]
	in.mu.Unlock()

	if c == nil {
		return ErrResponseReceiverNotFound
	}
	if err := c.write(message); err != nil {
		return err
	}
	in.system.metrics.BytesSent(in.channelID, len(message))
	return nil
}

// DisconnectResponseReceiver 断开指定客户端，客户端不存在时不报错
func (in *InputChannel) DisconnectResponseReceiver(responseReceiverID string) error {
	in.mu.Lock()
	c := in.clients[responseReceiverID]
	delete(in.clients, responseReceiverID)
	in.mu.Unlock()

	if c != nil {
		c.shutdown()
		in.system.logger.Debug("已断开客户端", "channelID", in.channelID, "responseReceiverID", log.TruncateID(responseReceiverID, 8))
	}
	return nil
}

// ConnectedCount 返回已连接客户端数量
func (in *InputChannel) ConnectedCount() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.clients)
}

func (in *InputChannel) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	rrid := r.URL.Query().Get(receiverIDParam)
	if rrid == "" {
		http.Error(w, "missing "+receiverIDParam, http.StatusBadRequest)
		return
	}
	in.mu.Lock()
	_, exists := in.clients[rrid]
	in.mu.Unlock()
	if exists {
		http.Error(w, "response receiver already connected", http.StatusConflict)
		return
	}

	ws, err := in.system.upgrader.Upgrade(w, r, nil)
	if err != nil {
		in.system.logger.Debug("WebSocket 升级失败", "remote", r.RemoteAddr, "err", err)
		return
	}
	c := newConn(ws, in.system.config)

	in.mu.Lock()
	if in.server == nil || in.clients[rrid] != nil {
		in.mu.Unlock()
		c.shutdown()
		return
	}
	in.clients[rrid] = c
	in.mu.Unlock()

	args := interfaces.ResponseReceiverEventArgs{ResponseReceiverID: rrid, SenderAddress: r.RemoteAddr}
	in.dispatcher.Invoke(func() { in.responseReceiverConnected.Raise(args) })

	in.readLoop(c, rrid, r.RemoteAddr)
}

// readLoop 在 HTTP 处理 goroutine 中运行直到连接断开
func (in *InputChannel) readLoop(c *conn, rrid, remote string) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			in.mu.Lock()
			current := in.clients[rrid] == c
			if current {
				delete(in.clients, rrid)
			}
			in.mu.Unlock()

			c.close()
			// 服务端主动断开的客户端已从表中移除，不再触发事件
			if current {
				args := interfaces.ResponseReceiverEventArgs{ResponseReceiverID: rrid, SenderAddress: remote}
				in.dispatcher.Invoke(func() { in.responseReceiverDisconnected.Raise(args) })
			}
			return
		}

		in.system.metrics.BytesReceived(in.channelID, len(data))
		args := interfaces.DuplexChannelMessageEventArgs{
			ChannelID:          in.channelID,
			ResponseReceiverID: rrid,
			SenderAddress:      remote,
			Message:            data,
		}
		in.dispatcher.Invoke(func() { in.messageReceived.Raise(args) })
	}
}

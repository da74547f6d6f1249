package buffered

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-duplex/internal/core/metrics"
	"github.com/dep2p/go-duplex/pkg/interfaces"
	"github.com/dep2p/go-duplex/pkg/lib/event"
	"github.com/dep2p/go-duplex/pkg/lib/log"
)

// responseReceiver 服务端记录的单个客户端
type responseReceiver struct {
	id           string
	address      string
	lastActivity time.Time

	// online 底层连接是否在线
	online bool

	// announced 是否已对外触发过 Connected
	announced bool

	queue   [][]byte
	sending bool
	stop    chan struct{}
}

// InputChannel 缓冲输入通道
//
// 客户端底层断开后在 MaxOfflineTime 内保留其记录与待发响应；
// 期间重连视为同一客户端恢复在线，超时后才对外报告断开。
type InputChannel struct {
	underlying interfaces.DuplexInputChannel

	config  Config
	logger  log.Interface
	metrics *metrics.Metrics
	clock   clock.Clock

	mu        sync.Mutex
	listening bool
	tokens    [3]event.Token
	receivers map[string]*responseReceiver
	sweepStop chan struct{}

	responseReceiverConnected    event.Event[interfaces.ResponseReceiverEventArgs]
	responseReceiverDisconnected event.Event[interfaces.ResponseReceiverEventArgs]
	messageReceived              event.Event[interfaces.DuplexChannelMessageEventArgs]
	responseReceiverOnline       event.Event[interfaces.ResponseReceiverEventArgs]
	responseReceiverOffline      event.Event[interfaces.ResponseReceiverEventArgs]
}

var _ interfaces.DuplexInputChannel = (*InputChannel)(nil)

// NewInputChannel 包装底层输入通道
func NewInputChannel(underlying interfaces.DuplexInputChannel, opts ...Option) (*InputChannel, error) {
	if underlying == nil {
		return nil, ErrNilUnderlying
	}
	s := newSettings("composite/buffered", opts)
	return &InputChannel{
		underlying: underlying,
		config:     s.config,
		logger:     s.logger,
		metrics:    s.metrics,
		clock:      s.clock,
		receivers:  make(map[string]*responseReceiver),
	}, nil
}

// ChannelID 返回监听地址
func (in *InputChannel) ChannelID() string { return in.underlying.ChannelID() }

// Underlying 返回被包装的通道
func (in *InputChannel) Underlying() interfaces.DuplexInputChannel { return in.underlying }

// ResponseReceiverConnected 客户端首次连接事件
func (in *InputChannel) ResponseReceiverConnected() *event.Event[interfaces.ResponseReceiverEventArgs] {
	return &in.responseReceiverConnected
}

// ResponseReceiverDisconnected 客户端离线超时事件
func (in *InputChannel) ResponseReceiverDisconnected() *event.Event[interfaces.ResponseReceiverEventArgs] {
	return &in.responseReceiverDisconnected
}

// MessageReceived 消息事件
func (in *InputChannel) MessageReceived() *event.Event[interfaces.DuplexChannelMessageEventArgs] {
	return &in.messageReceived
}

// ResponseReceiverOnline 客户端在离线窗口内重连事件
func (in *InputChannel) ResponseReceiverOnline() *event.Event[interfaces.ResponseReceiverEventArgs] {
	return &in.responseReceiverOnline
}

// ResponseReceiverOffline 客户端底层断开事件
func (in *InputChannel) ResponseReceiverOffline() *event.Event[interfaces.ResponseReceiverEventArgs] {
	return &in.responseReceiverOffline
}

// StartListening 开始监听
func (in *InputChannel) StartListening() error {
	in.mu.Lock()
	if in.listening {
		in.mu.Unlock()
		return ErrAlreadyListening
	}
	in.tokens[0] = in.underlying.ResponseReceiverConnected().Subscribe(in.onUnderlyingConnected)
	in.tokens[1] = in.underlying.ResponseReceiverDisconnected().Subscribe(in.onUnderlyingDisconnected)
	in.tokens[2] = in.underlying.MessageReceived().Subscribe(in.onUnderlyingMessage)
	in.listening = true
	in.mu.Unlock()

	if err := in.underlying.StartListening(); err != nil {
		in.mu.Lock()
		in.listening = false
		in.unsubscribe()
		in.mu.Unlock()
		return err
	}

	in.logger.Debug("缓冲监听已启动", "channelID", in.ChannelID())
	return nil
}

// StopListening 停止监听并丢弃所有客户端记录
func (in *InputChannel) StopListening() {
	in.mu.Lock()
	if !in.listening {
		in.mu.Unlock()
		return
	}
	in.listening = false
	in.unsubscribe()
	for id, r := range in.receivers {
		close(r.stop)
		delete(in.receivers, id)
	}
	in.stopSweepLocked()
	in.mu.Unlock()

	in.underlying.StopListening()
	in.logger.Debug("缓冲监听已停止", "channelID", in.ChannelID())
}

// IsListening 返回是否正在监听
func (in *InputChannel) IsListening() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.listening
}

// SendResponseMessage 将响应加入客户端队列
//
// 客户端未知时创建离线记录，在 MaxOfflineTime 内连接即可收到。
func (in *InputChannel) SendResponseMessage(responseReceiverID string, message []byte) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if !in.listening {
		return ErrNotListening
	}
	r := in.receiverLocked(responseReceiverID)
	r.queue = append(r.queue, append([]byte(nil), message...))
	in.startSendingLocked(r)
	return nil
}

// DisconnectResponseReceiver 主动断开客户端
//
// 立即丢弃记录与待发响应，不触发 Disconnected。
func (in *InputChannel) DisconnectResponseReceiver(responseReceiverID string) error {
	in.mu.Lock()
	if r, ok := in.receivers[responseReceiverID]; ok {
		close(r.stop)
		delete(in.receivers, responseReceiverID)
	}
	in.mu.Unlock()

	return in.underlying.DisconnectResponseReceiver(responseReceiverID)
}

// ReceiverCount 返回当前记录的客户端数（含离线）
func (in *InputChannel) ReceiverCount() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.receivers)
}

// IsResponseReceiverOnline 返回客户端底层是否在线
func (in *InputChannel) IsResponseReceiverOnline(responseReceiverID string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	r, ok := in.receivers[responseReceiverID]
	return ok && r.online
}

func (in *InputChannel) unsubscribe() {
	in.underlying.ResponseReceiverConnected().Unsubscribe(in.tokens[0])
	in.underlying.ResponseReceiverDisconnected().Unsubscribe(in.tokens[1])
	in.underlying.MessageReceived().Unsubscribe(in.tokens[2])
}

// receiverLocked 获取或创建客户端记录，调用方持有 in.mu
func (in *InputChannel) receiverLocked(id string) *responseReceiver {
	r, ok := in.receivers[id]
	if !ok {
		r = &responseReceiver{
			id:           id,
			lastActivity: in.clock.Now(),
			stop:         make(chan struct{}),
		}
		in.receivers[id] = r
		in.startSweepLocked()
	}
	return r
}

// ============================================================================
//                              底层事件
// ============================================================================

func (in *InputChannel) onUnderlyingConnected(args interfaces.ResponseReceiverEventArgs) {
	in.mu.Lock()
	if !in.listening {
		in.mu.Unlock()
		return
	}
	r := in.receiverLocked(args.ResponseReceiverID)
	r.online = true
	r.lastActivity = in.clock.Now()
	if args.SenderAddress != "" {
		r.address = args.SenderAddress
	}
	first := !r.announced
	r.announced = true
	in.startSendingLocked(r)
	out := interfaces.ResponseReceiverEventArgs{ResponseReceiverID: r.id, SenderAddress: r.address}
	in.mu.Unlock()

	if first {
		in.responseReceiverConnected.Raise(out)
		return
	}
	in.logger.Debug("客户端恢复在线", "rrID", log.TruncateID(r.id, 8))
	in.responseReceiverOnline.Raise(out)
}

func (in *InputChannel) onUnderlyingDisconnected(args interfaces.ResponseReceiverEventArgs) {
	in.mu.Lock()
	r, ok := in.receivers[args.ResponseReceiverID]
	if !in.listening || !ok {
		in.mu.Unlock()
		return
	}
	r.online = false
	r.lastActivity = in.clock.Now()
	in.startSweepLocked()
	out := interfaces.ResponseReceiverEventArgs{ResponseReceiverID: r.id, SenderAddress: r.address}
	in.mu.Unlock()

	in.logger.Debug("客户端离线", "rrID", log.TruncateID(r.id, 8))
	in.responseReceiverOffline.Raise(out)
}

func (in *InputChannel) onUnderlyingMessage(args interfaces.DuplexChannelMessageEventArgs) {
	in.mu.Lock()
	if !in.listening {
		in.mu.Unlock()
		return
	}
	r := in.receiverLocked(args.ResponseReceiverID)
	r.online = true
	r.lastActivity = in.clock.Now()
	if args.SenderAddress != "" {
		r.address = args.SenderAddress
	}
	announce := !r.announced
	r.announced = true
	in.startSendingLocked(r)
	out := interfaces.ResponseReceiverEventArgs{ResponseReceiverID: r.id, SenderAddress: r.address}
	in.mu.Unlock()

	if announce {
		in.responseReceiverConnected.Raise(out)
	}
	in.messageReceived.Raise(interfaces.DuplexChannelMessageEventArgs{
		ChannelID:          in.ChannelID(),
		ResponseReceiverID: args.ResponseReceiverID,
		SenderAddress:      args.SenderAddress,
		Message:            args.Message,
	})
}

// ============================================================================
//                              后台循环
// ============================================================================

func (in *InputChannel) startSendingLocked(r *responseReceiver) {
	if r.sending || !r.online || len(r.queue) == 0 {
		return
	}
	r.sending = true
	go in.sendLoop(r)
}

// sendLoop 按序发送客户端队列，客户端离线时暂停
func (in *InputChannel) sendLoop(r *responseReceiver) {
	for {
		in.mu.Lock()
		if in.receivers[r.id] != r || !r.online || len(r.queue) == 0 {
			r.sending = false
			in.mu.Unlock()
			return
		}
		msg := r.queue[0]
		in.mu.Unlock()

		err := in.underlying.SendResponseMessage(r.id, msg)
		if err == nil {
			in.mu.Lock()
			if in.receivers[r.id] == r && len(r.queue) > 0 {
				r.queue[0] = nil
				r.queue = r.queue[1:]
			}
			in.mu.Unlock()
			continue
		}
		in.logger.Debug("响应发送失败，稍后重试", "rrID", log.TruncateID(r.id, 8), "err", err)

		select {
		case <-r.stop:
			return
		case <-in.clock.After(in.config.RetryInterval):
		}
	}
}

func (in *InputChannel) startSweepLocked() {
	if in.sweepStop != nil {
		return
	}
	stop := make(chan struct{})
	in.sweepStop = stop
	go in.sweepLoop(stop)
}

func (in *InputChannel) stopSweepLocked() {
	if in.sweepStop != nil {
		close(in.sweepStop)
		in.sweepStop = nil
	}
}

// sweepLoop 清理离线超过 MaxOfflineTime 的客户端，无记录时退出
func (in *InputChannel) sweepLoop(stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-in.clock.After(in.config.RetryInterval):
		}

		in.mu.Lock()
		if in.sweepStop != stop {
			in.mu.Unlock()
			return
		}
		now := in.clock.Now()
		var evicted []*responseReceiver
		for id, r := range in.receivers {
			if !r.online && now.Sub(r.lastActivity) > in.config.MaxOfflineTime {
				close(r.stop)
				delete(in.receivers, id)
				evicted = append(evicted, r)
			}
		}
		idle := len(in.receivers) == 0
		if idle {
			in.sweepStop = nil
		}
		in.mu.Unlock()

		for _, r := range evicted {
			in.evict(r)
		}
		if idle {
			return
		}
	}
}

func (in *InputChannel) evict(r *responseReceiver) {
	if err := in.underlying.DisconnectResponseReceiver(r.id); err != nil {
		in.logger.Debug("断开底层客户端失败", "rrID", log.TruncateID(r.id, 8), "err", err)
	}
	in.metrics.ReceiverEvicted()
	in.logger.Info("客户端离线超时，已清理", "rrID", log.TruncateID(r.id, 8), "pending", len(r.queue))

	if r.announced {
		in.responseReceiverDisconnected.Raise(interfaces.ResponseReceiverEventArgs{
			ResponseReceiverID: r.id,
			SenderAddress:      r.address,
		})
	}
}

// Package broker 实现基于双工通道的发布/订阅
//
// Service 挂接输入通道，维护按消息类型（精确匹配）与正则表达式的订阅表，
// 收到发布后向所有匹配的订阅者转发。Client 挂接输出通道，
// 发送订阅请求并通过 BrokerMessageReceived 事件接收转发的消息。
package broker

import (
	"errors"
	"fmt"
	"regexp"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dep2p/go-duplex/internal/attach"
	"github.com/dep2p/go-duplex/internal/core/metrics"
	"github.com/dep2p/go-duplex/pkg/interfaces"
	"github.com/dep2p/go-duplex/pkg/lib/event"
	"github.com/dep2p/go-duplex/pkg/lib/log"
)

// MessageReceivedEventArgs Broker 消息事件参数
type MessageReceivedEventArgs struct {
	// MessageTypeID 消息类型
	MessageTypeID string

	// Message 负载
	Message []byte

	// ResponseReceiverID 发布者标识，仅服务端事件填写，Broker 自身发布时为空
	ResponseReceiverID string
}

// subscriptions 订阅表：键为消息类型或正则表达式，值为订阅者集合
type subscriptions map[string]map[string]struct{}

func (s subscriptions) add(key, receiverID string) {
	set, ok := s[key]
	if !ok {
		set = make(map[string]struct{})
		s[key] = set
	}
	set[receiverID] = struct{}{}
}

func (s subscriptions) remove(key, receiverID string) {
	set, ok := s[key]
	if !ok {
		return
	}
	delete(set, receiverID)
	if len(set) == 0 {
		delete(s, key)
	}
}

func (s subscriptions) removeAll(receiverID string) {
	for key := range s {
		s.remove(key, receiverID)
	}
}

func (s subscriptions) count() int {
	n := 0
	for _, set := range s {
		n += len(set)
	}
	return n
}

// Service Broker 服务
type Service struct {
	config   Config
	logger   log.Interface
	metrics  *metrics.Metrics
	attacher *attach.InputAttacher

	mu       sync.Mutex
	exact    subscriptions
	regex    subscriptions
	compiled *lru.Cache[string, *regexp.Regexp]

	messageReceived event.Event[MessageReceivedEventArgs]
}

var _ interfaces.AttachableDuplexInputChannel = (*Service)(nil)

// NewService 创建 Broker 服务
func NewService(opts ...Option) (*Service, error) {
	s := newSettings("broker", opts)
	compiled, err := lru.New[string, *regexp.Regexp](s.config.RegexCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create regex cache: %w", err)
	}

	svc := &Service{
		config:   s.config,
		logger:   s.logger,
		metrics:  s.metrics,
		exact:    make(subscriptions),
		regex:    make(subscriptions),
		compiled: compiled,
	}
	svc.attacher = attach.NewInputAttacher(attach.InputHandlers{
		ResponseReceiverDisconnected: svc.onReceiverDisconnected,
		MessageReceived:              svc.onMessage,
	})
	return svc, nil
}

// AttachDuplexInputChannel 挂接通道并开始监听
func (s *Service) AttachDuplexInputChannel(ch interfaces.DuplexInputChannel) error {
	err := s.attacher.Attach(ch)
	if errors.Is(err, attach.ErrAlreadyAttached) {
		return ErrAlreadyAttached
	}
	return err
}

// DetachDuplexInputChannel 停止监听并清空订阅表
func (s *Service) DetachDuplexInputChannel() {
	s.attacher.Detach()

	s.mu.Lock()
	s.exact = make(subscriptions)
	s.regex = make(subscriptions)
	s.updateGaugesLocked()
	s.mu.Unlock()
}

// IsDuplexInputChannelAttached 返回是否已挂接
func (s *Service) IsDuplexInputChannelAttached() bool {
	return s.attacher.IsAttached()
}

// AttachedDuplexInputChannel 返回已挂接的通道
func (s *Service) AttachedDuplexInputChannel() interfaces.DuplexInputChannel {
	return s.attacher.Channel()
}

// BrokerMessageReceived 客户端发布事件
func (s *Service) BrokerMessageReceived() *event.Event[MessageReceivedEventArgs] {
	return &s.messageReceived
}

// Publish 以 Broker 自身身份发布消息
func (s *Service) Publish(messageTypeID string, payload []byte) error {
	if messageTypeID == "" {
		return ErrEmptyType
	}
	if !s.attacher.IsAttached() {
		return ErrNotAttached
	}
	s.publish("", messageTypeID, payload)
	return nil
}

// SubscriptionCount 返回精确与正则订阅项数
func (s *Service) SubscriptionCount() (exact, regex int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exact.count(), s.regex.count()
}

// ============================================================================
//                              请求处理
// ============================================================================

func (s *Service) onMessage(args interfaces.DuplexChannelMessageEventArgs) {
	msg, err := decode(args.Message)
	if err != nil {
		s.logger.Warn("Broker 报文解析失败，断开客户端", "receiver", args.ResponseReceiverID, "err", err)
		s.dropReceiver(args.ResponseReceiverID)
		return
	}

	switch msg.Kind {
	case kindPublish:
		if len(msg.Types) != 1 || msg.Types[0] == "" {
			s.logger.Warn("发布报文类型无效，断开客户端", "receiver", args.ResponseReceiverID, "types", msg.Types)
			s.dropReceiver(args.ResponseReceiverID)
			return
		}
		s.publish(args.ResponseReceiverID, msg.Types[0], msg.Payload)
		s.messageReceived.Raise(MessageReceivedEventArgs{
			MessageTypeID:      msg.Types[0],
			Message:            msg.Payload,
			ResponseReceiverID: args.ResponseReceiverID,
		})
	default:
		s.updateSubscriptions(args.ResponseReceiverID, msg)
	}
}

func (s *Service) updateSubscriptions(receiverID string, msg *brokerMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch msg.Kind {
	case kindSubscribe:
		for _, t := range msg.Types {
			s.exact.add(t, receiverID)
		}
	case kindSubscribeRegExp:
		for _, p := range msg.Types {
			s.regex.add(p, receiverID)
		}
	case kindUnsubscribe:
		for _, t := range msg.Types {
			s.exact.remove(t, receiverID)
		}
	case kindUnsubscribeRegExp:
		for _, p := range msg.Types {
			s.regex.remove(p, receiverID)
		}
	case kindUnsubscribeAll:
		s.exact.removeAll(receiverID)
		s.regex.removeAll(receiverID)
	}
	s.updateGaugesLocked()
	s.logger.Debug("订阅已更新", "receiver", receiverID, "kind", msg.Kind.String(), "types", msg.Types)
}

func (s *Service) updateGaugesLocked() {
	s.metrics.SetSubscriptions(metrics.KindExact, s.exact.count())
	s.metrics.SetSubscriptions(metrics.KindRegex, s.regex.count())
}

// publish 在锁内计算订阅者，在锁外转发
func (s *Service) publish(publisherID, messageTypeID string, payload []byte) {
	s.metrics.Published()

	receivers := s.match(publisherID, messageTypeID)
	if len(receivers) == 0 {
		return
	}

	data, err := encode(&brokerMessage{Kind: kindPublish, Types: []string{messageTypeID}, Payload: payload})
	if err != nil {
		s.logger.Error("转发报文编码失败", "type", messageTypeID, "err", err)
		return
	}

	for _, id := range receivers {
		if err := s.attacher.SendResponse(id, data); err != nil {
			s.metrics.DeliveryFailed()
			s.logger.Warn("转发消息失败", "type", messageTypeID, "receiver", id, "err", err)
			continue
		}
		s.metrics.Delivered()
	}
}

// match 返回去重后的订阅者，正则编译失败的订阅项被移除
func (s *Service) match(publisherID, messageTypeID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	var receivers []string
	add := func(id string) {
		if !s.config.PublisherNotified && id == publisherID {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		receivers = append(receivers, id)
	}

	for id := range s.exact[messageTypeID] {
		add(id)
	}

	var malformed []string
	for pattern, set := range s.regex {
		re, err := s.compile(pattern)
		if err != nil {
			s.logger.Warn("正则订阅无效，已移除", "pattern", pattern, "err", err)
			malformed = append(malformed, pattern)
			continue
		}
		if !re.MatchString(messageTypeID) {
			continue
		}
		for id := range set {
			add(id)
		}
	}
	for _, pattern := range malformed {
		delete(s.regex, pattern)
	}
	if len(malformed) > 0 {
		s.updateGaugesLocked()
	}
	return receivers
}

func (s *Service) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := s.compiled.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	s.compiled.Add(pattern, re)
	return re, nil
}

func (s *Service) onReceiverDisconnected(args interfaces.ResponseReceiverEventArgs) {
	s.removeReceiver(args.ResponseReceiverID)
}

func (s *Service) removeReceiver(receiverID string) {
	s.mu.Lock()
	s.exact.removeAll(receiverID)
	s.regex.removeAll(receiverID)
	s.updateGaugesLocked()
	s.mu.Unlock()
}

// dropReceiver 协议错误时断开客户端并清理其订阅
func (s *Service) dropReceiver(receiverID string) {
	s.removeReceiver(receiverID)
	if err := s.attacher.Disconnect(receiverID); err != nil {
		s.logger.Debug("断开客户端失败", "receiver", receiverID, "err", err)
	}
}

// Package metrics 提供 Prometheus 监控指标
//
// 各组件通过 WithMetrics 注入 *Metrics。所有方法对 nil 接收者安全，
// 未注入时不产生任何开销。
//
// 除 Prometheus 指标外，Metrics 还内置 BandwidthCounter，
// 按 ChannelID 统计传输层收发字节与最近 60 秒的平均速率。
//
// # 快速开始
//
//	reg := prometheus.NewRegistry()
//	m, err := metrics.New(reg)
//	if err != nil {
//	    return err
//	}
//	out := buffered.NewOutputChannel(underlying, buffered.WithMetrics(m))
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "duplex"

// 标签取值
const (
	SideClient  = "client"
	SideService = "service"

	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultTimeout = "timeout"
	ResultRemote  = "remote_error"

	KindExact = "exact"
	KindRegex = "regex"
)

// Metrics 监控指标集合
type Metrics struct {
	bandwidth      *BandwidthCounter
	transportBytes *prometheus.CounterVec

	bufferedDropped    prometheus.Counter
	bufferedReconnects prometheus.Counter
	bufferedEvicted    prometheus.Counter

	authResults *prometheus.CounterVec

	rpcCalls    *prometheus.CounterVec
	rpcDuration prometheus.Histogram

	brokerPublications     prometheus.Counter
	brokerDeliveries       prometheus.Counter
	brokerDeliveryFailures prometheus.Counter
	brokerSubscriptions    *prometheus.GaugeVec
}

// New 创建指标并注册到 reg
//
// reg 为 nil 时只创建不注册。
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		bandwidth: NewBandwidthCounter(nil),
		transportBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "bytes_total",
			Help:      "Message bytes carried by the transport by direction.",
		}, []string{"direction"}),
		bufferedDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buffered",
			Name:      "messages_dropped_total",
			Help:      "Messages dropped after the offline window expired.",
		}),
		bufferedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buffered",
			Name:      "reconnect_attempts_total",
			Help:      "Underlying open attempts made by the reconnect loop.",
		}),
		bufferedEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buffered",
			Name:      "receivers_evicted_total",
			Help:      "Response receivers evicted by the offline sweep.",
		}),
		authResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "handshakes_total",
			Help:      "Authentication handshakes by side and result.",
		}, []string{"side", "result"}),
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Remote calls by result.",
		}, []string{"result"}),
		rpcDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "Remote call latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		brokerPublications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "publications_total",
			Help:      "Messages published to the broker.",
		}),
		brokerDeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "deliveries_total",
			Help:      "Publications forwarded to subscribers.",
		}),
		brokerDeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "delivery_failures_total",
			Help:      "Failed forwards to subscribers.",
		}),
		brokerSubscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "subscriptions",
			Help:      "Active broker subscriptions by kind.",
		}, []string{"kind"}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.transportBytes,
		m.bufferedDropped,
		m.bufferedReconnects,
		m.bufferedEvicted,
		m.authResults,
		m.rpcCalls,
		m.rpcDuration,
		m.brokerPublications,
		m.brokerDeliveries,
		m.brokerDeliveryFailures,
		m.brokerSubscriptions,
	}
}

// ============================================================================
//                              传输
// ============================================================================

// 方向标签
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// BytesSent 记录一条出站消息
func (m *Metrics) BytesSent(channelID string, n int) {
	if m == nil {
		return
	}
	m.bandwidth.LogSentMessage(channelID, int64(n))
	m.transportBytes.WithLabelValues(DirectionOut).Add(float64(n))
}

// BytesReceived 记录一条入站消息
func (m *Metrics) BytesReceived(channelID string, n int) {
	if m == nil {
		return
	}
	m.bandwidth.LogRecvMessage(channelID, int64(n))
	m.transportBytes.WithLabelValues(DirectionIn).Add(float64(n))
}

// Bandwidth 返回带宽计数器，nil 接收者返回 nil
func (m *Metrics) Bandwidth() *BandwidthCounter {
	if m == nil {
		return nil
	}
	return m.bandwidth
}

// ============================================================================
//                              缓冲通道
// ============================================================================

// MessagesDropped 记录丢弃的消息数
func (m *Metrics) MessagesDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bufferedDropped.Add(float64(n))
}

// ReconnectAttempt 记录一次重连尝试
func (m *Metrics) ReconnectAttempt() {
	if m == nil {
		return
	}
	m.bufferedReconnects.Inc()
}

// ReceiverEvicted 记录一次客户端清理
func (m *Metrics) ReceiverEvicted() {
	if m == nil {
		return
	}
	m.bufferedEvicted.Inc()
}

// ============================================================================
//                              认证
// ============================================================================

// AuthResult 记录一次握手结果
func (m *Metrics) AuthResult(side, result string) {
	if m == nil {
		return
	}
	m.authResults.WithLabelValues(side, result).Inc()
}

// ============================================================================
//                              RPC
// ============================================================================

// RPCCall 记录一次远程调用
func (m *Metrics) RPCCall(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.rpcCalls.WithLabelValues(result).Inc()
	m.rpcDuration.Observe(elapsed.Seconds())
}

// ============================================================================
//                              Broker
// ============================================================================

// Published 记录一次发布
func (m *Metrics) Published() {
	if m == nil {
		return
	}
	m.brokerPublications.Inc()
}

// Delivered 记录一次成功转发
func (m *Metrics) Delivered() {
	if m == nil {
		return
	}
	m.brokerDeliveries.Inc()
}

// DeliveryFailed 记录一次转发失败
func (m *Metrics) DeliveryFailed() {
	if m == nil {
		return
	}
	m.brokerDeliveryFailures.Inc()
}

// SetSubscriptions 设置当前订阅数
func (m *Metrics) SetSubscriptions(kind string, n int) {
	if m == nil {
		return
	}
	m.brokerSubscriptions.WithLabelValues(kind).Set(float64(n))
}

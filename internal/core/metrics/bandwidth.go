package metrics

import (
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/puzpuzpuz/xsync/v3"
)

// BandwidthCounter 带宽计数器
//
// 跟踪传输层收发的消息字节数，总量与按 ChannelID 分别统计。
type BandwidthCounter struct {
	clock clock.Clock

	totalIn  atomic.Int64
	totalOut atomic.Int64

	totalInRate  *RateMeter
	totalOutRate *RateMeter

	channels *xsync.MapOf[string, *channelCounter]
}

type channelCounter struct {
	in      atomic.Int64
	out     atomic.Int64
	inRate  *RateMeter
	outRate *RateMeter
}

func (c *channelCounter) stats() Stats {
	return Stats{
		TotalIn:  c.in.Load(),
		TotalOut: c.out.Load(),
		RateIn:   c.inRate.Rate(),
		RateOut:  c.outRate.Rate(),
	}
}

// NewBandwidthCounter 创建带宽计数器，c 为 nil 时使用系统时钟
func NewBandwidthCounter(c clock.Clock) *BandwidthCounter {
	if c == nil {
		c = clock.New()
	}
	return &BandwidthCounter{
		clock:        c,
		totalInRate:  NewRateMeter(c),
		totalOutRate: NewRateMeter(c),
		channels:     xsync.NewMapOf[string, *channelCounter](),
	}
}

// LogSentMessage 记录出站消息的大小
func (b *BandwidthCounter) LogSentMessage(channelID string, size int64) {
	b.totalOut.Add(size)
	b.totalOutRate.Add(size)
	c := b.channel(channelID)
	c.out.Add(size)
	c.outRate.Add(size)
}

// LogRecvMessage 记录入站消息的大小
func (b *BandwidthCounter) LogRecvMessage(channelID string, size int64) {
	b.totalIn.Add(size)
	b.totalInRate.Add(size)
	c := b.channel(channelID)
	c.in.Add(size)
	c.inRate.Add(size)
}

func (b *BandwidthCounter) channel(channelID string) *channelCounter {
	c, _ := b.channels.LoadOrCompute(channelID, func() *channelCounter {
		return &channelCounter{inRate: NewRateMeter(b.clock), outRate: NewRateMeter(b.clock)}
	})
	return c
}

// GetBandwidthTotals 返回总带宽统计
func (b *BandwidthCounter) GetBandwidthTotals() Stats {
	return Stats{
		TotalIn:  b.totalIn.Load(),
		TotalOut: b.totalOut.Load(),
		RateIn:   b.totalInRate.Rate(),
		RateOut:  b.totalOutRate.Rate(),
	}
}

// GetBandwidthForChannel 返回单个通道的带宽统计，未出现过的通道返回零值
func (b *BandwidthCounter) GetBandwidthForChannel(channelID string) Stats {
	c, ok := b.channels.Load(channelID)
	if !ok {
		return Stats{}
	}
	return c.stats()
}

// GetBandwidthByChannel 返回所有通道的带宽统计
func (b *BandwidthCounter) GetBandwidthByChannel() map[string]Stats {
	out := make(map[string]Stats, b.channels.Size())
	b.channels.Range(func(id string, c *channelCounter) bool {
		out[id] = c.stats()
		return true
	})
	return out
}

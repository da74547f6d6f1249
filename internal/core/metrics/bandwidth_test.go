package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateMeter_SlidingWindow(t *testing.T) {
	mock := clock.NewMock()
	r := NewRateMeter(mock)

	r.Add(600)
	assert.InDelta(t, 10.0, r.Rate(), 1e-9)

	mock.Add(time.Second)
	r.Add(120)
	assert.InDelta(t, 12.0, r.Rate(), 1e-9)

	// 窗口滑出后速率归零
	mock.Add(61 * time.Second)
	assert.Zero(t, r.Rate())
}

func TestBandwidthCounter_PerChannel(t *testing.T) {
	b := NewBandwidthCounter(clock.NewMock())

	b.LogSentMessage("ws://a/x", 100)
	b.LogSentMessage("ws://a/x", 20)
	b.LogRecvMessage("ws://b/y", 300)

	totals := b.GetBandwidthTotals()
	assert.Equal(t, int64(120), totals.TotalOut)
	assert.Equal(t, int64(300), totals.TotalIn)

	a := b.GetBandwidthForChannel("ws://a/x")
	assert.Equal(t, int64(120), a.TotalOut)
	assert.Zero(t, a.TotalIn)
	assert.InDelta(t, 2.0, a.RateOut, 1e-9)

	assert.Equal(t, Stats{}, b.GetBandwidthForChannel("unknown"))

	all := b.GetBandwidthByChannel()
	require.Len(t, all, 2)
	assert.Equal(t, int64(300), all["ws://b/y"].TotalIn)
}

func TestBandwidthCounter_Concurrent(t *testing.T) {
	b := NewBandwidthCounter(nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				b.LogSentMessage("ch", 1)
				b.LogRecvMessage("ch", 2)
			}
		}()
	}
	wg.Wait()

	s := b.GetBandwidthForChannel("ch")
	assert.Equal(t, int64(8000), s.TotalOut)
	assert.Equal(t, int64(16000), s.TotalIn)
}

func TestMetrics_TransportBytes(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.BytesSent("ch", 10)
	m.BytesReceived("ch", 4)
	m.BytesReceived("ch", 4)

	assert.Equal(t, 10.0, testutil.ToFloat64(m.transportBytes.WithLabelValues(DirectionOut)))
	assert.Equal(t, 8.0, testutil.ToFloat64(m.transportBytes.WithLabelValues(DirectionIn)))
	assert.Equal(t, int64(8), m.Bandwidth().GetBandwidthForChannel("ch").TotalIn)

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.BytesSent("ch", 1) })
	assert.Nil(t, nilMetrics.Bandwidth())
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

func TestNilMetrics_NoPanic(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.MessagesDropped(3)
		m.ReconnectAttempt()
		m.ReceiverEvicted()
		m.AuthResult(SideClient, ResultSuccess)
		m.RPCCall(ResultSuccess, time.Millisecond)
		m.Published()
		m.Delivered()
		m.DeliveryFailed()
		m.SetSubscriptions(KindExact, 2)
	})
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.MessagesDropped(3)
	m.MessagesDropped(0)
	m.Published()
	m.Delivered()
	m.Delivered()
	m.AuthResult(SideService, ResultFailure)
	m.RPCCall(ResultTimeout, 10*time.Millisecond)
	m.SetSubscriptions(KindRegex, 4)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.bufferedDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.brokerPublications))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.brokerDeliveries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authResults.WithLabelValues(SideService, ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rpcCalls.WithLabelValues(ResultTimeout)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.brokerSubscriptions.WithLabelValues(KindRegex)))
}

func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}

func TestModule(t *testing.T) {
	var m *Metrics
	app := fxtest.New(t,
		fx.Supply(fx.Annotate(prometheus.NewRegistry(), fx.As(new(prometheus.Registerer)))),
		Module,
		fx.Populate(&m),
	)
	app.RequireStart()
	defer app.RequireStop()

	require.NotNil(t, m)
}

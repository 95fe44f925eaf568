package governance

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/polisai/decodeguard/pkg/domain"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTrampoline serves a fixed original implementation.
type fakeTrampoline struct {
	fn domain.DecodeFunc
}

func (f *fakeTrampoline) Original() (domain.DecodeFunc, bool) {
	if f == nil || f.fn == nil {
		return nil, false
	}
	return f.fn, true
}

// fakeChannel records shutdown requests.
type fakeChannel struct {
	id domain.ConnectionID

	mu       sync.Mutex
	reasons  []string
	shutdown error
}

func (c *fakeChannel) ID() domain.ConnectionID { return c.id }

func (c *fakeChannel) Shutdown(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reasons = append(c.reasons, reason)
	return c.shutdown
}

func (c *fakeChannel) Reasons() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.reasons...)
}

// costlyDecode returns an original implementation that advances mock by the
// next cost on every call and returns result.
func costlyDecode(mock *clock.Mock, result bool, costs ...time.Duration) (domain.DecodeFunc, *int) {
	calls := 0
	return func(domain.Channel, []byte) bool {
		cost := costs[len(costs)-1]
		if calls < len(costs) {
			cost = costs[calls]
		}
		calls++
		mock.Add(cost)
		return result
	}, &calls
}

func newTestGovernor(fn domain.DecodeFunc, mock *clock.Mock) (*Governor, *Metrics) {
	metrics := NewMetrics()
	g := NewGovernor(GovernorConfig{
		Trampoline: &fakeTrampoline{fn: fn},
		Clock:      mock,
		Logger:     discardLogger(),
		Metrics:    metrics,
	})
	return g, metrics
}

func newMockClock() *clock.Mock {
	mock := clock.NewMock()
	mock.Set(epoch)
	return mock
}

// metricValue reads a counter or gauge from the governor's registry.
func metricValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if !labelsMatch(metric.GetLabel(), labels) {
				continue
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				return float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return 0
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, pair := range pairs {
		if want[pair.GetName()] != pair.GetValue() {
			return false
		}
	}
	return true
}

package netmon

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fieldline/internal/logging"
	"fieldline/internal/remote"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name    string
		online  bool
		metrics Metrics
		want    Quality
	}{
		{"offline", false, Metrics{EffectiveType: "4g"}, QualityUnusable},
		{"no metrics", true, Metrics{}, QualityFair},
		{"fast link", true, Metrics{EffectiveType: "4g", DownlinkMbps: 25, RTTms: 40}, QualityExcellent},
		{"slow rtt wins", true, Metrics{EffectiveType: "4g", DownlinkMbps: 25, RTTms: 800}, QualityPoor},
		{"3g", true, Metrics{EffectiveType: "3g"}, QualityFair},
		{"2g", true, Metrics{EffectiveType: "slow-2g"}, QualityPoor},
		{"low downlink", true, Metrics{DownlinkMbps: 0.2}, QualityPoor},
		{"moderate downlink", true, Metrics{DownlinkMbps: 3}, QualityGood},
		{"rtt unusable", true, Metrics{RTTms: 2500}, QualityUnusable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Classify(tc.online, tc.metrics))
		})
	}
}

func TestObserveEmitsTransitions(t *testing.T) {
	m := New(false, logging.Discard())
	events, cancel := m.Subscribe(4)
	defer cancel()

	m.Observe(false, Metrics{})
	require.Len(t, events, 0)

	m.Observe(true, Metrics{EffectiveType: "4g"})
	evt := <-events
	require.Equal(t, EventReconnect, evt.Type)
	require.True(t, evt.Online)
	require.Equal(t, QualityExcellent, evt.Quality)

	m.Observe(true, Metrics{EffectiveType: "4g"})
	require.Len(t, events, 0)

	m.Observe(true, Metrics{EffectiveType: "3g"})
	evt = <-events
	require.Equal(t, EventChange, evt.Type)
	require.Equal(t, QualityFair, evt.Quality)

	m.Observe(false, Metrics{})
	evt = <-events
	require.Equal(t, EventDisconnect, evt.Type)
	require.False(t, m.Online())
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	m := New(true, logging.Discard())
	_, cancel := m.Subscribe(1)
	defer cancel()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			m.Observe(i%2 == 0, Metrics{})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Observe blocked on a full subscriber")
	}
}

// hookHandler runs fn for every record, letting a test act in the middle of Observe.
type hookHandler struct{ fn func(msg string) }

func (h hookHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h hookHandler) Handle(_ context.Context, r slog.Record) error {
	h.fn(r.Message)
	return nil
}
func (h hookHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h hookHandler) WithGroup(string) slog.Handler      { return h }

func TestCancelDuringDispatch(t *testing.T) {
	var cancel func()
	m := New(true, slog.New(hookHandler{fn: func(msg string) {
		if msg == "network status" && cancel != nil {
			cancel()
		}
	}}))
	var events <-chan Event
	events, cancel = m.Subscribe(4)

	require.NotPanics(t, func() { m.Observe(false, Metrics{}) })
	evt, ok := <-events
	require.True(t, ok)
	require.Equal(t, EventDisconnect, evt.Type)
	_, ok = <-events
	require.False(t, ok)

	require.NotPanics(t, func() { m.Observe(true, Metrics{}) })
}

func TestConcurrentSubscribeCancelAndObserve(t *testing.T) {
	m := New(true, logging.Discard())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, cancel := m.Subscribe(1)
				cancel()
			}
		}()
	}
	for i := 0; i < 200; i++ {
		m.Observe(i%2 == 0, Metrics{})
	}
	wg.Wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Empty(t, m.subs)
}

func TestWatchStopsOnCancel(t *testing.T) {
	m := New(false, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan Event, 1)
	done := make(chan struct{})
	go func() {
		m.Watch(ctx, func(e Event) { got <- e })
		close(done)
	}()
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.subs) == 1
	}, time.Second, 5*time.Millisecond)
	m.Observe(true, Metrics{})
	require.Equal(t, EventReconnect, (<-got).Type)
	cancel()
	<-done
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func steppingClock(step time.Duration) func() time.Time {
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func TestProbeOnce(t *testing.T) {
	m := New(true, logging.Discard())
	var pingErr error
	p := &Prober{
		Target:  pingerFunc(func(ctx context.Context) error { return pingErr }),
		Monitor: m,
		Now:     steppingClock(50 * time.Millisecond),
	}

	st := p.ProbeOnce(context.Background())
	require.True(t, st.Online)
	require.InDelta(t, 50, st.Metrics.RTTms, 0.001)
	require.Equal(t, QualityExcellent, st.Quality)

	pingErr = remote.Wrap("ping", errors.New("dial tcp: connection refused"))
	st = p.ProbeOnce(context.Background())
	require.False(t, st.Online)
	require.Equal(t, QualityUnusable, st.Quality)

	// an error status still proves reachability
	pingErr = remote.NewStatusError("ping", 503, "maintenance")
	st = p.ProbeOnce(context.Background())
	require.True(t, st.Online)
}

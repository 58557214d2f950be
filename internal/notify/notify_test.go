package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
	"github.com/vladislavdragonenkov/invoicer/internal/metrics"
)

type recordingChannel struct {
	name  string
	err   error
	panic bool
	kinds []domain.EventKind

	mu     sync.Mutex
	events []domain.Event
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Notify(_ context.Context, event domain.Event) error {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
	if c.panic {
		panic("boom")
	}
	return c.err
}

func (c *recordingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

type filteredChannel struct {
	recordingChannel
	accept domain.EventKind
}

func (c *filteredChannel) Accepts(kind domain.EventKind) bool { return kind == c.accept }

type blockingChannel struct {
	release chan struct{}
	done    atomic.Bool
}

func (c *blockingChannel) Name() string { return "blocking" }

func (c *blockingChannel) Notify(ctx context.Context, _ domain.Event) error {
	select {
	case <-c.release:
	case <-ctx.Done():
	}
	c.done.Store(true)
	return nil
}

func notificationCount(t *testing.T, reg *prometheus.Registry, channel, result string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "invoicer_notifications_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := map[string]string{}
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			if labels["channel"] == channel && labels["result"] == result {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func newEvent(kind domain.EventKind) domain.Event {
	return domain.NewEvent(kind, domain.Order{OrderNumber: "1001"})
}

func TestFanout_ChannelFailuresAreIsolated(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPipelineMetricsWithRegisterer(reg)

	failing := &recordingChannel{name: "failing", err: errors.New("smtp down")}
	panicking := &recordingChannel{name: "panicking", panic: true}
	healthy := &recordingChannel{name: "healthy"}

	fanout := NewFanout(nil, m).Add(failing).Add(panicking).Add(healthy)
	fanout.Dispatch(context.Background(), newEvent(domain.EventNewOrder))

	assert.Equal(t, 1, failing.count())
	assert.Equal(t, 1, panicking.count())
	assert.Equal(t, 1, healthy.count())
	assert.Equal(t, []string{"failing", "panicking", "healthy"}, fanout.Channels())

	assert.Equal(t, float64(1), notificationCount(t, reg, "failing", "failed"))
	assert.Equal(t, float64(1), notificationCount(t, reg, "panicking", "failed"))
	assert.Equal(t, float64(1), notificationCount(t, reg, "healthy", "ok"))
}

func TestFanout_RespectsFilter(t *testing.T) {
	ch := &filteredChannel{recordingChannel: recordingChannel{name: "filtered"}, accept: domain.EventRenderFailed}
	fanout := NewFanout(nil, nil).Add(ch)

	fanout.Dispatch(context.Background(), newEvent(domain.EventNewOrder))
	fanout.Dispatch(context.Background(), newEvent(domain.EventRenderFailed))

	require.Equal(t, 1, ch.count())
	assert.Equal(t, domain.EventRenderFailed, ch.events[0].Kind)
}

func TestFanout_DetachedDoesNotBlock(t *testing.T) {
	blocking := &blockingChannel{release: make(chan struct{})}
	after := &recordingChannel{name: "after"}

	fanout := NewFanout(nil, nil).AddDetached(blocking).Add(after)

	done := make(chan struct{})
	go func() {
		fanout.Dispatch(context.Background(), newEvent(domain.EventNewOrder))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch waited for detached channel")
	}
	assert.Equal(t, 1, after.count())
	assert.False(t, blocking.done.Load())

	close(blocking.release)
	fanout.Wait()
	assert.True(t, blocking.done.Load())
}

func TestFanout_DetachedSurvivesCancelledContext(t *testing.T) {
	ch := &recordingChannel{name: "sound"}
	fanout := NewFanout(nil, nil).AddDetached(ch)

	ctx, cancel := context.WithCancel(context.Background())
	fanout.Dispatch(ctx, newEvent(domain.EventNewOrder))
	cancel()
	fanout.Wait()

	assert.Equal(t, 1, ch.count())
}

func TestSound_UsesCommandOrBeep(t *testing.T) {
	var ran []string
	beeps := 0

	s := NewSound("paplay /tmp/bell.oga")
	s.run = func(_ context.Context, name string, args ...string) error {
		ran = append([]string{name}, args...)
		return nil
	}
	s.beep = func() error { beeps++; return nil }

	require.NoError(t, s.Notify(context.Background(), newEvent(domain.EventNewOrder)))
	assert.Equal(t, []string{"paplay", "/tmp/bell.oga"}, ran)
	assert.Equal(t, 0, beeps)

	s = NewSound("")
	s.beep = func() error { beeps++; return nil }
	require.NoError(t, s.Notify(context.Background(), newEvent(domain.EventNewOrder)))
	assert.Equal(t, 1, beeps)

	assert.True(t, s.Accepts(domain.EventNewOrder))
	assert.False(t, s.Accepts(domain.EventRenderFailed))
}

func TestDesktop_Text(t *testing.T) {
	var title, message string
	d := NewDesktop("")
	d.notify = func(gotTitle, gotMessage string) error {
		title, message = gotTitle, gotMessage
		return nil
	}

	event := domain.NewEvent(domain.EventNewOrder, domain.Order{
		OrderNumber: "1001",
		Customer:    domain.Customer{Company: "ACME"},
	})
	require.NoError(t, d.Notify(context.Background(), event))
	assert.Equal(t, "Invoicer: new order", title)
	assert.Equal(t, "Order 1001 from ACME", message)

	assert.False(t, d.Accepts(domain.EventInvoiceReady))
	assert.True(t, d.Accepts(domain.EventRenderFailed))
}

type stubPublisher struct {
	events []domain.Event
	err    error
}

func (p *stubPublisher) Publish(_ context.Context, event domain.Event) error {
	p.events = append(p.events, event)
	return p.err
}

func TestKafka_ForwardsEvents(t *testing.T) {
	pub := &stubPublisher{}
	k := NewKafka(pub)

	require.NoError(t, k.Notify(context.Background(), newEvent(domain.EventInvoiceReady)))
	require.Len(t, pub.events, 1)

	pub.err = errors.New("broker down")
	require.Error(t, k.Notify(context.Background(), newEvent(domain.EventInvoiceReady)))
}

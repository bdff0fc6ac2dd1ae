package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/reqstream/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// fakeSource records every call the manager makes and lets tests push events
// into open channels.
type fakeSource struct {
	mu        sync.Mutex
	created   int
	removed   int
	channels  map[Key]*fakeChannel
	specs     map[Key]TableSpec
	createErr error
	activeErr error
}

type fakeChannel struct {
	key        Key
	deliver    func(ChangeEvent)
	subscribed bool
	removed    bool
}

func (c *fakeChannel) Subscribe() error {
	c.subscribed = true
	return nil
}

type failingChannel struct {
	*fakeChannel
	err error
}

func (c *failingChannel) Subscribe() error { return c.err }

func newFakeSource() *fakeSource {
	return &fakeSource{
		channels: make(map[Key]*fakeChannel),
		specs:    make(map[Key]TableSpec),
	}
}

func (s *fakeSource) Channel(key Key, spec TableSpec, deliver func(ChangeEvent)) (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created++
	ch := &fakeChannel{key: key, deliver: deliver}
	s.channels[key] = ch
	s.specs[key] = spec
	if s.activeErr != nil {
		return &failingChannel{fakeChannel: ch, err: s.activeErr}, nil
	}
	return ch, nil
}

func (s *fakeSource) RemoveChannel(ch Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed++
	switch c := ch.(type) {
	case *fakeChannel:
		c.removed = true
	case *failingChannel:
		c.removed = true
	}
	return nil
}

func (s *fakeSource) counts() (created, removed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created, s.removed
}

// emit delivers events on the current channel for key.
func (s *fakeSource) emit(t *testing.T, key Key, events ...ChangeEvent) {
	t.Helper()
	s.mu.Lock()
	ch, ok := s.channels[key]
	s.mu.Unlock()
	require.True(t, ok, "no channel for %s", key)
	for _, evt := range events {
		ch.deliver(evt)
	}
}

func (s *fakeSource) channel(key Key) *fakeChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[key]
}

func newTestManager(t *testing.T, src Source) (*Manager, *logging.TestLogger, *Metrics) {
	t.Helper()
	tl := logging.NewTestLogger()
	metrics := NewMetricsWithRegistry(prometheus.NewRegistry())
	return NewManager(src, tl.Logger, WithMetrics(metrics)), tl, metrics
}

func requirementEvent(typ EventType, id string) ChangeEvent {
	rec := Record{"id": id, "project_id": "P1", "title": "Login"}
	evt := ChangeEvent{EventType: typ, Schema: "public", Table: "requirements"}
	if typ == EventDelete {
		evt.Old = rec
	} else {
		evt.New = rec
	}
	return evt
}

func TestManager_SameKeyCreatesOneChannel(t *testing.T) {
	src := newFakeSource()
	mgr, _, _ := newTestManager(t, src)

	for i := 0; i < 5; i++ {
		mgr.SubscribeToRequirements("P1", func(ChangeEvent) {})
	}

	created, _ := src.counts()
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, mgr.Len())
	assert.Equal(t, 5, mgr.Listeners("requirements:P1"))
	assert.True(t, src.channel("requirements:P1").subscribed)
}

func TestManager_DisposerIsIdempotent(t *testing.T) {
	src := newFakeSource()
	mgr, _, _ := newTestManager(t, src)

	dispose := mgr.SubscribeToProjects(func(ChangeEvent) {})
	require.Equal(t, 1, mgr.Len())

	dispose()
	_, removed := src.counts()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, mgr.Len())

	dispose()
	_, removed = src.counts()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, mgr.Len())
}

func TestManager_UnsubscribeAll(t *testing.T) {
	src := newFakeSource()
	mgr, _, metrics := newTestManager(t, src)

	mgr.SubscribeToProjects(func(ChangeEvent) {})
	mgr.SubscribeToRequirements("P1", func(ChangeEvent) {})
	mgr.SubscribeToRequirements("P2", func(ChangeEvent) {})
	require.Equal(t, 3, mgr.Len())

	mgr.UnsubscribeAll()
	_, removed := src.counts()
	assert.Equal(t, 3, removed)
	assert.Equal(t, 0, mgr.Len())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ActiveChannels))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.Listeners))

	mgr.UnsubscribeAll()
	_, removed = src.counts()
	assert.Equal(t, 3, removed)
}

func TestManager_Unconfigured(t *testing.T) {
	mgr, tl, metrics := newTestManager(t, nil)
	assert.False(t, mgr.Configured())

	var calls int
	dispose := mgr.SubscribeToRequirements("P1", func(ChangeEvent) { calls++ })
	require.NotNil(t, dispose)

	assert.NotPanics(t, func() {
		dispose()
		dispose()
	})
	assert.Equal(t, 0, mgr.Len())
	assert.Zero(t, calls)
	tl.AssertLogged(t, zapcore.WarnLevel, "realtime source not configured")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NoopSubscriptions.WithLabelValues(reasonNotConfigured)))

	assert.NotPanics(t, mgr.UnsubscribeAll)
}

func TestManager_DeliversInSourceOrder(t *testing.T) {
	src := newFakeSource()
	mgr, _, metrics := newTestManager(t, src)

	var got []ChangeEvent
	mgr.SubscribeToRequirements("P1", func(evt ChangeEvent) { got = append(got, evt) })

	src.emit(t, "requirements:P1",
		requirementEvent(EventInsert, "R1"),
		requirementEvent(EventUpdate, "R1"),
		requirementEvent(EventDelete, "R1"),
	)

	require.Len(t, got, 3)
	assert.Equal(t, []EventType{EventInsert, EventUpdate, EventDelete},
		[]EventType{got[0].EventType, got[1].EventType, got[2].EventType})
	for _, evt := range got {
		assert.Equal(t, "R1", evt.RecordID())
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(
		metrics.EventsDelivered.WithLabelValues(string(KindRequirementsByProject), "delete")))
}

func TestManager_TeardownThenFreshChannel(t *testing.T) {
	src := newFakeSource()
	mgr, _, _ := newTestManager(t, src)

	mgr.SubscribeToProjects(func(ChangeEvent) {})
	mgr.SubscribeToRequirements("P1", func(ChangeEvent) {})
	first := src.channel("projects")

	mgr.UnsubscribeAll()
	assert.Equal(t, 0, mgr.Len())
	assert.True(t, first.removed)
	assert.True(t, src.channel("requirements:P1").removed)

	mgr.SubscribeToProjects(func(ChangeEvent) {})
	created, _ := src.counts()
	assert.Equal(t, 3, created)
	second := src.channel("projects")
	assert.NotSame(t, first, second)
	assert.False(t, second.removed)
	assert.Equal(t, []Key{"projects"}, mgr.Keys())
}

func TestManager_FanOut(t *testing.T) {
	src := newFakeSource()
	mgr, tl, _ := newTestManager(t, src)

	var a, b []string
	disposeA := mgr.SubscribeToRequirements("P1", func(evt ChangeEvent) { a = append(a, evt.RecordID()) })
	disposeB := mgr.SubscribeToRequirements("P1", func(evt ChangeEvent) { b = append(b, evt.RecordID()) })

	src.emit(t, "requirements:P1", requirementEvent(EventInsert, "R1"))
	disposeA()
	src.emit(t, "requirements:P1", requirementEvent(EventInsert, "R2"))

	assert.Equal(t, []string{"R1"}, a)
	assert.Equal(t, []string{"R1", "R2"}, b)

	_, removed := src.counts()
	assert.Equal(t, 0, removed, "channel stays open while a listener remains")
	assert.Equal(t, 1, mgr.Listeners("requirements:P1"))
	assert.Equal(t, uint64(3), mgr.Delivered())

	dispatched := tl.FilterMessage("change event dispatched").All()
	require.Len(t, dispatched, 2)
	assert.Equal(t, logging.TraceLevel, dispatched[0].Level)
	assert.Equal(t, int64(2), dispatched[0].ContextMap()["listeners"])
	assert.Equal(t, "R2", dispatched[1].ContextMap()["record_id"])

	disposeB()
	_, removed = src.counts()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, mgr.Len())
}

func TestManager_StaleDisposerLeavesFreshEntry(t *testing.T) {
	src := newFakeSource()
	mgr, _, _ := newTestManager(t, src)

	stale := mgr.SubscribeToProjects(func(ChangeEvent) {})
	mgr.UnsubscribeAll()

	var got int
	mgr.SubscribeToProjects(func(ChangeEvent) { got++ })
	stale()

	assert.Equal(t, 1, mgr.Len())
	_, removed := src.counts()
	assert.Equal(t, 1, removed)

	src.emit(t, "projects", ChangeEvent{EventType: EventInsert, Table: "projects", New: Record{"id": 7}})
	assert.Equal(t, 1, got)
}

func TestManager_Unsubscribe(t *testing.T) {
	src := newFakeSource()
	mgr, _, _ := newTestManager(t, src)

	var calls int
	dispose := mgr.SubscribeToRequirements("P1", func(ChangeEvent) { calls++ })
	mgr.SubscribeToRequirements("P1", func(ChangeEvent) { calls++ })
	ch := src.channel("requirements:P1")

	assert.True(t, mgr.Unsubscribe("requirements:P1"))
	assert.False(t, mgr.Unsubscribe("requirements:P1"))
	assert.Equal(t, 0, mgr.Len())

	ch.deliver(requirementEvent(EventInsert, "R9"))
	assert.Zero(t, calls)

	dispose()
	_, removed := src.counts()
	assert.Equal(t, 1, removed)
}

func TestManager_InvalidSubscriptions(t *testing.T) {
	tests := []struct {
		name  string
		kind  Kind
		scope string
		fn    Handler
	}{
		{"unknown kind", Kind("tasks"), "", func(ChangeEvent) {}},
		{"missing scope", KindRequirementsByProject, "", func(ChangeEvent) {}},
		{"unexpected scope", KindProjects, "P1", func(ChangeEvent) {}},
		{"bad scope", KindRequirementsByProject, "P1,P2", func(ChangeEvent) {}},
		{"nil handler", KindProjects, "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource()
			mgr, tl, _ := newTestManager(t, src)

			dispose := mgr.Subscribe(tt.kind, tt.scope, tt.fn)
			assert.NotPanics(t, func() { dispose() })

			created, _ := src.counts()
			assert.Zero(t, created)
			assert.Equal(t, 1, tl.Count(zapcore.WarnLevel, "realtime"))
		})
	}
}

func TestManager_ChannelErrors(t *testing.T) {
	t.Run("create fails", func(t *testing.T) {
		src := newFakeSource()
		src.createErr = errors.New("refused")
		mgr, tl, _ := newTestManager(t, src)

		dispose := mgr.SubscribeToProjects(func(ChangeEvent) {})
		dispose()

		assert.Equal(t, 0, mgr.Len())
		tl.AssertLogged(t, zapcore.WarnLevel, "realtime channel unavailable")
	})

	t.Run("activate fails", func(t *testing.T) {
		src := newFakeSource()
		src.activeErr = errors.New("timeout")
		mgr, _, _ := newTestManager(t, src)

		mgr.SubscribeToProjects(func(ChangeEvent) {})

		created, removed := src.counts()
		assert.Equal(t, 1, created)
		assert.Equal(t, 1, removed, "half-open channel is released")
		assert.Equal(t, 0, mgr.Len())
	})
}

func TestManager_ListenerPanicIsRecovered(t *testing.T) {
	src := newFakeSource()
	mgr, tl, metrics := newTestManager(t, src)

	var after int
	mgr.SubscribeToProjects(func(ChangeEvent) { panic("boom") })
	mgr.SubscribeToProjects(func(ChangeEvent) { after++ })

	assert.NotPanics(t, func() {
		src.emit(t, "projects", ChangeEvent{EventType: EventUpdate, Table: "projects", New: Record{"id": "X"}})
	})
	assert.Equal(t, 1, after)
	tl.AssertLogged(t, zapcore.ErrorLevel, "realtime listener panicked")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ListenerPanics))
}

func TestManager_DisposeFromListener(t *testing.T) {
	src := newFakeSource()
	mgr, _, _ := newTestManager(t, src)

	var calls int
	var dispose Disposer
	dispose = mgr.SubscribeToProjects(func(ChangeEvent) {
		calls++
		dispose()
	})

	evt := ChangeEvent{EventType: EventInsert, Table: "projects", New: Record{"id": 1}}
	ch := src.channel("projects")
	ch.deliver(evt)
	ch.deliver(evt)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, mgr.Len())
}

func TestManager_ConcurrentSubscribe(t *testing.T) {
	src := newFakeSource()
	mgr, _, _ := newTestManager(t, src)

	var wg sync.WaitGroup
	disposers := make([]Disposer, 50)
	for i := range disposers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			disposers[i] = mgr.SubscribeToRequirements("P1", func(ChangeEvent) {})
		}(i)
	}
	wg.Wait()

	created, _ := src.counts()
	assert.Equal(t, 1, created)
	assert.Equal(t, 50, mgr.Listeners("requirements:P1"))

	for _, d := range disposers {
		wg.Add(1)
		go func(d Disposer) {
			defer wg.Done()
			d()
		}(d)
	}
	wg.Wait()

	_, removed := src.counts()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, mgr.Len())
}

func TestManager_TableSpecs(t *testing.T) {
	src := newFakeSource()
	tl := logging.NewTestLogger()
	mgr := NewManager(src, tl.Logger,
		WithSchema("app"),
		WithMetrics(NewMetricsWithRegistry(prometheus.NewRegistry())))

	mgr.SubscribeToProjects(func(ChangeEvent) {})
	mgr.SubscribeToRequirements("P1", func(ChangeEvent) {})

	assert.Equal(t, TableSpec{Schema: "app", Table: "projects"}, src.specs["projects"])
	assert.Equal(t, TableSpec{Schema: "app", Table: "requirements", Filter: "project_id=eq.P1"},
		src.specs["requirements:P1"])
}

func TestManager_Stream(t *testing.T) {
	src := newFakeSource()
	mgr, _, _ := newTestManager(t, src)
	ctx := context.Background()

	events, dispose := mgr.Stream(ctx, KindRequirementsByProject, "P1", 4)
	src.emit(t, "requirements:P1",
		requirementEvent(EventInsert, "R1"),
		requirementEvent(EventUpdate, "R1"),
	)

	assert.Equal(t, EventInsert, (<-events).EventType)
	assert.Equal(t, EventUpdate, (<-events).EventType)

	dispose()
	_, ok := <-events
	assert.False(t, ok)
	assert.Equal(t, 0, mgr.Len())
	assert.NotPanics(t, func() { dispose() })
}

func TestManager_StreamClosesOnContext(t *testing.T) {
	src := newFakeSource()
	mgr, _, _ := newTestManager(t, src)
	ctx, cancel := context.WithCancel(context.Background())

	events, _ := mgr.Stream(ctx, KindProjects, "", 0)
	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after cancel")
	}
	assert.Eventually(t, func() bool { return mgr.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestManager_StreamClosesOnTeardown(t *testing.T) {
	src := newFakeSource()
	mgr, _, _ := newTestManager(t, src)

	events, _ := mgr.Stream(context.Background(), KindProjects, "", 0)
	mgr.UnsubscribeAll()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after teardown")
	}
}

func TestManager_StreamUnblocksPendingSend(t *testing.T) {
	src := newFakeSource()
	mgr, _, _ := newTestManager(t, src)

	_, dispose := mgr.Stream(context.Background(), KindProjects, "", 0)

	sent := make(chan struct{})
	go func() {
		src.emit(t, "projects", ChangeEvent{EventType: EventInsert, Table: "projects", New: Record{"id": 1}})
		close(sent)
	}()

	dispose()
	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery stayed blocked after dispose")
	}
}

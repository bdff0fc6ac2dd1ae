package realtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/fyrsmithlabs/reqstream/internal/logging"
	"go.uber.org/zap"
)

// Manager is the entry point through which consumers obtain live change
// feeds. It keeps one channel per Key and fans events out to every
// listener attached to that key.
type Manager struct {
	source  Source
	logger  *logging.Logger
	metrics *Metrics
	schema  string

	mu       sync.Mutex
	channels map[Key]*entry

	delivered atomic.Uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithSchema sets the database schema used in table specs.
func WithSchema(schema string) Option {
	return func(m *Manager) {
		if schema != "" {
			m.schema = schema
		}
	}
}

// WithMetrics overrides the process-wide metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// NewManager creates a Manager over source. A nil source leaves the manager
// unconfigured: every subscription logs a warning and returns a no-op
// disposer.
func NewManager(source Source, logger *logging.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		source:   source,
		logger:   logger.Named("realtime"),
		schema:   DefaultSchema,
		channels: make(map[Key]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = NewMetrics()
	}
	return m
}

// entry is the registry value for one key.
type entry struct {
	key     Key
	channel Channel

	mu        sync.Mutex
	listeners []*listener
}

type listener struct {
	fn      Handler
	evicted func() // called when teardown drops the listener
	active  atomic.Bool
}

func (e *entry) add(l *listener) {
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()
}

// remove detaches l and returns the number of listeners left.
func (e *entry) remove(l *listener) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, cur := range e.listeners {
		if cur == l {
			e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
			break
		}
	}
	return len(e.listeners)
}

func (e *entry) snapshot() []*listener {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*listener(nil), e.listeners...)
}

// Configured reports whether a change-event source is available.
func (m *Manager) Configured() bool {
	return m.source != nil
}

// Subscribe attaches fn to the channel for (kind, scope), opening the
// channel if this is the first listener for its key. Events reach fn in the
// order the source delivers them.
//
// Subscribe never fails: invalid arguments, a missing source or a channel
// that cannot be opened are logged and yield a no-op disposer.
func (m *Manager) Subscribe(kind Kind, scope string, fn Handler) Disposer {
	return m.subscribe(kind, scope, fn, nil)
}

// SubscribeToRequirements watches the requirements of one project.
func (m *Manager) SubscribeToRequirements(projectID string, fn Handler) Disposer {
	return m.Subscribe(KindRequirementsByProject, projectID, fn)
}

// SubscribeToProjects watches every project.
func (m *Manager) SubscribeToProjects(fn Handler) Disposer {
	return m.Subscribe(KindProjects, "", fn)
}

func (m *Manager) subscribe(kind Kind, scope string, fn Handler, evicted func()) Disposer {
	ctx := context.Background()

	if fn == nil {
		m.logger.Warn(ctx, "realtime subscribe called without a handler", zap.String("kind", string(kind)))
		m.metrics.NoopSubscriptions.WithLabelValues(reasonInvalid).Inc()
		return noopDisposer
	}

	key, err := KeyFor(kind, scope)
	if err != nil {
		m.logger.Warn(ctx, "invalid realtime subscription", zap.String("kind", string(kind)), zap.Error(err))
		m.metrics.NoopSubscriptions.WithLabelValues(reasonInvalid).Inc()
		return noopDisposer
	}

	if m.source == nil {
		m.logger.Warn(ctx, "realtime source not configured; subscription is a no-op",
			zap.String("channel", string(key)))
		m.metrics.NoopSubscriptions.WithLabelValues(reasonNotConfigured).Inc()
		return noopDisposer
	}

	l := &listener{fn: fn, evicted: evicted}
	l.active.Store(true)

	m.mu.Lock()
	e, ok := m.channels[key]
	if !ok {
		e, err = m.open(key, kind, scope)
		if err != nil {
			m.mu.Unlock()
			m.logger.Warn(ctx, "realtime channel unavailable; subscription is a no-op",
				zap.String("channel", string(key)), zap.Error(err))
			m.metrics.NoopSubscriptions.WithLabelValues(reasonChannelError).Inc()
			return noopDisposer
		}
		m.channels[key] = e
	}
	e.add(l)
	m.metrics.Listeners.Inc()
	m.mu.Unlock()

	if !ok {
		m.logger.Debug(ctx, "realtime channel opened", zap.String("channel", string(key)))
	}

	return func() { m.detach(e, l) }
}

// open creates and activates a channel. Called with m.mu held.
func (m *Manager) open(key Key, kind Kind, scope string) (*entry, error) {
	e := &entry{key: key}
	spec := SpecFor(m.schema, kind, scope)

	ch, err := m.source.Channel(key, spec, func(evt ChangeEvent) { m.dispatch(e, evt) })
	if err != nil {
		return nil, fmt.Errorf("create channel: %w", err)
	}
	if err := ch.Subscribe(); err != nil {
		if rerr := m.source.RemoveChannel(ch); rerr != nil {
			m.logger.Warn(context.Background(), "failed to release channel",
				zap.String("channel", string(key)), zap.Error(rerr))
		}
		return nil, fmt.Errorf("activate channel: %w", err)
	}
	e.channel = ch

	m.metrics.ChannelsOpened.WithLabelValues(string(kind)).Inc()
	m.metrics.ActiveChannels.Inc()
	return e, nil
}

// detach removes one listener, closing the channel after the last one.
func (m *Manager) detach(e *entry, l *listener) {
	if !l.active.CompareAndSwap(true, false) {
		return
	}
	m.metrics.Listeners.Dec()

	m.mu.Lock()
	if m.channels[e.key] != e {
		m.mu.Unlock()
		return
	}
	if e.remove(l) > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.channels, e.key)
	m.mu.Unlock()

	m.release(e)
}

// release tears down an entry that is no longer in the registry.
func (m *Manager) release(e *entry) {
	if err := m.source.RemoveChannel(e.channel); err != nil {
		m.logger.Warn(context.Background(), "failed to remove channel",
			zap.String("channel", string(e.key)), zap.Error(err))
	}
	m.metrics.ChannelsClosed.WithLabelValues(string(e.key.Kind())).Inc()
	m.metrics.ActiveChannels.Dec()
	m.logger.Debug(context.Background(), "realtime channel closed", zap.String("channel", string(e.key)))
}

// evict deactivates every listener of a torn-down entry and notifies the
// ones that asked for it.
func (m *Manager) evict(e *entry) {
	for _, l := range e.snapshot() {
		if l.active.CompareAndSwap(true, false) {
			m.metrics.Listeners.Dec()
			if l.evicted != nil {
				l.evicted()
			}
		}
	}
}

// dispatch hands evt to every active listener of e.
func (m *Manager) dispatch(e *entry, evt ChangeEvent) {
	delivered := 0
	for _, l := range e.snapshot() {
		if !l.active.Load() {
			continue
		}
		m.invoke(e, l, evt)
		delivered++
	}
	if delivered > 0 {
		m.delivered.Add(uint64(delivered))
		m.metrics.EventsDelivered.
			WithLabelValues(string(e.key.Kind()), evt.EventType.Subject()).
			Add(float64(delivered))
	}
	m.logger.Trace(context.Background(), "change event dispatched",
		zap.String("channel", string(e.key)),
		zap.String("event", evt.EventType.Subject()),
		zap.String("record_id", evt.RecordID()),
		zap.Int("listeners", delivered))
}

func (m *Manager) invoke(e *entry, l *listener, evt ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.metrics.ListenerPanics.Inc()
			m.logger.Error(context.Background(), "realtime listener panicked",
				zap.String("channel", string(e.key)),
				zap.String("record_id", evt.RecordID()),
				zap.Any("panic", r))
		}
	}()
	l.fn(evt)
}

// Unsubscribe closes the channel for key regardless of how many listeners
// are attached. It reports whether the key was present.
func (m *Manager) Unsubscribe(key Key) bool {
	m.mu.Lock()
	e, ok := m.channels[key]
	if ok {
		delete(m.channels, key)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	m.evict(e)
	m.release(e)
	return true
}

// UnsubscribeAll closes every channel and empties the registry. Disposers
// handed out earlier become no-ops.
func (m *Manager) UnsubscribeAll() {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.channels))
	for _, e := range m.channels {
		entries = append(entries, e)
	}
	m.channels = make(map[Key]*entry)
	m.mu.Unlock()

	if len(entries) == 0 {
		return
	}
	for _, e := range entries {
		m.evict(e)
		m.release(e)
	}
	m.logger.Info(context.Background(), "realtime channels closed", zap.Int("count", len(entries)))
}

// Keys returns the keys with an open channel, sorted.
func (m *Manager) Keys() []Key {
	m.mu.Lock()
	keys := make([]Key, 0, len(m.channels))
	for k := range m.channels {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Delivered returns how many listener invocations have happened since the
// manager was created.
func (m *Manager) Delivered() uint64 {
	return m.delivered.Load()
}

// Len returns the number of open channels.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}

// Listeners returns how many listeners are attached to key.
func (m *Manager) Listeners(key Key) int {
	m.mu.Lock()
	e, ok := m.channels[key]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

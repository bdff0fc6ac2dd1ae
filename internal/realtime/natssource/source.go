package natssource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/reqstream/internal/logging"
	"github.com/fyrsmithlabs/reqstream/internal/realtime"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix is the first subject token of every change event.
const DefaultSubjectPrefix = "changes"

// ErrInvalidChannel is returned when RemoveChannel is given a channel this
// source did not create.
var ErrInvalidChannel = errors.New("channel was not created by this source")

// Subject returns the subject a change of the given type is published on:
// {prefix}.{schema}.{table}.{insert|update|delete}.
func Subject(prefix, schema, table string, evt realtime.EventType) string {
	return strings.Join([]string{prefix, schema, table, evt.Subject()}, ".")
}

// Wildcard returns the subject matching every change on a table.
func Wildcard(prefix, schema, table string) string {
	return strings.Join([]string{prefix, schema, table, "*"}, ".")
}

func validToken(s string) bool {
	return s != "" && !strings.ContainsAny(s, ".*> \t\r\n")
}

// Source is a realtime.Source backed by NATS core subscriptions.
type Source struct {
	nc           *nats.Conn
	logger       *logging.Logger
	prefix       string
	flushTimeout time.Duration

	mu       sync.Mutex
	channels map[*channel]struct{}
}

// Option configures a Source or Publisher.
type Option func(*options)

type options struct {
	prefix       string
	flushTimeout time.Duration
}

// WithSubjectPrefix sets the first subject token.
func WithSubjectPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithFlushTimeout bounds how long Subscribe waits for the server to
// acknowledge a new subscription.
func WithFlushTimeout(d time.Duration) Option {
	return func(o *options) {
		o.flushTimeout = d
	}
}

func buildOptions(opts []Option) options {
	o := options{prefix: DefaultSubjectPrefix, flushTimeout: 2 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New creates a Source on an established connection.
func New(nc *nats.Conn, logger *logging.Logger, opts ...Option) *Source {
	if logger == nil {
		logger = logging.NewNop()
	}
	o := buildOptions(opts)
	return &Source{
		nc:           nc,
		logger:       logger.Named("nats"),
		prefix:       o.prefix,
		flushTimeout: o.flushTimeout,
		channels:     make(map[*channel]struct{}),
	}
}

// Channel prepares a subscription for spec. No messages flow until the
// channel's Subscribe is called.
func (s *Source) Channel(key realtime.Key, spec realtime.TableSpec, deliver func(realtime.ChangeEvent)) (realtime.Channel, error) {
	if deliver == nil {
		return nil, errors.New("deliver func is required")
	}
	schema := spec.Schema
	if schema == "" {
		schema = realtime.DefaultSchema
	}
	if !validToken(schema) || !validToken(spec.Table) {
		return nil, fmt.Errorf("invalid table spec %s.%s", schema, spec.Table)
	}
	filter, err := realtime.ParseFilter(spec.Filter)
	if err != nil {
		return nil, err
	}

	c := &channel{
		src:     s,
		key:     key,
		subject: Wildcard(s.prefix, schema, spec.Table),
		schema:  schema,
		table:   spec.Table,
		filter:  filter,
		deliver: deliver,
	}

	s.mu.Lock()
	s.channels[c] = struct{}{}
	s.mu.Unlock()
	return c, nil
}

// RemoveChannel unsubscribes ch. Removing a channel twice is a no-op.
func (s *Source) RemoveChannel(ch realtime.Channel) error {
	c, ok := ch.(*channel)
	if !ok || c.src != s {
		return ErrInvalidChannel
	}

	s.mu.Lock()
	_, present := s.channels[c]
	delete(s.channels, c)
	s.mu.Unlock()
	if !present {
		return nil
	}
	return c.close()
}

// Channels returns the number of channels that have not been removed.
func (s *Source) Channels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels)
}

// channel is one table subscription.
type channel struct {
	src     *Source
	key     realtime.Key
	subject string
	schema  string
	table   string
	filter  realtime.Filter
	deliver func(realtime.ChangeEvent)

	mu  sync.Mutex
	sub *nats.Subscription
}

// Subscribe activates delivery. NATS runs the handler on one goroutine per
// subscription, so events arrive in publish order.
func (c *channel) Subscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		return nil
	}

	sub, err := c.src.nc.Subscribe(c.subject, c.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.subject, err)
	}
	c.sub = sub

	if c.src.flushTimeout > 0 && c.src.nc.IsConnected() {
		if err := c.src.nc.FlushTimeout(c.src.flushTimeout); err != nil {
			c.src.logger.Debug(context.Background(), "subscription not yet acknowledged",
				zap.String("subject", c.subject), zap.Error(err))
		}
	}

	c.src.logger.Debug(context.Background(), "channel subscribed",
		zap.String("channel", string(c.key)),
		zap.String("subject", c.subject),
		zap.String("filter", c.filter.String()))
	return nil
}

func (c *channel) close() error {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub == nil {
		return nil
	}
	err := sub.Unsubscribe()
	if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
		return nil
	}
	return err
}

func (c *channel) handle(msg *nats.Msg) {
	evt, err := decode(msg)
	if err != nil {
		c.src.logger.Warn(context.Background(), "dropping malformed change event",
			zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	if evt.Schema != c.schema || evt.Table != c.table {
		return
	}
	if !c.filter.Match(evt) {
		return
	}
	c.deliver(evt)
}

// decode parses a change event, filling routing fields missing from the
// payload from the subject.
func decode(msg *nats.Msg) (realtime.ChangeEvent, error) {
	var evt realtime.ChangeEvent
	dec := json.NewDecoder(bytes.NewReader(msg.Data))
	dec.UseNumber()
	if err := dec.Decode(&evt); err != nil {
		return evt, fmt.Errorf("decode change event: %w", err)
	}

	tokens := strings.Split(msg.Subject, ".")
	if len(tokens) == 4 {
		if evt.Schema == "" {
			evt.Schema = tokens[1]
		}
		if evt.Table == "" {
			evt.Table = tokens[2]
		}
		if evt.EventType == "" {
			t, err := realtime.ParseEventType(tokens[3])
			if err != nil {
				return evt, err
			}
			evt.EventType = t
		}
	}

	if !evt.EventType.Valid() {
		return evt, fmt.Errorf("invalid event type %q", evt.EventType)
	}
	return evt, nil
}

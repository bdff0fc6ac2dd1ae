package natssource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/reqstream/internal/realtime"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// EventIDHeader carries a unique id for every published change event.
const EventIDHeader = "Reqstream-Event-Id"

const defaultFlushTimeout = 5 * time.Second

// ErrInvalidEvent is returned by Publish for events that cannot be published.
var ErrInvalidEvent = errors.New("invalid change event")

// Publisher publishes change events on the subjects a Source listens to.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	now    func() time.Time
}

// NewPublisher creates a Publisher on an established connection.
func NewPublisher(nc *nats.Conn, opts ...Option) *Publisher {
	o := buildOptions(opts)
	return &Publisher{nc: nc, prefix: o.prefix, now: time.Now}
}

// Publish validates evt, fills in the schema and commit timestamp when
// missing and publishes it. It returns the generated event id once the
// broker has acknowledged the message.
func (p *Publisher) Publish(ctx context.Context, evt realtime.ChangeEvent) (string, error) {
	if err := evt.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if evt.Schema == "" {
		evt.Schema = realtime.DefaultSchema
	}
	if !validToken(evt.Schema) || !validToken(evt.Table) {
		return "", fmt.Errorf("%w: bad subject token in %s.%s", ErrInvalidEvent, evt.Schema, evt.Table)
	}
	if evt.CommitTimestamp == "" {
		evt.CommitTimestamp = p.now().UTC().Format(time.RFC3339Nano)
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return "", fmt.Errorf("encode change event: %w", err)
	}

	id := uuid.NewString()
	msg := nats.NewMsg(Subject(p.prefix, evt.Schema, evt.Table, evt.EventType))
	msg.Header.Set(EventIDHeader, id)
	msg.Data = data

	if err := p.nc.PublishMsg(msg); err != nil {
		return "", fmt.Errorf("publish change event: %w", err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultFlushTimeout)
		defer cancel()
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return "", fmt.Errorf("flush change event: %w", err)
	}
	return id, nil
}

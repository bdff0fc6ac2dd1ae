// Package livesync keeps a project's requirement list current by re-querying
// the backend whenever a requirement change event arrives.
package livesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/reqstream/internal/backend"
	"github.com/fyrsmithlabs/reqstream/internal/logging"
	"github.com/fyrsmithlabs/reqstream/internal/realtime"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Lister fetches a project's requirements.
type Lister interface {
	ListRequirements(ctx context.Context, f backend.RequirementFilter) ([]backend.Requirement, error)
}

// Subscriber registers for requirement change events of one project.
type Subscriber interface {
	SubscribeToRequirements(projectID string, fn realtime.Handler) realtime.Disposer
}

// Snapshot is one refreshed view of a project's requirements.
type Snapshot struct {
	ProjectID    string
	Requirements []backend.Requirement
	// Trigger is the newest event folded into this refresh; nil for the
	// initial fetch.
	Trigger   *realtime.ChangeEvent
	Coalesced int
	FetchedAt time.Time
	Seq       int
}

// Sink receives snapshots. Update is called from the Run goroutine only.
type Sink interface {
	Update(ctx context.Context, snap Snapshot)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, snap Snapshot)

// Update calls f.
func (f SinkFunc) Update(ctx context.Context, snap Snapshot) { f(ctx, snap) }

// Syncer refreshes one project.
type Syncer struct {
	projectID string
	sub       Subscriber
	lister    Lister
	sink      Sink
	logger    *logging.Logger
	limiter   *rate.Limiter
	now       func() time.Time

	mu      sync.Mutex
	pending *realtime.ChangeEvent
	count   int
	signal  chan struct{}
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithRate limits refreshes to one per interval with the given burst.
func WithRate(interval time.Duration, burst int) Option {
	return func(s *Syncer) {
		if burst < 1 {
			burst = 1
		}
		limit := rate.Inf
		if interval > 0 {
			limit = rate.Every(interval)
		}
		s.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Syncer) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Syncer for projectID.
func New(projectID string, sub Subscriber, lister Lister, sink Sink, opts ...Option) (*Syncer, error) {
	if projectID == "" {
		return nil, errors.New("project id is required")
	}
	if sub == nil || lister == nil || sink == nil {
		return nil, errors.New("subscriber, lister and sink are required")
	}
	s := &Syncer{
		projectID: projectID,
		sub:       sub,
		lister:    lister,
		sink:      sink,
		logger:    logging.NewNop(),
		limiter:   rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		now:       time.Now,
		signal:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("livesync")
	return s, nil
}

// notify records evt as pending and wakes Run. It never blocks the source.
func (s *Syncer) notify(evt realtime.ChangeEvent) {
	s.mu.Lock()
	s.pending = &evt
	s.count++
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Syncer) take() (*realtime.ChangeEvent, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evt, n := s.pending, s.count
	s.pending, s.count = nil, 0
	return evt, n
}

// Run subscribes, performs the initial fetch and then refreshes on every
// change until ctx is done. It returns the initial fetch error, or nil once
// ctx ends.
func (s *Syncer) Run(ctx context.Context) error {
	ctx = logging.WithProjectID(ctx, s.projectID)

	dispose := s.sub.SubscribeToRequirements(s.projectID, s.notify)
	defer dispose()

	seq := 0
	if err := s.refresh(ctx, nil, 0, &seq); err != nil {
		return fmt.Errorf("initial fetch for project %s: %w", s.projectID, err)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug(ctx, "live sync stopped", zap.Int("refreshes", seq))
			return nil
		case <-s.signal:
		}

		if err := s.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn(ctx, "rate limiter wait failed", zap.Error(err))
			continue
		}

		evt, n := s.take()
		if evt == nil {
			continue
		}
		if err := s.refresh(ctx, evt, n, &seq); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn(ctx, "requirement refresh failed",
				zap.String("event", string(evt.EventType)),
				zap.String("record_id", evt.RecordID()),
				zap.Error(err))
		}
	}
}

func (s *Syncer) refresh(ctx context.Context, trigger *realtime.ChangeEvent, coalesced int, seq *int) error {
	reqs, err := s.lister.ListRequirements(ctx, backend.RequirementFilter{ProjectID: s.projectID})
	if err != nil {
		return err
	}
	*seq++
	s.sink.Update(ctx, Snapshot{
		ProjectID:    s.projectID,
		Requirements: reqs,
		Trigger:      trigger,
		Coalesced:    coalesced,
		FetchedAt:    s.now(),
		Seq:          *seq,
	})
	s.logger.Debug(ctx, "requirements refreshed",
		zap.Int("count", len(reqs)),
		zap.Int("coalesced", coalesced),
		zap.Int("seq", *seq))
	return nil
}

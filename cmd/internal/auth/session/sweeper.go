package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule parses a sweep schedule: a cron expression with an optional
// leading seconds field, or a descriptor such as "@hourly" or "@every 10m".
func ParseSchedule(spec string) (cron.Schedule, error) {
	return scheduleParser.Parse(spec)
}

// Sweeper periodically deletes expired sessions and ledger entries.
//
// Ticks never overlap: a tick still running when the next one fires causes
// that one to be skipped. Failures are logged and left for the next tick.
type Sweeper struct {
	store   Store
	timeout time.Duration
	metrics *Metrics
	log     *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time

	schedule cron.Schedule

	mu   sync.Mutex
	cron *cron.Cron
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

func WithSweeperMetrics(mx *Metrics) SweeperOption { return func(s *Sweeper) { s.metrics = mx } }

func WithSweeperLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.log = l
		}
	}
}

func WithSweeperTracerProvider(tp trace.TracerProvider) SweeperOption {
	return func(s *Sweeper) {
		if tp != nil {
			s.tracer = tp.Tracer("fms/session")
		}
	}
}

func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSweeper builds a Sweeper from cfg.SweepSchedule and cfg.SweepTimeout.
func NewSweeper(cfg Config, store Store, opts ...SweeperOption) (*Sweeper, error) {
	if store == nil {
		return nil, configErr("sweeper needs a store")
	}
	sched, err := ParseSchedule(cfg.SweepSchedule)
	if err != nil {
		return nil, configErr("FMS_SESSION_SWEEP_CRON: %v", err)
	}
	if cfg.SweepTimeout <= 0 {
		return nil, configErr("FMS_SESSION_SWEEP_TIMEOUT must be positive")
	}

	s := &Sweeper{
		store:    store,
		timeout:  cfg.SweepTimeout,
		schedule: sched,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:   otel.Tracer("fms/session"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start schedules ticks in the background. Calling Start twice is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return
	}

	logger := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(s.schedule, cron.FuncJob(s.tick))
	c.Start()
	s.cron = c
	s.log.Info("session.sweep.started")
}

// Stop halts scheduling and waits for an in-flight tick, or until ctx is done.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce deletes everything that expired strictly before now.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	ctx, span := s.tracer.Start(ctx, "session.Sweep")
	defer span.End()

	start := time.Now()
	res, err := s.store.DeleteExpiredBefore(ctx, s.now())
	s.metrics.sweep(res, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sweep failed")
		return SweepResult{}, fmt.Errorf("session: sweep: %w", err)
	}
	span.SetAttributes(
		attribute.Int64("fms.sweep.sessions", res.Sessions),
		attribute.Int64("fms.sweep.retired", res.Retired),
	)
	return res, nil
}

func (s *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	res, err := s.RunOnce(ctx)
	if err != nil {
		s.log.Error("session.sweep.failed", "err", err)
		return
	}
	s.log.Info("session.sweep.done", "sessions", res.Sessions, "retired", res.Retired)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron."+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron."+msg, append(keysAndValues, "err", err)...)
}

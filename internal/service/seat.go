package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/iliyamo/queued-reservation/internal/queue"
	"github.com/iliyamo/queued-reservation/internal/store"
)

// JobReserveSeat is the job type that decrements the seat counter.
const JobReserveSeat = "reserve_seat"

// SeatStatus is the outcome reported to a caller of ReserveSeat.
type SeatStatus string

const (
	SeatInProcess SeatStatus = "Reservation in process"
	SeatBlocked   SeatStatus = "Reservation are blocked"
	SeatFailed    SeatStatus = "Reservation failed"
)

// SeatConfig configures the seat counter.
type SeatConfig struct {
	CounterKey string // store key of the counter, "available_seats" when empty
	Initial    int    // value written by Init
}

// SeatService owns the seat counter and the admission flag. The counter is
// only ever written by the reserve_seat worker, which the queue runs one
// job at a time; that serialization is what keeps the read-then-write in
// the worker from racing.
type SeatService struct {
	store store.Store
	queue queue.Queue
	log   *zap.Logger
	cfg   SeatConfig

	// enabled starts true and is cleared by the worker once the counter is
	// exhausted. Nothing sets it back.
	enabled atomic.Bool

	processOnce sync.Once
	processErr  error
}

// NewSeatService wires a SeatService. Call Init before serving requests and
// StartProcessing to install the worker.
func NewSeatService(st store.Store, q queue.Queue, cfg SeatConfig, log *zap.Logger) *SeatService {
	if cfg.CounterKey == "" {
		cfg.CounterKey = "available_seats"
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &SeatService{store: st, queue: q, log: log.Named("seats"), cfg: cfg}
	s.enabled.Store(true)
	return s
}

// Init writes the starting counter value.
func (s *SeatService) Init(ctx context.Context) error {
	if err := s.store.Set(ctx, s.cfg.CounterKey, strconv.Itoa(s.cfg.Initial)); err != nil {
		return fmt.Errorf("init seat counter: %w", err)
	}
	s.log.Info("seat counter initialized", zap.String("key", s.cfg.CounterKey), zap.Int("seats", s.cfg.Initial))
	return nil
}

// ReservationsEnabled reports the admission flag.
func (s *SeatService) ReservationsEnabled() bool { return s.enabled.Load() }

// AvailableSeats returns the counter as stored.
func (s *SeatService) AvailableSeats(ctx context.Context) (int, error) {
	return s.readCounter(ctx)
}

func (s *SeatService) readCounter(ctx context.Context) (int, error) {
	raw, err := s.store.Get(ctx, s.cfg.CounterKey)
	if errors.Is(err, store.ErrNotFound) {
		return 0, ErrCounterMissing
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrCounterMissing, raw)
	}
	return n, nil
}

// ReserveSeat queues a decrement and returns without waiting for it. When
// the admission flag is down no job is created. The job is returned so
// callers can observe it; it is nil unless the status is SeatInProcess.
func (s *SeatService) ReserveSeat(ctx context.Context) (SeatStatus, *queue.Job, error) {
	if !s.enabled.Load() {
		return SeatBlocked, nil, nil
	}
	job, err := s.queue.Submit(ctx, JobReserveSeat, nil)
	if err != nil {
		s.log.Warn("seat reservation job not queued", zap.Error(err))
		return SeatFailed, nil, err
	}
	job.Subscribe(s.logJobEvent)
	return SeatInProcess, job, nil
}

func (s *SeatService) logJobEvent(ev queue.Event) {
	switch ev.Kind {
	case queue.EventEnqueue:
		s.log.Debug("seat reservation job created", zap.String("job_id", ev.JobID))
	case queue.EventProgress:
		s.log.Info(fmt.Sprintf("Seat reservation job %s %d%% complete", ev.JobID, ev.Progress))
	case queue.EventComplete:
		s.log.Info(fmt.Sprintf("Seat reservation job %s completed", ev.JobID))
	case queue.EventFailed:
		s.log.Info(fmt.Sprintf("Seat reservation job %s failed: %v", ev.JobID, ev.Err))
	}
}

// StartProcessing installs the reserve_seat worker. Only the first call has
// an effect; later calls return the first call's result.
func (s *SeatService) StartProcessing() error {
	s.processOnce.Do(func() {
		s.processErr = s.queue.Process(JobReserveSeat, s.processReservation)
		if s.processErr == nil {
			s.log.Info("seat worker registered")
		}
	})
	return s.processErr
}

// processReservation is the worker body. It runs one job at a time.
func (s *SeatService) processReservation(ctx context.Context, job *queue.Job) error {
	n, err := s.readCounter(ctx)
	if err != nil {
		return err
	}
	if n <= 0 {
		if s.enabled.Swap(false) {
			s.log.Warn("seats exhausted, blocking new reservations", zap.String("job_id", job.ID))
		}
		return ErrNotEnoughSeats
	}
	return s.store.Set(ctx, s.cfg.CounterKey, strconv.Itoa(n-1))
}

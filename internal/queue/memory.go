package queue

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultBuffer is the lane capacity used when none is configured.
const DefaultBuffer = 1024

type lane struct {
	mu      sync.Mutex
	pending []*Job
	handler HandlerFunc
	started bool
	wake    chan struct{}
}

func (l *lane) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Memory is an in-process Queue. Jobs wait in FIFO order per type until a
// handler is installed.
type Memory struct {
	log    *zap.Logger
	buffer int

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewMemory returns a Memory queue holding at most buffer pending jobs per
// type. A non-positive buffer selects DefaultBuffer.
func NewMemory(buffer int, log *zap.Logger) *Memory {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Memory{
		log:    log.Named("queue"),
		buffer: buffer,
		lanes:  make(map[string]*lane),
		stop:   make(chan struct{}),
	}
}

// laneLocked returns the lane for jobType, creating it. Caller holds m.mu.
func (m *Memory) laneLocked(jobType string) (*lane, error) {
	if m.closed {
		return nil, ErrQueueClosed
	}
	l, ok := m.lanes[jobType]
	if !ok {
		l = &lane{wake: make(chan struct{}, 1)}
		m.lanes[jobType] = l
	}
	return l, nil
}

func (m *Memory) lane(jobType string) (*lane, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.laneLocked(jobType)
}

func (m *Memory) Submit(_ context.Context, jobType string, payload []byte) (*Job, error) {
	job := newJob(uuid.NewString(), jobType, payload)

	// m.mu is held until the job is in the lane, so a Submit either
	// completes before Close or fails with ErrQueueClosed.
	m.mu.Lock()
	l, err := m.laneLocked(jobType)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	l.mu.Lock()
	if len(l.pending) >= m.buffer {
		l.mu.Unlock()
		m.mu.Unlock()
		return nil, ErrQueueFull
	}
	// The enqueue event is recorded before the worker can see the job.
	if err := job.transition(StateEnqueued, nil); err != nil {
		l.mu.Unlock()
		m.mu.Unlock()
		return nil, err
	}
	l.pending = append(l.pending, job)
	l.mu.Unlock()
	m.mu.Unlock()

	l.signal()
	job.flush()
	return job, nil
}

func (m *Memory) Process(jobType string, h HandlerFunc) error {
	l, err := m.lane(jobType)
	if err != nil {
		return err
	}
	l.mu.Lock()
	replaced := l.handler != nil
	l.handler = h
	start := !l.started
	l.started = true
	l.mu.Unlock()

	if replaced {
		m.log.Info("worker handler replaced", zap.String("job_type", jobType))
	}
	if start {
		m.wg.Add(1)
		go m.work(jobType, l)
	}
	l.signal()
	return nil
}

func (m *Memory) work(jobType string, l *lane) {
	defer m.wg.Done()
	m.log.Info("worker started", zap.String("job_type", jobType))
	for {
		select {
		case <-m.stop:
			return
		case <-l.wake:
		}
		for {
			select {
			case <-m.stop:
				return
			default:
			}
			l.mu.Lock()
			if l.handler == nil || len(l.pending) == 0 {
				l.mu.Unlock()
				break
			}
			job := l.pending[0]
			l.pending[0] = nil
			l.pending = l.pending[1:]
			h := l.handler
			l.mu.Unlock()

			execute(context.Background(), m.log, job, h)
		}
	}
}

// Pending returns how many jobs of jobType are waiting for the worker.
func (m *Memory) Pending(jobType string) int {
	m.mu.Lock()
	l, ok := m.lanes[jobType]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (m *Memory) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stop)
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

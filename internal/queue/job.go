// Package queue runs typed jobs through named lanes. Each job type has at
// most one worker, so handlers for the same type never overlap. Every job
// carries an explicit lifecycle state and an ordered event log that
// subscribers can observe.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the lifecycle position of a job.
type State string

const (
	StateCreated    State = "created"
	StateEnqueued   State = "enqueued"
	StateProcessing State = "processing"
	StateComplete   State = "complete"
	StateFailed     State = "failed"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool { return s == StateComplete || s == StateFailed }

// EventKind names an observable lifecycle event.
type EventKind string

const (
	EventEnqueue  EventKind = "enqueue"
	EventProgress EventKind = "progress"
	EventComplete EventKind = "complete"
	EventFailed   EventKind = "failed"
)

// Event is a single entry of a job's event log. Progress is set for
// EventProgress, Err for EventFailed.
type Event struct {
	Kind     EventKind
	JobID    string
	Progress int
	Err      error
	At       time.Time
}

// ErrInvalidTransition is returned when a job is moved to a state that is
// not reachable from its current one.
var ErrInvalidTransition = errors.New("queue: invalid job state transition")

// Listener receives job events. Listeners must not call Subscribe on the
// job that is notifying them.
type Listener func(Event)

type subscriber struct {
	fn   Listener
	next int
}

// Job is a unit of deferred work. ID and Type are fixed at creation.
type Job struct {
	ID        string
	Type      string
	Payload   []byte
	CreatedAt time.Time

	mu      sync.Mutex
	state   State
	err     error
	history []Event
	subs    []*subscriber
	done    chan struct{}

	deliverMu sync.Mutex
	doneOnce  sync.Once
}

func newJob(id, jobType string, payload []byte) *Job {
	return &Job{
		ID:        id,
		Type:      jobType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
		state:     StateCreated,
		done:      make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Err returns the failure reported by the handler, or nil.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Events returns a copy of the events recorded so far.
func (j *Job) Events() []Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Event, len(j.history))
	copy(out, j.history)
	return out
}

// Done is closed once the job is terminal and its terminal event has been
// delivered to every current subscriber.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job is terminal or ctx ends. It returns the job's
// failure, or ctx.Err() when ctx ends first.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers fn and replays every event recorded so far before any
// later one. Each event reaches fn exactly once and in log order.
func (j *Job) Subscribe(fn Listener) {
	j.mu.Lock()
	j.subs = append(j.subs, &subscriber{fn: fn})
	j.mu.Unlock()
	j.flush()
}

// Progress records a percentage for a job that is being processed. Values
// are clamped to [0, 100].
func (j *Job) Progress(pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	j.mu.Lock()
	if j.state != StateProcessing {
		st := j.state
		j.mu.Unlock()
		return fmt.Errorf("%w: progress while %s", ErrInvalidTransition, st)
	}
	j.record(Event{Kind: EventProgress, Progress: pct})
	j.mu.Unlock()
	j.flush()
	return nil
}

var transitions = map[State][]State{
	StateCreated:    {StateEnqueued},
	StateEnqueued:   {StateProcessing},
	StateProcessing: {StateComplete, StateFailed},
}

// transition moves the job to `to` and records the matching event, if any.
// Delivery to subscribers happens in flush, outside j.mu.
func (j *Job) transition(to State, cause error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	allowed := false
	for _, s := range transitions[j.state] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.state, to)
	}
	j.state = to
	switch to {
	case StateEnqueued:
		j.record(Event{Kind: EventEnqueue})
	case StateComplete:
		j.record(Event{Kind: EventComplete})
	case StateFailed:
		j.err = cause
		j.record(Event{Kind: EventFailed, Err: cause})
	}
	return nil
}

// record must be called with j.mu held.
func (j *Job) record(ev Event) {
	ev.JobID = j.ID
	ev.At = time.Now().UTC()
	j.history = append(j.history, ev)
}

// flush delivers pending events. Whoever holds deliverMu drains everything
// recorded so far, so concurrent emitters cannot reorder events. Done is
// closed by the flush that drains the terminal event.
func (j *Job) flush() {
	j.deliverMu.Lock()
	defer j.deliverMu.Unlock()
	type pending struct {
		fn Listener
		ev Event
	}
	for {
		var batch []pending
		j.mu.Lock()
		for _, s := range j.subs {
			for s.next < len(j.history) {
				batch = append(batch, pending{fn: s.fn, ev: j.history[s.next]})
				s.next++
			}
		}
		terminal := j.state.Terminal()
		j.mu.Unlock()
		if len(batch) == 0 {
			if terminal {
				j.doneOnce.Do(func() { close(j.done) })
			}
			return
		}
		for _, p := range batch {
			p.fn(p.ev)
		}
	}
}

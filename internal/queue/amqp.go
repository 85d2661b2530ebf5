package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// envelope is the wire form of a job on the broker.
type envelope struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Payload   []byte    `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// channel is the subset of *amqp.Channel used here.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type consumer struct {
	mu      sync.Mutex
	ch      channel
	handler HandlerFunc
}

const (
	// DefaultMaxTracked bounds the jobs kept for local observers.
	DefaultMaxTracked = 10000

	retryMin = time.Second
	retryMax = 30 * time.Second
)

// AMQP is a Queue backed by RabbitMQ. Every job type maps to a durable queue
// named "<prefix>.<type>", consumed by one consumer with a prefetch of one so
// handlers run strictly one at a time. A consumer whose channel is lost
// resubscribes with exponential backoff until Close.
type AMQP struct {
	log       *zap.Logger
	prefix    string
	open      func() (channel, error)
	closeConn func() error

	retryMin   time.Duration
	retryMax   time.Duration
	maxTracked int

	pubMu sync.Mutex
	pub   channel

	mu        sync.Mutex
	declared  map[string]bool
	consumers map[string]*consumer
	jobs      map[string]*Job
	order     []string // ids in jobs, oldest first; may hold stale ids
	closed    bool
	stop      chan struct{}
	wg        sync.WaitGroup
}

// dialer hands out channels, redialing once the connection has dropped.
type dialer struct {
	url  string
	mu   sync.Mutex
	conn *amqp.Connection
}

func (d *dialer) channel() (channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil || d.conn.IsClosed() {
		conn, err := amqp.Dial(d.url)
		if err != nil {
			return nil, fmt.Errorf("amqp dial: %w", err)
		}
		d.conn = conn
	}
	ch, err := d.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (d *dialer) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil || d.conn.IsClosed() {
		return nil
	}
	return d.conn.Close()
}

// DialAMQP connects to the broker at url.
func DialAMQP(url, prefix string, log *zap.Logger) (*AMQP, error) {
	d := &dialer{url: url}
	q, err := newAMQP(d.channel, prefix, log)
	if err != nil {
		_ = d.close()
		return nil, err
	}
	q.closeConn = d.close
	return q, nil
}

func newAMQP(open func() (channel, error), prefix string, log *zap.Logger) (*AMQP, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if prefix == "" {
		prefix = "jobs"
	}
	pub, err := open()
	if err != nil {
		return nil, fmt.Errorf("channel open: %w", err)
	}
	return &AMQP{
		log:        log.Named("queue"),
		prefix:     prefix,
		open:       open,
		retryMin:   retryMin,
		retryMax:   retryMax,
		maxTracked: DefaultMaxTracked,
		pub:        pub,
		declared:   make(map[string]bool),
		consumers:  make(map[string]*consumer),
		jobs:       make(map[string]*Job),
		stop:       make(chan struct{}),
	}, nil
}

func (q *AMQP) queueName(jobType string) string { return q.prefix + "." + jobType }

func (q *AMQP) declare(ch channel, jobType string) error {
	if _, err := ch.QueueDeclare(q.queueName(jobType), true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	return nil
}

// track registers job for local observers. Caller holds q.mu. Past
// maxTracked the oldest entries are dropped; a dropped job that is later
// delivered here runs under a fresh record.
func (q *AMQP) track(job *Job) {
	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)
	for len(q.jobs) > q.maxTracked && len(q.order) > 0 {
		id := q.order[0]
		q.order = q.order[1:]
		if _, ok := q.jobs[id]; ok {
			delete(q.jobs, id)
			q.log.Debug("job no longer tracked", zap.String("job_id", id))
		}
	}
	if len(q.order) > 2*q.maxTracked {
		live := make([]string, 0, len(q.jobs))
		for _, id := range q.order {
			if _, ok := q.jobs[id]; ok {
				live = append(live, id)
			}
		}
		q.order = live
	}
}

func (q *AMQP) Submit(ctx context.Context, jobType string, payload []byte) (*Job, error) {
	job := newJob(uuid.NewString(), jobType, payload)
	body, err := json.Marshal(envelope{ID: job.ID, Type: jobType, Payload: payload, CreatedAt: job.CreatedAt})
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	// Registered and enqueued before publishing: the consumer may pick the
	// message up before PublishWithContext returns.
	if err := job.transition(StateEnqueued, nil); err != nil {
		q.mu.Unlock()
		return nil, err
	}
	q.track(job)
	needDeclare := !q.declared[jobType]
	q.mu.Unlock()

	q.pubMu.Lock()
	err = q.publish(ctx, jobType, needDeclare, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Type:         jobType,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	q.pubMu.Unlock()

	q.mu.Lock()
	if err != nil {
		delete(q.jobs, job.ID)
		q.mu.Unlock()
		q.log.Warn("publish failed", zap.String("job_type", jobType), zap.Error(err))
		return nil, err
	}
	q.declared[jobType] = true
	q.mu.Unlock()

	job.flush()
	return job, nil
}

// publish sends msg on the publisher channel, reopening it if a previous
// publish failed. Caller holds q.pubMu.
func (q *AMQP) publish(ctx context.Context, jobType string, declare bool, msg amqp.Publishing) error {
	if q.pub == nil {
		ch, err := q.open()
		if err != nil {
			return fmt.Errorf("channel open: %w", err)
		}
		q.pub = ch
		declare = true
	}
	if declare {
		if err := q.declare(q.pub, jobType); err != nil {
			q.dropPublisher()
			return err
		}
	}
	if err := q.pub.PublishWithContext(ctx, "", q.queueName(jobType), false, false, msg); err != nil {
		q.dropPublisher()
		return err
	}
	return nil
}

func (q *AMQP) dropPublisher() {
	_ = q.pub.Close()
	q.pub = nil
}

// subscribe opens a consumer channel for jobType with a prefetch of one.
func (q *AMQP) subscribe(jobType string) (channel, <-chan amqp.Delivery, error) {
	ch, err := q.open()
	if err != nil {
		return nil, nil, fmt.Errorf("channel open: %w", err)
	}
	if err := q.declare(ch, jobType); err != nil {
		_ = ch.Close()
		return nil, nil, err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("set qos: %w", err)
	}
	msgs, err := ch.Consume(q.queueName(jobType), "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("queue consume: %w", err)
	}
	return ch, msgs, nil
}

func (q *AMQP) Process(jobType string, h HandlerFunc) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if c, ok := q.consumers[jobType]; ok {
		c.mu.Lock()
		c.handler = h
		c.mu.Unlock()
		q.log.Info("worker handler replaced", zap.String("job_type", jobType))
		return nil
	}

	ch, msgs, err := q.subscribe(jobType)
	if err != nil {
		return err
	}
	c := &consumer{ch: ch, handler: h}
	q.consumers[jobType] = c
	q.declared[jobType] = true

	q.wg.Add(1)
	go q.consume(jobType, c, msgs)
	q.log.Info("worker started", zap.String("job_type", jobType), zap.String("queue", q.queueName(jobType)))
	return nil
}

func (q *AMQP) stopping() bool {
	select {
	case <-q.stop:
		return true
	default:
		return false
	}
}

// consume runs deliveries for jobType until Close, resubscribing whenever
// the broker drops the channel.
func (q *AMQP) consume(jobType string, c *consumer, msgs <-chan amqp.Delivery) {
	defer q.wg.Done()
	for {
		q.drain(jobType, c, msgs)
		if q.stopping() {
			q.log.Info("worker stopped", zap.String("job_type", jobType))
			return
		}
		q.log.Warn("deliveries channel closed, resubscribing", zap.String("job_type", jobType))
		var ok bool
		if msgs, ok = q.resubscribe(jobType, c); !ok {
			q.log.Info("worker stopped", zap.String("job_type", jobType))
			return
		}
	}
}

func (q *AMQP) drain(jobType string, c *consumer, msgs <-chan amqp.Delivery) {
	for d := range msgs {
		job, err := q.claim(d.Body)
		if err != nil {
			q.log.Warn("dropping malformed job", zap.String("job_type", jobType), zap.Error(err))
			_ = d.Nack(false, false) // do not requeue to avoid tight loops
			continue
		}
		c.mu.Lock()
		h := c.handler
		c.mu.Unlock()

		execute(context.Background(), q.log, job, h)

		q.mu.Lock()
		delete(q.jobs, job.ID)
		q.mu.Unlock()

		if job.State() == StateFailed {
			_ = d.Nack(false, false)
			continue
		}
		_ = d.Ack(false)
	}
}

// resubscribe retries subscribe with exponential backoff. It reports false
// once the queue is closed.
func (q *AMQP) resubscribe(jobType string, c *consumer) (<-chan amqp.Delivery, bool) {
	backoff := q.retryMin
	for {
		select {
		case <-q.stop:
			return nil, false
		case <-time.After(backoff):
		}
		ch, msgs, err := q.subscribe(jobType)
		if err != nil {
			q.log.Warn("resubscribe failed",
				zap.String("job_type", jobType), zap.Error(err), zap.Duration("retry_in", backoff))
			if backoff < q.retryMax {
				backoff = min(2*backoff, q.retryMax)
			}
			continue
		}
		c.mu.Lock()
		if q.stopping() {
			c.mu.Unlock()
			_ = ch.Close()
			return nil, false
		}
		old := c.ch
		c.ch = ch
		c.mu.Unlock()
		_ = old.Close()
		q.log.Info("worker resubscribed", zap.String("job_type", jobType))
		return msgs, true
	}
}

// claim returns the local Job for a delivery. Jobs published by another
// process, or no longer tracked, run under a fresh record that nobody else
// observes.
func (q *AMQP) claim(body []byte) (*Job, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if env.ID == "" {
		return nil, errors.New("job without id")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if job, ok := q.jobs[env.ID]; ok {
		return job, nil
	}
	job := newJob(env.ID, env.Type, env.Payload)
	if !env.CreatedAt.IsZero() {
		job.CreatedAt = env.CreatedAt
	}
	if err := job.transition(StateEnqueued, nil); err != nil {
		return nil, err
	}
	return job, nil
}

// Close stops the consumers, waits for in-flight handlers and then closes
// the connection.
func (q *AMQP) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.stop)
	consumers := q.consumers
	q.mu.Unlock()

	for _, c := range consumers {
		c.mu.Lock()
		_ = c.ch.Close()
		c.mu.Unlock()
	}
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	q.pubMu.Lock()
	if q.pub != nil {
		_ = q.pub.Close()
		q.pub = nil
	}
	q.pubMu.Unlock()
	if q.closeConn != nil {
		_ = q.closeConn()
	}
	return err
}

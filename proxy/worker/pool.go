// Package worker journals finished relays asynchronously so that writing a
// record never holds up the stream to the client.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/papercomputeco/trickle/pkg/chat"
	"github.com/papercomputeco/trickle/pkg/logger"
)

var (
	defaultNumWorkers   uint = 2
	defaultJobQueueSize uint = 256
	defaultWriteTimeout      = 5 * time.Second
)

// Record describes one finished relay.
type Record struct {
	RequestID string         `json:"request_id"`
	Model     string         `json:"model"`
	Relay     string         `json:"relay"`
	Messages  []chat.Message `json:"messages"`
	Answer    string         `json:"answer"`
	Deltas    int            `json:"deltas"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration_ns"`

	// Error is set when the relay stopped early, e.g. the client went away.
	Error string `json:"error,omitempty"`
}

// Sink persists records. Write may be called from several workers at once.
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

// Config is the configuration options for the worker pool.
type Config struct {
	Sink Sink

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	Logger *slog.Logger
}

// Pool writes records to its Sink from background workers.
type Pool struct {
	config *Config
	queue  chan Record
	wg     sync.WaitGroup
	logger *slog.Logger

	closeOnce sync.Once
}

// NewPool starts the pool's workers.
func NewPool(c *Config) (*Pool, error) {
	if c.Sink == nil {
		return nil, fmt.Errorf("worker pool requires a sink")
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	if c.Logger == nil {
		c.Logger = logger.Nop()
	}

	wp := &Pool{
		config: c,
		queue:  make(chan Record, c.QueueSize),
		logger: c.Logger,
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits a record without blocking. It returns false, dropping the
// record, when the queue is full.
func (p *Pool) Enqueue(rec Record) bool {
	select {
	case p.queue <- rec:
		p.logger.Debug("relay record queued", "request_id", rec.RequestID)
		return true
	default:
		p.logger.Error("relay record dropped, queue full", "request_id", rec.RequestID)
		return false
	}
}

// Close stops accepting records and waits for queued ones to be written.
// Call it after the HTTP server has stopped.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.queue)
		p.wg.Wait()
	})
}

func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("journal worker started", "worker_id", id)

	for rec := range p.queue {
		p.write(rec)
	}

	p.logger.Debug("journal worker stopped", "worker_id", id)
}

func (p *Pool) write(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()

	if err := p.config.Sink.Write(ctx, rec); err != nil {
		p.logger.Error("writing relay record failed", "request_id", rec.RequestID, "error", err)
		return
	}

	p.logger.Debug("relay record written", "request_id", rec.RequestID, "deltas", rec.Deltas)
}

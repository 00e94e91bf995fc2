// Package background is the persistent context that executes downloads. It
// accepts downloadImages from the panel or an overlay and runs one batch at a
// time through the orchestrator.
package background

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"imagepicker/internal/bus"
	"imagepicker/internal/download"
	"imagepicker/internal/message"
)

const defaultQueue = 16

var ErrStopped = errors.New("background: coordinator stopped")

// Config wires a Coordinator.
type Config struct {
	Bus          *bus.Bus
	Orchestrator *download.Orchestrator
	// Queue bounds the number of batches waiting behind the running one.
	Queue  int
	Logger *slog.Logger
}

// Batch is one finished download request.
type Batch struct {
	ID     int             `json:"id"`
	Images []string        `json:"images"`
	Result download.Result `json:"result"`
}

// Coordinator serializes download batches. Batches run on their own
// goroutine so the bus inbox keeps draining while files are fetched.
type Coordinator struct {
	message.Unimplemented

	bus    *bus.Bus
	orch   *download.Orchestrator
	logger *slog.Logger

	jobs    chan Batch
	results chan Batch
	done    chan struct{}
	exited  chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	seq     int
	closed  bool
	pending sync.WaitGroup
	sending sync.WaitGroup
}

// New starts a coordinator. Close stops it.
func New(cfg Config) *Coordinator {
	q := cfg.Queue
	if q <= 0 {
		q = defaultQueue
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		bus:     cfg.Bus,
		orch:    cfg.Orchestrator,
		logger:  logger.With("context", "background"),
		jobs:    make(chan Batch, q),
		results: make(chan Batch, q),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	go c.run()
	return c
}

// Attach registers the coordinator on the bus.
func (c *Coordinator) Attach() (func(), error) {
	return c.bus.Register(bus.Background, c)
}

// HandleDownloadImages queues a batch. An empty list is ignored.
func (c *Coordinator) HandleDownloadImages(_ context.Context, m message.DownloadImages) error {
	if len(m.Images) == 0 {
		return nil
	}
	_, err := c.Enqueue(m.Images)
	return err
}

// Enqueue queues images as a batch and returns its id.
func (c *Coordinator) Enqueue(images []string) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrStopped
	}
	c.seq++
	b := Batch{ID: c.seq, Images: append([]string(nil), images...)}
	c.pending.Add(1)
	c.sending.Add(1)
	c.mu.Unlock()
	defer c.sending.Done()

	select {
	case c.jobs <- b:
		c.logger.Info("download batch queued", "batch", b.ID, "count", len(b.Images))
		return b.ID, nil
	case <-c.done:
		c.pending.Done()
		return 0, ErrStopped
	}
}

func (c *Coordinator) run() {
	defer close(c.exited)
	for {
		select {
		case <-c.done:
			c.discard()
			return
		case b := <-c.jobs:
			b.Result = c.orch.Download(c.ctx, b.Images)
			c.logger.Info("download batch done", "batch", b.ID,
				"succeeded", b.Result.Succeeded, "total", b.Result.Total)
			select {
			case c.results <- b:
			default:
				c.logger.Debug("result dropped, nobody is reading", "batch", b.ID)
			}
			c.pending.Done()
		}
	}
}

func (c *Coordinator) discard() {
	for {
		select {
		case b := <-c.jobs:
			c.logger.Warn("download batch abandoned", "batch", b.ID, "count", len(b.Images))
			c.pending.Done()
		default:
			return
		}
	}
}

// Results delivers finished batches. Results nobody reads are dropped once
// the buffer is full.
func (c *Coordinator) Results() <-chan Batch { return c.results }

// Wait blocks until every queued batch has finished or ctx ends.
func (c *Coordinator) Wait(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		c.pending.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close interrupts the running batch and abandons queued ones.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	close(c.done)
	c.sending.Wait()
	<-c.exited
	c.discard()
	return nil
}

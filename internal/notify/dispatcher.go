// Package notify delivers post-settlement notifications off the settlement path.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ticket-service/internal/models"
	"ticket-service/internal/util"

	"go.uber.org/zap"
)

// ErrQueueFull is returned when a task cannot be queued without blocking
var ErrQueueFull = errors.New("notification queue full")

// ErrDispatcherStopped is returned after Stop
var ErrDispatcherStopped = errors.New("notification dispatcher stopped")

// Channel delivers one kind of notification for a paid order
type Channel interface {
	Name() string
	Send(ctx context.Context, snapshot models.OrderSnapshot) error
}

// ChannelResult is the tagged outcome of one channel for one task
type ChannelResult struct {
	Channel string
	Err     error
}

// Report collects every channel result for one order
type Report struct {
	Reference string
	Results   []ChannelResult
}

// Failed returns the channels that did not deliver
func (r Report) Failed() []ChannelResult {
	var failed []ChannelResult
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

type Options struct {
	Workers        int
	QueueSize      int
	ChannelTimeout time.Duration

	// OnReport is called after every channel of a task has finished
	OnReport func(Report)
}

// Dispatcher runs channels for queued snapshots on a fixed worker pool.
// Each channel runs independently; one failing never suppresses another.
type Dispatcher struct {
	channels []Channel
	queue    chan models.OrderSnapshot
	timeout  time.Duration
	onReport func(Report)
	workers  int
	logger   *zap.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Call Start before Dispatch.
func NewDispatcher(opts Options, channels ...Channel) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	if opts.ChannelTimeout <= 0 {
		opts.ChannelTimeout = 15 * time.Second
	}

	return &Dispatcher{
		channels: channels,
		queue:    make(chan models.OrderSnapshot, opts.QueueSize),
		timeout:  opts.ChannelTimeout,
		onReport: opts.OnReport,
		workers:  opts.Workers,
		logger:   util.GetLogger(),
	}
}

// Start launches the worker pool
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	d.logger.Info("Notification dispatcher started",
		zap.Int("workers", d.workers),
		zap.Int("channels", len(d.channels)))
}

// Dispatch queues a snapshot without blocking
func (d *Dispatcher) Dispatch(snapshot models.OrderSnapshot) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrDispatcherStopped
	}

	select {
	case d.queue <- snapshot:
		return nil
	default:
		util.NotificationsDroppedTotal.Inc()
		d.logger.Error("Notification queue full, dropping task",
			zap.String("reference", snapshot.Reference))
		return ErrQueueFull
	}
}

// Stop drains queued tasks and waits for the workers to exit
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("Notification dispatcher stopped")
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for snapshot := range d.queue {
		report := d.deliver(snapshot)
		d.logReport(report)
		if d.onReport != nil {
			d.onReport(report)
		}
	}
}

func (d *Dispatcher) deliver(snapshot models.OrderSnapshot) Report {
	results := make([]ChannelResult, len(d.channels))

	var wg sync.WaitGroup
	for i, ch := range d.channels {
		wg.Add(1)
		go func(i int, ch Channel) {
			defer wg.Done()
			results[i] = ChannelResult{Channel: ch.Name(), Err: d.send(ch, snapshot)}
		}(i, ch)
	}
	wg.Wait()

	return Report{Reference: snapshot.Reference, Results: results}
}

func (d *Dispatcher) send(ch Channel, snapshot models.OrderSnapshot) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel %s panicked: %v", ch.Name(), r)
		}
	}()

	return ch.Send(ctx, snapshot)
}

func (d *Dispatcher) logReport(report Report) {
	for _, res := range report.Results {
		if res.Err != nil {
			util.NotificationsTotal.WithLabelValues(res.Channel, "failed").Inc()
			d.logger.Error("Notification failed",
				zap.String("reference", report.Reference),
				zap.String("channel", res.Channel),
				zap.Error(res.Err))
			continue
		}
		util.NotificationsTotal.WithLabelValues(res.Channel, "sent").Inc()
		d.logger.Info("Notification sent",
			zap.String("reference", report.Reference),
			zap.String("channel", res.Channel))
	}
}

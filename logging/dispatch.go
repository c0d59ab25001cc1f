package logging

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"sync"
	"time"

	"github.com/auditmos/blackbox/clock"
)

type DispatchSettings struct {
	ProjectID string
	Transport Transport
	BatchSize int
	Interval  time.Duration
	MaxQueue  int
}

func (s DispatchSettings) normalize() DispatchSettings {
	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
	if s.Interval < MinFlushInterval {
		s.Interval = MinFlushInterval
	}
	if s.MaxQueue <= 0 {
		s.MaxQueue = DefaultMaxQueue
	}
	if s.MaxQueue < s.BatchSize {
		s.MaxQueue = s.BatchSize
	}
	return s
}

type DispatchStats struct {
	BatchesDelivered uint64 `json:"batchesDelivered"`
	BatchesFailed    uint64 `json:"batchesFailed"`
	EntriesDelivered uint64 `json:"entriesDelivered"`
	EntriesFailed    uint64 `json:"entriesFailed"`
	EntriesDropped   uint64 `json:"entriesDropped"`
}

// Dispatcher queues entries and ships them in batches. Each entry is
// handed to the transport at most once; failed batches are counted and
// discarded. At most one delivery runs at a time.
type Dispatcher struct {
	clock   clock.Clock
	console *Console

	mu       sync.Mutex
	settings DispatchSettings
	queue    []Entry
	inFlight bool
	idle     chan struct{}
	closed   bool
	stats    DispatchStats
	ticker   *clock.Ticker
	stopTick chan struct{}

	deliveries sync.WaitGroup
	retiring   sync.WaitGroup
}

func NewDispatcher(clk clock.Clock, console *Console) *Dispatcher {
	if clk == nil {
		clk = clock.Real()
	}
	if console == nil {
		console = DiscardConsole()
	}
	return &Dispatcher{
		clock:   clk,
		console: console,
		settings: DispatchSettings{
			BatchSize: DefaultBatchSize,
			Interval:  DefaultFlushInterval,
			MaxQueue:  DefaultMaxQueue,
		},
	}
}

// Configure swaps the delivery settings and restarts the flush timer.
// Pending entries are kept; a delivery already in flight finishes with
// the transport it started with, which is closed afterwards. It reports
// false when the dispatcher is already closed.
func (d *Dispatcher) Configure(s DispatchSettings) bool {
	s = s.normalize()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}

	d.stopTickerLocked()
	prev := d.settings.Transport
	d.settings = s

	if prev != nil && !sameTransport(prev, s.Transport) {
		if c, ok := prev.(io.Closer); ok {
			var wait <-chan struct{}
			if d.inFlight {
				wait = d.idle
			}
			d.retiring.Add(1)
			go d.retire(c, wait)
		}
	}

	ticker := d.clock.NewTicker(s.Interval)
	stop := make(chan struct{})
	d.ticker = ticker
	d.stopTick = stop
	go d.runTicker(ticker, stop)
	return true
}

// retire closes a transport that Configure replaced, after the delivery
// still using it has finished.
func (d *Dispatcher) retire(c io.Closer, wait <-chan struct{}) {
	defer d.retiring.Done()
	if wait != nil {
		<-wait
	}
	if err := c.Close(); err != nil {
		d.console.Warn("Closing replaced transport failed", WithError(err))
	}
}

func sameTransport(a, b Transport) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta := reflect.TypeOf(a)
	return ta == reflect.TypeOf(b) && ta.Comparable() && a == b
}

func (d *Dispatcher) runTicker(ticker *clock.Ticker, stop <-chan struct{}) {
	for {
		select {
		case <-ticker.C:
			d.Flush()
		case <-stop:
			return
		}
	}
}

func (d *Dispatcher) stopTickerLocked() {
	if d.ticker == nil {
		return
	}
	d.ticker.Stop()
	close(d.stopTick)
	d.ticker = nil
	d.stopTick = nil
}

// Enqueue adds entry to the pending queue and triggers a flush once a
// full batch is waiting. It reports false when the entry was dropped
// because the queue is full or the dispatcher is closed.
func (d *Dispatcher) Enqueue(entry Entry) bool {
	d.mu.Lock()
	if d.closed || len(d.queue) >= d.settings.MaxQueue {
		d.stats.EntriesDropped++
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, entry)
	full := len(d.queue) >= d.settings.BatchSize
	d.mu.Unlock()

	if full {
		d.Flush()
	}
	return true
}

// Flush removes up to one batch from the front of the queue and starts
// delivering it in the background. It reports whether a delivery was
// started; nothing happens without a transport, with an empty queue or
// while another delivery is in flight.
func (d *Dispatcher) Flush() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}
	batch, transport, ok := d.takeBatchLocked()
	if !ok {
		return false
	}

	d.inFlight = true
	d.idle = make(chan struct{})
	d.deliveries.Add(1)
	go d.deliverAsync(transport, batch, d.idle)
	return true
}

func (d *Dispatcher) takeBatchLocked() (Batch, Transport, bool) {
	if d.settings.Transport == nil || d.inFlight || len(d.queue) == 0 {
		return Batch{}, nil, false
	}

	n := d.settings.BatchSize
	if n > len(d.queue) {
		n = len(d.queue)
	}

	entries := make([]Entry, n)
	copy(entries, d.queue[:n])
	remaining := make([]Entry, len(d.queue)-n)
	copy(remaining, d.queue[n:])
	d.queue = remaining

	batch := Batch{ProjectID: d.settings.ProjectID, Entries: entries}
	return batch, d.settings.Transport, true
}

func (d *Dispatcher) deliverAsync(transport Transport, batch Batch, idle chan struct{}) {
	defer d.deliveries.Done()

	ctx, cancel := context.WithTimeout(context.Background(), DeliveryTimeout)
	err := d.deliver(ctx, transport, batch)
	cancel()

	d.mu.Lock()
	d.inFlight = false
	d.idle = nil
	again := !d.closed && d.settings.Transport != nil && len(d.queue) >= d.settings.BatchSize
	d.mu.Unlock()
	close(idle)

	d.report(batch, err)

	if again {
		d.Flush()
	}
}

func (d *Dispatcher) deliver(ctx context.Context, transport Transport, batch Batch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()
	return transport.Deliver(ctx, batch)
}

func (d *Dispatcher) report(batch Batch, err error) {
	n := uint64(len(batch.Entries))

	d.mu.Lock()
	if err != nil {
		d.stats.BatchesFailed++
		d.stats.EntriesFailed += n
	} else {
		d.stats.BatchesDelivered++
		d.stats.EntriesDelivered += n
	}
	d.mu.Unlock()

	if err != nil {
		d.console.Warn("Batch delivery failed",
			WithField("project_id", batch.ProjectID),
			WithField("entries", n),
			WithError(err),
		)
		return
	}
	d.console.Debug("Batch delivered",
		WithField("project_id", batch.ProjectID),
		WithField("entries", n),
	)
}

func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Dispatcher) Stats() DispatchStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Dispatcher) Settings() DispatchSettings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings
}

// Close stops the flush timer, waits for the running delivery and then
// drains the queue batch by batch until it is empty or ctx ends. Entries
// still pending when ctx ends are counted as dropped. Replaced transports
// are closed before a successful Close returns.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.stopTickerLocked()
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.deliveries.Wait()
		d.retiring.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return d.dropPending(ctx.Err())
	}

	for {
		d.mu.Lock()
		batch, transport, ok := d.takeBatchLocked()
		d.mu.Unlock()
		if !ok {
			break
		}

		deliverCtx, cancel := context.WithTimeout(ctx, DeliveryTimeout)
		err := d.deliver(deliverCtx, transport, batch)
		cancel()
		d.report(batch, err)

		if ctx.Err() != nil {
			return d.dropPending(ctx.Err())
		}
	}

	return d.dropPending(nil)
}

func (d *Dispatcher) dropPending(cause error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dropped := len(d.queue)
	d.stats.EntriesDropped += uint64(dropped)
	d.queue = nil

	if cause != nil {
		return fmt.Errorf("drain queue: %d entries dropped: %w", dropped, cause)
	}
	return nil
}

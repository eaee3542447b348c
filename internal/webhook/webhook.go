// Package webhook delivers pipeline events to HTTP endpoints in
// batches, with retry on transient failures. Each endpoint gets its own
// worker goroutine so a slow endpoint never stalls another.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/claudewatch/claudewatch/internal/event"
	"github.com/claudewatch/claudewatch/internal/filter"
)

// Drop kinds reported through Config.OnDrop.
const (
	DropClientError = "4xx"
	DropRetries     = "retries_exhausted"
	DropQueueFull   = "queue_full"
	DropShutdown    = "shutdown"
)

const defaultQueueSize = 1024

// Config describes one webhook endpoint.
type Config struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`

	// BatchSize flushes when this many events are buffered; default 10.
	BatchSize int `yaml:"batch_size"`
	// BatchTimeout flushes a partial batch this long after its first
	// event; default 5s.
	BatchTimeout time.Duration `yaml:"batch_timeout"`

	// MaxRetries bounds re-delivery of a failed batch; default 3.
	MaxRetries int `yaml:"max_retries"`
	// RetryBackoff is the first retry delay, doubling per attempt;
	// default 1s.
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// Filter restricts which events are delivered; nil delivers all.
	Filter filter.Predicate `yaml:"-"`

	// OnDrop observes dropped batches by kind. Optional.
	OnDrop func(kind string) `yaml:"-"`

	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client `yaml:"-"`
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 5 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: 30 * time.Second}
	}
}

// Dispatcher posts event batches to one endpoint. Create with New,
// feed with HandleEvent, stop with Close.
type Dispatcher struct {
	cfg   Config
	queue chan json.RawMessage
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

func New(cfg Config) *Dispatcher {
	cfg.applyDefaults()
	d := &Dispatcher{
		cfg:   cfg,
		queue: make(chan json.RawMessage, defaultQueueSize),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

// HandleEvent serializes and enqueues one event. It satisfies
// emitter.Handler; events failing the filter are skipped silently, a
// full queue drops the event rather than blocking the pipeline, and a
// closed dispatcher ignores the event.
func (d *Dispatcher) HandleEvent(ev event.Event) error {
	if d.cfg.Filter != nil && !d.cfg.Filter(ev) {
		return nil
	}
	data, err := event.Marshal(ev)
	if err != nil {
		return fmt.Errorf("serialize %s event: %w", ev.EventType(), err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	select {
	case d.queue <- data:
	default:
		d.drop(DropQueueFull)
	}
	return nil
}

// Close stops the worker, draining buffered events with a grace period
// of twice the batch timeout. Safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)

	var batch []json.RawMessage
	flushTimer := time.NewTimer(d.cfg.BatchTimeout)
	flushTimer.Stop()

	flush := func(ctx context.Context) {
		if len(batch) > 0 {
			d.deliver(ctx, batch)
			batch = nil
		}
		flushTimer.Stop()
	}

	for {
		select {
		case data, ok := <-d.queue:
			if !ok {
				d.drain(batch)
				return
			}
			if len(batch) == 0 {
				flushTimer.Reset(d.cfg.BatchTimeout)
			}
			batch = append(batch, data)
			if len(batch) >= d.cfg.BatchSize {
				flush(context.Background())
			}
		case <-flushTimer.C:
			flush(context.Background())
		}
	}
}

// drain flushes the remaining batch plus anything still queued, bounded
// by 2x the batch timeout. Whatever cannot be delivered in time is
// dropped with kind "shutdown".
func (d *Dispatcher) drain(batch []json.RawMessage) {
	for data := range d.queue {
		batch = append(batch, data)
	}
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*d.cfg.BatchTimeout)
	defer cancel()

	for len(batch) > 0 {
		n := len(batch)
		if n > d.cfg.BatchSize {
			n = d.cfg.BatchSize
		}
		if ctx.Err() != nil {
			// One drop per undeliverable batch.
			for i := 0; i < len(batch); i += d.cfg.BatchSize {
				d.drop(DropShutdown)
			}
			return
		}
		d.deliver(ctx, batch[:n])
		batch = batch[n:]
	}
}

// deliver posts one batch, retrying transient failures with exponential
// backoff. 4xx responses are permanent and drop the batch immediately.
func (d *Dispatcher) deliver(ctx context.Context, batch []json.RawMessage) {
	body, err := json.Marshal(map[string]any{"events": batch})
	if err != nil {
		log.Printf("[webhook] marshal batch for %s: %v", d.cfg.URL, err)
		return
	}

	backoff := d.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		status, err := d.post(ctx, body)
		switch {
		case err == nil && status >= 200 && status < 300:
			return
		case err == nil && status >= 400 && status < 500:
			log.Printf("[webhook] %s rejected batch: HTTP %d", d.cfg.URL, status)
			d.drop(DropClientError)
			return
		}

		if attempt >= d.cfg.MaxRetries {
			if err != nil {
				log.Printf("[webhook] %s unreachable after %d retries: %v", d.cfg.URL, attempt, err)
			} else {
				log.Printf("[webhook] %s failing after %d retries: HTTP %d", d.cfg.URL, attempt, status)
			}
			d.drop(DropRetries)
			return
		}

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			d.drop(DropShutdown)
			return
		}
	}
}

func (d *Dispatcher) post(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range d.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.cfg.Client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (d *Dispatcher) drop(kind string) {
	if d.cfg.OnDrop != nil {
		d.cfg.OnDrop(kind)
	}
}

// Package orchestrator implements the Orchestrator: the bounded queue,
// concurrency limiter, rate limiter, and response cache that sit
// between the TriggerEngine and the ModelGateway.
package orchestrator

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/halvorsen/termpilot/internal/command"
	"github.com/halvorsen/termpilot/internal/gateway"
	"github.com/halvorsen/termpilot/internal/promptbuilder"
	"github.com/halvorsen/termpilot/internal/trigger"
)

// ErrQueueFull is returned by Submit when the bounded request queue has
// no room left; the caller is expected to drop the request rather than
// block the pipeline goroutine.
var ErrQueueFull = errors.New("orchestrator: request queue full")

// RequestState is the AnalysisRequest lifecycle.
type RequestState string

const (
	Queued      RequestState = "queued"
	Dispatching RequestState = "dispatching"
	CacheHit    RequestState = "cache_hit"
	Generating  RequestState = "generating"
	Completed   RequestState = "completed"
	Failed      RequestState = "failed"
	Cancelled   RequestState = "cancelled"
)

// Request is one analysis job: a trigger firing paired with the prompt
// it produces and the evolving state of its processing.
type Request struct {
	ID        string
	Firing    trigger.Firing
	Prompt    string
	State     RequestState
	Result    promptbuilder.Parsed
	Err       error
	SubmittedAt time.Time
}

// Event is published on the orchestrator's callback bus whenever a
// request transitions state.
type Event struct {
	Request Request
}

// Callback receives orchestrator events. Panics inside a callback are
// recovered and logged rather than crashing the dispatch loop.
type Callback func(Event)

type cacheEntry struct {
	resp    promptbuilder.Parsed
	expires time.Time
}

// Metrics are the cumulative counters plus the derived point-in-time
// gauges spec §4.8 enumerates alongside them.
type Metrics struct {
	Submitted int64
	QueueFull int64
	CacheHits int64
	CacheMiss int64
	Evictions int64
	Completed int64
	Failed    int64
	Cancelled int64

	// ActiveRequests is the number of requests currently past
	// dispatch and generating (holding a concurrency semaphore slot).
	ActiveRequests int
	// CacheSize is the number of unexpired entries in the response cache.
	CacheSize int
	// CacheHitRate is CacheHits / (CacheHits + CacheMiss), or 0 before
	// any lookup has been attempted.
	CacheHitRate float64
}

// Config tunes the orchestrator's bounds.
type Config struct {
	QueueCapacity   int
	MaxConcurrent   int64
	MinRequestGap   time.Duration
	CacheTTL        time.Duration
	CacheSweep      time.Duration
	MaxTokens       int
	Temperature     float64
}

// DefaultConfig returns the spec's default bounds: queue 50, concurrency
// 3, rate limit one request per 200ms (5/s), cache TTL 300s swept every 60s.
func DefaultConfig() Config {
	return Config{
		QueueCapacity: 50,
		MaxConcurrent: 3,
		MinRequestGap: 200 * time.Millisecond,
		CacheTTL:      300 * time.Second,
		CacheSweep:    60 * time.Second,
		MaxTokens:     512,
		Temperature:   0.3,
	}
}

// Orchestrator dispatches AnalysisRequests to the ModelGateway,
// enforcing a bounded queue, a concurrency semaphore, a minimum gap
// between dispatches, and a response cache keyed on prompt content.
type Orchestrator struct {
	cfg     Config
	gw      *gateway.Gateway
	log     *slog.Logger
	sem     *semaphore.Weighted

	queue chan Request

	mu        sync.Mutex
	cache     map[string]cacheEntry
	lastDispatch time.Time
	metrics   Metrics
	active    int
	callbacks map[trigger.Type][]Callback

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an Orchestrator bound to gw, starting its dispatch loop
// and cache-sweep goroutine.
func New(cfg Config, gw *gateway.Gateway, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:       cfg,
		gw:        gw,
		log:       log,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrent),
		queue:     make(chan Request, cfg.QueueCapacity),
		cache:     make(map[string]cacheEntry),
		callbacks: make(map[trigger.Type][]Callback),
		ctx:       ctx,
		cancel:    cancel,
	}

	o.wg.Add(2)
	go o.dispatchLoop()
	go o.cacheSweepLoop()

	return o
}

// RegisterCallback subscribes to events for the given trigger type.
func (o *Orchestrator) RegisterCallback(typ trigger.Type, cb Callback) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.callbacks[typ] = append(o.callbacks[typ], cb)
}

// Submit builds a prompt for the firing and enqueues it. Returns
// ErrQueueFull (after incrementing the queue_full metric) rather than
// blocking when the queue has no room.
func (o *Orchestrator) Submit(f trigger.Firing, rec command.Record, recent []command.Record, sc command.SessionContext) error {
	prompt := buildPrompt(f, rec, recent, sc)

	req := Request{
		ID:          promptKey(prompt),
		Firing:      f,
		Prompt:      prompt,
		State:       Queued,
		SubmittedAt: time.Now(),
	}

	o.mu.Lock()
	o.metrics.Submitted++
	o.mu.Unlock()

	select {
	case o.queue <- req:
		return nil
	default:
		o.mu.Lock()
		o.metrics.QueueFull++
		o.mu.Unlock()
		return ErrQueueFull
	}
}

func buildPrompt(f trigger.Firing, rec command.Record, recent []command.Record, sc command.SessionContext) string {
	switch f.Rule.TriggerType {
	case trigger.Dangerous:
		return promptbuilder.DangerousWarning(rec.Command, sc)
	case trigger.Error:
		return promptbuilder.ErrorAnalysis(rec, recent)
	case trigger.Manual:
		return promptbuilder.GeneralHelp(f.Rule.Description, sc, recent)
	default:
		if rec.ExitCode != 0 {
			return promptbuilder.ErrorAnalysis(rec, recent)
		}
		return promptbuilder.OutputAnalysis(rec, sc)
	}
}

func promptKey(prompt string) string {
	sum := md5.Sum([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// dispatchLoop drains the queue, resolves cache hits inline, and
// acquires a concurrency slot before spawning a goroutine to run the
// actual generation. Acquiring the slot here (not inside the spawned
// goroutine) means a saturated semaphore stalls queue draining, so
// QueueCapacity is real backpressure rather than just a channel size.
func (o *Orchestrator) dispatchLoop() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case req, ok := <-o.queue:
			if !ok {
				return
			}

			req.State = Dispatching
			o.publish(req)

			if cached, ok := o.lookupCache(req.ID); ok {
				o.mu.Lock()
				o.metrics.CacheHits++
				o.mu.Unlock()
				req.State = CacheHit
				req.Result = cached
				req.State = Completed
				o.publish(req)
				continue
			}
			o.mu.Lock()
			o.metrics.CacheMiss++
			o.mu.Unlock()

			// Acquiring here, before spawning, bounds how fast the
			// queue can drain into in-flight generations: once
			// MaxConcurrent requests are outstanding, further reads
			// block and the channel buffer (the actual queue) fills.
			if err := o.sem.Acquire(o.ctx, 1); err != nil {
				req.State = Cancelled
				o.mu.Lock()
				o.metrics.Cancelled++
				o.mu.Unlock()
				o.publish(req)
				continue
			}

			o.mu.Lock()
			o.active++
			o.mu.Unlock()

			o.wg.Add(1)
			go func(req Request) {
				defer o.wg.Done()
				defer o.sem.Release(1)
				defer func() {
					o.mu.Lock()
					o.active--
					o.mu.Unlock()
				}()
				o.process(req)
			}(req)
		}
	}
}

func (o *Orchestrator) process(req Request) {
	o.throttle()

	req.State = Generating
	o.publish(req)

	ctx, cancel := context.WithTimeout(o.ctx, 30*time.Second)
	defer cancel()

	resp, err := o.gw.Generate(ctx, req.Prompt, gateway.Options{Temperature: o.cfg.Temperature, MaxTokens: o.cfg.MaxTokens})
	if err != nil {
		req.State = Failed
		req.Err = err
		o.mu.Lock()
		o.metrics.Failed++
		o.mu.Unlock()
		o.log.Warn("model generation failed", "error", err, "trigger", req.Firing.Rule.Name)
		o.publish(req)
		return
	}

	parsed := promptbuilder.Parse(resp.Text)
	o.storeCache(req.ID, parsed)

	req.Result = parsed
	req.State = Completed
	o.mu.Lock()
	o.metrics.Completed++
	o.mu.Unlock()
	o.publish(req)
}

func (o *Orchestrator) throttle() {
	o.mu.Lock()
	wait := o.cfg.MinRequestGap - time.Since(o.lastDispatch)
	if wait < 0 {
		wait = 0
	}
	o.lastDispatch = time.Now().Add(wait)
	o.mu.Unlock()

	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-o.ctx.Done():
		}
	}
}

func (o *Orchestrator) lookupCache(key string) (promptbuilder.Parsed, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.cache[key]
	if !ok || time.Now().After(entry.expires) {
		return promptbuilder.Parsed{}, false
	}
	return entry.resp, true
}

func (o *Orchestrator) storeCache(key string, resp promptbuilder.Parsed) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cache[key] = cacheEntry{resp: resp, expires: time.Now().Add(o.cfg.CacheTTL)}
}

func (o *Orchestrator) cacheSweepLoop() {
	defer o.wg.Done()
	interval := o.cfg.CacheSweep
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case now := <-ticker.C:
			o.sweep(now)
		}
	}
}

func (o *Orchestrator) sweep(now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for k, entry := range o.cache {
		if now.After(entry.expires) {
			delete(o.cache, k)
			o.metrics.Evictions++
		}
	}
}

func (o *Orchestrator) publish(req Request) {
	o.mu.Lock()
	cbs := append([]Callback{}, o.callbacks[req.Firing.Rule.TriggerType]...)
	o.mu.Unlock()

	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.log.Warn("orchestrator callback panicked", "recover", r)
				}
			}()
			cb(Event{Request: req})
		}()
	}
}

// Metrics returns a snapshot of the cumulative counters plus the
// derived active_requests, cache_size, and cache_hit_rate gauges.
func (o *Orchestrator) Metrics() Metrics {
	o.mu.Lock()
	defer o.mu.Unlock()

	m := o.metrics
	m.ActiveRequests = o.active
	m.CacheSize = len(o.cache)
	if total := m.CacheHits + m.CacheMiss; total > 0 {
		m.CacheHitRate = float64(m.CacheHits) / float64(total)
	}
	return m
}

// Stop cancels in-flight work and waits for the dispatch and sweep
// goroutines to exit.
func (o *Orchestrator) Stop() {
	o.cancel()
	o.wg.Wait()
}

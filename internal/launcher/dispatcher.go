package launcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stellarlink/agentfleet/internal/agent"
)

var (
	// ErrQueueFull is returned when the launch queue cannot accept more work.
	ErrQueueFull = errors.New("launch queue is full")
	// ErrQueueClosed is returned after the dispatcher shut down.
	ErrQueueClosed = errors.New("launch queue is closed")
)

// LaunchFunc starts one agent. The dispatcher retries it on failure.
type LaunchFunc func(ctx context.Context, spec agent.Spec) error

// DispatcherConfig controls the launch dispatcher.
type DispatcherConfig struct {
	Workers           int
	QueueSize         int
	MaxAttempts       int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// Dispatcher launches agents through a bounded worker pool, serializing
// launches per role so window names never collide, and retrying failures
// with exponential backoff.
type Dispatcher struct {
	launch LaunchFunc
	cfg    DispatcherConfig
	log    *zap.Logger

	queue      chan *launchItem
	keyedLocks *keyedMutex

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

type launchItem struct {
	spec    agent.Spec
	attempt int
}

// NewDispatcher creates a dispatcher and starts its workers.
func NewDispatcher(launch LaunchFunc, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	normalized := normalizeDispatcherConfig(cfg)
	d := &Dispatcher{
		launch:     launch,
		cfg:        normalized,
		log:        logger,
		queue:      make(chan *launchItem, normalized.QueueSize),
		keyedLocks: newKeyedMutex(),
		stopCh:     make(chan struct{}),
	}
	d.startWorkers()
	return d
}

func normalizeDispatcherConfig(cfg DispatcherConfig) DispatcherConfig {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 2 * time.Second
	}
	if cfg.BackoffMultiplier <= 1 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return cfg
}

func (d *Dispatcher) startWorkers() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Enqueue queues an agent launch.
func (d *Dispatcher) Enqueue(spec agent.Spec) error {
	select {
	case <-d.stopCh:
		return ErrQueueClosed
	default:
	}

	select {
	case d.queue <- &launchItem{spec: spec, attempt: 1}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopCh:
			return
		case item, ok := <-d.queue:
			if !ok {
				return
			}
			d.process(item)
		}
	}
}

func (d *Dispatcher) process(item *launchItem) {
	d.keyedLocks.Lock(item.spec.Role)
	err := d.launch(context.Background(), item.spec)
	d.keyedLocks.Unlock(item.spec.Role)

	if err != nil {
		d.log.Warn("agent launch failed",
			zap.String("agent", item.spec.ID),
			zap.Int("attempt", item.attempt),
			zap.Error(err))
		d.handleRetry(item)
		return
	}

	d.log.Info("agent launched",
		zap.String("agent", item.spec.ID),
		zap.Int("attempt", item.attempt))
}

func (d *Dispatcher) handleRetry(item *launchItem) {
	if item.attempt >= d.cfg.MaxAttempts {
		d.log.Error("agent launch exceeded max attempts",
			zap.String("agent", item.spec.ID),
			zap.Int("max_attempts", d.cfg.MaxAttempts))
		return
	}

	next := &launchItem{spec: item.spec, attempt: item.attempt + 1}
	delay := d.backoffDuration(next.attempt)

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			d.enqueueRetry(next)
		case <-d.stopCh:
			return
		}
	}()
}

func (d *Dispatcher) enqueueRetry(item *launchItem) {
	for {
		select {
		case <-d.stopCh:
			return
		case d.queue <- item:
			return
		default:
			time.Sleep(100 * time.Millisecond)
		}
	}
}

func (d *Dispatcher) backoffDuration(attempt int) time.Duration {
	backoff := float64(d.cfg.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= d.cfg.BackoffMultiplier
		if backoff >= float64(d.cfg.MaxBackoff) {
			return d.cfg.MaxBackoff
		}
	}
	return time.Duration(backoff)
}

// Shutdown stops the workers and waits for in-flight launches, bounded by
// ctx.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.once.Do(func() {
		close(d.stopCh)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.wg.Wait()
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) Lock(key string) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
}

func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	m, ok := k.locks[key]
	k.mu.Unlock()

	if !ok {
		return
	}
	m.Unlock()
}

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/fing-bridge/internal/fing"
)

// DefaultInterval is used when Options.Interval is zero.
const DefaultInterval = 30 * time.Second

// ErrNoUpdateFunc is returned by New when Options.Update is nil.
var ErrNoUpdateFunc = errors.New("coordinator: update function is required")

// Logger defines the logging interface used by the coordinator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Snapshot is the result of one successful poll. It is never modified after
// it has been published; readers may hold on to it.
type Snapshot struct {
	Devices   fing.DeviceCollection
	Agent     *fing.Agent
	FetchedAt time.Time

	// Duration is how long the update took, set by the coordinator if zero.
	Duration time.Duration
}

// UpdateFunc produces the next snapshot.
type UpdateFunc func(ctx context.Context) (*Snapshot, error)

// Listener is called after every successful poll with the new snapshot.
type Listener func(*Snapshot)

// Options configures a Coordinator.
type Options struct {
	// Name appears in log lines, typically the entry title.
	Name string

	// Interval between polls. Default: 30 seconds.
	Interval time.Duration

	// Update fetches a fresh snapshot. Required.
	Update UpdateFunc

	// Logger (optional).
	Logger Logger
}

// Coordinator polls on a fixed interval and caches the last good snapshot.
//
// A failed poll leaves the previous snapshot in place and records the error.
// Listeners run synchronously, in registration order, only after a
// successful poll. Polls never overlap.
type Coordinator struct {
	name     string
	interval time.Duration
	update   UpdateFunc
	logger   Logger

	data        atomic.Pointer[Snapshot]
	lastSuccess atomic.Bool

	errMu   sync.RWMutex
	lastErr error

	refreshMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   map[int]Listener
	nextID      int

	started   atomic.Bool
	ctxCancel context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// New creates a coordinator. Call FirstRefresh and then Start.
func New(opts Options) (*Coordinator, error) {
	if opts.Update == nil {
		return nil, ErrNoUpdateFunc
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	return &Coordinator{
		name:      opts.Name,
		interval:  interval,
		update:    opts.Update,
		logger:    logger,
		listeners: make(map[int]Listener),
		done:      make(chan struct{}),
	}, nil
}

// Interval returns the poll interval.
func (c *Coordinator) Interval() time.Duration {
	return c.interval
}

// FirstRefresh performs the initial poll. A failure is returned so the
// caller can log it, but the coordinator stays usable and later polls may recover.
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	return c.Refresh(ctx)
}

// Refresh polls once and publishes the result.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	start := time.Now()
	snap, err := c.update(ctx)
	if err == nil && snap == nil {
		err = fmt.Errorf("coordinator %s: update returned no data", c.name)
	}
	if err != nil {
		c.setError(err)
		c.lastSuccess.Store(false)
		c.logger.Warn("poll failed", "coordinator", c.name, "error", err)
		return err
	}

	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = time.Now().UTC()
	}
	if snap.Duration == 0 {
		snap.Duration = time.Since(start)
	}
	c.data.Store(snap)
	c.setError(nil)
	c.lastSuccess.Store(true)

	c.logger.Debug("poll complete",
		"coordinator", c.name,
		"devices", snap.Devices.Len(),
		"duration_ms", snap.Duration.Milliseconds())

	c.notify(snap)
	return nil
}

// Start begins periodic polling. It returns immediately; calling it twice is a no-op.
func (c *Coordinator) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.ctxCancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.loop(loopCtx)
	}()

	c.logger.Info("polling started", "coordinator", c.name, "interval", c.interval.String())
}

func (c *Coordinator) loop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			_ = c.Refresh(ctx) //nolint:errcheck // recorded in LastError and logged
		}
	}
}

// Stop halts polling and waits for an in-flight poll to return. Safe to call more than once.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		if c.ctxCancel != nil {
			c.ctxCancel()
		}
		c.wg.Wait()
		c.logger.Info("polling stopped", "coordinator", c.name)
	})
}

// Data returns the last good snapshot, or nil before the first success.
func (c *Coordinator) Data() *Snapshot {
	return c.data.Load()
}

// LastUpdateSuccess reports whether the most recent poll succeeded.
func (c *Coordinator) LastUpdateSuccess() bool {
	return c.lastSuccess.Load()
}

// LastError returns the most recent poll's error, or nil after a success.
func (c *Coordinator) LastError() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.lastErr
}

func (c *Coordinator) setError(err error) {
	c.errMu.Lock()
	c.lastErr = err
	c.errMu.Unlock()
}

// AddListener registers fn for successful polls. The returned func removes it.
func (c *Coordinator) AddListener(fn Listener) (remove func()) {
	c.listenersMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.listenersMu.Unlock()

	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

func (c *Coordinator) notify(snap *Snapshot) {
	c.listenersMu.RLock()
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	fns := make([]Listener, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, c.listeners[id])
	}
	c.listenersMu.RUnlock()

	for _, fn := range fns {
		c.safeCall(fn, snap)
	}
}

// safeCall keeps a panicking listener from taking down the poll loop.
func (c *Coordinator) safeCall(fn Listener, snap *Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("listener panicked", "coordinator", c.name, "panic", r)
		}
	}()
	fn(snap)
}

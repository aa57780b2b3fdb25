package entry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/fing-bridge/internal/coordinator"
	"github.com/nerrad567/fing-bridge/internal/entity"
	"github.com/nerrad567/fing-bridge/internal/fing"
	"github.com/nerrad567/fing-bridge/internal/infrastructure/config"
)

// Logger defines the logging interface used by the entry manager.
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

// maxConcurrentSetups bounds SetupAll so a large entry list does not hit
// every agent at once.
const maxConcurrentSetups = 4

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Repo stores the entries. Required.
	Repo Repository

	// RetryPolicy overrides the agent client's retry policy (optional).
	RetryPolicy *fing.RetryPolicy

	// UpstreamFactory replaces the HTTP agent client (optional, used in tests).
	UpstreamFactory fing.UpstreamFactory

	// InsecureSkipVerify is applied to every entry that uses TLS.
	InsecureSkipVerify bool

	// AssumeOnline is the presence reported for devices without a usable status.
	AssumeOnline bool

	// Prober checks connectivity in Create. Defaults to one device-list call.
	Prober Prober

	// Observers are told about every entry's lifecycle.
	Observers []Observer

	Logger Logger
}

// Manager sets up, tracks and unloads configuration entries.
type Manager struct {
	repo               Repository
	retryPolicy        *fing.RetryPolicy
	upstreamFactory    fing.UpstreamFactory
	insecureSkipVerify bool
	assumeOnline       bool
	prober             Prober
	observers          *observerSet
	logger             Logger

	mu       sync.RWMutex
	runtimes map[string]*Runtime
	pending  map[string]struct{}
}

// NewManager creates a Manager. No entry is set up until Setup or SetupAll.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Repo == nil {
		return nil, errors.New("entry manager: repository is required")
	}

	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	m := &Manager{
		repo:               opts.Repo,
		retryPolicy:        opts.RetryPolicy,
		upstreamFactory:    opts.UpstreamFactory,
		insecureSkipVerify: opts.InsecureSkipVerify,
		assumeOnline:       opts.AssumeOnline,
		prober:             opts.Prober,
		observers:          &observerSet{logger: logger},
		logger:             logger,
		runtimes:           make(map[string]*Runtime),
		pending:            make(map[string]struct{}),
	}
	for _, o := range opts.Observers {
		m.observers.add(o)
	}
	if m.prober == nil {
		m.prober = m.probe
	}
	return m, nil
}

// AddObserver registers an observer for all current and future entries.
func (m *Manager) AddObserver(o Observer) {
	m.observers.add(o)
}

// newAPI builds the agent client for one entry.
func (m *Manager) newAPI(cfg Config, policy fing.RetryPolicy) *fing.API {
	cc := cfg.ClientConfig()
	cc.InsecureSkipVerify = m.insecureSkipVerify

	opts := []fing.Option{fing.WithLogger(m.logger), fing.WithRetryPolicy(policy)}
	if m.upstreamFactory != nil {
		opts = append(opts, fing.WithUpstreamFactory(m.upstreamFactory))
	}
	return fing.NewAPI(cc, opts...)
}

// pollPolicy is the retry policy used by polling entries.
func (m *Manager) pollPolicy() fing.RetryPolicy {
	if m.retryPolicy != nil {
		return *m.retryPolicy
	}
	return fing.DefaultRetryPolicy()
}

// probe is the default Prober. It makes a single device-list call so a
// setup request fails fast on an unreachable agent.
func (m *Manager) probe(ctx context.Context, cfg Config) bool {
	policy := m.pollPolicy()
	policy.MaxAttempts = 1
	api := m.newAPI(cfg, policy)
	defer api.Close()
	return api.TestConnection(ctx)
}

// Setup brings one entry up: it builds the agent client and coordinator,
// runs the first poll, registers the entities in the background and starts
// polling.
//
// A failed first poll is logged and setup continues; the coordinator keeps
// retrying on its interval. Polling outlives ctx; use Unload to stop it.
func (m *Manager) Setup(ctx context.Context, e Entry) (*Runtime, error) {
	e.Data.ApplyDefaults()
	if err := e.Data.Validate(); err != nil {
		return nil, fmt.Errorf("entry %s: %w", e.ID, err)
	}

	if err := m.reserve(e.ID); err != nil {
		return nil, err
	}
	defer m.release(e.ID)

	m.logger.Info("setting up entry", "entry_id", e.ID, "title", e.Title, "host", e.Data.Host, "port", e.Data.Port)

	rt := newRuntime(e, m.newAPI(e.Data, m.pollPolicy()), m.assumeOnline, m.observers, m.logger)

	coord, err := coordinator.New(coordinator.Options{
		Name:     e.Title,
		Interval: time.Duration(e.Data.ScanInterval) * time.Second,
		Update:   rt.update,
		Logger:   m.logger,
	})
	if err != nil {
		rt.api.Close()
		return nil, fmt.Errorf("creating coordinator for entry %s: %w", e.ID, err)
	}
	rt.coordinator = coord

	if err := coord.FirstRefresh(ctx); err != nil {
		m.logger.Warn("initial data refresh failed, will retry on next poll", "entry_id", e.ID, "error", err)
	}

	rt.seedPrevious(coord.Data())
	rt.removeListener = coord.AddListener(rt.pollCompleted)

	background := context.WithoutCancel(ctx)
	platformCtx, cancel := context.WithCancel(background)
	rt.cancelPlatform = cancel
	rt.platformDone = entity.Setup(platformCtx, entity.PlatformOptions{
		EntryID:  e.ID,
		Snapshot: coord.Data(),
		Factory: entity.FactoryOptions{
			ExcludeUnknown: e.Data.ExcludeUnknownDevices,
			Previous:       rt.PreviousKeys(),
			AssumeOnline:   m.assumeOnline,
		},
		Alert:  rt,
		Logger: m.logger,
	}, rt.addEntities)

	coord.Start(background)

	m.mu.Lock()
	m.runtimes[e.ID] = rt
	m.mu.Unlock()

	m.logger.Info("entry set up", "entry_id", e.ID, "interval", coord.Interval().String(), "alert_mode", rt.AlertMode())
	return rt, nil
}

// reserve marks id as being set up.
func (m *Manager) reserve(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runtimes[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyLoaded, id)
	}
	if _, ok := m.pending[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyLoaded, id)
	}
	m.pending[id] = struct{}{}
	return nil
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

// Unload stops polling for an entry, waits for its entity setup to finish,
// tells the observers and closes the agent client.
func (m *Manager) Unload(ctx context.Context, id string) error {
	m.mu.Lock()
	rt, ok := m.runtimes[id]
	delete(m.runtimes, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLoaded, id)
	}

	rt.coordinator.Stop()
	rt.removeListener()
	rt.cancelPlatform()

	select {
	case <-rt.platformDone:
	case <-ctx.Done():
		m.logger.Warn("entity setup still running at unload", "entry_id", id)
	}

	rt.observers.each(func(o Observer) { o.EntryUnloaded(rt) })
	rt.api.Close()

	m.logger.Info("entry unloaded", "entry_id", id)
	return nil
}

// SetupAll sets up every stored entry concurrently. A failing entry is
// logged and does not stop the others; the failures are returned joined.
func (m *Manager) SetupAll(ctx context.Context) error {
	entries, err := m.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("listing entries: %w", err)
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(maxConcurrentSetups)
	for _, e := range entries {
		g.Go(func() error {
			if _, err := m.Setup(ctx, e); err != nil {
				m.logger.Error("entry setup failed", "entry_id", e.ID, "error", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // goroutines never return an error

	m.logger.Info("entries set up", "total", len(entries), "failed", len(errs))
	return errors.Join(errs...)
}

// SeedFileEntries stores the entries declared in the config file that are
// not stored yet. Each gets a stable ID derived from host and port. It
// returns how many were inserted.
func (m *Manager) SeedFileEntries(ctx context.Context, entries []config.EntryConfig) (int, error) {
	inserted := 0
	for _, ec := range entries {
		cfg := Config{
			Host:                  ec.Host,
			Port:                  ec.Port,
			APIKey:                ec.APIKey,
			ScanInterval:          ec.ScanInterval,
			EnableNotifications:   ec.EnableNotifications,
			ExcludeUnknownDevices: ec.ExcludeUnknownDevices,
			UseTLS:                ec.UseTLS,
		}
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			return inserted, fmt.Errorf("file entry %s: %w", ec.Host, err)
		}

		e := &Entry{
			ID:     FileEntryID(cfg.Host, cfg.Port),
			Title:  ec.Title,
			Data:   cfg,
			Source: SourceFile,
		}
		ok, err := m.repo.CreateIfNotExists(ctx, e)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
			m.logger.Info("seeded entry from config file", "entry_id", e.ID, "host", cfg.Host)
		}
	}
	return inserted, nil
}

// Create runs the setup flow: it validates cfg, probes the agent, stores
// the entry and sets it up.
//
// When the probe fails the returned map holds {"base": "cannot_connect"}
// and the error is ErrCannotConnect. Invalid input returns the validation
// error and a nil map.
func (m *Manager) Create(ctx context.Context, title string, cfg Config) (*Entry, map[string]string, error) {
	cfg.ApplyDefaults()
	formErrs, err := ValidateInput(ctx, cfg, m.prober)
	if err != nil {
		return nil, nil, err
	}
	if formErrs != nil {
		return nil, formErrs, ErrCannotConnect
	}

	e := &Entry{Title: title, Data: cfg, Source: SourceUser}
	if err := m.repo.Create(ctx, e); err != nil {
		return nil, nil, err
	}
	if _, err := m.Setup(ctx, *e); err != nil {
		return e, nil, fmt.Errorf("setting up entry %s: %w", e.ID, err)
	}
	return e, nil, nil
}

// Delete unloads an entry if it is loaded and removes it from the store.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.Unload(ctx, id); err != nil && !errors.Is(err, ErrNotLoaded) {
		return err
	}
	return m.repo.Delete(ctx, id)
}

// Refresh polls an entry now instead of waiting for the next interval.
func (m *Manager) Refresh(ctx context.Context, id string) error {
	rt, ok := m.Runtime(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLoaded, id)
	}
	return rt.coordinator.Refresh(ctx)
}

// Runtime returns the runtime of a loaded entry.
func (m *Manager) Runtime(id string) (*Runtime, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.runtimes[id]
	return rt, ok
}

// Runtimes returns every loaded runtime ordered by entry ID.
func (m *Manager) Runtimes() []*Runtime {
	m.mu.RLock()
	list := make([]*Runtime, 0, len(m.runtimes))
	for _, rt := range m.runtimes {
		list = append(list, rt)
	}
	m.mu.RUnlock()

	slices.SortFunc(list, func(a, b *Runtime) int {
		return strings.Compare(a.ID(), b.ID())
	})
	return list
}

// Repository returns the entry store.
func (m *Manager) Repository() Repository {
	return m.repo
}

// Close unloads every entry.
func (m *Manager) Close(ctx context.Context) {
	for _, rt := range m.Runtimes() {
		if err := m.Unload(ctx, rt.ID()); err != nil {
			m.logger.Warn("unloading entry", "entry_id", rt.ID(), "error", err)
		}
	}
}

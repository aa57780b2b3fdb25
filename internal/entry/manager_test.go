package entry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/fing-bridge/internal/coordinator"
	"github.com/nerrad567/fing-bridge/internal/entity"
	"github.com/nerrad567/fing-bridge/internal/fing"
	"github.com/nerrad567/fing-bridge/internal/infrastructure/config"
)

// fakeAgent is an in-memory Fing agent.
type fakeAgent struct {
	mu      sync.Mutex
	devices string
	agent   string
	err     error
	calls   int
}

func (f *fakeAgent) Devices(context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.devices), nil
}

func (f *fakeAgent) AgentInfo(context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.agent), nil
}

func (f *fakeAgent) set(devices string, err error) {
	f.mu.Lock()
	f.devices, f.err = devices, err
	f.mu.Unlock()
}

// recordingObserver captures every callback.
type recordingObserver struct {
	BaseObserver

	mu       sync.Mutex
	added    chan []entity.Entity
	events   []NewDeviceEvent
	polls    int
	alerts   []bool
	unloaded []string
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{added: make(chan []entity.Entity, 8)}
}

func (o *recordingObserver) EntitiesAdded(_ *Runtime, entities []entity.Entity) {
	o.added <- entities
}

func (o *recordingObserver) PollCompleted(*Runtime, *coordinator.Snapshot) {
	o.mu.Lock()
	o.polls++
	o.mu.Unlock()
}

func (o *recordingObserver) NewDevice(_ *Runtime, ev NewDeviceEvent) {
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()
}

func (o *recordingObserver) AlertModeChanged(_ *Runtime, on bool) {
	o.mu.Lock()
	o.alerts = append(o.alerts, on)
	o.mu.Unlock()
}

func (o *recordingObserver) EntryUnloaded(rt *Runtime) {
	o.mu.Lock()
	o.unloaded = append(o.unloaded, rt.ID())
	o.mu.Unlock()
}

func (o *recordingObserver) newDevices() []NewDeviceEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]NewDeviceEvent(nil), o.events...)
}

func (o *recordingObserver) waitEntities(t *testing.T) []entity.Entity {
	t.Helper()
	select {
	case entities := <-o.added:
		return entities
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for entities")
		return nil
	}
}

const (
	oneDevice  = `{"devices":[{"mac":"AA:BB:CC:DD:EE:01","hostname":"nas","online":true}]}`
	twoDevices = `{"devices":[
		{"mac":"AA:BB:CC:DD:EE:01","hostname":"nas","online":true},
		{"mac":"AA:BB:CC:DD:EE:02","ip_address":"192.168.1.20","vendor":"Apple","online":true}
	]}`
	agentInfo = `{"ip":"http://192.168.1.2","model_name":"Fingbox","state":"running"}`
)

func newTestManager(t *testing.T, agent *fakeAgent, observers ...Observer) *Manager {
	t.Helper()

	m, err := NewManager(ManagerOptions{
		Repo: NewSQLiteRepository(setupTestDB(t)),
		RetryPolicy: &fing.RetryPolicy{
			MaxAttempts:    1,
			AttemptTimeout: time.Second,
			Sleep:          func(context.Context, time.Duration) error { return nil },
		},
		UpstreamFactory: func(fing.ClientConfig) (fing.Upstream, error) { return agent, nil },
		AssumeOnline:    true,
		Observers:       observers,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() { m.Close(context.Background()) })
	return m
}

func testEntry(id string) Entry {
	return Entry{ID: id, Title: DefaultTitle, Data: testConfig()}
}

func TestNewManager_RequiresRepository(t *testing.T) {
	if _, err := NewManager(ManagerOptions{}); err == nil {
		t.Error("NewManager() without repository should fail")
	}
}

func TestManager_SetupAndUnload(t *testing.T) {
	agent := &fakeAgent{devices: twoDevices, agent: agentInfo}
	obs := newRecordingObserver()
	m := newTestManager(t, agent, obs)
	ctx := context.Background()

	e := testEntry("entry-1")
	e.Data.EnableNotifications = false
	rt, err := m.Setup(ctx, e)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	entities := obs.waitEntities(t)
	// 2 devices x 4 entities, 7 agent sensors, 1 switch.
	if len(entities) != 16 {
		t.Errorf("registered %d entities, want 16", len(entities))
	}
	if len(rt.Entities()) != 16 {
		t.Errorf("Runtime.Entities() = %d, want 16", len(rt.Entities()))
	}
	if _, ok := rt.Switch(); !ok {
		t.Error("alert-mode switch not registered")
	}

	snap := rt.Data()
	if snap == nil || snap.Devices.Len() != 2 {
		t.Fatalf("Data() = %+v, want two devices", snap)
	}
	if got := snap.Agent.Value(fing.AgentIP); got != "192.168.1.2" {
		t.Errorf("agent ip = %v, want 192.168.1.2", got)
	}
	if len(rt.PreviousKeys()) != 2 {
		t.Errorf("previous snapshot has %d keys, want 2", len(rt.PreviousKeys()))
	}

	if _, err := m.Setup(ctx, e); !errors.Is(err, ErrAlreadyLoaded) {
		t.Errorf("second Setup() error = %v, want ErrAlreadyLoaded", err)
	}

	if err := m.Unload(ctx, e.ID); err != nil {
		t.Fatalf("Unload() error = %v", err)
	}
	if _, ok := m.Runtime(e.ID); ok {
		t.Error("runtime still present after Unload()")
	}
	if err := m.Unload(ctx, e.ID); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("second Unload() error = %v, want ErrNotLoaded", err)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.unloaded) != 1 || obs.unloaded[0] != e.ID {
		t.Errorf("unloaded = %v, want [%s]", obs.unloaded, e.ID)
	}
}

func TestManager_SetupInvalidEntry(t *testing.T) {
	m := newTestManager(t, &fakeAgent{devices: oneDevice})

	e := testEntry("bad")
	e.Data.Host = ""
	if _, err := m.Setup(context.Background(), e); !errors.Is(err, ErrHostRequired) {
		t.Errorf("Setup() error = %v, want ErrHostRequired", err)
	}
	if _, ok := m.Runtime("bad"); ok {
		t.Error("invalid entry was loaded")
	}
}

func TestManager_FirstRefreshFailureContinues(t *testing.T) {
	agent := &fakeAgent{err: errors.New("connection refused")}
	obs := newRecordingObserver()
	m := newTestManager(t, agent, obs)
	ctx := context.Background()

	rt, err := m.Setup(ctx, testEntry("entry-1"))
	if err != nil {
		t.Fatalf("Setup() error = %v, want setup to continue", err)
	}
	if rt.Data() != nil {
		t.Error("Data() should be nil after failed first refresh")
	}
	if rt.Coordinator().LastUpdateSuccess() {
		t.Error("LastUpdateSuccess() = true after failed first refresh")
	}

	// Agent sensors and the switch are registered even without devices.
	if got := len(obs.waitEntities(t)); got != 8 {
		t.Errorf("registered %d entities, want 8", got)
	}

	agent.set(oneDevice, nil)
	if err := m.Refresh(ctx, "entry-1"); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if snap := rt.Data(); snap == nil || snap.Devices.Len() != 1 {
		t.Errorf("Data() after recovery = %+v, want one device", snap)
	}
}

func TestManager_NewDeviceNotification(t *testing.T) {
	agent := &fakeAgent{devices: oneDevice, agent: agentInfo}
	obs := newRecordingObserver()
	m := newTestManager(t, agent, obs)
	ctx := context.Background()

	e := testEntry("entry-1")
	e.Data.EnableNotifications = true
	rt, err := m.Setup(ctx, e)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !rt.AlertMode() {
		t.Fatal("alert mode should start from enable_notifications")
	}
	if got := obs.newDevices(); len(got) != 0 {
		t.Fatalf("first refresh emitted %d events, want 0", len(got))
	}

	agent.set(twoDevices, nil)
	if err := m.Refresh(ctx, e.ID); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	events := obs.newDevices()
	if len(events) != 1 {
		t.Fatalf("got %d new_device events, want 1: %+v", len(events), events)
	}
	want := NewDeviceEvent{
		DeviceID:   "AA:BB:CC:DD:EE:02",
		Hostname:   "Unknown",
		MACAddress: "AA:BB:CC:DD:EE:02",
		IPAddress:  "192.168.1.20",
		Vendor:     "Apple",
	}
	if events[0] != want {
		t.Errorf("event = %+v, want %+v", events[0], want)
	}

	if err := m.Refresh(ctx, e.ID); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got := len(obs.newDevices()); got != 1 {
		t.Errorf("unchanged poll emitted events: total %d, want 1", got)
	}
}

func TestManager_AlertModeOffKeepsPrevious(t *testing.T) {
	agent := &fakeAgent{devices: oneDevice}
	obs := newRecordingObserver()
	m := newTestManager(t, agent, obs)
	ctx := context.Background()

	rt, err := m.Setup(ctx, testEntry("entry-1"))
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	rt.SetAlertMode(false)

	agent.set(twoDevices, nil)
	if err := m.Refresh(ctx, "entry-1"); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got := len(obs.newDevices()); got != 0 {
		t.Errorf("alert mode off emitted %d events", got)
	}
	if got := len(rt.PreviousKeys()); got != 1 {
		t.Errorf("previous snapshot has %d keys, want 1 (unchanged)", got)
	}

	// Turning alert mode on reports the device that arrived while it was off.
	rt.SetAlertMode(true)
	if err := m.Refresh(ctx, "entry-1"); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got := len(obs.newDevices()); got != 1 {
		t.Errorf("got %d events after enabling alert mode, want 1", got)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.alerts) != 2 || obs.alerts[0] || !obs.alerts[1] {
		t.Errorf("alert changes = %v, want [false true]", obs.alerts)
	}
}

func TestManager_SwitchTogglesAlertMode(t *testing.T) {
	obs := newRecordingObserver()
	m := newTestManager(t, &fakeAgent{devices: oneDevice}, obs)

	rt, err := m.Setup(context.Background(), testEntry("entry-1"))
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	obs.waitEntities(t)

	sw, ok := rt.Switch()
	if !ok {
		t.Fatal("switch not registered")
	}
	sw.TurnOff()
	if rt.AlertMode() {
		t.Error("TurnOff() did not disable alert mode")
	}
	sw.TurnOn()
	if !rt.AlertMode() {
		t.Error("TurnOn() did not enable alert mode")
	}
}

func TestManager_CreateProbesOnce(t *testing.T) {
	agent := &fakeAgent{err: errors.New("connection refused")}
	var sleeps atomic.Int32

	m, err := NewManager(ManagerOptions{
		Repo: NewSQLiteRepository(setupTestDB(t)),
		RetryPolicy: &fing.RetryPolicy{
			MaxAttempts:    3,
			AttemptTimeout: time.Second,
			Sleep: func(context.Context, time.Duration) error {
				sleeps.Add(1)
				return nil
			},
		},
		UpstreamFactory: func(fing.ClientConfig) (fing.Upstream, error) { return agent, nil },
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() { m.Close(context.Background()) })

	if _, _, err := m.Create(context.Background(), DefaultTitle, testConfig()); !errors.Is(err, ErrCannotConnect) {
		t.Fatalf("Create() error = %v, want ErrCannotConnect", err)
	}

	agent.mu.Lock()
	calls := agent.calls
	agent.mu.Unlock()
	if calls != 1 {
		t.Errorf("device list calls = %d, want 1", calls)
	}
	if n := sleeps.Load(); n != 0 {
		t.Errorf("retry sleeps = %d, want 0", n)
	}
}

func TestManager_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("cannot connect", func(t *testing.T) {
		m := newTestManager(t, &fakeAgent{err: errors.New("connection refused")})

		e, formErrs, err := m.Create(ctx, DefaultTitle, testConfig())
		if !errors.Is(err, ErrCannotConnect) {
			t.Fatalf("Create() error = %v, want ErrCannotConnect", err)
		}
		if e != nil || formErrs[ErrorKeyBase] != ErrorCannotConnect {
			t.Errorf("Create() = %v, %v", e, formErrs)
		}
		if entries, _ := m.Repository().List(ctx); len(entries) != 0 {
			t.Errorf("stored %d entries, want 0", len(entries))
		}
	})

	t.Run("invalid input", func(t *testing.T) {
		m := newTestManager(t, &fakeAgent{devices: oneDevice})

		_, formErrs, err := m.Create(ctx, DefaultTitle, Config{Host: "h"})
		if !errors.Is(err, ErrAPIKeyRequired) || formErrs != nil {
			t.Errorf("Create() = %v, %v; want ErrAPIKeyRequired", formErrs, err)
		}
	})

	t.Run("success", func(t *testing.T) {
		m := newTestManager(t, &fakeAgent{devices: oneDevice})

		cfg := testConfig()
		cfg.Port = 0
		e, formErrs, err := m.Create(ctx, "", cfg)
		if err != nil || formErrs != nil {
			t.Fatalf("Create() = %v, %v", formErrs, err)
		}
		if e.Title != DefaultTitle || e.Data.Port != DefaultPort {
			t.Errorf("created entry = %+v", e)
		}
		if _, ok := m.Runtime(e.ID); !ok {
			t.Error("created entry is not loaded")
		}

		if err := m.Delete(ctx, e.ID); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, ok := m.Runtime(e.ID); ok {
			t.Error("deleted entry is still loaded")
		}
		if _, err := m.Repository().Get(ctx, e.ID); !errors.Is(err, ErrEntryNotFound) {
			t.Errorf("Get() after Delete() error = %v", err)
		}
	})
}

func TestManager_SeedAndSetupAll(t *testing.T) {
	m := newTestManager(t, &fakeAgent{devices: oneDevice})
	ctx := context.Background()

	files := []config.EntryConfig{
		{Title: "Office", Host: "10.0.0.1", APIKey: "k"},
		{Title: "Home", Host: "10.0.0.2", Port: 8080, APIKey: "k", ScanInterval: 10},
	}

	n, err := m.SeedFileEntries(ctx, files)
	if err != nil || n != 2 {
		t.Fatalf("SeedFileEntries() = %d, %v; want 2, nil", n, err)
	}
	n, err = m.SeedFileEntries(ctx, files)
	if err != nil || n != 0 {
		t.Fatalf("second SeedFileEntries() = %d, %v; want 0, nil", n, err)
	}

	if err := m.SetupAll(ctx); err != nil {
		t.Fatalf("SetupAll() error = %v", err)
	}
	runtimes := m.Runtimes()
	if len(runtimes) != 2 {
		t.Fatalf("loaded %d runtimes, want 2", len(runtimes))
	}

	rt, ok := m.Runtime(FileEntryID("10.0.0.1", DefaultPort))
	if !ok {
		t.Fatal("office entry not loaded under its file ID")
	}
	if rt.Entry().Source != SourceFile || rt.Coordinator().Interval() != 30*time.Second {
		t.Errorf("office entry = %+v, interval %v", rt.Entry(), rt.Coordinator().Interval())
	}

	m.Close(ctx)
	if len(m.Runtimes()) != 0 {
		t.Error("Close() left runtimes loaded")
	}
}

func TestManager_SetupAllContinuesPastFailures(t *testing.T) {
	m := newTestManager(t, &fakeAgent{devices: oneDevice})
	ctx := context.Background()
	repo := m.Repository()

	good := &Entry{ID: "good", Data: testConfig()}
	bad := &Entry{ID: "bad", Data: Config{Host: "h", ScanInterval: 30}}
	for _, e := range []*Entry{good, bad} {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	err := m.SetupAll(ctx)
	if !errors.Is(err, ErrAPIKeyRequired) {
		t.Errorf("SetupAll() error = %v, want ErrAPIKeyRequired", err)
	}
	if _, ok := m.Runtime("good"); !ok {
		t.Error("valid entry was not loaded")
	}
}

func TestNewDeviceEventFor_Defaults(t *testing.T) {
	ev := NewDeviceEventFor(fing.Device{Key: "k"})
	want := NewDeviceEvent{DeviceID: "k", Hostname: "Unknown", Vendor: "Unknown"}
	if ev != want {
		t.Errorf("NewDeviceEventFor() = %+v, want %+v", ev, want)
	}
}

func TestRuntime_OnlineCount(t *testing.T) {
	agent := &fakeAgent{agent: agentInfo}
	agent.set(`{"devices":[
		{"mac":"AA:BB:CC:DD:EE:01","online":true},
		{"mac":"AA:BB:CC:DD:EE:02","state":"DOWN"},
		{"mac":"AA:BB:CC:DD:EE:03"}
	]}`, nil)

	obs := newRecordingObserver()
	m := newTestManager(t, agent, obs)
	rt, err := m.Setup(context.Background(), Entry{ID: "e1", Data: testConfig()})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	obs.waitEntities(t)

	// The device without presence input counts because AssumeOnline is set.
	if got := rt.OnlineCount(rt.Data()); got != 2 {
		t.Errorf("OnlineCount() = %d, want 2", got)
	}
	if got := rt.OnlineCount(nil); got != 0 {
		t.Errorf("OnlineCount(nil) = %d, want 0", got)
	}
}

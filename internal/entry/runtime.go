package entry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/fing-bridge/internal/coordinator"
	"github.com/nerrad567/fing-bridge/internal/entity"
	"github.com/nerrad567/fing-bridge/internal/fing"
)

// EventNewDevice is fired once for every device that appears while alert mode is on.
const EventNewDevice = entity.Domain + ".new_device"

// largeNetworkThreshold is the device count above which a poll logs a warning.
const largeNetworkThreshold = 100

// NewDeviceEvent is the payload of EventNewDevice.
type NewDeviceEvent struct {
	DeviceID   string `json:"device_id"`
	Hostname   string `json:"hostname"`
	MACAddress string `json:"mac_address"`
	IPAddress  string `json:"ip_address"`
	Vendor     string `json:"vendor"`
}

// NewDeviceEventFor builds the event for d. Unknown fields default to
// "Unknown" (hostname, vendor) or "" (MAC, IP).
func NewDeviceEventFor(d fing.Device) NewDeviceEvent {
	hostname := d.Hostname
	if hostname == "" {
		hostname = fing.UnknownVendor
	}
	return NewDeviceEvent{
		DeviceID:   d.Key,
		Hostname:   hostname,
		MACAddress: d.MAC,
		IPAddress:  d.IP(),
		Vendor:     d.Manufacturer(),
	}
}

// Observer is told about an entry's lifecycle. Implementations must not block.
type Observer interface {
	// EntitiesAdded runs once after platform setup registered the entities.
	EntitiesAdded(rt *Runtime, entities []entity.Entity)

	// PollCompleted runs after every successful poll.
	PollCompleted(rt *Runtime, snap *coordinator.Snapshot)

	// NewDevice runs for each device first seen while alert mode is on.
	NewDevice(rt *Runtime, ev NewDeviceEvent)

	// AlertModeChanged runs when the alert-mode switch is toggled.
	AlertModeChanged(rt *Runtime, on bool)

	// EntryUnloaded runs after polling stopped, before the runtime is dropped.
	EntryUnloaded(rt *Runtime)
}

// BaseObserver implements Observer with no-ops; embed it to override a subset.
type BaseObserver struct{}

func (BaseObserver) EntitiesAdded(*Runtime, []entity.Entity) {}
func (BaseObserver) PollCompleted(*Runtime, *coordinator.Snapshot) {}
func (BaseObserver) NewDevice(*Runtime, NewDeviceEvent) {}
func (BaseObserver) AlertModeChanged(*Runtime, bool) {}
func (BaseObserver) EntryUnloaded(*Runtime) {}

// observerSet is the manager's observer list shared with every runtime.
type observerSet struct {
	mu     sync.RWMutex
	list   []Observer
	logger Logger
}

func (s *observerSet) add(o Observer) {
	s.mu.Lock()
	s.list = append(s.list, o)
	s.mu.Unlock()
}

// each calls fn for every observer. A panicking observer is logged and skipped.
func (s *observerSet) each(fn func(Observer)) {
	s.mu.RLock()
	list := s.list
	s.mu.RUnlock()

	for _, o := range list {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("observer panicked", "observer", fmt.Sprintf("%T", o), "panic", r)
				}
			}()
			fn(o)
		}()
	}
}

// Runtime is the live state of one set-up entry. It is created by
// Manager.Setup and discarded by Manager.Unload.
type Runtime struct {
	entry        Entry
	api          *fing.API
	coordinator  *coordinator.Coordinator
	assumeOnline bool
	observers    *observerSet
	logger       Logger

	alert atomic.Bool

	// previous is the collection the next poll is diffed against.
	prevMu   sync.Mutex
	previous fing.DeviceCollection
	seeded   bool

	entitiesMu sync.RWMutex
	entities   []entity.Entity

	cancelPlatform context.CancelFunc
	platformDone   <-chan struct{}
	removeListener func()
}

func newRuntime(e Entry, api *fing.API, assumeOnline bool, observers *observerSet, logger Logger) *Runtime {
	rt := &Runtime{
		entry:        e,
		api:          api,
		assumeOnline: assumeOnline,
		observers:    observers,
		logger:       logger,
	}
	rt.alert.Store(e.Data.EnableNotifications)
	return rt
}

// ID returns the entry ID.
func (r *Runtime) ID() string { return r.entry.ID }

// Entry returns the entry the runtime was set up from.
func (r *Runtime) Entry() Entry { return r.entry }

// API returns the agent client.
func (r *Runtime) API() *fing.API { return r.api }

// Coordinator returns the poll coordinator.
func (r *Runtime) Coordinator() *coordinator.Coordinator { return r.coordinator }

// Data returns the latest snapshot or nil.
func (r *Runtime) Data() *coordinator.Snapshot {
	if r.coordinator == nil {
		return nil
	}
	return r.coordinator.Data()
}

// AlertMode reports whether new-device events are emitted.
func (r *Runtime) AlertMode() bool { return r.alert.Load() }

// SetAlertMode switches new-device events on or off. The value is kept in
// memory only.
func (r *Runtime) SetAlertMode(on bool) {
	if r.alert.Swap(on) == on {
		return
	}
	r.logger.Info("alert mode changed", "entry_id", r.ID(), "on", on)
	r.observers.each(func(o Observer) { o.AlertModeChanged(r, on) })
}

// IsOnline applies the entry's presence policy to d.
func (r *Runtime) IsOnline(d fing.Device) bool {
	return d.Presence.Online(r.assumeOnline)
}

// OnlineCount returns how many devices in snap are online.
func (r *Runtime) OnlineCount(snap *coordinator.Snapshot) int {
	if snap == nil {
		return 0
	}
	n := 0
	for _, d := range snap.Devices.Devices {
		if r.IsOnline(d) {
			n++
		}
	}
	return n
}

// Entities returns the registered entities, empty until platform setup finishes.
func (r *Runtime) Entities() []entity.Entity {
	r.entitiesMu.RLock()
	defer r.entitiesMu.RUnlock()
	return append([]entity.Entity(nil), r.entities...)
}

// Switch returns the alert-mode switch once registered.
func (r *Runtime) Switch() (entity.Switch, bool) {
	for _, e := range r.Entities() {
		if sw, ok := e.(entity.Switch); ok {
			return sw, true
		}
	}
	return nil, false
}

// PreviousKeys returns the keys of the previous-devices snapshot.
func (r *Runtime) PreviousKeys() map[string]struct{} {
	r.prevMu.Lock()
	defer r.prevMu.Unlock()
	return r.previous.Keys()
}

func (r *Runtime) seedPrevious(snap *coordinator.Snapshot) {
	r.prevMu.Lock()
	defer r.prevMu.Unlock()
	r.seeded = true
	if snap == nil {
		r.previous = fing.DeviceCollection{}
		return
	}
	r.previous = snap.Devices.Clone()
}

// update is the coordinator's UpdateFunc.
func (r *Runtime) update(ctx context.Context) (*coordinator.Snapshot, error) {
	start := time.Now()

	devices, err := r.api.FetchDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching devices: %w", err)
	}

	if n := devices.Len(); n > largeNetworkThreshold {
		r.logger.Warn("large network detected", "entry_id", r.ID(), "devices", n)
	} else {
		r.logger.Debug("fetched devices", "entry_id", r.ID(), "devices", n, "shape", devices.Shape.String())
	}

	agent, err := r.api.FetchAgent(ctx)
	if err != nil {
		r.logger.Warn("agent info unavailable", "entry_id", r.ID(), "error", err)
		agent = nil
	}

	r.notifyNewDevices(devices)

	return &coordinator.Snapshot{
		Devices:   devices,
		Agent:     agent,
		FetchedAt: time.Now().UTC(),
		Duration:  time.Since(start),
	}, nil
}

// notifyNewDevices diffs current against the previous snapshot when alert
// mode is on, emits one event per new key, then replaces the previous
// snapshot. With alert mode off nothing changes. Polls before setup seeded
// the snapshot emit nothing.
func (r *Runtime) notifyNewDevices(current fing.DeviceCollection) []NewDeviceEvent {
	if !r.AlertMode() {
		return nil
	}

	r.prevMu.Lock()
	if !r.seeded {
		r.prevMu.Unlock()
		return nil
	}
	known := r.previous.Keys()
	r.previous = current.Clone()
	r.prevMu.Unlock()

	var events []NewDeviceEvent
	for _, d := range current.Devices {
		if _, ok := known[d.Key]; ok {
			continue
		}
		known[d.Key] = struct{}{}
		events = append(events, NewDeviceEventFor(d))
	}

	for _, ev := range events {
		r.logger.Info("new device discovered", "entry_id", r.ID(), "device_id", ev.DeviceID, "hostname", ev.Hostname)
		r.observers.each(func(o Observer) { o.NewDevice(r, ev) })
	}
	return events
}

func (r *Runtime) addEntities(entities []entity.Entity) {
	r.entitiesMu.Lock()
	r.entities = entities
	r.entitiesMu.Unlock()

	r.observers.each(func(o Observer) { o.EntitiesAdded(r, entities) })
	if snap := r.Data(); snap != nil {
		r.pollCompleted(snap)
	}
}

func (r *Runtime) pollCompleted(snap *coordinator.Snapshot) {
	r.observers.each(func(o Observer) { o.PollCompleted(r, snap) })
}

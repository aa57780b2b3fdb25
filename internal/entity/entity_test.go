package entity

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nerrad567/fing-bridge/internal/coordinator"
	"github.com/nerrad567/fing-bridge/internal/fing"
)

func mustSnapshot(t *testing.T, raw string) *coordinator.Snapshot {
	t.Helper()
	devices, err := fing.DecodeDevices([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeDevices() error = %v", err)
	}
	return &coordinator.Snapshot{Devices: devices}
}

const twoDevices = `{"devices":[
	{"mac":"AA:BB:CC:DD:EE:01","_device_json":{"mac":"AA:BB:CC:DD:EE:01","name":"nas","make":"Synology","type":"NAS",
	  "ip":["192.168.1.10"],"state":"UP","first_seen":"2023-01-01T00:00:00.000Z","last_changed":1672531200}},
	{"mac":"AA:BB:CC:DD:EE:02","hostname":"phone","online":false,"first_seen":"not a date","last_changed":true}
]}`

func uniqueIDs(entities []Entity) []string {
	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.UniqueID())
	}
	return ids
}

func TestPrepare_EntitiesPerDevice(t *testing.T) {
	got := uniqueIDs(Prepare(mustSnapshot(t, twoDevices), FactoryOptions{AssumeOnline: true}))
	want := []string{
		"fing_ha_AA:BB:CC:DD:EE:01_online",
		"fing_ha_AA:BB:CC:DD:EE:01_ip",
		"fing_ha_AA:BB:CC:DD:EE:01_first_seen",
		"fing_ha_AA:BB:CC:DD:EE:01_last_changed",
		"fing_ha_AA:BB:CC:DD:EE:02_online",
		"fing_ha_AA:BB:CC:DD:EE:02_ip",
		"fing_ha_AA:BB:CC:DD:EE:02_first_seen",
		"fing_ha_AA:BB:CC:DD:EE:02_last_changed",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Prepare() ids mismatch (-want +got):\n%s", diff)
	}
}

func TestPrepare_UniqueIDsStableAcrossReorder(t *testing.T) {
	first := mustSnapshot(t, `[{"mac":"a1"},{"mac":"b2"}]`)
	second := mustSnapshot(t, `[{"mac":"b2","name":"renamed"},{"mac":"a1"}]`)

	ids := func(s *coordinator.Snapshot) map[string]bool {
		out := map[string]bool{}
		for _, id := range uniqueIDs(Prepare(s, FactoryOptions{})) {
			out[id] = true
		}
		return out
	}
	if diff := cmp.Diff(ids(first), ids(second)); diff != "" {
		t.Errorf("unique ids changed between polls (-first +second):\n%s", diff)
	}
}

func TestPrepare_ExcludeUnknown(t *testing.T) {
	snap := mustSnapshot(t, twoDevices)

	tests := []struct {
		name     string
		previous map[string]struct{}
		want     int
	}{
		{name: "empty previous", previous: map[string]struct{}{}, want: 0},
		{name: "nil previous", previous: nil, want: 0},
		{name: "one known", previous: map[string]struct{}{"AA:BB:CC:DD:EE:02": {}}, want: 4},
		{name: "both known", previous: map[string]struct{}{"AA:BB:CC:DD:EE:01": {}, "AA:BB:CC:DD:EE:02": {}}, want: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Prepare(snap, FactoryOptions{ExcludeUnknown: true, Previous: tt.previous})
			if len(got) != tt.want {
				t.Errorf("Prepare() = %d entities, want %d", len(got), tt.want)
			}
		})
	}
}

func TestPrepare_RepeatedKeyOnce(t *testing.T) {
	d := fing.Device{Key: "AA:BB:CC:DD:EE:09", MAC: "AA:BB:CC:DD:EE:09"}
	snap := &coordinator.Snapshot{Devices: fing.DeviceCollection{Devices: []fing.Device{d, d}}}

	got := uniqueIDs(Prepare(snap, FactoryOptions{}))
	want := []string{
		"fing_ha_AA:BB:CC:DD:EE:09_online",
		"fing_ha_AA:BB:CC:DD:EE:09_ip",
		"fing_ha_AA:BB:CC:DD:EE:09_first_seen",
		"fing_ha_AA:BB:CC:DD:EE:09_last_changed",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Prepare() ids mismatch (-want +got):\n%s", diff)
	}
}

func TestPrepare_NilSnapshot(t *testing.T) {
	if got := Prepare(nil, FactoryOptions{}); len(got) != 0 {
		t.Errorf("Prepare(nil) = %d entities, want 0", len(got))
	}
}

func TestPresenceSensor_State(t *testing.T) {
	snap := mustSnapshot(t, `[
		{"mac":"up","_device_json":{"state":"UP"}},
		{"mac":"down","_device_json":{"state":"DOWN"}},
		{"mac":"flag","online":true},
		{"mac":"bare"}
	]`)

	tests := []struct {
		key    string
		assume bool
		want   bool
	}{
		{key: "up", want: true},
		{key: "down", assume: true, want: false},
		{key: "flag", want: true},
		{key: "bare", assume: true, want: true},
		{key: "bare", assume: false, want: false},
	}

	for _, tt := range tests {
		d, ok := snap.Devices.Find(tt.key)
		if !ok {
			t.Fatalf("device %q not decoded", tt.key)
		}
		s := NewPresenceSensor(d, tt.assume)
		if got := s.State(snap); got != tt.want {
			t.Errorf("%s (assume=%v) State() = %v, want %v", tt.key, tt.assume, got, tt.want)
		}
	}
}

func TestPresenceSensor_MissingDeviceIsOff(t *testing.T) {
	snap := mustSnapshot(t, `[{"mac":"a","online":true}]`)
	d, _ := snap.Devices.Find("a")
	s := NewPresenceSensor(d, true)

	if got := s.State(mustSnapshot(t, `[]`)); got != false {
		t.Errorf("State(device gone) = %v, want false", got)
	}
	if got := s.State(nil); got != false {
		t.Errorf("State(nil) = %v, want false", got)
	}
}

func TestPresenceSensor_NamesAndDevice(t *testing.T) {
	snap := mustSnapshot(t, twoDevices)
	d, _ := snap.Devices.Find("AA:BB:CC:DD:EE:01")
	s := NewPresenceSensor(d, true)

	if got, want := s.Name(), "nas (EE01) Online"; got != want {
		t.Errorf("Name() = %q, want %q", got, want)
	}
	if s.Platform() != PlatformBinarySensor {
		t.Errorf("Platform() = %q, want %q", s.Platform(), PlatformBinarySensor)
	}
	if s.DeviceClass() != DeviceClassPresence {
		t.Errorf("DeviceClass() = %q, want %q", s.DeviceClass(), DeviceClassPresence)
	}

	want := DeviceInfo{
		Identifiers:  [][2]string{{"fing_ha", "AA:BB:CC:DD:EE:01"}},
		Name:         "nas (EE01)",
		Manufacturer: "Synology",
		Model:        "NAS",
	}
	if diff := cmp.Diff(want, s.Device()); diff != "" {
		t.Errorf("Device() mismatch (-want +got):\n%s", diff)
	}
}

func TestAttributeSensor_State(t *testing.T) {
	snap := mustSnapshot(t, twoDevices)
	nas, _ := snap.Devices.Find("AA:BB:CC:DD:EE:01")
	phone, _ := snap.Devices.Find("AA:BB:CC:DD:EE:02")

	tests := []struct {
		name   string
		sensor *AttributeSensor
		want   any
	}{
		{"ip list first", NewAttributeSensor(nas, KindIP), "192.168.1.10"},
		{"ip missing", NewAttributeSensor(phone, KindIP), nil},
		{"first seen string", NewAttributeSensor(nas, KindFirstSeen), time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"last changed posix", NewAttributeSensor(nas, KindLastChanged), time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"unparseable string", NewAttributeSensor(phone, KindFirstSeen), nil},
		{"non-timestamp passthrough", NewAttributeSensor(phone, KindLastChanged), true},
		{"generic lookup", NewAttributeSensor(nas, SensorKind("make")), "Synology"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.sensor.State(snap)
			if wantTime, ok := tt.want.(time.Time); ok {
				gotTime, ok := got.(time.Time)
				if !ok || !gotTime.Equal(wantTime) || gotTime.Location() != time.UTC {
					t.Errorf("State() = %v, want %v UTC", got, wantTime)
				}
				return
			}
			if got != tt.want {
				t.Errorf("State() = %v (%T), want %v", got, got, tt.want)
			}
		})
	}
}

func TestAttributeSensor_EpochMillisEncodes(t *testing.T) {
	snap := mustSnapshot(t, `[{"mac":"AA:BB:CC:DD:EE:0A","first_seen":1700000000000,"last_changed":1e20}]`)
	d, _ := snap.Devices.Find("AA:BB:CC:DD:EE:0A")

	first := NewAttributeSensor(d, KindFirstSeen).State(snap)
	want := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	if got, ok := first.(time.Time); !ok || !got.Equal(want) {
		t.Errorf("first_seen State() = %v, want %v", first, want)
	}
	if got := NewAttributeSensor(d, KindLastChanged).State(snap); got != nil {
		t.Errorf("last_changed State() = %v, want nil", got)
	}
	if _, err := json.Marshal(first); err != nil {
		t.Errorf("json.Marshal(first_seen) error = %v", err)
	}
}

func TestAttributeSensor_NamesAndClass(t *testing.T) {
	snap := mustSnapshot(t, twoDevices)
	phone, _ := snap.Devices.Find("AA:BB:CC:DD:EE:02")

	tests := []struct {
		kind      SensorKind
		wantName  string
		wantClass string
	}{
		{KindIP, "phone (EE02) IP Address", ""},
		{KindFirstSeen, "phone (EE02) First Seen", DeviceClassTimestamp},
		{KindLastChanged, "phone (EE02) Last Changed", DeviceClassTimestamp},
		{SensorKind("os_version"), "phone (EE02) Os Version", ""},
	}

	for _, tt := range tests {
		s := NewAttributeSensor(phone, tt.kind)
		if s.Name() != tt.wantName {
			t.Errorf("Name() = %q, want %q", s.Name(), tt.wantName)
		}
		if s.DeviceClass() != tt.wantClass {
			t.Errorf("%s DeviceClass() = %q, want %q", tt.kind, s.DeviceClass(), tt.wantClass)
		}
	}

	if got := NewAttributeSensor(phone, KindIP).Device().Model; got != "unknown" {
		t.Errorf("Device().Model = %q, want unknown", got)
	}
}

func TestAgentSensors(t *testing.T) {
	sensors := AgentSensors("entry1")
	if len(sensors) != 7 {
		t.Fatalf("AgentSensors() = %d, want 7", len(sensors))
	}

	wantNames := []string{
		"Fing Agent IP Address",
		"Fing Agent Model Name",
		"Fing Agent State",
		"Fing Agent ID",
		"Fing Agent Friendly Name",
		"Fing Agent Device Type",
		"Fing Agent Manufacturer",
	}
	var gotNames []string
	for _, s := range sensors {
		gotNames = append(gotNames, s.Name())
	}
	if diff := cmp.Diff(wantNames, gotNames); diff != "" {
		t.Errorf("agent names mismatch (-want +got):\n%s", diff)
	}

	if got := sensors[0].UniqueID(); got != "fing_ha_entry1_agent_ip" {
		t.Errorf("UniqueID() = %q, want fing_ha_entry1_agent_ip", got)
	}

	snap := &coordinator.Snapshot{Agent: fing.NewAgent(map[fing.AgentKind]any{
		fing.AgentIP:    "http://192.168.1.2",
		fing.AgentState: "running",
	})}
	if got := sensors[0].State(snap); got != "192.168.1.2" {
		t.Errorf("ip State() = %v, want 192.168.1.2", got)
	}
	if got := sensors[2].State(snap); got != "running" {
		t.Errorf("state State() = %v, want running", got)
	}
	if got := sensors[1].State(snap); got != nil {
		t.Errorf("model State() = %v, want nil", got)
	}
	if got := sensors[0].State(&coordinator.Snapshot{}); got != nil {
		t.Errorf("State(no agent) = %v, want nil", got)
	}
	if got := sensors[0].State(nil); got != nil {
		t.Errorf("State(nil) = %v, want nil", got)
	}
}

type flag struct{ on atomic.Bool }

func (f *flag) AlertMode() bool      { return f.on.Load() }
func (f *flag) SetAlertMode(on bool) { f.on.Store(on) }

func TestAlertSwitch(t *testing.T) {
	f := &flag{}
	s := NewAlertSwitch("entry1", f)

	if s.UniqueID() != "fing_ha_entry1_alert_mode" {
		t.Errorf("UniqueID() = %q", s.UniqueID())
	}
	if s.Name() != "Fing HA Alert Mode" {
		t.Errorf("Name() = %q", s.Name())
	}
	if s.IsOn() {
		t.Error("IsOn() = true, want false initially")
	}

	s.TurnOn()
	if !f.AlertMode() || s.State(nil) != true {
		t.Error("TurnOn() did not set the entry flag")
	}
	s.TurnOff()
	if f.AlertMode() {
		t.Error("TurnOff() did not clear the entry flag")
	}

	want := DeviceInfo{
		Identifiers:  [][2]string{{"fing_ha", "entry1"}},
		Name:         "Fing HA",
		Manufacturer: "Fing",
		Model:        "Integration",
	}
	if diff := cmp.Diff(want, s.Device()); diff != "" {
		t.Errorf("Device() mismatch (-want +got):\n%s", diff)
	}
}

func TestSetup_RegistersAsynchronously(t *testing.T) {
	release := make(chan struct{})
	got := make(chan []Entity, 1)

	done := Setup(context.Background(), PlatformOptions{
		EntryID:  "entry1",
		Snapshot: mustSnapshot(t, twoDevices),
		Alert:    &flag{},
	}, func(entities []Entity) {
		<-release
		got <- entities
	})

	select {
	case <-done:
		t.Fatal("Setup() should return before entities are registered")
	default:
	}
	close(release)

	select {
	case entities := <-got:
		// 2 devices x 4, 7 agent sensors, 1 switch
		if len(entities) != 16 {
			t.Errorf("registered %d entities, want 16", len(entities))
		}
		if entities[len(entities)-1].Platform() != PlatformSwitch {
			t.Error("last entity should be the alert switch")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for registration")
	}
	<-done
}

func TestSetup_CancelledSkipsAdd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var called atomic.Bool
	done := Setup(ctx, PlatformOptions{EntryID: "e"}, func([]Entity) { called.Store(true) })
	<-done
	if called.Load() {
		t.Error("add should not run after cancellation")
	}
}

func TestShortMAC(t *testing.T) {
	tests := []struct{ in, want string }{
		{"AA:BB:CC:DD:EE:FF", "EEFF"},
		{"aabbccddeeff", "eeff"},
		{"abc", "abc"},
	}
	for _, tt := range tests {
		if got := shortMAC(tt.in); got != tt.want {
			t.Errorf("shortMAC(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

package entity

import (
	"fmt"

	"github.com/nerrad567/fing-bridge/internal/coordinator"
	"github.com/nerrad567/fing-bridge/internal/fing"
)

// SensorKind names a per-device attribute sensor.
type SensorKind string

// Attribute sensors created for every device.
const (
	KindIP          SensorKind = "ip"
	KindFirstSeen   SensorKind = "first_seen"
	KindLastChanged SensorKind = "last_changed"
)

// DeviceSensorKinds lists the attribute sensors created per device.
var DeviceSensorKinds = []SensorKind{KindIP, KindFirstSeen, KindLastChanged}

var kindTitles = map[SensorKind]string{
	KindIP:          "IP Address",
	KindFirstSeen:   "First Seen",
	KindLastChanged: "Last Changed",
}

// Title returns the display title for the kind.
func (k SensorKind) Title() string {
	if t, ok := kindTitles[k]; ok {
		return t
	}
	return titleCase(string(k))
}

// deviceBase holds what every per-device entity derives from its device.
type deviceBase struct {
	key    string
	mac    string
	label  string
	device DeviceInfo
}

func newDeviceBase(d fing.Device) deviceBase {
	label := fmt.Sprintf("%s (%s)", d.Name(), shortMAC(d.MAC))
	return deviceBase{
		key:   d.Key,
		mac:   d.MAC,
		label: label,
		device: DeviceInfo{
			Identifiers:  [][2]string{{Domain, d.MAC}},
			Name:         label,
			Manufacturer: d.Manufacturer(),
			Model:        d.Model(),
		},
	}
}

// Device returns the owning device.
func (b deviceBase) Device() DeviceInfo { return b.device }

// Key returns the collection key the entity reads.
func (b deviceBase) Key() string { return b.key }

func (b deviceBase) lookup(snap *coordinator.Snapshot) (fing.Device, bool) {
	if snap == nil {
		return fing.Device{}, false
	}
	return snap.Devices.Find(b.key)
}

// PresenceSensor reports whether a device is online.
type PresenceSensor struct {
	deviceBase
	assumeOnline bool
}

// NewPresenceSensor creates the online/offline entity for d.
// assumeOnline is reported when the agent gives no presence input for a device it lists.
func NewPresenceSensor(d fing.Device, assumeOnline bool) *PresenceSensor {
	return &PresenceSensor{deviceBase: newDeviceBase(d), assumeOnline: assumeOnline}
}

// UniqueID returns fing_ha_<mac>_online.
func (s *PresenceSensor) UniqueID() string {
	return fmt.Sprintf("%s_%s_online", Domain, s.mac)
}

// Name returns "<hostname> (<short mac>) Online".
func (s *PresenceSensor) Name() string { return s.label + " Online" }

// Platform returns binary_sensor.
func (s *PresenceSensor) Platform() Platform { return PlatformBinarySensor }

// DeviceClass returns presence.
func (s *PresenceSensor) DeviceClass() string { return DeviceClassPresence }

// State returns true when the device is online. A device missing from the
// snapshot is offline.
func (s *PresenceSensor) State(snap *coordinator.Snapshot) any {
	return s.IsOn(snap)
}

// IsOn is State with a bool result.
func (s *PresenceSensor) IsOn(snap *coordinator.Snapshot) bool {
	d, ok := s.lookup(snap)
	if !ok {
		return false
	}
	return d.Presence.Online(s.assumeOnline)
}

// AttributeSensor exposes one value of a device.
type AttributeSensor struct {
	deviceBase
	kind SensorKind
}

// NewAttributeSensor creates the kind sensor for d.
func NewAttributeSensor(d fing.Device, kind SensorKind) *AttributeSensor {
	return &AttributeSensor{deviceBase: newDeviceBase(d), kind: kind}
}

// Kind returns the attribute this sensor reports.
func (s *AttributeSensor) Kind() SensorKind { return s.kind }

// UniqueID returns fing_ha_<mac>_<kind>.
func (s *AttributeSensor) UniqueID() string {
	return fmt.Sprintf("%s_%s_%s", Domain, s.mac, s.kind)
}

// Name returns "<hostname> (<short mac>) <Kind Title>".
func (s *AttributeSensor) Name() string { return s.label + " " + s.kind.Title() }

// Platform returns sensor.
func (s *AttributeSensor) Platform() Platform { return PlatformSensor }

// DeviceClass returns timestamp for first_seen and last_changed.
func (s *AttributeSensor) DeviceClass() string {
	if s.kind == KindFirstSeen || s.kind == KindLastChanged {
		return DeviceClassTimestamp
	}
	return ""
}

// State resolves the attribute value.
//
// IP returns the first address. Timestamps return a UTC time.Time, nil for an
// unparseable string, or the raw value for any other type. Other kinds use
// the device's mirror-then-fields lookup.
func (s *AttributeSensor) State(snap *coordinator.Snapshot) any {
	d, ok := s.lookup(snap)
	if !ok {
		return nil
	}

	switch s.kind {
	case KindIP:
		if ip := d.IP(); ip != "" {
			return ip
		}
		return nil
	case KindFirstSeen:
		return fing.TimestampValue(d.FirstSeen)
	case KindLastChanged:
		return fing.TimestampValue(d.LastChanged)
	default:
		v, _ := d.Lookup(string(s.kind))
		return v
	}
}

package fing

import (
	"encoding/json"
	"slices"
	"strings"
)

// Shape identifies how the agent laid out a device collection.
type Shape int

const (
	// ShapeUnknown covers null, empty and unrecognised payloads. It decodes to no devices.
	ShapeUnknown Shape = iota

	// ShapeList is an object carrying a "devices" array, or a bare array.
	ShapeList

	// ShapeMapping is an object keyed by device identifier whose values are objects.
	ShapeMapping
)

// String returns the shape name used in logs.
func (s Shape) String() string {
	switch s {
	case ShapeList:
		return "list"
	case ShapeMapping:
		return "mapping"
	default:
		return "unknown"
	}
}

// Fallback values for fields the agent did not report.
const (
	UnknownVendor = "Unknown"
	UnknownType   = "unknown"
	devicePrefix  = "Device_"
)

// DeviceCollection is one poll's worth of devices in agent order.
type DeviceCollection struct {
	Shape     Shape
	NetworkID string
	Devices   []Device
}

// Len returns the number of devices.
func (c DeviceCollection) Len() int {
	return len(c.Devices)
}

// Find returns the device with the given key.
func (c DeviceCollection) Find(key string) (Device, bool) {
	for _, d := range c.Devices {
		if d.Key == key {
			return d, true
		}
	}
	return Device{}, false
}

// Keys returns the set of device keys.
func (c DeviceCollection) Keys() map[string]struct{} {
	keys := make(map[string]struct{}, len(c.Devices))
	for _, d := range c.Devices {
		keys[d.Key] = struct{}{}
	}
	return keys
}

// Filter returns a copy of the collection holding only devices for which keep returns true.
func (c DeviceCollection) Filter(keep func(Device) bool) DeviceCollection {
	out := DeviceCollection{Shape: c.Shape, NetworkID: c.NetworkID}
	for _, d := range c.Devices {
		if keep(d) {
			out.Devices = append(out.Devices, d)
		}
	}
	return out
}

// Clone returns a shallow copy whose device slice can be kept after c changes.
func (c DeviceCollection) Clone() DeviceCollection {
	return DeviceCollection{
		Shape:     c.Shape,
		NetworkID: c.NetworkID,
		Devices:   slices.Clone(c.Devices),
	}
}

// Flag is one boolean-like presence input as reported by the agent.
type Flag struct {
	Name  string
	Value any
}

// Presence holds the raw inputs used to decide whether a device is online.
type Presence struct {
	// State is the mirror's "state" field ("UP" or "DOWN") when HasState is true.
	State    string
	HasState bool

	// Flags holds online, is_online and status in that order, omitting absent ones.
	Flags []Flag
}

// truthyTokens are the status strings that count as online.
var truthyTokens = []string{"online", "true", "1", "yes", "up"}

// Online evaluates the presence policy: the mirror state wins, then the
// first flag present, then assume.
func (p Presence) Online(assume bool) bool {
	if p.HasState {
		return p.State == "UP"
	}
	if len(p.Flags) > 0 {
		return truthy(p.Flags[0].Value)
	}
	return assume
}

// Known reports whether the agent gave any presence input at all.
func (p Presence) Known() bool {
	return p.HasState || len(p.Flags) > 0
}

// Device is the canonical record for one discovered device.
type Device struct {
	// Key identifies the device across polls: the MAC address in list shape,
	// the mapping key in mapping shape.
	Key string

	MAC      string
	Hostname string
	Vendor   string
	Type     string
	IPs      []string

	// FirstSeen and LastChanged hold the raw values; see ParseTimestamp.
	FirstSeen   any
	LastChanged any

	Presence Presence

	// Mirror is the agent's raw JSON view of the device. Fields holds the
	// element's own fields. Both may be the same map.
	Mirror map[string]any
	Fields map[string]any
}

// Name returns the hostname, or Device_<mac> when the agent reported none.
func (d Device) Name() string {
	if d.Hostname != "" {
		return d.Hostname
	}
	return devicePrefix + d.MAC
}

// Manufacturer returns the vendor or "Unknown".
func (d Device) Manufacturer() string {
	if d.Vendor != "" {
		return d.Vendor
	}
	return UnknownVendor
}

// Model returns the device type or "unknown".
func (d Device) Model() string {
	if d.Type != "" {
		return d.Type
	}
	return UnknownType
}

// IP returns the first IP address or "".
func (d Device) IP() string {
	if len(d.IPs) == 0 {
		return ""
	}
	return d.IPs[0]
}

// Lookup returns key from the mirror, falling back to the direct fields.
func (d Device) Lookup(key string) (any, bool) {
	if v, ok := d.Mirror[key]; ok && v != nil {
		return v, true
	}
	if v, ok := d.Fields[key]; ok && v != nil {
		return v, true
	}
	return nil, false
}

// AgentKind names one attribute of the Fing agent.
type AgentKind string

// Agent attribute kinds in display order.
const (
	AgentIP           AgentKind = "ip"
	AgentModelName    AgentKind = "model_name"
	AgentState        AgentKind = "state"
	AgentID           AgentKind = "agent_id"
	AgentFriendlyName AgentKind = "friendly_name"
	AgentDeviceType   AgentKind = "device_type"
	AgentManufacturer AgentKind = "manufacturer"
)

// AgentKinds lists every agent attribute.
var AgentKinds = []AgentKind{
	AgentIP,
	AgentModelName,
	AgentState,
	AgentID,
	AgentFriendlyName,
	AgentDeviceType,
	AgentManufacturer,
}

// Agent is the canonical record for the Fing agent itself.
type Agent struct {
	values map[AgentKind]any
}

// NewAgent builds an Agent from resolved values. Used by tests and by DecodeAgent.
func NewAgent(values map[AgentKind]any) *Agent {
	a := &Agent{values: make(map[AgentKind]any, len(values))}
	for k, v := range values {
		if v == nil {
			continue
		}
		if k == AgentIP {
			v = stripScheme(v)
		}
		a.values[k] = v
	}
	return a
}

// Value returns the attribute for kind, or nil. Safe on a nil Agent.
func (a *Agent) Value(kind AgentKind) any {
	if a == nil {
		return nil
	}
	return a.values[kind]
}

func stripScheme(v any) any {
	if s, ok := v.(string); ok {
		return strings.TrimPrefix(s, "http://")
	}
	return v
}

// truthy coerces an agent value to a boolean. Strings match the status tokens.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return slices.Contains(truthyTokens, strings.ToLower(strings.TrimSpace(val)))
	case json.Number:
		f, err := val.Float64()
		return err == nil && f != 0
	case float64:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

package fing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Keys the agent has been seen to use for the same information.
var (
	collectionKeys = []string{"devices", "_devices"}
	mirrorKeys     = []string{"device_json", "_device_json"}
	networkIDKeys  = []string{"networkId", "network_id"}
	presenceKeys   = []string{"online", "is_online", "status"}
)

// DecodeDevices classifies a device-list payload and normalises it.
//
// Empty input and JSON null decode to an empty ShapeUnknown collection.
// Input that is not JSON returns ErrMalformedPayload. Devices without a
// resolvable MAC address are dropped.
func DecodeDevices(raw []byte) (DeviceCollection, error) {
	payload, err := decodeJSON(raw)
	if err != nil {
		return DeviceCollection{}, err
	}
	return NormalizeDevices(payload), nil
}

// NormalizeDevices normalises an already decoded payload.
// Numbers should be json.Number (decoder UseNumber) but float64 also works.
func NormalizeDevices(payload any) DeviceCollection {
	switch v := payload.(type) {
	case []any:
		return fromList(v, "")

	case map[string]any:
		networkID := firstString(v, networkIDKeys...)
		for _, key := range collectionKeys {
			switch nested := v[key].(type) {
			case []any:
				return fromList(nested, networkID)
			case map[string]any:
				return fromMapping(nested, networkID)
			}
		}
		return fromMapping(v, networkID)
	}

	return DeviceCollection{Shape: ShapeUnknown}
}

// fromList keeps the first element for a MAC that appears more than once.
func fromList(list []any, networkID string) DeviceCollection {
	c := DeviceCollection{Shape: ShapeList, NetworkID: networkID}
	seen := make(map[string]struct{}, len(list))
	for _, item := range list {
		elem, ok := item.(map[string]any)
		if !ok {
			continue
		}
		d, ok := normalizeDevice(elem, "")
		if !ok {
			continue
		}
		if _, dup := seen[d.MAC]; dup {
			continue
		}
		seen[d.MAC] = struct{}{}
		d.Key = d.MAC
		c.Devices = append(c.Devices, d)
	}
	return c
}

func fromMapping(m map[string]any, networkID string) DeviceCollection {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if _, ok := v.(map[string]any); ok {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return DeviceCollection{Shape: ShapeUnknown}
	}
	sort.Strings(keys)

	c := DeviceCollection{Shape: ShapeMapping, NetworkID: networkID}
	for _, k := range keys {
		d, ok := normalizeDevice(m[k].(map[string]any), k)
		if !ok {
			continue
		}
		d.Key = k
		c.Devices = append(c.Devices, d)
	}
	return c
}

// normalizeDevice resolves the canonical fields of one element.
// fallbackMAC is the mapping key, empty in list shape.
func normalizeDevice(elem map[string]any, fallbackMAC string) (Device, bool) {
	mirror := elem
	for _, key := range mirrorKeys {
		if nested, ok := elem[key].(map[string]any); ok {
			mirror = nested
			break
		}
	}

	d := Device{Mirror: mirror, Fields: elem}

	d.MAC = firstString(mirror, "mac")
	if d.MAC == "" {
		d.MAC = firstString(elem, "mac_address", "mac")
	}
	if d.MAC == "" {
		d.MAC = fallbackMAC
	}
	if d.MAC == "" {
		return Device{}, false
	}

	d.Hostname = firstString(mirror, "name")
	if d.Hostname == "" {
		d.Hostname = firstString(elem, "hostname", "name")
	}

	d.Vendor = firstString(mirror, "make")
	if d.Vendor == "" {
		d.Vendor = firstString(elem, "vendor")
	}

	d.Type = firstString(mirror, "type")
	if d.Type == "" {
		d.Type = firstString(elem, "device_type")
	}

	d.IPs = ipList(mirror, "ip", "ip_address")
	if len(d.IPs) == 0 {
		d.IPs = ipList(elem, "ip_address", "ip")
	}

	d.FirstSeen, _ = d.Lookup("first_seen")
	d.LastChanged, _ = d.Lookup("last_changed")

	d.Presence = presenceOf(mirror, elem)

	return d, true
}

func presenceOf(mirror, elem map[string]any) Presence {
	var p Presence
	if state, ok := mirror["state"]; ok && state != nil {
		p.HasState = true
		p.State, _ = state.(string)
		return p
	}

	for _, key := range presenceKeys {
		if v, ok := elem[key]; ok && v != nil {
			p.Flags = append(p.Flags, Flag{Name: key, Value: v})
			continue
		}
		if v, ok := mirror[key]; ok && v != nil {
			p.Flags = append(p.Flags, Flag{Name: key, Value: v})
		}
	}
	return p
}

// DecodeAgent normalises an agent-info payload.
//
// Payloads whose keys carry a leading underscore (_ip, _model_name, ...)
// are read field by field. Anything else is treated as a plain mapping and
// each kind tries its candidate keys in order. A null payload decodes to nil.
func DecodeAgent(raw []byte) (*Agent, error) {
	payload, err := decodeJSON(raw)
	if err != nil {
		return nil, err
	}
	m, ok := payload.(map[string]any)
	if !ok {
		return nil, nil
	}
	return NormalizeAgent(m), nil
}

var agentPrivateFields = map[AgentKind]string{
	AgentIP:           "_ip",
	AgentModelName:    "_model_name",
	AgentState:        "_agent_state",
	AgentID:           "_agent_id",
	AgentFriendlyName: "_friendly_name",
	AgentDeviceType:   "_device_type",
	AgentManufacturer: "_manufacturer",
}

var agentCandidateKeys = map[AgentKind][]string{
	AgentIP:           {"ip", "ip_address"},
	AgentModelName:    {"model_name", "model"},
	AgentState:        {"state", "agent_state"},
	AgentID:           {"agent_id", "id"},
	AgentFriendlyName: {"friendly_name", "name"},
	AgentDeviceType:   {"device_type"},
	AgentManufacturer: {"manufacturer", "vendor"},
}

// NormalizeAgent resolves agent attributes from a decoded object.
func NormalizeAgent(m map[string]any) *Agent {
	values := make(map[AgentKind]any, len(AgentKinds))

	if hasPrivateKeys(m) {
		for kind, field := range agentPrivateFields {
			values[kind] = m[field]
		}
		return NewAgent(values)
	}

	for kind, candidates := range agentCandidateKeys {
		for _, key := range candidates {
			if v, ok := m[key]; ok && v != nil {
				values[kind] = v
				break
			}
		}
	}
	return NewAgent(values)
}

func hasPrivateKeys(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, "_") {
			return true
		}
	}
	return false
}

func decodeJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return payload, nil
}

// firstString returns the first non-empty string value among keys.
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// ipList reads the first present key as a string or a list of strings.
func ipList(m map[string]any, keys ...string) []string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return []string{v}
			}
		case []any:
			var ips []string
			for _, item := range v {
				if s, ok := item.(string); ok && s != "" {
					ips = append(ips, s)
				}
			}
			if len(ips) > 0 {
				return ips
			}
		}
	}
	return nil
}

package entity

import (
	"strings"

	"github.com/nerrad567/fing-bridge/internal/coordinator"
)

// Domain prefixes every unique ID and device identifier.
const Domain = "fing_ha"

// Platform is the Home Assistant entity platform an entity belongs to.
type Platform string

// Platforms used by the bridge.
const (
	PlatformBinarySensor Platform = "binary_sensor"
	PlatformSensor       Platform = "sensor"
	PlatformSwitch       Platform = "switch"
)

// Device classes.
const (
	DeviceClassPresence  = "presence"
	DeviceClassTimestamp = "timestamp"
)

// DeviceInfo groups entities under one device in Home Assistant.
type DeviceInfo struct {
	// Identifiers are (domain, id) pairs.
	Identifiers  [][2]string
	Name         string
	Manufacturer string
	Model        string
}

// Entity is a read-only view over the latest snapshot.
//
// State never panics on malformed data. It returns nil (sensors) or false
// (binary sensors) when the value cannot be resolved.
type Entity interface {
	UniqueID() string
	Name() string
	Platform() Platform

	// DeviceClass returns "" when the entity has none.
	DeviceClass() string

	Device() DeviceInfo
	State(snap *coordinator.Snapshot) any
}

// Switch is an entity the user can toggle.
type Switch interface {
	Entity
	IsOn() bool
	TurnOn()
	TurnOff()
}

// shortMAC returns the last four hex digits of a MAC, used to tell
// same-named devices apart.
func shortMAC(mac string) string {
	s := mac
	if strings.Contains(s, ":") {
		s = strings.ReplaceAll(s, ":", "")
	}
	if len(s) > 4 {
		return s[len(s)-4:]
	}
	return s
}

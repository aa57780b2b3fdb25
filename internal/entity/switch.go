package entity

import (
	"fmt"

	"github.com/nerrad567/fing-bridge/internal/coordinator"
)

// AlertState is the per-entry alert-mode flag the switch controls.
type AlertState interface {
	AlertMode() bool
	SetAlertMode(on bool)
}

// AlertSwitch toggles new-device notifications for one entry.
// The flag lives in memory only and resets when the entry is set up again.
type AlertSwitch struct {
	entryID string
	state   AlertState
}

// NewAlertSwitch creates the alert-mode switch for an entry.
func NewAlertSwitch(entryID string, state AlertState) *AlertSwitch {
	return &AlertSwitch{entryID: entryID, state: state}
}

// UniqueID returns fing_ha_<entry>_alert_mode.
func (s *AlertSwitch) UniqueID() string {
	return fmt.Sprintf("%s_%s_alert_mode", Domain, s.entryID)
}

// Name returns "Fing HA Alert Mode".
func (s *AlertSwitch) Name() string { return "Fing HA Alert Mode" }

// Platform returns switch.
func (s *AlertSwitch) Platform() Platform { return PlatformSwitch }

// DeviceClass returns "".
func (s *AlertSwitch) DeviceClass() string { return "" }

// Device returns the integration device for the entry.
func (s *AlertSwitch) Device() DeviceInfo {
	return DeviceInfo{
		Identifiers:  [][2]string{{Domain, s.entryID}},
		Name:         "Fing HA",
		Manufacturer: "Fing",
		Model:        "Integration",
	}
}

// State returns the flag; the snapshot is ignored.
func (s *AlertSwitch) State(*coordinator.Snapshot) any { return s.IsOn() }

// IsOn reports whether alert mode is on.
func (s *AlertSwitch) IsOn() bool { return s.state.AlertMode() }

// TurnOn enables alert mode.
func (s *AlertSwitch) TurnOn() { s.state.SetAlertMode(true) }

// TurnOff disables alert mode.
func (s *AlertSwitch) TurnOff() { s.state.SetAlertMode(false) }

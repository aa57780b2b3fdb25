// Package entity turns poll snapshots into Home Assistant style entities.
//
// Every device with a MAC address yields a presence binary sensor and three
// attribute sensors (ip, first_seen, last_changed). Each entry also gets
// seven Fing agent sensors and one alert-mode switch. Unique IDs derive from
// the MAC address, never from list position, so entities survive reordering.
//
// Entities hold no data of their own. State reads the snapshot it is given
// and degrades to nil or false when the device or value is missing.
package entity

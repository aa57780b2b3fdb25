// Package homeassistant exposes entries to Home Assistant over MQTT
// discovery.
//
// Publisher is an entry.Observer. When an entry's entities are registered
// it publishes one retained discovery config per entity and subscribes the
// alert-mode switch to its command topic. After every successful poll it
// publishes each entity's state, and new-device events go to the entry's
// event topic. Unloading an entry clears its retained configs so Home
// Assistant removes the entities.
package homeassistant

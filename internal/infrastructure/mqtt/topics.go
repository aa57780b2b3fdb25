package mqtt

import (
	"github.com/nerrad567/fing-bridge/internal/infrastructure/config"
)

// Availability payloads published to the status topic.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// discoveryNode is the node ID under the discovery prefix, grouping all of
// the bridge's entities.
const discoveryNode = "fing_ha"

// Topics builds the bridge's MQTT topics.
//
//	topics := mqtt.Topics{DiscoveryPrefix: "homeassistant", Base: "fing_ha"}
//	topics.State("entry-1", "fing_ha_aa_bb_online")
//	// Returns: "fing_ha/entry-1/fing_ha_aa_bb_online/state"
type Topics struct {
	// DiscoveryPrefix is where Home Assistant looks for discovery configs.
	DiscoveryPrefix string

	// Base is the root of every non-discovery topic.
	Base string
}

// NewTopics returns the topic builder for the Home Assistant settings.
func NewTopics(cfg config.HomeAssistantConfig) Topics {
	return Topics{DiscoveryPrefix: cfg.DiscoveryPrefix, Base: cfg.BaseTopic}
}

// Status returns the availability topic.
//
// Example: fing_ha/status
func (t Topics) Status() string {
	return t.Base + "/status"
}

// Discovery returns the retained discovery config topic of one entity.
//
// Example: homeassistant/binary_sensor/fing_ha/fing_ha_aa_bb_online/config
func (t Topics) Discovery(platform, objectID string) string {
	return t.DiscoveryPrefix + "/" + platform + "/" + discoveryNode + "/" + objectID + "/config"
}

// State returns the state topic of one entity.
//
// Example: fing_ha/entry-1/fing_ha_aa_bb_ip/state
func (t Topics) State(entryID, objectID string) string {
	return t.Base + "/" + entryID + "/" + objectID + "/state"
}

// Command returns the command topic of a controllable entity.
//
// Example: fing_ha/entry-1/alert_mode/set
func (t Topics) Command(entryID, objectID string) string {
	return t.Base + "/" + entryID + "/" + objectID + "/set"
}

// Event returns the topic events of one kind are published to.
//
// Example: fing_ha/entry-1/event/new_device
func (t Topics) Event(entryID, event string) string {
	return t.Base + "/" + entryID + "/event/" + event
}

// AllCommands returns a wildcard matching every entry's command topics.
//
// Example: fing_ha/+/+/set
func (t Topics) AllCommands() string {
	return t.Base + "/+/+/set"
}

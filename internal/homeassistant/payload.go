package homeassistant

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/fing-bridge/internal/entity"
)

// State payloads.
const (
	StateOn      = "ON"
	StateOff     = "OFF"
	StateUnknown = "unknown"
)

// discoveryConfig is the JSON Home Assistant expects on a discovery topic.
type discoveryConfig struct {
	UniqueID          string          `json:"unique_id"`
	ObjectID          string          `json:"object_id"`
	Name              string          `json:"name"`
	StateTopic        string          `json:"state_topic"`
	CommandTopic      string          `json:"command_topic,omitempty"`
	AvailabilityTopic string          `json:"availability_topic"`
	DeviceClass       string          `json:"device_class,omitempty"`
	PayloadOn         string          `json:"payload_on,omitempty"`
	PayloadOff        string          `json:"payload_off,omitempty"`
	Device            discoveryDevice `json:"device"`
}

type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// ObjectID turns a unique ID into a topic-safe object ID: lower case, with
// every character outside [a-z0-9_-] replaced by an underscore.
func ObjectID(uniqueID string) string {
	var b strings.Builder
	b.Grow(len(uniqueID))
	for _, r := range strings.ToLower(uniqueID) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func deviceIdentifiers(info entity.DeviceInfo) []string {
	ids := make([]string, 0, len(info.Identifiers))
	for _, id := range info.Identifiers {
		ids = append(ids, id[0]+"_"+id[1])
	}
	return ids
}

// FormatState renders an entity state as an MQTT payload: booleans as
// ON/OFF, times as RFC 3339 in UTC, nil as "unknown". Strings and numbers
// are sent as-is; anything else as JSON.
func FormatState(v any) string {
	switch s := v.(type) {
	case nil:
		return StateUnknown
	case bool:
		if s {
			return StateOn
		}
		return StateOff
	case time.Time:
		return s.UTC().Format(time.RFC3339)
	case string:
		return s
	case json.Number:
		return s.String()
	case float64, float32, int, int64, int32, uint, uint64:
		return fmt.Sprint(s)
	default:
		b, err := json.Marshal(s)
		if err != nil {
			return StateUnknown
		}
		return string(b)
	}
}

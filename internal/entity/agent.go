package entity

import (
	"fmt"
	"strings"

	"github.com/nerrad567/fing-bridge/internal/coordinator"
	"github.com/nerrad567/fing-bridge/internal/fing"
)

var agentTitles = map[fing.AgentKind]string{
	fing.AgentIP:           "IP Address",
	fing.AgentModelName:    "Model Name",
	fing.AgentState:        "State",
	fing.AgentID:           "ID",
	fing.AgentFriendlyName: "Friendly Name",
	fing.AgentDeviceType:   "Device Type",
	fing.AgentManufacturer: "Manufacturer",
}

// AgentSensor exposes one attribute of the Fing agent.
type AgentSensor struct {
	entryID string
	kind    fing.AgentKind
}

// NewAgentSensor creates the kind sensor for the agent behind entryID.
func NewAgentSensor(entryID string, kind fing.AgentKind) *AgentSensor {
	return &AgentSensor{entryID: entryID, kind: kind}
}

// AgentSensors returns one sensor per agent attribute.
func AgentSensors(entryID string) []Entity {
	out := make([]Entity, 0, len(fing.AgentKinds))
	for _, kind := range fing.AgentKinds {
		out = append(out, NewAgentSensor(entryID, kind))
	}
	return out
}

// Kind returns the agent attribute this sensor reports.
func (s *AgentSensor) Kind() fing.AgentKind { return s.kind }

// UniqueID returns fing_ha_<entry>_agent_<kind>. The entry ID keeps two
// agents apart when more than one is configured.
func (s *AgentSensor) UniqueID() string {
	return fmt.Sprintf("%s_%s_agent_%s", Domain, s.entryID, s.kind)
}

// Name returns "Fing Agent <Title>".
func (s *AgentSensor) Name() string {
	title, ok := agentTitles[s.kind]
	if !ok {
		title = titleCase(string(s.kind))
	}
	return "Fing Agent " + title
}

// Platform returns sensor.
func (s *AgentSensor) Platform() Platform { return PlatformSensor }

// DeviceClass returns "".
func (s *AgentSensor) DeviceClass() string { return "" }

// Device returns the agent device.
func (s *AgentSensor) Device() DeviceInfo {
	return DeviceInfo{
		Identifiers:  [][2]string{{Domain, "agent_" + s.entryID}},
		Name:         "Fing Agent",
		Manufacturer: "Fing",
		Model:        "Agent",
	}
}

// State returns the agent attribute, or nil when the agent was not fetched.
func (s *AgentSensor) State(snap *coordinator.Snapshot) any {
	if snap == nil {
		return nil
	}
	return snap.Agent.Value(s.kind)
}

func titleCase(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

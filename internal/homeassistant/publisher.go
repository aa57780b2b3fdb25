package homeassistant

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nerrad567/fing-bridge/internal/coordinator"
	"github.com/nerrad567/fing-bridge/internal/entity"
	"github.com/nerrad567/fing-bridge/internal/entry"
	"github.com/nerrad567/fing-bridge/internal/infrastructure/mqtt"
)

// alertModeObject is the object ID of the alert-mode command topic.
const alertModeObject = "alert_mode"

// newDeviceEvent is the event topic suffix for new-device events.
const newDeviceEvent = "new_device"

// MQTTClient is the subset of *mqtt.Client the publisher needs.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger defines the logging interface used by the publisher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Publisher.
type Options struct {
	Client MQTTClient
	Topics mqtt.Topics
	QoS    byte

	// PublishDiscovery sends discovery configs. States and events are
	// published either way.
	PublishDiscovery bool

	Logger Logger
}

// Publisher mirrors entries to Home Assistant over MQTT.
type Publisher struct {
	client    MQTTClient
	topics    mqtt.Topics
	qos       byte
	discovery bool
	logger    Logger

	// switchMu orders switch state publishes and keeps them out of Unpublish.
	switchMu sync.Mutex

	mu sync.Mutex
	// retained holds every retained topic published per entry, cleared on unload.
	retained map[string]map[string]struct{}
	commands map[string]string
}

var _ entry.Observer = (*Publisher)(nil)

// NewPublisher creates a Publisher. Register it with entry.Manager.AddObserver.
func NewPublisher(opts Options) (*Publisher, error) {
	if opts.Client == nil {
		return nil, errors.New("homeassistant: MQTT client is required")
	}
	if opts.Topics.Base == "" {
		return nil, errors.New("homeassistant: base topic is required")
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}
	return &Publisher{
		client:    opts.Client,
		topics:    opts.Topics,
		qos:       opts.QoS,
		discovery: opts.PublishDiscovery,
		logger:    logger,
		retained:  make(map[string]map[string]struct{}),
		commands:  make(map[string]string),
	}, nil
}

// EntitiesAdded publishes the discovery configs and subscribes the switch.
func (p *Publisher) EntitiesAdded(rt *entry.Runtime, entities []entity.Entity) {
	published := 0
	for _, e := range entities {
		if p.safely(rt.ID(), e, func() error { return p.announce(rt, e) }) {
			published++
		}
	}
	p.logger.Info("entities announced", "entry_id", rt.ID(), "count", published, "discovery", p.discovery)
}

func (p *Publisher) announce(rt *entry.Runtime, e entity.Entity) error {
	objectID := ObjectID(e.UniqueID())
	stateTopic := p.topics.State(rt.ID(), objectID)

	if sw, ok := e.(entity.Switch); ok {
		if err := p.subscribeSwitch(rt, sw); err != nil {
			return err
		}
	}

	if !p.discovery {
		return nil
	}

	info := e.Device()
	cfg := discoveryConfig{
		UniqueID:          e.UniqueID(),
		ObjectID:          objectID,
		Name:              e.Name(),
		StateTopic:        stateTopic,
		AvailabilityTopic: p.topics.Status(),
		DeviceClass:       e.DeviceClass(),
		Device: discoveryDevice{
			Identifiers:  deviceIdentifiers(info),
			Name:         info.Name,
			Manufacturer: info.Manufacturer,
			Model:        info.Model,
		},
	}
	switch e.Platform() {
	case entity.PlatformBinarySensor:
		cfg.PayloadOn, cfg.PayloadOff = StateOn, StateOff
	case entity.PlatformSwitch:
		cfg.PayloadOn, cfg.PayloadOff = StateOn, StateOff
		cfg.CommandTopic = p.topics.Command(rt.ID(), alertModeObject)
	}

	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding discovery config: %w", err)
	}
	return p.publishRetained(rt.ID(), p.topics.Discovery(string(e.Platform()), objectID), payload)
}

func (p *Publisher) subscribeSwitch(rt *entry.Runtime, sw entity.Switch) error {
	topic := p.topics.Command(rt.ID(), alertModeObject)
	err := p.client.Subscribe(topic, p.qos, func(_ string, payload []byte) error {
		switch strings.ToUpper(strings.TrimSpace(string(payload))) {
		case StateOn:
			sw.TurnOn()
		case StateOff:
			sw.TurnOff()
		default:
			return fmt.Errorf("unsupported alert mode command %q", payload)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribing %s: %w", topic, err)
	}

	p.mu.Lock()
	p.commands[rt.ID()] = topic
	p.mu.Unlock()
	return nil
}

// PollCompleted publishes the state of every registered entity.
func (p *Publisher) PollCompleted(rt *entry.Runtime, snap *coordinator.Snapshot) {
	for _, e := range rt.Entities() {
		p.safely(rt.ID(), e, func() error {
			return p.publishState(rt.ID(), e, e.State(snap))
		})
	}
}

// AlertModeChanged publishes the switch's new state. It can run inside an
// MQTT message handler, so the publish happens on its own goroutine and
// sends whatever the flag holds by then.
func (p *Publisher) AlertModeChanged(rt *entry.Runtime, _ bool) {
	sw, ok := rt.Switch()
	if !ok {
		return
	}
	go p.publishSwitchState(rt, sw)
}

func (p *Publisher) publishSwitchState(rt *entry.Runtime, sw entity.Switch) {
	p.switchMu.Lock()
	defer p.switchMu.Unlock()

	p.mu.Lock()
	_, published := p.retained[rt.ID()]
	_, subscribed := p.commands[rt.ID()]
	p.mu.Unlock()
	if !published && !subscribed {
		return
	}
	p.safely(rt.ID(), sw, func() error { return p.publishState(rt.ID(), sw, rt.AlertMode()) })
}

// NewDevice publishes the event as JSON, not retained.
func (p *Publisher) NewDevice(rt *entry.Runtime, ev entry.NewDeviceEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("encoding new device event", "entry_id", rt.ID(), "error", err)
		return
	}
	topic := p.topics.Event(rt.ID(), newDeviceEvent)
	if err := p.client.Publish(topic, payload, p.qos, false); err != nil {
		p.logger.Warn("publishing new device event", "entry_id", rt.ID(), "topic", topic, "error", err)
	}
}

// EntryUnloaded unsubscribes the switch and clears every retained topic the
// entry published, which removes its entities from Home Assistant.
func (p *Publisher) EntryUnloaded(rt *entry.Runtime) {
	p.Unpublish(rt.ID())
}

// Unpublish clears an entry's retained configs and states.
func (p *Publisher) Unpublish(entryID string) {
	p.switchMu.Lock()
	defer p.switchMu.Unlock()

	p.mu.Lock()
	topics := p.retained[entryID]
	command, hasCommand := p.commands[entryID]
	delete(p.retained, entryID)
	delete(p.commands, entryID)
	p.mu.Unlock()

	if hasCommand {
		if err := p.client.Unsubscribe(command); err != nil {
			p.logger.Warn("unsubscribing alert mode", "entry_id", entryID, "error", err)
		}
	}
	for topic := range topics {
		// An empty retained payload deletes the retained message.
		if err := p.client.Publish(topic, nil, p.qos, true); err != nil {
			p.logger.Warn("clearing retained topic", "entry_id", entryID, "topic", topic, "error", err)
		}
	}
	p.logger.Info("entry unpublished", "entry_id", entryID, "topics", len(topics))
}

func (p *Publisher) publishState(entryID string, e entity.Entity, state any) error {
	topic := p.topics.State(entryID, ObjectID(e.UniqueID()))
	return p.publishRetained(entryID, topic, []byte(FormatState(state)))
}

func (p *Publisher) publishRetained(entryID, topic string, payload []byte) error {
	if err := p.client.Publish(topic, payload, p.qos, true); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.retained[entryID]
	if !ok {
		set = make(map[string]struct{})
		p.retained[entryID] = set
	}
	set[topic] = struct{}{}
	return nil
}

// safely runs fn for one entity, logging an error or panic instead of
// letting it stop the other entities. It reports whether fn succeeded.
func (p *Publisher) safely(entryID string, e entity.Entity, fn func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("entity publish panicked", "entry_id", entryID, "unique_id", e.UniqueID(), "panic", r)
			ok = false
		}
	}()
	if err := fn(); err != nil {
		p.logger.Warn("entity publish failed", "entry_id", entryID, "unique_id", e.UniqueID(), "error", err)
		return false
	}
	return true
}

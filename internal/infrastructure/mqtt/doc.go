// Package mqtt provides the MQTT connection used to expose Fing entities to
// Home Assistant.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS and retain flags
//   - Subscriptions that are restored after a reconnect
//   - An availability topic with a Last Will of "offline"
//
// # Topics
//
// Topics builds every topic the bridge uses from the configured discovery
// prefix and base topic:
//
//	homeassistant/binary_sensor/fing_ha/<object_id>/config   discovery (retained)
//	fing_ha/<entry_id>/<object_id>/state                     entity state (retained)
//	fing_ha/<entry_id>/alert_mode/set                        switch command
//	fing_ha/<entry_id>/event/new_device                      new-device events
//	fing_ha/status                                           availability
//
// # Usage
//
//	topics := mqtt.NewTopics(cfg.HomeAssistant)
//	client, err := mqtt.Connect(cfg.MQTT, topics.Status())
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(topics.Command(entryID, "alert_mode"), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(payload)
//	    })
package mqtt

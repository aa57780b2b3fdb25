// Package api implements the REST API and WebSocket event stream of the bridge.
//
// The REST side manages configuration entries: the setup form, creating an
// entry (which probes the agent first), listing and deleting entries,
// reading an entry's entities, toggling alert mode and forcing a poll.
//
// The WebSocket hub is an entry.Observer. Clients subscribe to channels and
// receive fing_ha.new_device and fing_ha.poll events as they happen.
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// There is no authentication. The server is meant to listen on a trusted
// network next to the MQTT broker.
package api

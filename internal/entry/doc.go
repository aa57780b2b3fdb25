// Package entry manages configuration entries: one entry per Fing agent.
//
// Entries are stored in the config_entries table, either created through
// the setup flow (Manager.Create) or seeded from the config file. A loaded
// entry has a Runtime that owns the agent client, the poll coordinator, the
// alert-mode flag and the previous-devices snapshot used to detect new
// devices. Transports learn about runtimes through the Observer interface.
//
// Nothing but the entries themselves is persisted. Snapshots and alert mode
// start fresh on every setup.
package entry

package entry

import "errors"

var (
	// ErrHostRequired is returned when an entry has no agent host.
	ErrHostRequired = errors.New("host is required")

	// ErrAPIKeyRequired is returned when an entry has no API key.
	ErrAPIKeyRequired = errors.New("api_key is required")

	// ErrInvalidPort is returned for a port outside 1-65535.
	ErrInvalidPort = errors.New("port must be between 1 and 65535")

	// ErrInvalidScanInterval is returned for a non-positive scan interval.
	ErrInvalidScanInterval = errors.New("scan_interval must be positive")

	// ErrEntryNotFound is returned when an entry ID does not exist.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrNotLoaded is returned when an entry is not set up.
	ErrNotLoaded = errors.New("entry not loaded")

	// ErrAlreadyLoaded is returned when setting up an entry twice.
	ErrAlreadyLoaded = errors.New("entry already loaded")

	// ErrCannotConnect is returned by Manager.Create when the probe fails.
	ErrCannotConnect = errors.New("cannot connect to fing agent")
)

package entry

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/fing-bridge/internal/fing"
)

// Entry defaults.
const (
	DefaultPort         = fing.DefaultPort
	DefaultScanInterval = 30
	DefaultTitle        = "Fing HA"
)

// Setup-form error codes.
const (
	ErrorKeyBase       = "base"
	ErrorCannotConnect = "cannot_connect"
)

// Config is the data of one configuration entry.
type Config struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	APIKey string `json:"api_key"`

	// ScanInterval is the poll interval in seconds.
	ScanInterval int `json:"scan_interval"`

	EnableNotifications   bool `json:"enable_notifications"`
	ExcludeUnknownDevices bool `json:"exclude_unknown_devices"`

	UseTLS bool `json:"use_tls,omitempty"`
}

// ApplyDefaults fills the port and scan interval when unset.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.ScanInterval == 0 {
		c.ScanInterval = DefaultScanInterval
	}
}

// Validate reports every problem with the entry data.
func (c Config) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, ErrHostRequired)
	}
	if c.APIKey == "" {
		errs = append(errs, ErrAPIKeyRequired)
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrInvalidPort, c.Port))
	}
	if c.ScanInterval < 1 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrInvalidScanInterval, c.ScanInterval))
	}
	return errors.Join(errs...)
}

// ClientConfig converts the entry data to the agent client's configuration.
func (c Config) ClientConfig() fing.ClientConfig {
	return fing.ClientConfig{
		Host:   c.Host,
		Port:   c.Port,
		APIKey: c.APIKey,
		UseTLS: c.UseTLS,
	}
}

// Field describes one setup-form field.
type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Default  any    `json:"default,omitempty"`
}

// Schema returns the setup form in display order.
func Schema() []Field {
	return []Field{
		{Name: "host", Type: "string", Required: true},
		{Name: "port", Type: "integer", Default: DefaultPort},
		{Name: "api_key", Type: "string", Required: true},
		{Name: "scan_interval", Type: "integer", Required: true, Default: DefaultScanInterval},
		{Name: "enable_notifications", Type: "boolean", Default: false},
		{Name: "exclude_unknown_devices", Type: "boolean", Default: false},
	}
}

// Prober checks that an agent answers one device-list call.
type Prober func(ctx context.Context, cfg Config) bool

// ValidateInput runs the setup flow's checks on user input.
//
// A malformed config returns an error. A config whose agent cannot be
// reached returns {"base": "cannot_connect"}. A nil map and nil error mean
// the entry can be created.
func ValidateInput(ctx context.Context, cfg Config, probe Prober) (map[string]string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !probe(ctx, cfg) {
		return map[string]string{ErrorKeyBase: ErrorCannotConnect}, nil
	}
	return nil, nil
}

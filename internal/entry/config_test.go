package entry

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{Host: "h", APIKey: "k"}
	cfg.ApplyDefaults()

	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port, DefaultPort)
	}
	if cfg.ScanInterval != DefaultScanInterval {
		t.Errorf("ScanInterval = %d, want %d", cfg.ScanInterval, DefaultScanInterval)
	}
	if cfg.EnableNotifications || cfg.ExcludeUnknownDevices {
		t.Error("boolean options should default to false")
	}

	custom := Config{Port: 8443, ScanInterval: 5}
	custom.ApplyDefaults()
	if custom.Port != 8443 || custom.ScanInterval != 5 {
		t.Errorf("ApplyDefaults() overwrote explicit values: %+v", custom)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{Host: "h", Port: 49090, APIKey: "k", ScanInterval: 30}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   []error
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing host", mutate: func(c *Config) { c.Host = "" }, want: []error{ErrHostRequired}},
		{name: "missing api key", mutate: func(c *Config) { c.APIKey = "" }, want: []error{ErrAPIKeyRequired}},
		{name: "port too high", mutate: func(c *Config) { c.Port = 70000 }, want: []error{ErrInvalidPort}},
		{name: "zero interval", mutate: func(c *Config) { c.ScanInterval = 0 }, want: []error{ErrInvalidScanInterval}},
		{
			name:   "everything wrong",
			mutate: func(c *Config) { *c = Config{} },
			want:   []error{ErrHostRequired, ErrAPIKeyRequired, ErrInvalidPort, ErrInvalidScanInterval},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if len(tt.want) == 0 {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			for _, want := range tt.want {
				if !errors.Is(err, want) {
					t.Errorf("Validate() error = %v, want it to wrap %v", err, want)
				}
			}
		})
	}
}

func TestConfig_ClientConfig(t *testing.T) {
	cc := Config{Host: "agent", Port: 1234, APIKey: "k", UseTLS: true}.ClientConfig()
	if cc.Host != "agent" || cc.Port != 1234 || cc.APIKey != "k" || !cc.UseTLS {
		t.Errorf("ClientConfig() = %+v", cc)
	}
}

func TestSchema(t *testing.T) {
	var names []string
	required := map[string]bool{}
	for _, f := range Schema() {
		names = append(names, f.Name)
		required[f.Name] = f.Required
	}

	want := []string{"host", "port", "api_key", "scan_interval", "enable_notifications", "exclude_unknown_devices"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("Schema() fields mismatch (-want +got):\n%s", diff)
	}
	for _, name := range []string{"host", "api_key", "scan_interval"} {
		if !required[name] {
			t.Errorf("field %q should be required", name)
		}
	}
	if required["port"] {
		t.Error("port should be optional")
	}
}

func TestValidateInput(t *testing.T) {
	ctx := context.Background()
	valid := Config{Host: "h", Port: 49090, APIKey: "k", ScanInterval: 30}

	t.Run("probe succeeds", func(t *testing.T) {
		errs, err := ValidateInput(ctx, valid, func(context.Context, Config) bool { return true })
		if err != nil || errs != nil {
			t.Errorf("ValidateInput() = %v, %v; want nil, nil", errs, err)
		}
	})

	t.Run("probe fails", func(t *testing.T) {
		errs, err := ValidateInput(ctx, valid, func(context.Context, Config) bool { return false })
		if err != nil {
			t.Fatalf("ValidateInput() error = %v", err)
		}
		if diff := cmp.Diff(map[string]string{"base": "cannot_connect"}, errs); diff != "" {
			t.Errorf("ValidateInput() errors mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("invalid input skips probe", func(t *testing.T) {
		probed := false
		_, err := ValidateInput(ctx, Config{}, func(context.Context, Config) bool {
			probed = true
			return true
		})
		if !errors.Is(err, ErrHostRequired) {
			t.Errorf("ValidateInput() error = %v, want ErrHostRequired", err)
		}
		if probed {
			t.Error("probe ran for invalid input")
		}
	})
}

package entity

import (
	"context"
	"time"

	"github.com/nerrad567/fing-bridge/internal/coordinator"
)

// Logger defines the logging interface used by platform setup.
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

// FactoryOptions control which device entities Prepare creates.
type FactoryOptions struct {
	// ExcludeUnknown keeps only devices whose key is in Previous.
	ExcludeUnknown bool
	Previous       map[string]struct{}

	// AssumeOnline is passed to every presence sensor.
	AssumeOnline bool
}

// Prepare builds one presence sensor and one sensor per DeviceSensorKinds
// entry for each device in the snapshot. A nil snapshot yields nothing, and
// a key seen twice only yields entities once.
func Prepare(snap *coordinator.Snapshot, opts FactoryOptions) []Entity {
	if snap == nil {
		return nil
	}

	entities := make([]Entity, 0, snap.Devices.Len()*(1+len(DeviceSensorKinds)))
	seen := make(map[string]struct{}, snap.Devices.Len())
	for _, d := range snap.Devices.Devices {
		if d.MAC == "" {
			continue
		}
		if _, dup := seen[d.Key]; dup {
			continue
		}
		seen[d.Key] = struct{}{}
		if opts.ExcludeUnknown {
			if _, known := opts.Previous[d.Key]; !known {
				continue
			}
		}

		entities = append(entities, NewPresenceSensor(d, opts.AssumeOnline))
		for _, kind := range DeviceSensorKinds {
			entities = append(entities, NewAttributeSensor(d, kind))
		}
	}
	return entities
}

// PlatformOptions carries what Setup needs from the entry.
type PlatformOptions struct {
	EntryID  string
	Snapshot *coordinator.Snapshot
	Factory  FactoryOptions

	// Alert backs the alert-mode switch. No switch is created when nil.
	Alert AlertState

	Logger Logger
}

// Setup prepares the entry's entities in a background goroutine and hands
// them to add when done. It returns at once; the returned channel closes
// after add has returned or ctx was cancelled first.
//
// The list holds the device entities, then the agent sensors, then the
// alert-mode switch.
func Setup(ctx context.Context, opts PlatformOptions, add func([]Entity)) <-chan struct{} {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				logger.Error("entity preparation panicked", "entry_id", opts.EntryID, "panic", r)
			}
		}()

		start := time.Now()
		entities := Prepare(opts.Snapshot, opts.Factory)
		logger.Debug("entity preparation complete",
			"entry_id", opts.EntryID,
			"device_entities", len(entities),
			"duration_ms", time.Since(start).Milliseconds())

		entities = append(entities, AgentSensors(opts.EntryID)...)
		if opts.Alert != nil {
			entities = append(entities, NewAlertSwitch(opts.EntryID, opts.Alert))
		}

		if ctx.Err() != nil {
			logger.Debug("entity setup abandoned", "entry_id", opts.EntryID)
			return
		}
		add(entities)
		logger.Info("entities registered", "entry_id", opts.EntryID, "count", len(entities))
	}()
	return done
}

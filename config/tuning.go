package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"squeeze-chart/internal/session"
	"squeeze-chart/internal/sda"
	"squeeze-chart/internal/simulator"
	"squeeze-chart/internal/viewport"
)

// Tuning is the algorithm configuration read from SDA_CONFIG.
type Tuning struct {
	Detector  sda.DetectorConfig `yaml:"detector"`
	Tracker   sda.TrackerConfig  `yaml:"tracker"`
	Signals   SignalTuning       `yaml:"signals"`
	Simulator simulator.Config   `yaml:"simulator"`
	Viewport  viewport.Config    `yaml:"viewport"`
	Intervals Intervals          `yaml:"intervals"`
}

type SignalTuning struct {
	TolerancePct float64 `yaml:"tolerance_pct"`
}

// Intervals are the scheduler periods of the session tasks.
type Intervals struct {
	Lifecycle time.Duration `yaml:"lifecycle"`
	Simulator time.Duration `yaml:"simulator"`
	RenderFPS int           `yaml:"render_fps"`
}

// DefaultTuning returns the reference settings.
func DefaultTuning() Tuning {
	d := session.DefaultConfig()
	return Tuning{
		Detector:  d.Detector,
		Tracker:   d.Tracker,
		Signals:   SignalTuning{TolerancePct: d.TolerancePct},
		Simulator: d.Simulator,
		Viewport:  d.Viewport,
		Intervals: Intervals{
			Lifecycle: d.LifecycleInterval,
			Simulator: d.SimulatorInterval,
			RenderFPS: d.RenderFPS,
		},
	}
}

// LoadTuning decodes path over the defaults, so a file only needs the keys
// it changes. A missing file yields the defaults.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("[config] %s not found, using default tuning", path)
		return t, nil
	}
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(b, &t); err != nil {
		return t, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning validation failed: %w", err)
	}
	return t, nil
}

// Validate rejects settings the algorithms cannot run with. Simulator
// settings are clamped later rather than rejected.
func (t Tuning) Validate() error {
	if err := t.Detector.Validate(); err != nil {
		return err
	}
	if err := t.Tracker.Validate(); err != nil {
		return err
	}
	if err := t.Viewport.Validate(); err != nil {
		return err
	}
	switch {
	case t.Signals.TolerancePct <= 0:
		return fmt.Errorf("signals.tolerance_pct must be > 0, got %v", t.Signals.TolerancePct)
	case t.Intervals.Lifecycle <= 0:
		return fmt.Errorf("intervals.lifecycle must be > 0, got %s", t.Intervals.Lifecycle)
	case t.Intervals.Simulator <= 0:
		return fmt.Errorf("intervals.simulator must be > 0, got %s", t.Intervals.Simulator)
	case t.Intervals.RenderFPS < 1 || t.Intervals.RenderFPS > 120:
		return fmt.Errorf("intervals.render_fps must be in [1, 120], got %d", t.Intervals.RenderFPS)
	}
	return nil
}

// Apply copies the tuning into a session config.
func (t Tuning) Apply(cfg *session.Config) {
	cfg.Detector = t.Detector
	cfg.Tracker = t.Tracker
	cfg.TolerancePct = t.Signals.TolerancePct
	cfg.Simulator = t.Simulator
	cfg.Viewport = t.Viewport
	cfg.LifecycleInterval = t.Intervals.Lifecycle
	cfg.SimulatorInterval = t.Intervals.Simulator
	cfg.RenderFPS = t.Intervals.RenderFPS
}

// Package config loads the preview engine's tuning parameters.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/camera.preview/internal/units"
)

// DefaultConfigPath is the canonical location of the defaults file, relative
// to the repository root.
const DefaultConfigPath = "config/preview.defaults.json"

// PreviewConfig holds tunables for motion settling, tiling and live refresh.
// Every field is optional; the Get* accessors supply defaults.
type PreviewConfig struct {
	// Multiplier applied to the computed travel time before capturing.
	SettleMargin *float64 `json:"settle_margin,omitempty"`
	// Fixed latency added after the margin, as a duration string like "100ms".
	SettleLatency *string `json:"settle_latency,omitempty"`

	OverlapRatio *float64 `json:"overlap_ratio,omitempty"`
	LiveInterval *string  `json:"live_interval,omitempty"` // duration string like "1s"

	MovementSpeedLevel *string `json:"movement_speed_level,omitempty"`

	PreviewPPMM *float64 `json:"preview_ppmm,omitempty"`
	CameraPPMM  *float64 `json:"camera_ppmm,omitempty"`

	// Height used when a device has no probe and the user has not entered one.
	DefaultObjectHeight *float64 `json:"default_object_height,omitempty"`

	// Whether to prompt on unstable camera cable reports.
	CameraCableAlert *bool `json:"camera_cable_alert,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }

// EmptyPreviewConfig returns a config with every field unset.
func EmptyPreviewConfig() *PreviewConfig {
	return &PreviewConfig{}
}

// DefaultPreviewConfig returns a config with every field set to its default.
func DefaultPreviewConfig() *PreviewConfig {
	c := EmptyPreviewConfig()
	return &PreviewConfig{
		SettleMargin:       ptrFloat64(c.GetSettleMargin()),
		SettleLatency:      ptrString(c.GetSettleLatency().String()),
		OverlapRatio:       ptrFloat64(c.GetOverlapRatio()),
		LiveInterval:       ptrString(c.GetLiveInterval().String()),
		MovementSpeedLevel: ptrString(c.GetMovementSpeedLevel()),
		PreviewPPMM:        ptrFloat64(c.GetPreviewPPMM()),
		CameraPPMM:         ptrFloat64(c.GetCameraPPMM()),
		CameraCableAlert:   ptrBool(c.GetCameraCableAlert()),
	}
}

// LoadPreviewConfig reads and validates a JSON config file.
func LoadPreviewConfig(path string) (*PreviewConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPreviewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching upward from the
// working directory so tests in nested packages find it.
func MustLoadDefaultConfig() *PreviewConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadPreviewConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run from repository root")
}

// Validate checks ranges and duration strings of any set field.
func (c *PreviewConfig) Validate() error {
	if c.SettleMargin != nil && *c.SettleMargin < 1 {
		return fmt.Errorf("settle_margin must be at least 1, got %f", *c.SettleMargin)
	}

	if c.SettleLatency != nil && *c.SettleLatency != "" {
		d, err := time.ParseDuration(*c.SettleLatency)
		if err != nil {
			return fmt.Errorf("invalid settle_latency '%s': %w", *c.SettleLatency, err)
		}
		if d < 0 {
			return fmt.Errorf("settle_latency must be non-negative, got %s", d)
		}
	}

	if c.OverlapRatio != nil {
		if *c.OverlapRatio < 0 || *c.OverlapRatio >= 1 {
			return fmt.Errorf("overlap_ratio must be in [0, 1), got %f", *c.OverlapRatio)
		}
	}

	if c.LiveInterval != nil && *c.LiveInterval != "" {
		d, err := time.ParseDuration(*c.LiveInterval)
		if err != nil {
			return fmt.Errorf("invalid live_interval '%s': %w", *c.LiveInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("live_interval must be positive, got %s", d)
		}
	}

	if c.MovementSpeedLevel != nil && !units.IsValidSpeedLevel(*c.MovementSpeedLevel) {
		return fmt.Errorf("movement_speed_level must be one of %s, got %q",
			units.GetValidSpeedLevelsString(), *c.MovementSpeedLevel)
	}

	if c.PreviewPPMM != nil && *c.PreviewPPMM <= 0 {
		return fmt.Errorf("preview_ppmm must be positive, got %f", *c.PreviewPPMM)
	}
	if c.CameraPPMM != nil && *c.CameraPPMM <= 0 {
		return fmt.Errorf("camera_ppmm must be positive, got %f", *c.CameraPPMM)
	}

	if c.DefaultObjectHeight != nil && *c.DefaultObjectHeight < 0 {
		return fmt.Errorf("default_object_height must be non-negative, got %f", *c.DefaultObjectHeight)
	}

	return nil
}

func (c *PreviewConfig) GetSettleMargin() float64 {
	if c.SettleMargin == nil {
		return 1.2
	}
	return *c.SettleMargin
}

func (c *PreviewConfig) GetSettleLatency() time.Duration {
	if c.SettleLatency == nil || *c.SettleLatency == "" {
		return 100 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.SettleLatency)
	if err != nil {
		return 100 * time.Millisecond
	}
	return d
}

func (c *PreviewConfig) GetOverlapRatio() float64 {
	if c.OverlapRatio == nil {
		return 0.05
	}
	return *c.OverlapRatio
}

func (c *PreviewConfig) GetLiveInterval() time.Duration {
	if c.LiveInterval == nil || *c.LiveInterval == "" {
		return time.Second
	}
	d, err := time.ParseDuration(*c.LiveInterval)
	if err != nil {
		return time.Second
	}
	return d
}

func (c *PreviewConfig) GetMovementSpeedLevel() string {
	if c.MovementSpeedLevel == nil {
		return units.SpeedFast
	}
	return *c.MovementSpeedLevel
}

func (c *PreviewConfig) GetPreviewPPMM() float64 {
	if c.PreviewPPMM == nil {
		return 10
	}
	return *c.PreviewPPMM
}

func (c *PreviewConfig) GetCameraPPMM() float64 {
	if c.CameraPPMM == nil {
		return 5
	}
	return *c.CameraPPMM
}

// GetDefaultObjectHeight reports the configured fallback height, if any.
func (c *PreviewConfig) GetDefaultObjectHeight() (float64, bool) {
	if c.DefaultObjectHeight == nil {
		return 0, false
	}
	return *c.DefaultObjectHeight, true
}

func (c *PreviewConfig) GetCameraCableAlert() bool {
	if c.CameraCableAlert == nil {
		return true
	}
	return *c.CameraCableAlert
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// DefaultSettings returns the built-in bottom layer. Every field is set.
func DefaultSettings() Settings {
	return Settings{
		ROIs:              ptr(4),
		Prefix1:           ptr("XSPRESS3"),
		Prefix2:           ptr(":"),
		Port:              ptr("XSP3"),
		Addr:              ptr(0),
		Cards:             ptr(1),
		BaseIP:            ptr("192.168.0.1"),
		MaxFrames:         ptr(16384),
		MaxSpectra:        ptr(4096),
		MaxBuffers:        ptr(4096),
		MaxMemory:         ptr(-1),
		QueueSize:         ptr(4096),
		BlockingCallbacks: ptr(0),
		Timeout:           ptr(5),
		Debug:             ptr(0),
		Simulation:        ptr(false),
		ConfigPath:        ptr(""),
		Capabilities: &CapabilitySettings{
			Highlevel:   ptr(true),
			ROIStats:    ptr(true),
			ArrayExport: ptr(true),
			ROIData:     ptr(true),
		},
	}
}

func ptr[T any](v T) *T {
	return &v
}

func pick[T any](base, top *T) *T {
	if top != nil {
		return top
	}
	return base
}

// Overlay returns base with every field set in top taking precedence.
func Overlay(base, top Settings) Settings {
	merged := Settings{
		Profile:           base.Profile,
		Channels:          pick(base.Channels, top.Channels),
		ROIs:              pick(base.ROIs, top.ROIs),
		Prefix1:           pick(base.Prefix1, top.Prefix1),
		Prefix2:           pick(base.Prefix2, top.Prefix2),
		Port:              pick(base.Port, top.Port),
		Addr:              pick(base.Addr, top.Addr),
		Cards:             pick(base.Cards, top.Cards),
		BaseIP:            pick(base.BaseIP, top.BaseIP),
		MaxFrames:         pick(base.MaxFrames, top.MaxFrames),
		MaxSpectra:        pick(base.MaxSpectra, top.MaxSpectra),
		MaxBuffers:        pick(base.MaxBuffers, top.MaxBuffers),
		MaxMemory:         pick(base.MaxMemory, top.MaxMemory),
		QueueSize:         pick(base.QueueSize, top.QueueSize),
		BlockingCallbacks: pick(base.BlockingCallbacks, top.BlockingCallbacks),
		Timeout:           pick(base.Timeout, top.Timeout),
		Debug:             pick(base.Debug, top.Debug),
		Simulation:        pick(base.Simulation, top.Simulation),
		ConfigPath:        pick(base.ConfigPath, top.ConfigPath),
		Capabilities:      overlayCapabilities(base.Capabilities, top.Capabilities),
	}
	if top.Profile != "" {
		merged.Profile = top.Profile
	}
	return merged
}

func overlayCapabilities(base, top *CapabilitySettings) *CapabilitySettings {
	if top == nil {
		return base
	}
	if base == nil {
		return top
	}
	return &CapabilitySettings{
		Highlevel:   pick(base.Highlevel, top.Highlevel),
		ROIStats:    pick(base.ROIStats, top.ROIStats),
		ArrayExport: pick(base.ArrayExport, top.ArrayExport),
		ROIData:     pick(base.ROIData, top.ROIData),
	}
}

// Resolve turns layered settings into the inputs of NewTopology. Unset fields
// fall back to DefaultSettings. A missing channel count is an invalid argument.
func (s Settings) Resolve() (DriverConfig, int, Capabilities, error) {
	s = Overlay(DefaultSettings(), s)
	if s.Channels == nil {
		return DriverConfig{}, 0, Capabilities{}, fmt.Errorf("%w: number of channels is required", ErrInvalidArgument)
	}

	driver := DriverConfig{
		Port:              *s.Port,
		Addr:              *s.Addr,
		Channels:          *s.Channels,
		Cards:             *s.Cards,
		BaseIP:            *s.BaseIP,
		MaxFrames:         *s.MaxFrames,
		MaxSpectra:        *s.MaxSpectra,
		MaxBuffers:        *s.MaxBuffers,
		MaxMemory:         *s.MaxMemory,
		QueueSize:         *s.QueueSize,
		BlockingCallbacks: *s.BlockingCallbacks,
		Timeout:           *s.Timeout,
		Debug:             *s.Debug,
		Simulation:        *s.Simulation,
		Prefix1:           *s.Prefix1,
		Prefix2:           *s.Prefix2,
		ConfigPath:        *s.ConfigPath,
	}
	caps := Capabilities{
		Highlevel:   *s.Capabilities.Highlevel,
		ROIStats:    *s.Capabilities.ROIStats,
		ArrayExport: *s.Capabilities.ArrayExport,
		ROIData:     *s.Capabilities.ROIData,
	}
	return driver, *s.ROIs, caps, nil
}

// ParseSettings decodes a settings document. The format is chosen from the
// file extension: .json and .jsonc are JSON with comments and trailing commas,
// anything else is YAML.
func ParseSettings(name string, data []byte) (Settings, error) {
	var settings Settings
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &settings); err != nil {
			return Settings{}, fmt.Errorf("parsing settings: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return Settings{}, fmt.Errorf("parsing settings: %w", err)
		}
	}
	return settings, nil
}

// LoadSettingsFile reads and parses a settings file from disk.
func LoadSettingsFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("reading %s: %w", path, err)
	}
	settings, err := ParseSettings(path, data)
	if err != nil {
		return Settings{}, fmt.Errorf("%s: %w", path, err)
	}
	return settings, nil
}

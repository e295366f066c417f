package main

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"strings"
)

// ErrInvalidArgument is returned (wrapped) for any setting that cannot produce
// a valid IOC topology.
var ErrInvalidArgument = errors.New("invalid argument")

// ScalersPerChannel is the number of hardware scalers the xspress3 exposes per
// channel. The attribute plugin of each channel carries one attribute per scaler.
const ScalersPerChannel = 8

// Settings is the layered, user-facing configuration for one generation run.
// Every field is optional: a nil field means "not set at this layer" so that
// built-in defaults, hardware profiles, settings files and command line flags
// can be stacked with Overlay.
type Settings struct {
	// Profile names the hardware profile whose defaults sit underneath this layer.
	// Only meaningful in a settings file.
	Profile string `yaml:"profile,omitempty" json:"profile,omitempty"`

	// Channels is the number of detector channels (n_channels). Must be at least 1.
	Channels *int `yaml:"channels,omitempty" json:"channels,omitempty"`

	// ROIs is the number of regions of interest per channel. Zero disables the
	// NDROIStatN rows but the ROI-statistics plugins are still configured.
	ROIs *int `yaml:"rois,omitempty" json:"rois,omitempty"`

	// Prefix1 and Prefix2 are concatenated to form the PV prefix of every record,
	// e.g. "XSPRESS3" and ":" give "XSPRESS3:".
	Prefix1 *string `yaml:"prefix1,omitempty" json:"prefix1,omitempty"`
	Prefix2 *string `yaml:"prefix2,omitempty" json:"prefix2,omitempty"`

	// Port is the asyn port name of the detector driver. All plugin ports are
	// derived from it ("XSP3" gives "XSP3.PROC", "XSP3.ROI1", ...).
	Port *string `yaml:"port,omitempty" json:"port,omitempty"`

	// Addr is the asyn address of the driver port.
	Addr *int `yaml:"addr,omitempty" json:"addr,omitempty"`

	// Cards is the number of xspress3 systems (normally 1).
	Cards *int `yaml:"cards,omitempty" json:"cards,omitempty"`

	// BaseIP is the base address used by the 1Gig and 10Gig interfaces.
	BaseIP *string `yaml:"baseIp,omitempty" json:"baseIp,omitempty"`

	// MaxFrames is the maximum number of frames in one acquisition.
	MaxFrames *int `yaml:"maxFrames,omitempty" json:"maxFrames,omitempty"`

	// MaxSpectra is the size of each spectrum. It is also the element count of
	// the per-channel records.
	MaxSpectra *int `yaml:"maxSpectra,omitempty" json:"maxSpectra,omitempty"`

	// MaxBuffers and MaxMemory are passed to the driver and every plugin.
	// -1 or 0 means unlimited, depending on the consumer.
	MaxBuffers *int `yaml:"maxBuffers,omitempty" json:"maxBuffers,omitempty"`
	MaxMemory  *int `yaml:"maxMemory,omitempty" json:"maxMemory,omitempty"`

	// QueueSize is the input array queue size of every plugin.
	QueueSize *int `yaml:"queueSize,omitempty" json:"queueSize,omitempty"`

	// BlockingCallbacks is 0 or 1.
	BlockingCallbacks *int `yaml:"blockingCallbacks,omitempty" json:"blockingCallbacks,omitempty"`

	// Timeout is the asyn timeout in seconds used by the record templates.
	Timeout *int `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Debug is passed through to xsp3_config in the Xspress API.
	Debug *int `yaml:"debug,omitempty" json:"debug,omitempty"`

	// Simulation runs the driver without hardware.
	Simulation *bool `yaml:"simulation,omitempty" json:"simulation,omitempty"`

	// ConfigPath is the Xspress3 settings directory written after iocInit.
	// Empty means no CONFIG_PATH directive.
	ConfigPath *string `yaml:"configPath,omitempty" json:"configPath,omitempty"`

	// Capabilities switches optional parts of the plugin tree.
	Capabilities *CapabilitySettings `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
}

// CapabilitySettings is the optional form of Capabilities.
type CapabilitySettings struct {
	Highlevel   *bool `yaml:"highlevel,omitempty" json:"highlevel,omitempty"`
	ROIStats    *bool `yaml:"roiStats,omitempty" json:"roiStats,omitempty"`
	ArrayExport *bool `yaml:"arrayExport,omitempty" json:"arrayExport,omitempty"`
	ROIData     *bool `yaml:"roiData,omitempty" json:"roiData,omitempty"`
}

// Capabilities selects which optional parts of the plugin tree are generated.
type Capabilities struct {
	// Highlevel loads xspress3_highlevel.template.
	Highlevel bool
	// ROIStats configures two NDROIStat plugins per channel and loads the
	// NDROIStatN rows.
	ROIStats bool
	// ArrayExport configures two NDStdArrays plugins per channel.
	ArrayExport bool
	// ROIData configures the ROIDATA plugin between the driver and the HDF5 writer.
	ROIData bool
}

// DriverConfig identifies the detector driver instance. One per generation run,
// never modified after NewTopology returns.
type DriverConfig struct {
	Port              string
	Addr              int
	Channels          int
	Cards             int
	BaseIP            string
	MaxFrames         int
	MaxSpectra        int
	MaxBuffers        int
	MaxMemory         int
	QueueSize         int
	BlockingCallbacks int
	Timeout           int
	Debug             int
	Simulation        bool
	Prefix1           string
	Prefix2           string
	ConfigPath        string
}

// PVPrefix returns the record name prefix shared by every emitted PV.
func (d *DriverConfig) PVPrefix() string {
	return d.Prefix1 + d.Prefix2
}

// PluginPort returns the port name of a driver-level plugin, e.g. "XSP3.PROC".
func (d *DriverConfig) PluginPort(suffix string) string {
	return d.Port + "." + suffix
}

// ChannelConfig is one detector channel and the names of its plugin sub-tree.
type ChannelConfig struct {
	// Index is the 1-based channel number.
	Index int

	// Driver is a back-reference, not owned by the channel.
	Driver *DriverConfig

	// ROIs is the number of regions of interest in the channel's ROI-statistics plugins.
	ROIs int

	ROIPort        string
	ROISumPort     string
	ArrayPort      string
	ArraySumPort   string
	AttrPort       string
	ROIStatPort    string
	ROISumStatPort string
}

// Addr is the asyn address of the channel on the driver port.
func (c *ChannelConfig) Addr() int {
	return c.Index - 1
}

// Ports lists every plugin port owned by the channel, in configuration order.
func (c *ChannelConfig) Ports() []string {
	return []string{
		c.ROIPort, c.ROISumPort,
		c.ArrayPort, c.ArraySumPort,
		c.AttrPort,
		c.ROIStatPort, c.ROISumStatPort,
	}
}

// Topology is the full plugin tree of one IOC: a driver, its global plugins
// (processing, ROI data, HDF5) and one sub-tree per channel.
type Topology struct {
	Driver       DriverConfig
	Channels     []ChannelConfig
	Capabilities Capabilities
}

// Validation helpers

var portNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

// ValidatePortName checks that an asyn port name is usable inside quoted
// iocsh arguments and as a prefix for derived plugin ports.
func ValidatePortName(port string) error {
	if !portNamePattern.MatchString(port) {
		return fmt.Errorf("%w: port name %q must contain only alphanumerics, '_', '.', ':' and '-'", ErrInvalidArgument, port)
	}
	return nil
}

// ValidateBaseIP checks that the base address is a dotted IPv4 address.
func ValidateBaseIP(ip string) error {
	addr, err := netip.ParseAddr(ip)
	if err != nil || !addr.Is4() {
		return fmt.Errorf("%w: base IP %q is not an IPv4 address", ErrInvalidArgument, ip)
	}
	return nil
}

// Validate checks the driver settings that NewTopology relies on.
func (d *DriverConfig) Validate() error {
	if d.Channels < 1 {
		return fmt.Errorf("%w: channel count must be at least 1, got %d", ErrInvalidArgument, d.Channels)
	}
	if err := ValidatePortName(d.Port); err != nil {
		return err
	}
	if err := ValidateBaseIP(d.BaseIP); err != nil {
		return err
	}
	if d.Cards < 1 {
		return fmt.Errorf("%w: card count must be at least 1, got %d", ErrInvalidArgument, d.Cards)
	}
	if d.MaxFrames < 1 {
		return fmt.Errorf("%w: max frames must be at least 1, got %d", ErrInvalidArgument, d.MaxFrames)
	}
	if d.MaxSpectra < 1 {
		return fmt.Errorf("%w: max spectra must be at least 1, got %d", ErrInvalidArgument, d.MaxSpectra)
	}
	if d.QueueSize < 1 {
		return fmt.Errorf("%w: queue size must be at least 1, got %d", ErrInvalidArgument, d.QueueSize)
	}
	if d.BlockingCallbacks != 0 && d.BlockingCallbacks != 1 {
		return fmt.Errorf("%w: blocking callbacks must be 0 or 1, got %d", ErrInvalidArgument, d.BlockingCallbacks)
	}
	if d.Prefix1 == "" {
		return fmt.Errorf("%w: prefix1 must not be empty", ErrInvalidArgument)
	}
	return nil
}

// String methods for log output

func (t *Topology) String() string {
	var sb strings.Builder
	sb.WriteString("Xspress3 IOC Topology:\n")
	sb.WriteString(fmt.Sprintf("  Driver: %s (%d channels, %d cards, %s)\n",
		t.Driver.Port, t.Driver.Channels, t.Driver.Cards, t.Driver.BaseIP))
	sb.WriteString(fmt.Sprintf("  PV prefix: %s\n", t.Driver.PVPrefix()))
	sb.WriteString(fmt.Sprintf("  Capabilities: %s\n", t.Capabilities.String()))
	for i := range t.Channels {
		sb.WriteString(fmt.Sprintf("  %s\n", t.Channels[i].String()))
	}
	return sb.String()
}

func (c *ChannelConfig) String() string {
	return fmt.Sprintf("Channel %d (ROIs: %d, Ports: %s)", c.Index, c.ROIs, strings.Join(c.Ports(), ", "))
}

func (c Capabilities) String() string {
	var enabled []string
	if c.Highlevel {
		enabled = append(enabled, "highlevel")
	}
	if c.ROIStats {
		enabled = append(enabled, "roiStats")
	}
	if c.ArrayExport {
		enabled = append(enabled, "arrayExport")
	}
	if c.ROIData {
		enabled = append(enabled, "roiData")
	}
	if len(enabled) == 0 {
		return "none"
	}
	return strings.Join(enabled, ", ")
}

// Hardware profile types

// ProfileInfo contains metadata about a hardware profile
type ProfileInfo struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`
	Vendor      string `yaml:"vendor"`
}

// HardwareProfile is a complete hardware profile file: default settings for a
// particular detector installation (channel count, card count, network, limits).
type HardwareProfile struct {
	ProfileInfo ProfileInfo `yaml:"profileInfo"`
	Defaults    Settings    `yaml:"defaults,omitempty"`
	Notes       string      `yaml:"notes,omitempty"`
}

// ProfileManager handles loading and applying hardware profile defaults
type ProfileManager struct {
	profiles map[string]*HardwareProfile
}

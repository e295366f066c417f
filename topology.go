package main

import (
	"fmt"
)

// NewTopology builds the plugin tree for driver with rois regions of interest
// per channel. Channels are numbered 1..driver.Channels and every derived port
// name is a function of the driver port and the channel index only.
func NewTopology(driver DriverConfig, rois int, caps Capabilities) (*Topology, error) {
	if err := driver.Validate(); err != nil {
		return nil, err
	}
	if rois < 0 {
		return nil, fmt.Errorf("%w: ROI count must not be negative, got %d", ErrInvalidArgument, rois)
	}

	topo := &Topology{
		Driver:       driver,
		Capabilities: caps,
		Channels:     make([]ChannelConfig, 0, driver.Channels),
	}

	// Driver-level plugin ports take part in the collision check too.
	seen := map[string]string{
		driver.Port:                  "driver",
		driver.PluginPort("PROC"):    "processing plugin",
		driver.PluginPort("ROIDATA"): "ROI data plugin",
		driver.PluginPort("HDF5"):    "file writer",
	}

	for index := 1; index <= driver.Channels; index++ {
		channel := newChannel(&topo.Driver, index, rois)
		owner := fmt.Sprintf("channel %d", index)
		for _, port := range channel.Ports() {
			if prev, exists := seen[port]; exists {
				return nil, fmt.Errorf("%w: port %s of %s collides with %s", ErrInvalidArgument, port, owner, prev)
			}
			seen[port] = owner
		}
		topo.Channels = append(topo.Channels, channel)
	}

	return topo, nil
}

func newChannel(driver *DriverConfig, index, rois int) ChannelConfig {
	port := func(format string) string {
		return driver.PluginPort(fmt.Sprintf(format, index))
	}
	return ChannelConfig{
		Index:          index,
		Driver:         driver,
		ROIs:           rois,
		ROIPort:        port("ROI%d"),
		ROISumPort:     port("ROISUM%d"),
		ArrayPort:      port("ARR%d"),
		ArraySumPort:   port("ARRSUM%d"),
		AttrPort:       port("C%d_SCAS"),
		ROIStatPort:    port("ROISTAT%d"),
		ROISumStatPort: port("ROISUMSTAT%d"),
	}
}

// FromSettings resolves layered settings and builds the topology.
func FromSettings(settings Settings) (*Topology, error) {
	driver, rois, caps, err := settings.Resolve()
	if err != nil {
		return nil, err
	}
	return NewTopology(driver, rois, caps)
}

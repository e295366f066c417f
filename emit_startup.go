package main

import (
	"fmt"
	"io"
)

// iocsh factory signatures, printed as a comment above each call.
const (
	sigXspress3Config = "xspress3Config(portName, numChannels, numCards, baseIP, maxFrames, maxSpectra, maxBuffers, maxMemory, debug, simTest)"
	sigProcess        = "NDProcessConfigure(portName, queueSize, blockingCallbacks, NDArrayPort, NDArrayAddr, maxBuffers, maxMemory)"
	sigROI            = "NDROIConfigure(portName, queueSize, blockingCallbacks, NDArrayPort, NDArrayAddr, maxBuffers, maxMemory)"
	sigHDF5           = "NDFileHDF5Configure(portName, queueSize, blockingCallbacks, NDArrayPort, NDArrayAddr, maxBuffers, maxMemory)"
	sigStdArrays      = "NDStdArraysConfigure(portName, queueSize, blockingCallbacks, NDArrayPort, NDArrayAddr, maxBuffers, maxMemory)"
	sigAttr           = "NDAttrConfigure(portName, queueSize, blockingCallbacks, NDArrayPort, NDArrayAddr, maxAttributes, maxBuffers, maxMemory)"
	sigROIStat        = "NDROIStatConfigure(portName, queueSize, blockingCallbacks, NDArrayPort, NDArrayAddr, maxROIs, maxBuffers, maxMemory)"
)

// StartupEmitter writes the iocsh startup script: the driver, the global
// plugins (processing, ROI data, HDF5) and then every channel's plugins in
// ascending channel order.
type StartupEmitter struct{}

func (StartupEmitter) Emit(w io.Writer, topo *Topology) error {
	p := &printer{w: w}
	d := &topo.Driver

	header(p, "#", topo, "Startup script")

	command(p, sigXspress3Config, "xspress3Config",
		d.Port, d.Channels, d.Cards, d.BaseIP, d.MaxFrames, d.MaxSpectra,
		d.MaxBuffers, d.MaxMemory, d.Debug, boolInt(d.Simulation))

	pluginCommand(p, d, sigProcess, "NDProcessConfigure", d.PluginPort("PROC"), d.Port, d.Addr)

	hdfSource := d.Port
	if topo.Capabilities.ROIData {
		pluginCommand(p, d, sigROI, "NDROIConfigure", d.PluginPort("ROIDATA"), d.Port, d.Addr)
		hdfSource = d.PluginPort("ROIDATA")
	}
	pluginCommand(p, d, sigHDF5, "NDFileHDF5Configure", d.PluginPort("HDF5"), hdfSource, d.Addr)

	for i := range topo.Channels {
		emitChannelStartup(p, &topo.Channels[i], topo.Capabilities)
	}

	return p.err
}

func emitChannelStartup(p *printer, c *ChannelConfig, caps Capabilities) {
	d := c.Driver

	p.blank()
	p.printf("#########################################\n")
	p.printf("# Channel %d\n", c.Index)

	pluginCommand(p, d, sigROI, "NDROIConfigure", c.ROIPort, d.Port, d.Addr)
	pluginCommand(p, d, sigROI, "NDROIConfigure", c.ROISumPort, d.Port, d.Addr)

	if caps.ArrayExport {
		pluginCommand(p, d, sigStdArrays, "NDStdArraysConfigure", c.ArrayPort, c.ROIPort, 0)
		pluginCommand(p, d, sigStdArrays, "NDStdArraysConfigure", c.ArraySumPort, c.ROISumPort, 0)
	}

	command(p, sigAttr, "NDAttrConfigure",
		c.AttrPort, d.QueueSize, d.BlockingCallbacks, d.Port, d.Addr,
		ScalersPerChannel, d.MaxBuffers, d.MaxMemory)

	if caps.ROIStats {
		command(p, sigROIStat, "NDROIStatConfigure",
			c.ROIStatPort, d.QueueSize, d.BlockingCallbacks, c.ROIPort, 0,
			c.ROIs, d.MaxBuffers, d.MaxMemory)
		command(p, sigROIStat, "NDROIStatConfigure",
			c.ROISumStatPort, d.QueueSize, d.BlockingCallbacks, c.ROISumPort, 0,
			c.ROIs, d.MaxBuffers, d.MaxMemory)
	}
}

// pluginCommand writes a plugin configure call with the common 7-argument shape.
func pluginCommand(p *printer, d *DriverConfig, signature, name, port, source string, addr int) {
	command(p, signature, name, port, d.QueueSize, d.BlockingCallbacks, source, addr, d.MaxBuffers, d.MaxMemory)
}

func command(p *printer, signature, name string, args ...any) {
	p.blank()
	p.printf("# %s\n", signature)
	p.println(fmt.Sprintf("%s(%s)", name, joinArgs(args...)))
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package main

import (
	"fmt"
	"io"
)

// PostInitEmitter writes the dbpf directives run after iocInit.
type PostInitEmitter struct{}

func (PostInitEmitter) Emit(w io.Writer, topo *Topology) error {
	p := &printer{w: w}
	d := &topo.Driver
	pv := d.PVPrefix()

	header(p, "#", topo, "Post iocInit script")
	p.blank()

	if d.ConfigPath != "" {
		dbpf(p, pv+"CONFIG_PATH", d.ConfigPath)
	}

	dbpf(p, pv+"PROC:EnableCallbacks", "Enable")
	dbpf(p, pv+"PROC:FilterType", "Sum")
	dbpf(p, pv+"PROC:EnableFilter", "Enable")

	dbpf(p, pv+"HDF5:EnableCallbacks", "Enable")

	if topo.Capabilities.ROIData {
		dbpf(p, pv+"ROIDATA:EnableCallbacks", "Enable")
	}

	for i := range topo.Channels {
		c := &topo.Channels[i]
		for sca := 0; sca < ScalersPerChannel; sca++ {
			dbpf(p, fmt.Sprintf("%sC%d_SCAS:%d:AttrName", pv, c.Index, sca+1), ScalerAttrName(c.Index, sca))
		}
	}

	return p.err
}

// ScalerAttrName is the NDAttribute name of scaler sca (0-based) on channel.
func ScalerAttrName(channel, sca int) string {
	return fmt.Sprintf("CHAN%dSCA%d", channel, sca)
}

func dbpf(p *printer, pv, value string) {
	p.printf("dbpf(%s, %s)\n", quote(pv), quote(value))
}

package main

import (
	"io"
	"strings"
)

// Record templates loaded by the substitution file.
const (
	templateDriver    = "xspress3.template"
	templateHighlevel = "xspress3_highlevel.template"
	templateChannel   = "xspress3Channel.template"
	templateROIStatN  = "xspress3_NDROIStatN.template"
)

// substitutionBlock is one "file <template> { pattern {...} {...} }" block.
type substitutionBlock struct {
	template string
	pattern  []string
	rows     [][]any
}

func (b *substitutionBlock) add(row ...any) {
	b.rows = append(b.rows, row)
}

func (b *substitutionBlock) write(p *printer) {
	p.blank()
	p.printf("file %s\n", b.template)
	p.println("{")
	p.printf("pattern { %s }\n", strings.Join(b.pattern, ", "))
	for _, row := range b.rows {
		p.printf("        { %s }\n", joinArgs(row...))
	}
	p.println("}")
}

// SubstitutionEmitter writes the record substitution file: the driver block,
// the optional highlevel block and, per channel, the channel block and its
// ROI-statistics table.
type SubstitutionEmitter struct{}

func (SubstitutionEmitter) Emit(w io.Writer, topo *Topology) error {
	p := &printer{w: w}
	d := &topo.Driver

	header(p, "#", topo, "Substitutions")

	driver := substitutionBlock{
		template: templateDriver,
		pattern:  []string{"P", "R", "PORT", "ADDR", "TIMEOUT", "MAX_SPECTRA", "MAX_FRAMES"},
	}
	driver.add(d.Prefix1, d.Prefix2, d.Port, d.Addr, d.Timeout, d.MaxSpectra, d.MaxFrames)
	driver.write(p)

	if topo.Capabilities.Highlevel {
		highlevel := substitutionBlock{
			template: templateHighlevel,
			pattern:  []string{"P", "R", "HDF", "PROC", "XSP3_PORT", "XSP3_ADDR", "TIMEOUT", "ADDR"},
		}
		highlevel.add(d.Prefix1, d.Prefix2, d.PVPrefix()+"HDF5:", d.PVPrefix()+"PROC:",
			d.Port, d.Addr, d.Timeout, d.Addr)
		highlevel.write(p)
	}

	for i := range topo.Channels {
		c := &topo.Channels[i]

		channel := substitutionBlock{
			template: templateChannel,
			pattern:  []string{"P", "R", "XSP3_PORT", "ADDR", "TIMEOUT", "CHAN", "NELEMENTS", "INDEX"},
		}
		channel.add(d.Prefix1, d.Prefix2, d.Port, c.Addr(), d.Timeout, c.Index, d.MaxSpectra, c.Index+1)
		channel.write(p)

		if !topo.Capabilities.ROIStats || c.ROIs == 0 {
			continue
		}
		stats := roiStatBlock(c)
		stats.write(p)
	}

	return p.err
}

// roiStatBlock has exactly one row per ROI of the channel.
func roiStatBlock(c *ChannelConfig) substitutionBlock {
	d := c.Driver
	block := substitutionBlock{
		template: templateROIStatN,
		pattern:  []string{"P", "R", "CHAN", "ROI", "XSP3_PORT", "NCHANS", "ADDR", "TIMEOUT"},
	}
	for roi := 1; roi <= c.ROIs; roi++ {
		block.add(d.Prefix1, d.Prefix2, c.Index, roi, d.Port, d.MaxSpectra, roi-1, d.Timeout)
	}
	return block
}

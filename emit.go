package main

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Emitter writes one generated artifact for a topology. Emitters hold no state
// and write only to the sink they are given.
type Emitter interface {
	Emit(w io.Writer, topo *Topology) error
}

// Render runs an emitter into memory.
func Render(e Emitter, topo *Topology) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.Emit(&buf, topo); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// printer keeps the first write error so emitters can format line after line
// and check once at the end.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func (p *printer) println(line string) {
	p.printf("%s\n", line)
}

func (p *printer) blank() {
	p.printf("\n")
}

// quote renders a string argument for iocsh and substitution files.
func quote(s string) string {
	return strconv.Quote(s)
}

// header is the comment block at the top of every text artifact.
func header(p *printer, comment string, topo *Topology, what string) {
	p.printf("%s %s generated by xspress3-iocgen\n", comment, what)
	p.printf("%s %d channel(s), %d ROI(s) per channel, PV prefix %s\n",
		comment, topo.Driver.Channels, roiCount(topo), topo.Driver.PVPrefix())
	p.printf("%s capabilities: %s\n", comment, topo.Capabilities.String())
}

func roiCount(topo *Topology) int {
	if len(topo.Channels) == 0 {
		return 0
	}
	return topo.Channels[0].ROIs
}

// joinArgs formats the argument list of an iocsh factory call.
func joinArgs(args ...any) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case string:
			parts[i] = quote(v)
		default:
			parts[i] = fmt.Sprint(v)
		}
	}
	return strings.Join(parts, ", ")
}

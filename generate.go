package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Outputs holds the destination path of each artifact. An empty path sends
// the artifact to stdout, except Attributes which is only written to a file.
type Outputs struct {
	Substitution string
	Startup      string
	PostInit     string
	Attributes   string
}

type artifact struct {
	name     string
	path     string
	emitter  Emitter
	optional bool
}

// artifacts lists everything Generate writes, in stdout order.
func (o Outputs) artifacts() []artifact {
	return []artifact{
		{name: "startup script", path: o.Startup, emitter: StartupEmitter{}},
		{name: "post-init script", path: o.PostInit, emitter: PostInitEmitter{}},
		{name: "substitutions", path: o.Substitution, emitter: SubstitutionEmitter{}},
		{name: "attributes", path: o.Attributes, emitter: AttributesEmitter{}, optional: true},
	}
}

// OpenSink returns the destination for an artifact: stdout when path is
// empty, otherwise a newly created (or truncated) file.
func OpenSink(path string, stdout io.Writer) (io.WriteCloser, error) {
	if path == "" {
		return nopCloser{stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return f, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// Generate renders every artifact for topo and writes them to their sinks.
// Nothing is written unless all artifacts rendered successfully.
func Generate(topo *Topology, outputs Outputs, stdout io.Writer, logger *slog.Logger) error {
	type rendered struct {
		artifact
		data []byte
	}

	var pending []rendered
	for _, a := range outputs.artifacts() {
		if a.optional && a.path == "" {
			continue
		}
		data, err := Render(a.emitter, topo)
		if err != nil {
			return fmt.Errorf("rendering %s: %w", a.name, err)
		}
		pending = append(pending, rendered{artifact: a, data: data})
	}

	for _, r := range pending {
		if err := writeArtifact(r.path, r.data, stdout); err != nil {
			return fmt.Errorf("writing %s: %w", r.name, err)
		}
		dest := r.path
		if dest == "" {
			dest = "stdout"
		}
		logger.Debug("wrote artifact", "artifact", r.name, "destination", dest, "bytes", len(r.data))
	}

	logger.Info("generated IOC configuration",
		"channels", topo.Driver.Channels,
		"rois", roiCount(topo),
		"prefix", topo.Driver.PVPrefix(),
		"capabilities", topo.Capabilities.String())
	return nil
}

func writeArtifact(path string, data []byte, stdout io.Writer) error {
	sink, err := OpenSink(path, stdout)
	if err != nil {
		return err
	}
	if _, err := sink.Write(data); err != nil {
		sink.Close()
		return err
	}
	return sink.Close()
}

package main

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
)

func render(t *testing.T, e Emitter, topo *Topology) string {
	t.Helper()
	data, err := Render(e, topo)
	if err != nil {
		t.Fatalf("Render(%T) failed: %v", e, err)
	}
	return string(data)
}

// commandLines returns the non-comment, non-blank lines of an iocsh script.
func commandLines(script string) []string {
	var lines []string
	for _, line := range strings.Split(script, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// substitutionRows returns the value rows of every block using template.
func substitutionRows(subs, template string) [][]string {
	var blocks [][]string
	var current []string
	inBlock := false
	for _, line := range strings.Split(subs, "\n") {
		switch {
		case line == "file "+template:
			inBlock = true
			current = []string{}
		case inBlock && line == "}":
			blocks = append(blocks, current)
			inBlock = false
		case inBlock && strings.HasPrefix(line, "        {"):
			current = append(current, strings.TrimSpace(line))
		}
	}
	return blocks
}

func TestEmittersDeterministic(t *testing.T) {
	emitters := []Emitter{StartupEmitter{}, SubstitutionEmitter{}, PostInitEmitter{}, AttributesEmitter{}}
	for _, n := range []int{1, 3, 8} {
		for _, r := range []int{0, 1, 4} {
			for _, e := range emitters {
				first := render(t, e, testTopology(t, n, r))
				second := render(t, e, testTopology(t, n, r))
				if first != second {
					t.Errorf("%T output differs between runs for n=%d r=%d", e, n, r)
				}
			}
		}
	}
}

func TestStartupFourChannels(t *testing.T) {
	script := render(t, StartupEmitter{}, testTopology(t, 4, 4))
	lines := commandLines(script)

	count := func(substr string) int {
		n := 0
		for _, line := range lines {
			if strings.Contains(line, substr) {
				n++
			}
		}
		return n
	}

	if got := count("xspress3Config("); got != 1 {
		t.Errorf("Expected 1 driver config line, got %d", got)
	}
	if got := count(".PROC"); got != 1 {
		t.Errorf("Expected 1 .PROC line, got %d", got)
	}
	if got := count(".HDF5"); got != 1 {
		t.Errorf("Expected 1 .HDF5 line, got %d", got)
	}
	if got := count(`"XSP3.ROIDATA", `); got != 2 {
		t.Errorf("Expected ROIDATA to be configured once and feed HDF5 once, got %d lines", got)
	}

	// Driver, PROC, ROIDATA, HDF5, then 7 commands per channel.
	if len(lines) != 4+4*7 {
		t.Fatalf("Expected %d command lines, got %d:\n%s", 4+4*7, len(lines), strings.Join(lines, "\n"))
	}

	expectedHead := []string{
		`xspress3Config("XSP3", 4, 1, "192.168.0.1", 16384, 4096, 4096, -1, 0, 0)`,
		`NDProcessConfigure("XSP3.PROC", 4096, 0, "XSP3", 0, 4096, -1)`,
		`NDROIConfigure("XSP3.ROIDATA", 4096, 0, "XSP3", 0, 4096, -1)`,
		`NDFileHDF5Configure("XSP3.HDF5", 4096, 0, "XSP3.ROIDATA", 0, 4096, -1)`,
	}
	for i, want := range expectedHead {
		if lines[i] != want {
			t.Errorf("line %d:\nexpected %s\ngot      %s", i, want, lines[i])
		}
	}

	for c := 1; c <= 4; c++ {
		block := lines[4+(c-1)*7 : 4+c*7]
		expected := []string{
			fmt.Sprintf(`NDROIConfigure("XSP3.ROI%d", 4096, 0, "XSP3", 0, 4096, -1)`, c),
			fmt.Sprintf(`NDROIConfigure("XSP3.ROISUM%d", 4096, 0, "XSP3", 0, 4096, -1)`, c),
			fmt.Sprintf(`NDStdArraysConfigure("XSP3.ARR%d", 4096, 0, "XSP3.ROI%d", 0, 4096, -1)`, c, c),
			fmt.Sprintf(`NDStdArraysConfigure("XSP3.ARRSUM%d", 4096, 0, "XSP3.ROISUM%d", 0, 4096, -1)`, c, c),
			fmt.Sprintf(`NDAttrConfigure("XSP3.C%d_SCAS", 4096, 0, "XSP3", 0, 8, 4096, -1)`, c),
			fmt.Sprintf(`NDROIStatConfigure("XSP3.ROISTAT%d", 4096, 0, "XSP3.ROI%d", 0, 4, 4096, -1)`, c, c),
			fmt.Sprintf(`NDROIStatConfigure("XSP3.ROISUMSTAT%d", 4096, 0, "XSP3.ROISUM%d", 0, 4, 4096, -1)`, c, c),
		}
		for i, want := range expected {
			if block[i] != want {
				t.Errorf("channel %d command %d:\nexpected %s\ngot      %s", c, i, want, block[i])
			}
		}
	}

	if !strings.Contains(script, "# Channel 4\n") {
		t.Error("Expected a channel 4 section comment")
	}
}

func TestStartupCapabilities(t *testing.T) {
	topo := testTopology(t, 2, 4)
	topo.Capabilities = Capabilities{}

	lines := commandLines(render(t, StartupEmitter{}, topo))

	// Driver, PROC, HDF5, then ROI x2 and attribute plugin per channel.
	if len(lines) != 3+2*3 {
		t.Fatalf("Expected %d command lines, got %d:\n%s", 3+2*3, len(lines), strings.Join(lines, "\n"))
	}
	if lines[2] != `NDFileHDF5Configure("XSP3.HDF5", 4096, 0, "XSP3", 0, 4096, -1)` {
		t.Errorf("Expected HDF5 to read the driver port without ROIDATA, got %s", lines[2])
	}
	for _, line := range lines {
		for _, absent := range []string{"ROIDATA", "NDStdArraysConfigure", "NDROIStatConfigure"} {
			if strings.Contains(line, absent) {
				t.Errorf("Did not expect %s with capabilities disabled: %s", absent, line)
			}
		}
	}
}

func TestStartupSimulationFlag(t *testing.T) {
	topo, err := FromSettings(Settings{Channels: ptr(1), Simulation: ptr(true), Debug: ptr(1)})
	if err != nil {
		t.Fatal(err)
	}
	lines := commandLines(render(t, StartupEmitter{}, topo))
	if !strings.HasSuffix(lines[0], ", 1, 1)") {
		t.Errorf("Expected debug=1 and simTest=1 at the end of %s", lines[0])
	}
}

func TestSubstitutionsGolden(t *testing.T) {
	got := render(t, SubstitutionEmitter{}, testTopology(t, 1, 2))
	expected := `# Substitutions generated by xspress3-iocgen
# 1 channel(s), 2 ROI(s) per channel, PV prefix XSPRESS3:
# capabilities: highlevel, roiStats, arrayExport, roiData

file xspress3.template
{
pattern { P, R, PORT, ADDR, TIMEOUT, MAX_SPECTRA, MAX_FRAMES }
        { "XSPRESS3", ":", "XSP3", 0, 5, 4096, 16384 }
}

file xspress3_highlevel.template
{
pattern { P, R, HDF, PROC, XSP3_PORT, XSP3_ADDR, TIMEOUT, ADDR }
        { "XSPRESS3", ":", "XSPRESS3:HDF5:", "XSPRESS3:PROC:", "XSP3", 0, 5, 0 }
}

file xspress3Channel.template
{
pattern { P, R, XSP3_PORT, ADDR, TIMEOUT, CHAN, NELEMENTS, INDEX }
        { "XSPRESS3", ":", "XSP3", 0, 5, 1, 4096, 2 }
}

file xspress3_NDROIStatN.template
{
pattern { P, R, CHAN, ROI, XSP3_PORT, NCHANS, ADDR, TIMEOUT }
        { "XSPRESS3", ":", 1, 1, "XSP3", 4096, 0, 5 }
        { "XSPRESS3", ":", 1, 2, "XSP3", 4096, 1, 5 }
}
`
	if got != expected {
		t.Errorf("Substitutions mismatch.\nexpected:\n%s\ngot:\n%s", expected, got)
	}
}

func TestSubstitutionsROIStatRows(t *testing.T) {
	for _, n := range []int{1, 4, 7} {
		for _, r := range []int{1, 4, 16} {
			subs := render(t, SubstitutionEmitter{}, testTopology(t, n, r))

			blocks := substitutionRows(subs, templateROIStatN)
			if len(blocks) != n {
				t.Fatalf("n=%d r=%d: expected %d ROI stat blocks, got %d", n, r, n, len(blocks))
			}
			for i, rows := range blocks {
				if len(rows) != r {
					t.Errorf("n=%d r=%d: channel %d has %d rows, expected %d", n, r, i+1, len(rows), r)
				}
			}
		}
	}
}

func TestSubstitutionsNoROIs(t *testing.T) {
	subs := render(t, SubstitutionEmitter{}, testTopology(t, 3, 0))
	if blocks := substitutionRows(subs, templateROIStatN); len(blocks) != 0 {
		t.Errorf("Expected no ROI stat blocks with 0 ROIs, got %d", len(blocks))
	}
	if blocks := substitutionRows(subs, templateChannel); len(blocks) != 3 {
		t.Errorf("Expected 3 channel blocks, got %d", len(blocks))
	}
}

func TestSubstitutionsChannelSet(t *testing.T) {
	n := 9
	subs := render(t, SubstitutionEmitter{}, testTopology(t, n, 2))
	blocks := substitutionRows(subs, templateChannel)
	if len(blocks) != n {
		t.Fatalf("Expected %d channel blocks, got %d", n, len(blocks))
	}

	seen := make(map[int]bool)
	for _, rows := range blocks {
		var p, r, port string
		var addr, timeout, chanNum, nelem, index int
		_, err := fmt.Sscanf(strings.ReplaceAll(rows[0], ",", ""), "{ %q %q %q %d %d %d %d %d }",
			&p, &r, &port, &addr, &timeout, &chanNum, &nelem, &index)
		if err != nil {
			t.Fatalf("Failed to parse channel row %q: %v", rows[0], err)
		}
		if seen[chanNum] {
			t.Errorf("channel %d appears twice", chanNum)
		}
		seen[chanNum] = true
		if addr != chanNum-1 {
			t.Errorf("channel %d: expected ADDR %d, got %d", chanNum, chanNum-1, addr)
		}
	}
	for c := 1; c <= n; c++ {
		if !seen[c] {
			t.Errorf("channel %d missing from substitutions", c)
		}
	}
}

func TestSubstitutionsCapabilities(t *testing.T) {
	topo := testTopology(t, 2, 4)
	topo.Capabilities.Highlevel = false
	topo.Capabilities.ROIStats = false
	subs := render(t, SubstitutionEmitter{}, topo)

	if strings.Contains(subs, templateHighlevel) {
		t.Error("Did not expect the highlevel template")
	}
	if strings.Contains(subs, templateROIStatN) {
		t.Error("Did not expect ROI stat rows")
	}
	if blocks := substitutionRows(subs, templateDriver); len(blocks) != 1 {
		t.Errorf("Expected exactly one driver block, got %d", len(blocks))
	}
}

func TestPostInitGolden(t *testing.T) {
	got := render(t, PostInitEmitter{}, testTopology(t, 1, 1))

	var sb strings.Builder
	sb.WriteString("# Post iocInit script generated by xspress3-iocgen\n")
	sb.WriteString("# 1 channel(s), 1 ROI(s) per channel, PV prefix XSPRESS3:\n")
	sb.WriteString("# capabilities: highlevel, roiStats, arrayExport, roiData\n")
	sb.WriteString("\n")
	sb.WriteString(`dbpf("XSPRESS3:PROC:EnableCallbacks", "Enable")` + "\n")
	sb.WriteString(`dbpf("XSPRESS3:PROC:FilterType", "Sum")` + "\n")
	sb.WriteString(`dbpf("XSPRESS3:PROC:EnableFilter", "Enable")` + "\n")
	sb.WriteString(`dbpf("XSPRESS3:HDF5:EnableCallbacks", "Enable")` + "\n")
	sb.WriteString(`dbpf("XSPRESS3:ROIDATA:EnableCallbacks", "Enable")` + "\n")
	for sca := 0; sca < 8; sca++ {
		sb.WriteString(fmt.Sprintf(`dbpf("XSPRESS3:C1_SCAS:%d:AttrName", "CHAN1SCA%d")`+"\n", sca+1, sca))
	}

	if got != sb.String() {
		t.Errorf("Post-init mismatch.\nexpected:\n%s\ngot:\n%s", sb.String(), got)
	}
}

func TestPostInitConfigPathAndOrder(t *testing.T) {
	topo, err := FromSettings(Settings{Channels: ptr(3), ConfigPath: ptr("/home/xspress3/settings")})
	if err != nil {
		t.Fatal(err)
	}
	lines := commandLines(render(t, PostInitEmitter{}, topo))

	if lines[0] != `dbpf("XSPRESS3:CONFIG_PATH", "/home/xspress3/settings")` {
		t.Errorf("Expected CONFIG_PATH first, got %s", lines[0])
	}
	if len(lines) != 1+5+3*8 {
		t.Fatalf("Expected %d directives, got %d", 1+5+3*8, len(lines))
	}

	// Scaler directives ascend by channel, then by scaler.
	last := 0
	for _, line := range lines[6:] {
		var channel, n, sca int
		if _, err := fmt.Sscanf(line, `dbpf("XSPRESS3:C%d_SCAS:%d:AttrName", "CHAN`, &channel, &n); err != nil {
			t.Fatalf("Unexpected directive %q: %v", line, err)
		}
		if _, err := fmt.Sscanf(line[strings.LastIndex(line, "SCA")+3:], "%d", &sca); err != nil {
			t.Fatalf("Unexpected directive %q: %v", line, err)
		}
		key := channel*100 + n
		if key <= last {
			t.Errorf("directive out of order: %s", line)
		}
		last = key
		if sca != n-1 {
			t.Errorf("attribute index %d does not match scaler %d in %s", n, sca, line)
		}
	}
}

func TestPVPrefix(t *testing.T) {
	topo := testTopology(t, 4, 4)

	dbpfPattern := regexp.MustCompile(`^dbpf\("([^"]+)"`)
	for _, line := range commandLines(render(t, PostInitEmitter{}, topo)) {
		m := dbpfPattern.FindStringSubmatch(line)
		if m == nil {
			t.Errorf("Unexpected post-init line %q", line)
			continue
		}
		if !strings.HasPrefix(m[1], "XSPRESS3:") {
			t.Errorf("PV %s does not begin with XSPRESS3:", m[1])
		}
	}

	subs := render(t, SubstitutionEmitter{}, topo)
	pvPattern := regexp.MustCompile(`"[^"]*:[^"]*:"`)
	for _, pv := range pvPattern.FindAllString(subs, -1) {
		if !strings.HasPrefix(pv, `"XSPRESS3:`) {
			t.Errorf("PV token %s does not begin with XSPRESS3:", pv)
		}
	}
}

func TestCustomPrefixAndPort(t *testing.T) {
	topo, err := FromSettings(Settings{
		Channels: ptr(2),
		Prefix1:  ptr("BL18B"),
		Prefix2:  ptr("-EA-XSP-01:"),
		Port:     ptr("XSPD"),
	})
	if err != nil {
		t.Fatal(err)
	}

	script := render(t, StartupEmitter{}, topo)
	if strings.Contains(script, "XSP3") {
		t.Error("Expected no default port name in the startup script")
	}
	if !strings.Contains(script, `NDROIStatConfigure("XSPD.ROISUMSTAT2", 4096, 0, "XSPD.ROISUM2"`) {
		t.Error("Expected derived ports on XSPD")
	}

	post := render(t, PostInitEmitter{}, topo)
	if !strings.Contains(post, `dbpf("BL18B-EA-XSP-01:C2_SCAS:8:AttrName", "CHAN2SCA7")`) {
		t.Errorf("Expected prefixed attribute directive, got:\n%s", post)
	}
}

func TestAttributes(t *testing.T) {
	data, err := Render(AttributesEmitter{}, testTopology(t, 3, 4))
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !bytes.HasPrefix(data, []byte(`<?xml version="1.0" standalone="no" ?>`)) {
		t.Errorf("Expected XML declaration, got %q", data[:40])
	}

	var doc ndAttributes
	if err := xml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Generated XML does not parse: %v", err)
	}
	if len(doc.Attributes) != 3*len(channelAttributes) {
		t.Fatalf("Expected %d attributes, got %d", 3*len(channelAttributes), len(doc.Attributes))
	}

	names := make(map[string]bool)
	for _, attr := range doc.Attributes {
		if names[attr.Name] {
			t.Errorf("duplicate attribute %s", attr.Name)
		}
		names[attr.Name] = true
		var channel int
		if _, err := fmt.Sscanf(attr.Name, "CHAN%d", &channel); err != nil {
			t.Fatalf("Unexpected attribute name %s", attr.Name)
		}
		if attr.Addr != channel-1 {
			t.Errorf("%s: expected addr %d, got %d", attr.Name, channel-1, attr.Addr)
		}
	}

	// The post-init script names the same scaler attributes.
	for c := 1; c <= 3; c++ {
		for sca := 0; sca < ScalersPerChannel; sca++ {
			if !names[ScalerAttrName(c, sca)] {
				t.Errorf("Expected attribute %s in the XML", ScalerAttrName(c, sca))
			}
		}
	}
}

type failingWriter struct{}

var errSinkFull = errors.New("sink full")

func (failingWriter) Write([]byte) (int, error) { return 0, errSinkFull }

func TestEmittersPropagateWriteErrors(t *testing.T) {
	topo := testTopology(t, 2, 2)
	for _, e := range []Emitter{StartupEmitter{}, SubstitutionEmitter{}, PostInitEmitter{}, AttributesEmitter{}} {
		if err := e.Emit(failingWriter{}, topo); !errors.Is(err, errSinkFull) {
			t.Errorf("%T: expected sink error, got %v", e, err)
		}
	}
}

package main

import (
	"encoding/xml"
	"fmt"
	"io"
)

// ndAttributes is the root element of an areaDetector NDAttributes file.
type ndAttributes struct {
	XMLName    xml.Name      `xml:"Attributes"`
	Attributes []ndAttribute `xml:"Attribute"`
}

type ndAttribute struct {
	Addr        int    `xml:"addr,attr"`
	Name        string `xml:"name,attr"`
	Source      string `xml:"source,attr"`
	Type        string `xml:"type,attr"`
	DataType    string `xml:"datatype,attr"`
	Description string `xml:"description,attr"`
}

// channelAttribute describes one per-channel driver parameter exported as an
// NDAttribute. The name and description get the channel number inserted.
type channelAttribute struct {
	suffix      string
	source      string
	kind        string
	description string
}

var channelAttributes = []channelAttribute{
	{"SCA0", "XSP3_CHAN_SCA0", "PARAM", "ClockTicks"},
	{"SCA1", "XSP3_CHAN_SCA1", "PARAM", "ResetTicks"},
	{"SCA2", "XSP3_CHAN_SCA2", "PARAM", "ResetCounts"},
	{"SCA3", "XSP3_CHAN_SCA3", "PARAM", "AllEvent"},
	{"SCA4", "XSP3_CHAN_SCA4", "PARAM", "AllGood"},
	{"SCA5", "XSP3_CHAN_SCA5", "PARAM", "Window1"},
	{"SCA6", "XSP3_CHAN_SCA6", "PARAM", "Window2"},
	{"SCA7", "XSP3_CHAN_SCA7", "PARAM", "Pileup"},
	{"DTCFLAGS", "XSP3_CHAN_DTC_FLAGS", "INT", "DTC Flags"},
	{"DTCAEG", "XSP3_CHAN_DTC_AEG", "PARAM", "DTC All Good Event Grad"},
	{"DTCAEO", "XSP3_CHAN_DTC_AEO", "PARAM", "DTC All Good Event Offset"},
	{"DTCIWG", "XSP3_CHAN_DTC_IWG", "PARAM", "DTC In Window Grad"},
	{"DTCIWO", "XSP3_CHAN_DTC_IWO", "PARAM", "DTC In Window Offset"},
	{"EventWidth", "XSP3_EVENT_WIDTH", "PARAM", "Event Width"},
	{"DTFactor", "XSP3_CHAN_DTFACTOR", "PARAM", "DT Factor"},
}

// AttributesEmitter writes the NDAttributes XML file that attaches each
// channel's scaler and dead-time parameters to the detector's NDArrays.
type AttributesEmitter struct{}

func (AttributesEmitter) Emit(w io.Writer, topo *Topology) error {
	doc := ndAttributes{}
	for i := range topo.Channels {
		c := &topo.Channels[i]
		for _, attr := range channelAttributes {
			doc.Attributes = append(doc.Attributes, ndAttribute{
				Addr:        c.Addr(),
				Name:        fmt.Sprintf("CHAN%d%s", c.Index, attr.suffix),
				Source:      attr.source,
				Type:        attr.kind,
				DataType:    "DOUBLE",
				Description: fmt.Sprintf("CHAN%d %s", c.Index, attr.description),
			})
		}
	}

	if _, err := io.WriteString(w, `<?xml version="1.0" standalone="no" ?>`+"\n"); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding attributes: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

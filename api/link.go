package api

// MinLatency replaces a zero link latency; zero-delay bottlenecks make the
// buffer sizing degenerate.
const MinLatency = 0.1 // ms

type Link struct {
	Source     string         `json:"source" yaml:"source"`
	Target     string         `json:"target" yaml:"target"`
	Properties LinkProperties `json:"properties" yaml:"properties"`
}

type LinkProperties struct {
	Bandwidth      float64 `json:"bandwidth" yaml:"bandwidth"` // in Mbps
	Latency        float64 `json:"latency" yaml:"latency"`     // in ms, one way
	LatencyGroup   string  `json:"latency_group,omitempty" yaml:"latency_group,omitempty"`
	BandwidthGroup string  `json:"bandwidth_group,omitempty" yaml:"bandwidth_group,omitempty"`

	// QueueSize is derived from Latency and Bandwidth, never read from input.
	QueueSize int `json:"-" yaml:"-"` // in packets
}

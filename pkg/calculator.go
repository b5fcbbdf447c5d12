package pkg

import (
	"MPTestbed/api"
	"math"
)

const (
	DefaultQueueMultiplier = 1.5
	DefaultMTU             = 1500 // bytes
	DefaultAddedPackets    = 20
)

// Calculator sizes bottleneck buffers. A buffer must hold at least one
// bandwidth-delay product for a single flow to saturate the path; Multiplier
// scales that product and AddedPackets keeps low-delay, low-rate links usable.
type Calculator struct {
	Multiplier   float64
	MTU          int
	AddedPackets int
}

func NewCalculator() *Calculator {
	return &Calculator{
		Multiplier:   DefaultQueueMultiplier,
		MTU:          DefaultMTU,
		AddedPackets: DefaultAddedPackets,
	}
}

// QueueSize returns the buffer depth in packets for a path with the given
// round trip time and bottleneck bandwidth:
//
//	ceil(multiplier * rtt[s] * rate[B/s] / mtu + addedPackets)
func (c *Calculator) QueueSize(rttMs, bandwidthMbps float64) int {
	// rtt[s] * rate[B/s] = rttMs/1000 * bandwidthMbps*1e6/8, folded into a
	// single division so that whole-number inputs stay exact.
	bdpPackets := c.Multiplier * rttMs * bandwidthMbps * 1e6 / (8 * 1000 * float64(c.MTU))
	return int(math.Ceil(bdpPackets + float64(c.AddedPackets)))
}

// QueueSize uses the default multiplier, MTU and added packets.
func QueueSize(rttMs, bandwidthMbps float64) int {
	return NewCalculator().QueueSize(rttMs, bandwidthMbps)
}

// ApplyQueueSizes derives the queue size of every link, treating each link
// as the bottleneck of its path. The round trip is approximated by twice the
// one way link latency.
func (c *Calculator) ApplyQueueSizes(cfg *api.TopoConfig) {
	for i := range cfg.Links {
		p := &cfg.Links[i].Properties
		p.QueueSize = c.QueueSize(2*p.Latency, p.Bandwidth)
	}
}

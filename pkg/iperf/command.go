package iperf

import (
	"MPTestbed/api"
	"MPTestbed/pkg"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseFolder = "./logs"

	StreamIperf = "iperf"
	StreamDump  = "iperf_dump"

	ExtCSV  = "csv"
	ExtPcap = "pcap"
)

// OutputFolder builds the artifact directory of an experiment:
//
//	<base>/<topology_id>/<cc1_..._ccN>/<bw1_..._bwN>Mbps/<lat1_..._latN>ms
//
// Downstream tooling depends on this layout.
func OutputFolder(base string, cfg *api.TopoConfig, pairings []api.Pairing) (string, error) {
	bandwidths, err := pkg.ValueSet(cfg, pkg.FieldBandwidth)
	if err != nil {
		return "", err
	}
	latencies, err := pkg.ValueSet(cfg, pkg.FieldLatency)
	if err != nil {
		return "", err
	}
	return filepath.Join(base,
		cfg.TopologyID,
		strings.Join(pkg.CCSet(pairings), "_"),
		joinValues(bandwidths)+"Mbps",
		joinValues(latencies)+"ms",
	), nil
}

func joinValues(values []float64) string {
	s := make([]string, len(values))
	for i, v := range values {
		s[i] = formatNumber(v)
	}
	return strings.Join(s, "_")
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ArtifactPath names one artifact: <folder>/<repetition>_<node>_<stream>.<ext>
func ArtifactPath(folder string, repetition int, node, stream, ext string) string {
	return filepath.Join(folder, fmt.Sprintf("%d_%s_%s.%s", repetition, node, stream, ext))
}

// ClientCommand runs an iperf3 client against serverIP for runtime with the
// pairing's congestion control.
func ClientCommand(p api.Pairing, serverIP string, runtime, interval time.Duration, output string) api.CommandLine {
	return api.CommandLine{
		Args: []string{
			"iperf3", "-c", serverIP,
			"-t", formatNumber(runtime.Seconds()),
			"-i", formatNumber(interval.Seconds()),
			"-f", "m", "-4",
			"-C", p.CC,
		},
		Output: output,
	}
}

// ServerCommand runs a single-connection iperf3 server.
func ServerCommand(p api.Pairing, interval time.Duration, output string) api.CommandLine {
	return api.CommandLine{
		Args: []string{
			"iperf3", "-s", "-4", "--one-off",
			"-f", "m",
			"-i", formatNumber(interval.Seconds()),
		},
		Output: output,
	}
}

// CaptureCommand records every packet node sees to or from filterHosts
// into pcap.
func CaptureCommand(node string, filterHosts []string, pcap string) api.CommandLine {
	args := []string{"tcpdump", "-i", "any", "-w", pcap}
	for i, h := range filterHosts {
		if i > 0 {
			args = append(args, "or")
		}
		args = append(args, "host", h)
	}
	return api.CommandLine{Args: args, Output: os.DevNull}
}

package rtt

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const DefaultTool = "tshark"

// Fields are the packet fields written per row of the RTT csv.
var Fields = []string{
	"frame.time_relative",
	"tcp.stream",
	"ip.src",
	"ip.dst",
	"tcp.analysis.ack_rtt",
	"tcp.options.mptcp.datalvllen",
}

// Extractor turns packet captures into per-packet RTT tables.
type Extractor struct {
	Tool string
}

func NewExtractor() *Extractor {
	return &Extractor{Tool: DefaultTool}
}

// CSVPath maps x.pcap to x.csv.
func CSVPath(pcap string) string {
	return strings.TrimSuffix(pcap, ".pcap") + ".csv"
}

// Args returns the dissector arguments for pcap.
func (e *Extractor) Args(pcap string) []string {
	args := []string{"-r", pcap}
	for _, f := range Fields {
		args = append(args, "-e", f)
	}
	return append(args, "-T", "fields", "-E", "header=y")
}

// ExtractRTT writes the RTT csv next to pcap and returns its path.
func (e *Extractor) ExtractRTT(ctx context.Context, pcap string) (string, error) {
	csv := CSVPath(pcap)
	f, err := os.Create(csv)
	if err != nil {
		return "", errors.Wrapf(err, "failed to create %s", csv)
	}
	defer f.Close()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.Tool, e.Args(pcap)...)
	cmd.Stdout = f
	cmd.Stderr = &stderr
	if err = cmd.Run(); err != nil {
		return csv, errors.Wrapf(err, "%s failed on %s: %s", e.Tool, pcap, strings.TrimSpace(stderr.String()))
	}
	log.WithFields(log.Fields{"pcap": pcap, "csv": csv}).Debug("extracted rtt")
	return csv, nil
}

func (e *Extractor) DeleteFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove %s", path)
	}
	return nil
}

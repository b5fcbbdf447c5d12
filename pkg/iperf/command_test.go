package iperf

import (
	"MPTestbed/api"
	"MPTestbed/pkg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func singleLink(t *testing.T) *api.TopoConfig {
	t.Helper()
	cfg, err := pkg.ParseTopoConfig([]byte(`{
		"topology_id": "direct",
		"nodes": [{"id": "h1", "properties": {"server": "h2", "cc": "cubic"}}, {"id": "h2"}],
		"links": [{"source": "h1", "target": "h2", "properties": {"bandwidth": 10, "latency": 5}}]
	}`), false)
	assert.NilError(t, err)
	return cfg
}

func TestOutputFolder(t *testing.T) {
	cfg := singleLink(t)
	pairings := []api.Pairing{{Client: "h1", Server: "h2", CC: "cubic"}}

	folder, err := OutputFolder("logs", cfg, pairings)
	assert.NilError(t, err)
	assert.Equal(t, folder, filepath.Join("logs", "direct", "cubic", "10Mbps", "5ms"))
	assert.Equal(t, ArtifactPath(folder, 0, "h2", StreamIperf, ExtCSV),
		filepath.Join("logs", "direct", "cubic", "10Mbps", "5ms", "0_h2_iperf.csv"))
}

func TestOutputFolderGroups(t *testing.T) {
	cfg, err := pkg.ReadTopoConfig("../testdata/two_paths.json")
	assert.NilError(t, err)
	pairings := []api.Pairing{{Client: "h1", Server: "h2", CC: "olia"}, {Client: "h3", Server: "h4", CC: "lia"}}

	folder, err := OutputFolder("/tmp/logs", cfg, pairings)
	assert.NilError(t, err)
	assert.Equal(t, folder, "/tmp/logs/two_paths/lia_olia/10_20Mbps/5_20ms")
}

func TestOutputFolderFractions(t *testing.T) {
	cfg := singleLink(t)
	cfg.Links[0].Properties.Latency = 0.1
	cfg.Links[0].Properties.Bandwidth = 2.5
	folder, err := OutputFolder("logs", cfg, []api.Pairing{{CC: "reno"}})
	assert.NilError(t, err)
	assert.Equal(t, folder, filepath.Join("logs", "direct", "reno", "2.5Mbps", "0.1ms"))
}

func TestArtifactPath(t *testing.T) {
	assert.Equal(t, ArtifactPath("out", 3, "h1", StreamDump, ExtPcap), filepath.Join("out", "3_h1_iperf_dump.pcap"))
}

func TestClientCommand(t *testing.T) {
	p := api.Pairing{Client: "h1", Server: "h2", CC: "olia"}
	cmd := ClientCommand(p, "10.0.0.2", 30*time.Second, 100*time.Millisecond, "out/0_h1_iperf.csv")
	assert.DeepEqual(t, cmd.Args, []string{
		"iperf3", "-c", "10.0.0.2", "-t", "30", "-i", "0.1", "-f", "m", "-4", "-C", "olia",
	})
	assert.Equal(t, cmd.Output, "out/0_h1_iperf.csv")
}

func TestServerCommand(t *testing.T) {
	cmd := ServerCommand(api.Pairing{Server: "h2"}, time.Second, "out/0_h2_iperf.csv")
	assert.DeepEqual(t, cmd.Args, []string{"iperf3", "-s", "-4", "--one-off", "-f", "m", "-i", "1"})
	assert.Equal(t, cmd.Output, "out/0_h2_iperf.csv")
}

func TestCaptureCommand(t *testing.T) {
	cmd := CaptureCommand("h1", []string{"10.0.0.2", "10.0.1.2"}, "out/0_h1_iperf_dump.pcap")
	assert.DeepEqual(t, cmd.Args, []string{
		"tcpdump", "-i", "any", "-w", "out/0_h1_iperf_dump.pcap",
		"host", "10.0.0.2", "or", "host", "10.0.1.2",
	})
	assert.Equal(t, cmd.Output, os.DevNull)
}

package pkg

import (
	"MPTestbed/api"
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

const ConsolePrompt = "mptb> "

// ShowNodes prints every node with its planned interfaces. Addresses are
// deterministic, so no running fabric is needed.
func ShowNodes(w io.Writer, cfg *api.TopoConfig) error {
	_, intfs, err := PlanInterfaces(cfg)
	if err != nil {
		return err
	}
	for _, n := range cfg.Nodes {
		fmt.Fprintf(w, "Node: %s, Kind: %s", n.ID, n.Kind)
		if n.Properties.Server != "" {
			fmt.Fprintf(w, ", Server: %s, CC: %s", n.Properties.Server, n.Properties.CC)
		}
		for _, intf := range intfs[n.ID] {
			fmt.Fprintf(w, ", %s: %s", intf.Name, intf.Ipv4)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// ShowLinks prints every link with its derived queue size.
func ShowLinks(w io.Writer, cfg *api.TopoConfig) {
	for _, l := range cfg.Links {
		p := l.Properties
		fmt.Fprintf(w, "Link: Src: %s, Dst: %s, Bw: %gMbps, Delay: %gms, Queue: %d",
			l.Source, l.Target, p.Bandwidth, p.Latency, p.QueueSize)
		if p.LatencyGroup != "" {
			fmt.Fprintf(w, ", LatencyGroup: %s", p.LatencyGroup)
		}
		if p.BandwidthGroup != "" {
			fmt.Fprintf(w, ", BandwidthGroup: %s", p.BandwidthGroup)
		}
		fmt.Fprintln(w)
	}
}

func ShowPairings(w io.Writer, pairings []api.Pairing) {
	for _, p := range pairings {
		fmt.Fprintf(w, "Pairing: Client: %s, Server: %s, CC: %s\n", p.Client, p.Server, p.CC)
	}
}

// LineSource hands the lines of one reader to consecutive consoles. A
// single goroutine scans the reader, started by the first Next, so a line
// is never lost between two sessions.
type LineSource struct {
	in    io.Reader
	once  sync.Once
	lines chan string
	err   error
}

func NewLineSource(in io.Reader) *LineSource {
	return &LineSource{in: in, lines: make(chan string)}
}

func (s *LineSource) scan() {
	go func() {
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			s.lines <- scanner.Text()
		}
		s.err = scanner.Err()
		close(s.lines)
	}()
}

// Next blocks for the next line. ok is false at end of input, err is set
// when scanning failed or ctx is done.
func (s *LineSource) Next(ctx context.Context) (line string, ok bool, err error) {
	s.once.Do(s.scan)
	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case line, ok = <-s.lines:
		if !ok {
			return "", false, s.err
		}
		return line, true, nil
	}
}

// Console is an interactive session over a running fabric.
type Console struct {
	cfg    *api.TopoConfig
	fabric api.Fabric
	in     *LineSource
	out    io.Writer
}

func NewConsole(cfg *api.TopoConfig, fabric api.Fabric, in *LineSource, out io.Writer) *Console {
	return &Console{cfg: cfg, fabric: fabric, in: in, out: out}
}

// Run reads commands until exit, end of input or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	for {
		fmt.Fprint(c.out, ConsolePrompt)
		line, ok, err := c.in.Next(ctx)
		if ctx.Err() != nil {
			fmt.Fprintln(c.out)
			return nil
		}
		if !ok {
			return err
		}

		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "nodes":
			if err := ShowNodes(c.out, c.cfg); err != nil {
				fmt.Fprintln(c.out, "Error:", err)
			}
		case "links":
			ShowLinks(c.out, c.cfg)
		case "exec":
			if err := c.exec(ctx, args[1:]); err != nil {
				fmt.Fprintln(c.out, "Error:", err)
			}
		case "help":
			fmt.Fprintln(c.out, "commands: nodes, links, exec <node> <args...>, exit")
		case "exit", "quit":
			fmt.Fprintln(c.out, "Exiting...")
			return nil
		default:
			fmt.Fprintf(c.out, "unknown command %q\n", args[0])
		}
	}
}

func (c *Console) exec(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: exec <node> <args...>")
	}
	if !slices.Contains(c.cfg.Hosts(), args[0]) {
		return errors.Errorf("%s is not a host", args[0])
	}
	n, err := c.fabric.Node(args[0])
	if err != nil {
		return err
	}
	proc, err := n.RunCapturing(ctx, api.CommandLine{Args: args[1:]})
	if err != nil {
		return err
	}
	res, err := proc.Wait(ctx)
	if err != nil {
		return err
	}
	fmt.Fprint(c.out, res.Output)
	if !res.Success() {
		fmt.Fprintf(c.out, "exit code %d\n", res.ExitCode)
	}
	return nil
}

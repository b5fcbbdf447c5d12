package cmd

import (
	"MPTestbed/api"
	"MPTestbed/pkg"
	"MPTestbed/pkg/experiment"
	"MPTestbed/pkg/sweep"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run experiments",
	Long: `Run repetitions of an experiment on one topology, or a whole sweep
described by a plan file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := optionsFromFlags(cmd)
		if err != nil {
			return err
		}
		topo, _ := cmd.Flags().GetString("topo")
		planFile, _ := cmd.Flags().GetString("sweep")
		image, _ := cmd.Flags().GetString("image")
		reps, _ := cmd.Flags().GetInt("repetitions")
		stop, _ := cmd.Flags().GetBool("stop-on-error")
		ccs, _ := cmd.Flags().GetStringSlice("cc")

		var latency, bandwidth map[string][]float64
		if planFile != "" {
			plan, err := sweep.ReadPlan(planFile)
			if err != nil {
				return err
			}
			opts = plan.Options(opts)
			topo, reps, stop = plan.Topology, plan.Repetitions, plan.StopOnError
			latency, bandwidth = plan.Latency, plan.Bandwidth
			if len(plan.CCs) > 0 {
				ccs = plan.CCs
			}
			if plan.Image != "" {
				image = plan.Image
			}
		}
		if topo == "" {
			return errors.New("either --topo or --sweep is required")
		}

		cfg, err := pkg.ReadTopoConfig(topo)
		if err != nil {
			return err
		}
		points, err := sweep.Expand(cfg, ccs, latency, bandwidth)
		if err != nil {
			return err
		}

		// nodes write captures into the artifact tree, mounted at the same path
		logs, err := filepath.Abs(opts.BaseFolder)
		if err != nil {
			return errors.Wrapf(err, "failed to resolve %s", opts.BaseFolder)
		}
		opts.BaseFolder = logs
		runner := experiment.NewRunner(pkg.NewFabricFactory(pkg.FabricOptions{
			Image: image,
			Binds: []string{logs + ":" + logs},
		}))

		driver := &sweep.Driver{
			Runner:      runner,
			Options:     opts,
			Repetitions: reps,
			StopOnError: stop,
		}
		summary, err := driver.Run(cmd.Context(), points)
		if err != nil {
			return err
		}
		if summary.Failed > 0 {
			return errors.Errorf("%d of %d repetitions failed", summary.Failed, len(summary.Outcomes))
		}
		return nil
	},
}

func optionsFromFlags(cmd *cobra.Command) (experiment.Options, error) {
	opts := experiment.DefaultOptions()
	flags := cmd.Flags()
	var err error
	if opts.BaseFolder, err = flags.GetString("logs"); err != nil {
		return opts, err
	}
	if opts.Runtime, err = flags.GetDuration("runtime"); err != nil {
		return opts, err
	}
	if opts.Interval, err = flags.GetDuration("interval"); err != nil {
		return opts, err
	}
	if opts.Capture, err = flags.GetBool("capture"); err != nil {
		return opts, err
	}
	if opts.KeepPcap, err = flags.GetBool("keep-pcap"); err != nil {
		return opts, err
	}
	if opts.SkipIfExists, err = flags.GetBool("skip"); err != nil {
		return opts, err
	}
	if opts.Interactive, err = flags.GetBool("cli"); err != nil {
		return opts, err
	}
	if opts.DefaultCC, err = flags.GetString("default-cc"); err != nil {
		return opts, err
	}
	if opts.Interactive {
		log.Info("interactive session, no traffic will be generated")
	}
	return opts, nil
}

func addTopologyFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("topo", "f", "", "Path to the topology description (JSON or YAML)")
}

func init() {
	rootCmd.AddCommand(runCmd)
	defaults := experiment.DefaultOptions()
	addTopologyFlag(runCmd)
	runCmd.Flags().String("sweep", "", "Path to a sweep plan, overrides the single run flags")
	runCmd.Flags().IntP("repetitions", "n", 1, "Repetitions per configuration")
	runCmd.Flags().Duration("runtime", defaults.Runtime, "Traffic duration per repetition")
	runCmd.Flags().Duration("interval", defaults.Interval, "iperf3 report interval")
	runCmd.Flags().Bool("capture", defaults.Capture, "Capture packets on the clients and extract RTTs")
	runCmd.Flags().Bool("keep-pcap", defaults.KeepPcap, "Keep packet captures after RTT extraction")
	runCmd.Flags().Bool("skip", false, "Skip repetitions whose artifacts already exist")
	runCmd.Flags().Bool("cli", false, "Open a console on the fabric instead of generating traffic")
	runCmd.Flags().Bool("stop-on-error", false, "Abort the sweep on the first failed repetition")
	runCmd.Flags().StringSlice("cc", nil, "Congestion control for every client, one run per value")
	runCmd.Flags().String("default-cc", "", "Pin the kernel default congestion control")
	runCmd.Flags().String("image", "", "Container image of the hosts")
	runCmd.Flags().String("logs", defaults.BaseFolder, "Base folder of the artifacts")
}

// declaredCCs are the algorithms a topology names, used where the kernel
// is not consulted.
func declaredCCs(cfg *api.TopoConfig) []string {
	ccs := make([]string, 0)
	for _, n := range cfg.Nodes {
		if n.Properties.CC != "" {
			ccs = append(ccs, n.Properties.CC)
		}
	}
	return ccs
}

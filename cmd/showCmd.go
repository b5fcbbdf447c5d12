package cmd

import (
	"MPTestbed/pkg"
	"MPTestbed/pkg/iperf"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show Resources",
	Long:  `Show the resources of a topology without building it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		topo, _ := cmd.Flags().GetString("topo")
		cfg, err := pkg.ReadTopoConfig(topo)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		switch class := cmd.Flag("class").Value.String(); class {
		case "nodes":
			return pkg.ShowNodes(out, cfg)
		case "links":
			pkg.ShowLinks(out, cfg)
		case "pairings", "folder":
			pairings, err := pkg.ResolvePairings(cfg, declaredCCs(cfg))
			if err != nil {
				return err
			}
			if class == "pairings" {
				pkg.ShowPairings(out, pairings)
				return nil
			}
			logs, _ := cmd.Flags().GetString("logs")
			folder, err := iperf.OutputFolder(logs, cfg, pairings)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, folder)
		default:
			return errors.Errorf("invalid class %s", class)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
	addTopologyFlag(showCmd)
	showCmd.Flags().String("class", "nodes", "Class of the element to show: nodes, links, pairings or folder")
	showCmd.Flags().String("logs", iperf.DefaultBaseFolder, "Base folder of the artifacts")
}

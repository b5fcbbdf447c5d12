package cmd

import (
	"MPTestbed/pkg"
	"context"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply Topology",
	Long:  `Build the fabric of a topology and open a console on it. The fabric is removed on exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		topo, _ := cmd.Flags().GetString("topo")
		image, _ := cmd.Flags().GetString("image")
		cfg, err := pkg.ReadTopoConfig(topo)
		if err != nil {
			return err
		}
		fabric, err := pkg.NewManager(cfg, pkg.FabricOptions{Image: image})
		if err != nil {
			return err
		}
		defer func() {
			if err := fabric.Stop(context.WithoutCancel(cmd.Context())); err != nil {
				log.WithError(err).Error("failed to remove fabric")
			}
		}()
		if err = fabric.Start(cmd.Context()); err != nil {
			return err
		}
		return pkg.NewConsole(cfg, fabric, pkg.NewLineSource(os.Stdin), cmd.OutOrStdout()).Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(applyCmd)
	addTopologyFlag(applyCmd)
	applyCmd.Flags().String("image", "", "Container image of the hosts")
}

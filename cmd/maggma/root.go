package main

import (
	"github.com/spf13/cobra"

	"github.com/materialsproject/maggma/runner"
)

// v is the shared Viper instance every subcommand's flags bind onto, so
// MAGGMA_-prefixed env vars override any subcommand's flags uniformly.
var v = runner.NewViper()

var rootCmd = &cobra.Command{
	Use:   "maggma",
	Short: "maggma runs Builder pipelines: get_items, process_item, update_targets",
}

func init() {
	rootCmd.AddCommand(runCmd, managerCmd, workerCmd)
}

func bindFlags(cmd *cobra.Command) {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		panic(err)
	}
}

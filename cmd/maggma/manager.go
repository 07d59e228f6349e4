package main

import (
	"github.com/spf13/cobra"

	"github.com/materialsproject/maggma"
	"github.com/materialsproject/maggma/distributed"
	"github.com/materialsproject/maggma/runner"
	"github.com/materialsproject/maggma/serial"
	"github.com/materialsproject/maggma/store"
)

var managerCmd = &cobra.Command{
	Use:   "manager <descriptions...>",
	Short: "Dispatch every Builder named in the given descriptions to connecting workers",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runManager,
}

func init() {
	managerCmd.Flags().String("bind", "", "address to bind the control endpoint on, e.g. :7717")
	managerCmd.Flags().Int("num-chunks", 1, "number of chunks to split each Builder's work into")
	managerCmd.Flags().String("verbosity", "info", "log level: debug, info, warn, error")
	managerCmd.Flags().String("reporter", "", "path to a JSONL file BuildEvents are appended to")
	_ = managerCmd.MarkFlagRequired("bind")
	bindFlags(managerCmd)
}

func runManager(cmd *cobra.Command, args []string) error {
	cfg := runner.LoadConfig(v)
	log := maggma.NewTextLogger(cfg.LogLevel())

	reg := serial.NewRegistry()
	builders, err := runner.LoadBuilders(reg, args)
	if err != nil {
		return err
	}
	for _, b := range builders {
		if sl, ok := b.(interface{ SetLogger(*maggma.Logger) }); ok {
			sl.SetLogger(log)
		}
	}

	opts := []runner.Option{
		runner.WithBuilders(builders...),
		runner.WithLogger(log),
		runner.WithDistributedManager(&distributed.TCPBus{}, cfg.Bind, cfg.NumChunks),
	}
	if cfg.ReporterPath != "" {
		sink := store.NewFileStore("reporter", cfg.ReporterPath, "event_id", "last_updated")
		opts = append(opts, runner.WithReporter(sink))
	}

	r := runner.New(opts...)
	defer r.Close()
	return r.Run(cmd.Context())
}

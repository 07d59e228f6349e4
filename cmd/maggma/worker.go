package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/materialsproject/maggma"
	"github.com/materialsproject/maggma/builder"
	"github.com/materialsproject/maggma/distributed"
	"github.com/materialsproject/maggma/runner"
	"github.com/materialsproject/maggma/serial"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Connect to a manager and run dispatched chunks",
	Args:  cobra.NoArgs,
	RunE:  runWorker,
}

func init() {
	workerCmd.Flags().String("connect", "", "manager control-endpoint address to dial, e.g. host:7717")
	workerCmd.Flags().Int("workers", 0, "per-chunk process_item worker-pool size (0 or unset uses 1)")
	workerCmd.Flags().String("verbosity", "info", "log level: debug, info, warn, error")
	// A Worker needs each Builder's definition to rehydrate a chunk
	// dispatched by name; it takes the same description files the
	// manager was started with.
	workerCmd.Flags().StringSlice("descriptions", nil, "description files matching the manager's, for rehydrating dispatched builders by name")
	_ = workerCmd.MarkFlagRequired("connect")
	bindFlags(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg := runner.LoadConfig(v)
	log := maggma.NewTextLogger(cfg.LogLevel())

	reg := serial.NewRegistry()
	paths := v.GetStringSlice("descriptions")
	builders, err := runner.LoadBuilders(reg, paths)
	if err != nil {
		return err
	}
	byName := make(map[string]builder.Builder, len(builders))
	for _, b := range builders {
		byName[b.Name()] = b
	}

	factory := func(name string) (builder.Builder, error) {
		b, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("worker: no builder named %q among loaded descriptions", name)
		}
		if sl, ok := b.(interface{ SetLogger(*maggma.Logger) }); ok {
			sl.SetLogger(log)
		}
		return b, nil
	}

	r := runner.New(
		runner.WithLogger(log),
		runner.WithWorkers(cfg.Workers),
		runner.WithDistributedWorker(&distributed.TCPBus{}, cfg.Connect, factory),
	)
	defer r.Close()
	return r.Run(cmd.Context())
}

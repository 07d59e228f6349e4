package main

import (
	"context"
	"fmt"
	"os"
	"runtime/pprof"

	"github.com/spf13/cobra"

	"github.com/materialsproject/maggma"
	"github.com/materialsproject/maggma/runner"
	"github.com/materialsproject/maggma/serial"
	"github.com/materialsproject/maggma/store"
)

var runCmd = &cobra.Command{
	Use:   "run <descriptions...>",
	Short: "Run every Builder named in the given descriptions, in dependency order",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().Int("workers", 0, "process_item worker-pool size (0 or unset uses 1)")
	runCmd.Flags().String("verbosity", "info", "log level: debug, info, warn, error")
	runCmd.Flags().String("reporter", "", "path to a JSONL file BuildEvents are appended to")
	runCmd.Flags().String("memprofile", "", "directory to write a heap profile to after the run")
	bindFlags(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
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
		runner.WithWorkers(cfg.Workers),
	}
	if cfg.ReporterPath != "" {
		sink := store.NewFileStore("reporter", cfg.ReporterPath, "event_id", "last_updated")
		opts = append(opts, runner.WithReporter(sink))
	}

	r := runner.New(opts...)
	defer r.Close()

	err = r.Run(cmd.Context())
	if cfg.MemProfile != "" {
		if perr := writeHeapProfile(cfg.MemProfile); perr != nil {
			log.WarnContext(context.Background(), "heap profile write failed", "error", perr)
		}
	}
	return err
}

func writeHeapProfile(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("memprofile dir: %w", err)
	}
	f, err := os.Create(fmt.Sprintf("%s/maggma.heap.pprof", dir))
	if err != nil {
		return fmt.Errorf("create heap profile: %w", err)
	}
	defer f.Close()
	return pprof.WriteHeapProfile(f)
}

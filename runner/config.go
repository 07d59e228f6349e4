package runner

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/materialsproject/maggma/builder"
	"github.com/materialsproject/maggma/serial"
)

// Config holds the process-wide settings the maggma CLI's run/manager/worker
// subcommands bind their flags onto, per SPEC_FULL.md §6's CLI table.
type Config struct {
	Workers      int
	Verbosity    string
	ReporterPath string
	MemProfile   string

	Bind      string
	NumChunks int

	Connect string
}

// NewViper creates a Viper instance with the defaults every maggma
// subcommand shares. Env vars are read with the MAGGMA_ prefix, e.g.
// MAGGMA_WORKERS overrides the workers key.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("workers", 1)
	v.SetDefault("verbosity", "info")
	v.SetDefault("num-chunks", 1)
	v.SetEnvPrefix("maggma")
	v.AutomaticEnv()
	return v
}

// LoadConfig reads the bound flags/env vars out of v into a Config.
func LoadConfig(v *viper.Viper) Config {
	return Config{
		Workers:      v.GetInt("workers"),
		Verbosity:    v.GetString("verbosity"),
		ReporterPath: v.GetString("reporter"),
		MemProfile:   v.GetString("memprofile"),
		Bind:         v.GetString("bind"),
		NumChunks:    v.GetInt("num-chunks"),
		Connect:      v.GetString("connect"),
	}
}

// LogLevel maps the Verbosity string onto a slog.Level, defaulting to Info
// on an unrecognized value rather than erroring: verbosity is diagnostic,
// never config that should abort a run.
func (c Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Verbosity) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadBuilders reads every description file named in paths and hydrates the
// Builders they describe through reg, in file order. Every path's
// descriptions are concatenated before hydration; each description is
// hydrated on its own, from the Store descriptions nested inside it.
func LoadBuilders(reg *serial.Registry, paths []string) ([]builder.Builder, error) {
	var descs []serial.Description
	for _, path := range paths {
		ds, err := serial.LoadDescriptions(path)
		if err != nil {
			return nil, fmt.Errorf("runner: load descriptions from %s: %w", path, err)
		}
		descs = append(descs, ds...)
	}
	return reg.HydrateBuilders(descs)
}

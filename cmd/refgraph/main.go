// Command refgraph inspects and frames refgraph payloads.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rawbytedev/refgraph/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app carries what every command shares: flag and environment settings,
// the loaded config and the logger built from it.
type app struct {
	v   *viper.Viper
	cfg config.Config
	log *zap.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{v: viper.New(), log: zap.NewNop()}
	root := &cobra.Command{
		Use:   "refgraph",
		Short: "Inspect and frame refgraph payloads",
		Long: `refgraph reads payloads written by the refgraph serializer without their
schema, wraps them in checksummed, optionally compressed frames and prints
late-reference position tables.

Settings come from --config (YAML or TOML), then REFGRAPH_* environment
variables, then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Flags())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.log.Sync()
		},
	}
	pf := root.PersistentFlags()
	pf.String("config", "", "Path to a refgraph.yaml or refgraph.toml file")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.String("compression", "", "Frame compression (none, lz4, zstd)")

	root.AddCommand(a.rawCommand())
	root.AddCommand(a.frameCommand())
	root.AddCommand(a.unframeCommand())
	root.AddCommand(a.positionsCommand())
	root.AddCommand(a.profileCommand())
	return root
}

func (a *app) setup(flags *pflag.FlagSet) error {
	a.v.SetEnvPrefix("REFGRAPH")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	if err := a.v.BindPFlags(flags); err != nil {
		return err
	}

	cfg := config.Default()
	if path := a.v.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if s := a.v.GetString("log-level"); s != "" {
		cfg.LogLevel = strings.ToLower(s)
	}
	if s := a.v.GetString("compression"); s != "" {
		cfg.Compression = strings.ToLower(s)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	a.log = log
	return nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	lvl, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

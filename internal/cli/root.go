package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/fullvlad/lava-server/internal/config"
	"github.com/fullvlad/lava-server/internal/logging"
)

// Version is reported by the health endpoint; set at build time.
var Version = "dev"

var (
	flagConfig    string
	flagDB        string
	flagAddr      string
	flagHostname  string
	flagMaster    bool
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	cfg      config.Config
	logLevel *slog.LevelVar
	logger   *slog.Logger
)

// defaultConfigPath returns the config file path, checking LAVA_SCHEDULER_CONFIG first.
func defaultConfigPath() string {
	return os.Getenv("LAVA_SCHEDULER_CONFIG")
}

// NewRootCmd creates the root cobra command for the lava-scheduler CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lava-scheduler",
		Short: "Lab device job scheduler",
		Long:  "lava-scheduler assigns queued test jobs to lab devices and serves the dispatcher API.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg = loaded
			logLevel = logging.NewLevelVar(cfg.Log.Level)
			logger = logging.NewLogger(logLevel, cfg.Log.Format)
			return nil
		},
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flagConfig, "config", defaultConfigPath(), "Path to scheduler config file (or LAVA_SCHEDULER_CONFIG env)")
	pf.StringVar(&flagDB, "db", "", "Database path or PostgreSQL DSN")
	pf.StringVar(&flagAddr, "addr", "", "Listen address for the dispatcher API")
	pf.StringVar(&flagHostname, "hostname", "", "Dispatcher host name (default: system hostname)")
	pf.BoolVar(&flagMaster, "master", false, "Run as the master scheduling instance")
	pf.BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&flagLogFormat, "log-format", "", "Log format (text, json)")

	root.AddCommand(
		newServeCmd(),
		newCycleCmd(),
		newMigrateCmd(),
		newDevicesCmd(),
		newHealthCmd(),
	)

	return root
}

// loadConfig reads the config file, if any, and applies explicitly set flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	c := config.Default()
	if flagConfig != "" {
		var err error
		if c, err = config.Load(flagConfig); err != nil {
			return c, err
		}
	}
	applyFlags(cmd, &c)
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// applyFlags overrides c with the flags set on the command line.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("db") {
		c.DB = flagDB
	}
	if flags.Changed("addr") {
		c.Addr = flagAddr
	}
	if flags.Changed("hostname") {
		c.Hostname = flagHostname
	}
	if flags.Changed("master") {
		c.Master = flagMaster
	}
	if flags.Changed("log-level") {
		c.Log.Level = flagLogLevel
	}
	if flags.Changed("log-format") {
		c.Log.Format = flagLogFormat
	}
	if flagDebug {
		c.Log.Level = "debug"
	}
}

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/plantacq/plantacq/pkg/config"
	"github.com/plantacq/plantacq/pkg/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	flags = viper.New()

	cfg       *config.Config
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "acq",
	Short: "Stream and calibrate the plant signal acquisition board",
	Long: `acq talks to the USB acquisition board: it identifies the device, streams
up to four channels with a live terminal readout, and runs the calibration
routine against the board's reference square wave.

Every flag can also be set from the environment with the ACQ_ prefix,
e.g. ACQ_MOCK=true or ACQ_LOG_LEVEL=debug.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(flags.GetString("config"))
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if level := flags.GetString("log-level"); level != "" {
			cfg.Log.Level = level
		}
		if file := flags.GetString("log-file"); file != "" {
			cfg.Log.File = file
		}

		logCloser, err = logging.Setup(cfg.Log)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "acq.yaml", "configuration file path")
	pf.Bool("mock", false, "use the simulated device instead of USB")
	pf.String("log-level", "", "log level override (debug, info, warn, error)")
	pf.String("log-file", "", "rotating log file override")

	for _, name := range []string{"config", "mock", "log-level", "log-file"} {
		if err := flags.BindPFlag(name, pf.Lookup(name)); err != nil {
			panic(err)
		}
	}
	flags.SetEnvPrefix("ACQ")
	flags.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	flags.AutomaticEnv()

	rootCmd.AddCommand(
		newIdentifyCmd(),
		newDevicesCmd(),
		newStreamCmd(),
		newCalibrateCmd(),
		newChannelsCmd(),
		newOffsetCmd(),
		newConfigCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

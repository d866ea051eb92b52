// cmd/root.go
package cmd

import (
	"fmt"
	"os"

	"github.com/ColonelBlimp/vibemon/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "vibemon",
	Short: "Vibration severity monitor and threshold calibrator",
	Long: `Classifies accelerometer RMS into CALM, STRUCT, FOOT, PLAY and JUMP,
replays or synthesizes sensor streams through the ingestion pipeline, and
derives severity thresholds from labelled calibration data.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags (override config file)
	rootCmd.PersistentFlags().StringP("thresholds", "t", "", "thresholds file (default ~/.config/vibemon/thresholds.txt)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "console", "log format: console or json")
	rootCmd.PersistentFlags().BoolP("debug", "D", false, "enable debug logging")
}

// bindFlags ties flags to their config keys. It runs on every execution
// because viper.Reset drops earlier bindings.
func bindFlags() {
	bind := func(key string, cmd *cobra.Command, flag string) {
		f := cmd.PersistentFlags().Lookup(flag)
		if f == nil {
			f = cmd.Flags().Lookup(flag)
		}
		if f != nil {
			_ = viper.BindPFlag(key, f)
		}
	}
	bind("thresholds_file", rootCmd, "thresholds")
	bind("log_level", rootCmd, "log-level")
	bind("log_format", rootCmd, "log-format")
	bind("debug", rootCmd, "debug")

	bind("recompute_rms", monitorCmd, "recompute-rms")
	bind("watch_thresholds", monitorCmd, "watch")
	bind("sim_loop", monitorCmd, "loop")
	bind("sim_rate_hz", monitorCmd, "rate")
	bind("sim_seconds", monitorCmd, "seconds")
	bind("min_samples_per_class", calibrateCmd, "min-samples")
}

func initConfig() {
	bindFlags()
	if err := config.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
}

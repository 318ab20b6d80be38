package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"voting-ledger/config"
	"voting-ledger/mylog"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "voting-ledger",
	Short:         "Vote-integrity core of the e-voting system",
	Long:          `Sessions, encrypted ballots, a tamper-evident ledger and a signed tally.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (toml, yaml or json)")
	rootCmd.PersistentFlags().StringP("dir-root", "r", "data", "Folder for the store, snapshots, keys and logs")

	rootCmd.PersistentFlags().Bool("log-stdout", true, "Whether the log will be printed to stdout")
	rootCmd.PersistentFlags().Bool("log-file", false, "Whether the log will be printed to file")
	rootCmd.PersistentFlags().Bool("log-by-level", false, "Output separate log files according to their level")
	rootCmd.PersistentFlags().BoolP("log-line-number", "n", false, "Whether the log will contain line number")
	rootCmd.PersistentFlags().StringP("log-level", "v", "info", "Logging verbosity, possible values:[panic, fatal, error, warn, info, debug, trace]")

	_ = viper.BindPFlag("dir.root", rootCmd.PersistentFlags().Lookup("dir-root"))
	_ = viper.BindPFlag("log.stdout", rootCmd.PersistentFlags().Lookup("log-stdout"))
	_ = viper.BindPFlag("log.file", rootCmd.PersistentFlags().Lookup("log-file"))
	_ = viper.BindPFlag("log.by_level", rootCmd.PersistentFlags().Lookup("log-by-level"))
	_ = viper.BindPFlag("log.line_number", rootCmd.PersistentFlags().Lookup("log-line-number"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// loadConfig reads flags, env and the config file, then initialises logging.
// Every command calls it first.
func loadConfig() (*config.Config, error) {
	v := viper.GetViper()
	if err := config.Prepare(v, cfgFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	if err := mylog.InitLogger(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

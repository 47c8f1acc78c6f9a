package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	appVersion string // set in Execute, used by serve for the OpenAPI doc
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flowadmin",
		Short: "Flowspec and RTBH rule administration for ExaBGP",
		Long: `Flowadmin manages BGP flowspec and RTBH blackholing rules: a REST portal
validates and authorizes rule requests, persists them, and dispatches
accepted rules to an ExaBGP command queue and a DDoS-protection backend.

The relay subcommand runs the command echo process that feeds the queue's
commands to an ExaBGP supervisor over standard output.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./flowadmin.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for SQLite state (default: ~/.flowadmin)")

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRelayCmd())
	cmd.AddCommand(newUserCmd())
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("flowadmin")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.flowadmin")
	}

	viper.SetEnvPrefix("FLOWADMIN")
	viper.AutomaticEnv()
	viper.ReadInConfig() // Ignore error - config file is optional
}

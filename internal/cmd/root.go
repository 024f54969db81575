package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/sessiond/internal/cmd/config"
	appconfig "github.com/Iron-Ham/sessiond/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "sessiond",
	Short: "Session event router with durable session state",
	Long: `sessiond delivers asynchronous server-side events (task completions,
log updates, invalidations) to the live client sessions they concern, and
persists session state so sessions survive a restart.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/sessiond/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	config.Register(rootCmd)
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	appconfig.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(appconfig.ConfigDir())
		viper.AddConfigPath("$HOME/.config/sessiond")
		viper.AddConfigPath(".")
	}

	// e.g. SESSIOND_STORE_DIR for store.dir
	appconfig.BindEnv(viper.GetViper())

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

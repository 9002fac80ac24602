package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	configcmd "github.com/leafguard/leafguard-go/cmd/config"
	"github.com/leafguard/leafguard-go/cmd/serve"
	synccmd "github.com/leafguard/leafguard-go/cmd/sync"
	usagecmd "github.com/leafguard/leafguard-go/cmd/usage"
	"github.com/leafguard/leafguard-go/internal/conf"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "leafguard",
		Short: "LeafGuard offline storage and sync CLI",
	}

	setupFlags(rootCmd, settings)

	subcommands := []*cobra.Command{
		serve.Command(settings),
		synccmd.Command(settings),
		usagecmd.Command(settings),
		configcmd.Command(settings),
	}
	rootCmd.AddCommand(subcommands...)

	return rootCmd
}

// setupFlags configures global flags shared by every subcommand and binds
// them to viper so flags override the config file.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Sync.Endpoint, "endpoint", viper.GetString("sync.endpoint"), "Sync service base URL")
	rootCmd.PersistentFlags().StringVar(&settings.Store.SQLite.Path, "db", viper.GetString("store.sqlite.path"), "Path to the SQLite database")

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("sync.endpoint", rootCmd.PersistentFlags().Lookup("endpoint"))
	_ = viper.BindPFlag("store.sqlite.path", rootCmd.PersistentFlags().Lookup("db"))
}

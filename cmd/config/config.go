// Package config implements the config inspection command.
package config

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/leafguard/leafguard-go/internal/conf"
)

var saveTo string

// Command creates the config command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if saveTo != "" {
				if err := settings.SaveAs(saveTo); err != nil {
					return fmt.Errorf("saving config: %w", err)
				}
				fmt.Printf("✅ configuration written to %s\n", saveTo)
				return nil
			}
			return dumpConfig(settings)
		},
	}

	cmd.Flags().StringVar(&saveTo, "save", "", "write the resolved configuration to the given file")
	return cmd
}

func dumpConfig(settings *conf.Settings) error {
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Printf("# loaded from %s\n", used)
	} else {
		fmt.Println("# no config file found, showing defaults")
	}

	out, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	agentcmd "github.com/phonemanage/phonemanage-go/cmd/agent"
	statuscmd "github.com/phonemanage/phonemanage-go/cmd/status"
	"github.com/phonemanage/phonemanage-go/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "phonemanage",
		Short: "PhoneManage device control agent",
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	rootCmd.AddCommand(
		agentcmd.Command(settings),
		statuscmd.Command(settings),
	)

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Server.URL, "server", viper.GetString("server.url"), "Base URL of the management server")
	rootCmd.PersistentFlags().StringVar(&settings.Main.DataDir, "datadir", viper.GetString("main.datadir"), "Directory for persisted agent state")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}

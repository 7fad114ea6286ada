package agent

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/phonemanage/phonemanage-go/internal/agent"
	"github.com/phonemanage/phonemanage-go/internal/buildinfo"
	"github.com/phonemanage/phonemanage-go/internal/conf"
)

// Command creates the command that runs the long-lived agent process.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the device control agent",
		Long:  "Start the agent: register the device, poll the server for the lock directive, and enforce it until the process is stopped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := conf.ValidateSettings(settings); err != nil {
				return err
			}
			return agent.New(settings, buildinfo.Version).Run()
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the agent command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().IntVar(&settings.Poll.Interval, "interval", viper.GetInt("poll.interval"), "Base status poll interval in seconds")
	cmd.Flags().IntVar(&settings.Poll.Heartbeat, "heartbeat", viper.GetInt("poll.heartbeat"), "Online-status refresh period in seconds, 0 disables")
	cmd.Flags().StringVar(&settings.Main.Name, "name", viper.GetString("main.name"), "Device name reported to the server")
	cmd.Flags().BoolVar(&settings.Telemetry.Enabled, "telemetry", viper.GetBool("telemetry.enabled"), "Enable Prometheus telemetry endpoint")
	cmd.Flags().StringVar(&settings.Telemetry.Listen, "listen", viper.GetString("telemetry.listen"), "Listen address and port of telemetry endpoint")

	// Bind flags to the viper settings
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}

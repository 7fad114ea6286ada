package status

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/phonemanage/phonemanage-go/internal/buildinfo"
	"github.com/phonemanage/phonemanage-go/internal/conf"
	"github.com/phonemanage/phonemanage-go/internal/directory"
	"github.com/phonemanage/phonemanage-go/internal/identity"
	"github.com/phonemanage/phonemanage-go/internal/quota"
	"github.com/phonemanage/phonemanage-go/internal/statestore"
)

// Command creates the command that prints the device's current server-side
// state and exits.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the device's current state as the server sees it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := conf.ValidateSettings(settings); err != nil {
				return err
			}
			return run(settings)
		},
	}
}

func run(settings *conf.Settings) error {
	store, err := statestore.Open(filepath.Join(settings.Main.DataDir, statestore.DefaultFileName))
	if err != nil {
		return err
	}

	token, err := identity.NewResolver(store, settings.Main.DataDir).ResolveOrCreate()
	if err != nil {
		return err
	}

	client := directory.NewHTTPClient(settings, buildinfo.Version)
	ctx, cancel := context.WithTimeout(context.Background(), settings.RequestTimeout())
	defer cancel()

	record, err := client.GetByToken(ctx, token)
	if err != nil {
		return err
	}

	remaining := quota.NewManager(store, settings.Emergency.MaxPerDay, nil).Remaining()

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "Device:\t%s\n", record.DeviceName)
	fmt.Fprintf(w, "Token:\t%s\n", record.DeviceToken)
	fmt.Fprintf(w, "Directive:\t%s\n", record.Directive.String())
	fmt.Fprintf(w, "Status:\t%s\n", record.Status)
	if !record.LastSeen.IsZero() {
		fmt.Fprintf(w, "Last seen:\t%s\n", record.LastSeen.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(w, "Emergency unlocks left today:\t%d\n", remaining)
	return w.Flush()
}

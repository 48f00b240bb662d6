package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewProvidersCmd constructs the `kestrel providers` command, which lists
// every generation backend with its availability and capabilities.
func NewProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List generation backends and their availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := buildRuntime(ctx, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			active := rt.Ledger.Current()
			for _, d := range rt.Pool.Providers(ctx) {
				marker := " "
				if d.Name == active {
					marker = "*"
				}
				status := "available"
				if !d.Available {
					status = "unavailable"
					if d.Error != "" {
						status += ": " + d.Error
					}
				}
				fmt.Printf("%s %-12s %-20s %s\n", marker, d.Name, d.DisplayName, status)

				caps := d.Capabilities
				fmt.Printf("    streaming: %t, model selection: %t, requires key: %t\n",
					caps.SupportsStreaming, caps.SupportsModelSelection, caps.RequiresAPIKey)
			}
			return nil
		},
	}
}

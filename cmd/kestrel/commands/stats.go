package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// NewStatsCmd constructs the `kestrel stats` command, which prints the
// per-backend telemetry collected during this process.
//
// The ledger lives in process memory, so a fresh CLI invocation starts
// empty; stats are most useful against a long-running `kestrel serve` via
// GET /api/stats.
func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-backend request and error counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.Close()

			snap := rt.Ledger.Snapshot()
			if len(snap.Providers) == 0 {
				fmt.Println("No backend activity recorded in this process.")
				fmt.Println("Run against a kestrel server with GET /api/stats for live counters.")
				return nil
			}

			names := make([]string, 0, len(snap.Providers))
			for name := range snap.Providers {
				names = append(names, name)
			}
			sort.Strings(names)

			fmt.Printf("current provider: %s\n", snap.CurrentProvider)
			for _, name := range names {
				st := snap.Providers[name]
				fmt.Printf("%-12s requests=%d errors=%d avg_latency=%dms\n",
					name, st.Requests, st.Errors, st.AvgLatencyMs())
				if st.LastError != "" {
					fmt.Printf("             last error: %s\n", st.LastError)
				}
			}
			return nil
		},
	}
}

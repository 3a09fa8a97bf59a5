package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/giftvault/giftvault/internal/app"
	"github.com/giftvault/giftvault/internal/breakage"
	"github.com/giftvault/giftvault/internal/scheduler"
	"github.com/spf13/cobra"
)

func breakageCmd() *cobra.Command {
	var (
		merchantID uint64
		issuedFrom string
		issuedTo   string
	)
	cmd := &cobra.Command{
		Use:   "breakage",
		Short: "Print the breakage report as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := buildFilter(merchantID, issuedFrom, issuedTo)
			if err != nil {
				return err
			}
			report, err := app.Breakage(cmd.Context(), loaded, filter)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().Uint64Var(&merchantID, "merchant-id", 0, "only cards of this merchant")
	cmd.Flags().StringVar(&issuedFrom, "issued-from", "", "only cards issued at or after this date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&issuedTo, "issued-to", "", "only cards issued before this date (YYYY-MM-DD or RFC3339)")
	return cmd
}

func buildFilter(merchantID uint64, from, to string) (breakage.Filter, error) {
	var filter breakage.Filter
	if merchantID > 0 {
		filter.MerchantID = &merchantID
	}
	var errFrom, errTo error
	if filter.IssuedFrom, errFrom = parseDate(from); errFrom != nil {
		return filter, fmt.Errorf("--issued-from: %w", errFrom)
	}
	if filter.IssuedTo, errTo = parseDate(to); errTo != nil {
		return filter, fmt.Errorf("--issued-to: %w", errTo)
	}
	return filter, nil
}

func parseDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid date %q", raw)
}

func sweepCmd() *cobra.Command {
	names := []string{scheduler.SweepExpiry, scheduler.SweepReminder, scheduler.SweepCleanup, scheduler.SweepIPEvents}
	return &cobra.Command{
		Use:       "sweep <name>",
		Short:     "Run one background sweep now and process its jobs",
		Long:      "Run one background sweep now and process its jobs. Sweeps: " + strings.Join(names, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := app.RunSweep(cmd.Context(), loaded, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d job(s) enqueued\n", args[0], n)
			return nil
		},
	}
}

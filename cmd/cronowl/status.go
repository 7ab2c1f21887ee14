package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pilgrim-12/cronowl-sub001/internal/domain"
)

type statusStore interface {
	ListChecks(ctx context.Context) ([]domain.Check, error)
	ListMonitors(ctx context.Context) ([]domain.HttpMonitor, error)
}

func executeStatus(cmd *cobra.Command, db statusStore) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	checks, err := db.ListChecks(ctx)
	if err != nil {
		return fmt.Errorf("querying checks: %w", err)
	}
	monitors, err := db.ListMonitors(ctx)
	if err != nil {
		return fmt.Errorf("querying monitors: %w", err)
	}

	if len(checks) == 0 && len(monitors) == 0 {
		fmt.Fprintln(out, "Nothing configured yet. Create checks and monitors through the API.")
		return nil
	}

	if len(checks) > 0 {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CHECK\tSLUG\tSTATUS\tLAST PING\tPAUSED")
		for _, c := range checks {
			lastPing := "never"
			if c.LastPingAt != nil {
				lastPing = c.LastPingAt.Local().Format("2006-01-02 15:04:05")
			}
			paused := ""
			if c.Paused {
				paused = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.Name, c.Slug, c.Status, lastPing, paused)
		}
		w.Flush()
	}

	if len(monitors) > 0 {
		if len(checks) > 0 {
			fmt.Fprintln(out)
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "MONITOR\tURL\tSTATUS\tRESPONSE\tLAST CHECKED\tERROR")
		for _, m := range monitors {
			resp := "—"
			if m.LastResponseTimeMs != nil {
				resp = time.Duration(*m.LastResponseTimeMs * int64(time.Millisecond)).Round(time.Millisecond).String()
			}
			lastChecked := "never"
			if m.LastCheckedAt != nil {
				lastChecked = m.LastCheckedAt.Local().Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", m.Name, m.URL, m.Status, resp, lastChecked, m.LastError)
		}
		w.Flush()
	}
	return nil
}

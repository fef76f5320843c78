package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	staleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	freshStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
)

type cacheEntryInfo struct {
	Key       string    `json:"key"`
	FetchedAt time.Time `json:"fetchedAt"`
	Stale     bool      `json:"stale"`
}

type cacheStatus struct {
	Persistent bool               `json:"persistent"`
	Entries    []cacheEntryInfo   `json:"entries"`
	Metrics    map[string]float64 `json:"metrics"`
}

// newCacheCmd creates the 'cache' command group
func newCacheCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the local data cache",
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List cached queries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, cfg, stdout, stderr, false, func(ctx context.Context, a *app) error {
				status, err := a.cacheStatus()
				if err != nil {
					return err
				}
				if a.json {
					return a.outputData(status)
				}
				printCacheStatus(a.stdout, status)
				return nil
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	})

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop all cached data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, cfg, stdout, stderr, false, func(ctx context.Context, a *app) error {
				n := a.cache.Len()
				// the empty cache is written to the store on close
				a.cache.Clear()
				if a.json {
					return a.outputAction("clear", map[string]int{"entries": n})
				}
				_, _ = fmt.Fprintf(a.stdout, "Cleared %d cached queries\n", n)
				return nil
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	})

	return cacheCmd
}

func (a *app) cacheStatus() (cacheStatus, error) {
	status := cacheStatus{
		Persistent: a.store != nil,
		Entries:    []cacheEntryInfo{},
		Metrics:    map[string]float64{},
	}
	for _, snap := range a.cache.Dump() {
		status.Entries = append(status.Entries, cacheEntryInfo{
			Key:       snap.Key.String(),
			FetchedAt: snap.FetchedAt,
			Stale:     snap.Stale,
		})
	}

	families, err := a.registry.Gather()
	if err != nil {
		return status, fmt.Errorf("reading cache metrics: %w", err)
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetGauge() != nil:
				status.Metrics[mf.GetName()] = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				status.Metrics[mf.GetName()] = m.GetCounter().GetValue()
			}
		}
	}
	return status, nil
}

func printCacheStatus(w io.Writer, status cacheStatus) {
	mode := "memory only"
	if status.Persistent {
		mode = "persistent"
	}
	_, _ = fmt.Fprintf(w, "Cache (%s): %d entries\n", mode, len(status.Entries))
	for _, e := range status.Entries {
		state := freshStyle.Render("fresh")
		if e.Stale {
			state = staleStyle.Render("stale")
		}
		age := "-"
		if !e.FetchedAt.IsZero() {
			age = time.Since(e.FetchedAt).Truncate(time.Second).String()
		}
		_, _ = fmt.Fprintf(w, "  %-50s %s  %s\n", e.Key, state, age)
	}
	for _, name := range []string{"taskdash_cache_entries", "taskdash_api_retries_total", "taskdash_api_rate_limited_total"} {
		if n, ok := status.Metrics[name]; ok {
			_, _ = fmt.Fprintf(w, "%s %.0f\n", name, n)
		}
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/alfredjeanlab/crates/internal/ui"
	"github.com/spf13/cobra"
)

var outboxCmd = &cobra.Command{
	Use:     "outbox",
	Short:   "Relay and inspect the transactional outbox",
	GroupID: "pipeline",
}

var outboxRunOnce bool

var outboxRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Publish staged outbox rows to the broker until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		publisher, subscriber, err := openBroker(cfg)
		if err != nil {
			return err
		}
		defer publisher.Close()
		subscriber.Close()

		p, err := newProcessor(ctx, cfg, store, publisher)
		if err != nil {
			return err
		}
		if outboxRunOnce {
			n, err := p.RunOnce(ctx)
			if err != nil {
				return err
			}
			st := p.Stats()
			fmt.Printf("processed %d, published %s, failed %s\n",
				n, ui.RenderOK(fmt.Sprint(st.Published)), ui.RenderCount(st.Failed))
			return nil
		}
		return p.Run(ctx)
	},
}

var outboxStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the outbox backlog",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.CountUnprocessedEvents(cmd.Context())
		if err != nil {
			return err
		}
		rows, err := store.GetUnprocessedEvents(cmd.Context(), 1)
		if err != nil {
			return err
		}

		status := struct {
			Unprocessed int64      `json:"unprocessed"`
			OldestAt    *time.Time `json:"oldest_at,omitempty"`
			Broker      string     `json:"broker"`
			Claim       bool       `json:"claim"`
		}{Unprocessed: n, Broker: cfg.Broker.Kind, Claim: cfg.Outbox.Claim}
		if len(rows) > 0 {
			status.OldestAt = &rows[0].CreatedAt
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		}
		fields := []ui.Field{
			{Key: "unprocessed", Value: ui.RenderCount(n)},
			{Key: "broker", Value: status.Broker},
			{Key: "claim", Value: fmt.Sprint(status.Claim)},
		}
		if status.OldestAt != nil {
			age := time.Since(*status.OldestAt).Truncate(time.Second)
			fields = append(fields, ui.Field{Key: "oldest", Value: fmt.Sprintf("%s (%s ago)", status.OldestAt.Format(time.RFC3339), age)})
		}
		ui.PrintFields(os.Stdout, fields)
		return nil
	},
}

var cleanupDays int

var outboxCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete processed rows older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if cmd.Flags().Changed("days") {
			cfg.Outbox.RetentionDays = cleanupDays
		}
		p, err := newProcessor(cmd.Context(), cfg, store, nil)
		if err != nil {
			return err
		}
		n, err := p.Cleanup(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("deleted %s processed events older than %d days\n",
			ui.RenderAccent(fmt.Sprint(n)), p.Config().RetentionDays)
		return nil
	},
}

func init() {
	outboxRunCmd.Flags().BoolVar(&outboxRunOnce, "once", false, "process a single batch and exit")
	outboxCleanupCmd.Flags().IntVar(&cleanupDays, "days", 7, "retention window in days")

	outboxCmd.AddCommand(outboxRunCmd)
	outboxCmd.AddCommand(outboxStatusCmd)
	outboxCmd.AddCommand(outboxCleanupCmd)
}

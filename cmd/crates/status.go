package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/alfredjeanlab/crates/internal/client"
	"github.com/alfredjeanlab/crates/internal/server"
	"github.com/alfredjeanlab/crates/internal/ui"
	"github.com/spf13/cobra"
)

var (
	statusHTTPURL  string
	statusGRPCAddr string
)

// localAddr turns a listen address like ":8080" into one a client can dial.
func localAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show health and outbox counters of a running server",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		if statusHTTPURL == "" {
			statusHTTPURL = "http://" + localAddr(cfg.HTTPAddr)
		}
		if statusGRPCAddr == "" {
			statusGRPCAddr = localAddr(cfg.GRPCAddr)
		}

		var api client.CratesClient = client.NewHTTPClient(statusHTTPURL, cfg.AuthToken)
		defer api.Close()
		stats, err := api.OutboxStats(ctx)
		if err != nil {
			return err
		}

		hc, err := client.NewHealthClient(statusGRPCAddr, cfg.AuthToken)
		if err != nil {
			return err
		}
		defer hc.Close()
		services := map[string]string{}
		for _, svc := range []string{"", server.HealthOutbox, server.HealthConsumer} {
			st, err := hc.Check(ctx, svc)
			if err != nil {
				st = "UNKNOWN"
			}
			services[svc] = st
		}

		if jsonOutput {
			return printJSON(map[string]any{"outbox": stats, "health": services})
		}
		fields := []ui.Field{
			{Key: "server", Value: renderServing(services[""])},
			{Key: "processor", Value: renderServing(services[server.HealthOutbox])},
			{Key: "consumer", Value: renderServing(services[server.HealthConsumer])},
			{Key: "unprocessed", Value: ui.RenderCount(stats.Unprocessed)},
			{Key: "live clients", Value: fmt.Sprint(stats.LiveClients)},
		}
		if p := stats.Processor; p != nil {
			fields = append(fields,
				ui.Field{Key: "cycles", Value: fmt.Sprint(p.Cycles)},
				ui.Field{Key: "published", Value: fmt.Sprint(p.Published)},
				ui.Field{Key: "failed", Value: ui.RenderCount(p.Failed)},
				ui.Field{Key: "cleaned", Value: fmt.Sprint(p.Cleaned)},
			)
		}
		ui.PrintFields(os.Stdout, fields)
		return nil
	},
}

func renderServing(s string) string {
	switch s {
	case "SERVING":
		return ui.RenderOK(s)
	case "NOT_SERVING":
		return ui.RenderWarn(s)
	default:
		return ui.RenderFail(s)
	}
}

func init() {
	statusCmd.Flags().StringVar(&statusHTTPURL, "http-url", "", "server HTTP URL (default from CRATES_HTTP_ADDR)")
	statusCmd.Flags().StringVar(&statusGRPCAddr, "grpc-addr", "", "server gRPC address (default from CRATES_GRPC_ADDR)")
}

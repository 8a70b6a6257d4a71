package main

import (
	"github.com/spf13/cobra"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Dispatch broker messages to their handlers until interrupted",
	Long: `Subscribes to the import-requested and catalog change destinations.
Import requests run the catalog import; catalog changes invalidate cached
album views when CRATES_REDIS_ADDR is set and are logged otherwise.`,
	GroupID: "pipeline",
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
		publisher.Close()
		defer subscriber.Close()

		rdb, err := openRedis(ctx, cfg)
		if err != nil {
			return err
		}
		if rdb != nil {
			defer rdb.Close()
		}

		d := newDispatcher(cfg, newImporter(cfg, store, newLimiter(cfg)), rdb)
		if err := d.Run(ctx, subscriber); err != nil {
			return err
		}
		st := d.Stats()
		logger.Info("consumer stopped", "handled", st.Handled, "failed", st.Failed, "duplicates", st.Duplicates)
		return nil
	},
}

var bridgeCmd = &cobra.Command{
	Use:     "bridge",
	Short:   "Forward activity notifications to the push endpoint until interrupted",
	GroupID: "pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		publisher, subscriber, err := openBroker(cfg)
		if err != nil {
			return err
		}
		publisher.Close()
		defer subscriber.Close()

		b := newBridge(cfg)
		if err := b.Run(ctx, subscriber); err != nil {
			return err
		}
		st := b.Stats()
		logger.Info("bridge stopped", "forwarded", st.Forwarded, "dropped", st.Dropped)
		return nil
	},
}

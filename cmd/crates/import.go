package main

import (
	"fmt"

	"github.com/alfredjeanlab/crates/internal/catalog"
	"github.com/alfredjeanlab/crates/internal/model"
	"github.com/alfredjeanlab/crates/internal/ui"
	"github.com/spf13/cobra"
)

var importNow bool

var importCmd = &cobra.Command{
	Use:   "import <album-id>",
	Short: "Request a catalog import for an album",
	Long: `Stages an import request in the outbox; the consumer runs it once the
processor has published it. With --now the import runs in this process
instead, against the same rate limit and with the same idempotence.`,
	Args:    cobra.ExactArgs(1),
	GroupID: "catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if !importNow {
			row, err := catalog.NewService(store).RequestImport(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(row)
			}
			fmt.Printf("staged %s for %s on %s\n", ui.RenderAccent(row.ID), args[0], row.Destination)
			return nil
		}

		album, err := store.GetAlbum(ctx, args[0])
		if err != nil {
			return err
		}
		if album.ExternalMasterID <= 0 {
			return fmt.Errorf("album %s has no external master id", album.ID)
		}
		sum, err := newImporter(cfg, store, newLimiter(cfg)).Run(ctx, model.NewImportRequested(album.ID, album.ExternalMasterID))
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(sum)
		}
		if sum.Skipped {
			fmt.Println(ui.RenderMuted("album already imported, nothing to do"))
			return nil
		}
		ui.PrintFields(cmd.OutOrStdout(), []ui.Field{
			{Key: "created", Value: ui.RenderOK(fmt.Sprint(sum.Created))},
			{Key: "existing", Value: fmt.Sprint(sum.Existing)},
			{Key: "failed", Value: ui.RenderCount(int64(sum.Failed))},
			{Key: "complete", Value: fmt.Sprint(sum.Complete)},
		})
		return nil
	},
}

func init() {
	importCmd.Flags().BoolVar(&importNow, "now", false, "run the import in this process")
}

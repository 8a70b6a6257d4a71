package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/alfredjeanlab/crates/internal/catalog"
	"github.com/alfredjeanlab/crates/internal/model"
	"github.com/alfredjeanlab/crates/internal/ui"
	"github.com/spf13/cobra"
)

var albumCmd = &cobra.Command{
	Use:     "album",
	Short:   "Manage albums",
	GroupID: "catalog",
}

var albumCreateInput catalog.CreateAlbumInput

var albumCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an album and stage its events",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		album, err := catalog.NewService(store).CreateAlbum(cmd.Context(), albumCreateInput)
		if err != nil {
			return err
		}
		printAlbum(album)
		return nil
	},
}

var albumShowCmd = &cobra.Command{
	Use:   "show <album-id>",
	Short: "Show an album and its pressings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		album, err := store.GetAlbum(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		pressings, err := store.ListPressings(cmd.Context(), album.ID)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]any{"album": album, "pressings": pressings})
		}
		printAlbum(album)
		for _, p := range pressings {
			fmt.Printf("  %s  %s %s %s  %s %s\n",
				ui.RenderMuted(p.ID), p.Format, p.Size, p.Speed, p.Label, p.CatalogNumber)
		}
		return nil
	},
}

func printAlbum(a *model.Album) {
	if jsonOutput {
		_ = printJSON(a)
		return
	}
	imported := ui.RenderWarn("no")
	if a.Imported() {
		imported = ui.RenderOK(a.ImportCompletedAt.Format("2006-01-02 15:04"))
	}
	ui.PrintFields(os.Stdout, []ui.Field{
		{Key: "id", Value: ui.RenderAccent(a.ID)},
		{Key: "title", Value: a.Title},
		{Key: "artist", Value: a.Artist},
		{Key: "master", Value: fmt.Sprint(a.ExternalMasterID)},
		{Key: "imported", Value: imported},
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	albumCreateCmd.Flags().StringVar(&albumCreateInput.Title, "title", "", "album title (required)")
	albumCreateCmd.Flags().StringVar(&albumCreateInput.Artist, "artist", "", "album artist (required)")
	albumCreateCmd.Flags().Int64Var(&albumCreateInput.ExternalMasterID, "master", 0, "external master id")
	albumCreateCmd.Flags().BoolVar(&albumCreateInput.Import, "import", false, "also request a catalog import")

	albumCmd.AddCommand(albumCreateCmd)
	albumCmd.AddCommand(albumShowCmd)
}

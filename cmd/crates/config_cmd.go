package main

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Inspect configuration",
	GroupID: "system",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		m := cfg.Masked()
		if jsonOutput {
			return printJSON(m)
		}
		return toml.NewEncoder(os.Stdout).Encode(m)
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}

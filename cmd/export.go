package cmd

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export flip history as CSV",
	RunE: func(cmd *cobra.Command, _ []string) error {
		symbol, _ := cmd.Flags().GetString("symbol")
		outPath, _ := cmd.Flags().GetString("out")

		path := "/api/flips/export"
		if symbol != "" {
			path += "?symbol=" + url.QueryEscape(symbol)
		}

		out := os.Stdout
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("creating %s: %w", outPath, err)
			}
			defer f.Close()
			out = f
		}

		if err := newAPIClient().download(path, out); err != nil {
			return err
		}
		if outPath != "" {
			fmt.Printf("flip history written to %s\n", outPath)
		}
		return nil
	},
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	exportCmd.Flags().String("symbol", "", "Limit the export to one symbol")
	exportCmd.Flags().String("out", "", "Write to a file instead of stdout")
	rootCmd.AddCommand(exportCmd)
}

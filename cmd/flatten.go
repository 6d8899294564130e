package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var flattenCmd = &cobra.Command{
	Use:   "flatten [symbol]",
	Short: "Force-close a symbol's position, or all positions",
	Long: `Requests a market close of the symbol's open position. Without a
symbol every tracked symbol is flattened and signal intake is stopped
(panic stop). Flattening is asynchronous; use 'status' to watch it land.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient()
		var out struct {
			Status string `json:"status"`
		}
		if len(args) == 1 {
			if err := client.post("/api/symbols/"+args[0]+"/flatten", &out); err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", args[0], out.Status)
			return nil
		}
		if err := client.post("/api/flatten", &out); err != nil {
			return err
		}
		fmt.Printf("all symbols: %s\n", out.Status)
		return nil
	},
}

//nolint:gochecknoglobals // Cobra boilerplate
var startCmd = &cobra.Command{
	Use:   "start <symbol>",
	Short: "Open signal intake for a symbol",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			Status string `json:"status"`
		}
		if err := newAPIClient().post("/api/symbols/"+args[0]+"/start", &out); err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", args[0], out.Status)
		return nil
	},
}

//nolint:gochecknoglobals // Cobra boilerplate
var stopCmd = &cobra.Command{
	Use:   "stop <symbol>",
	Short: "Stop signal intake for a symbol (open position is kept)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			Status string `json:"status"`
		}
		if err := newAPIClient().post("/api/symbols/"+args[0]+"/stop", &out); err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", args[0], out.Status)
		return nil
	},
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(flattenCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
}

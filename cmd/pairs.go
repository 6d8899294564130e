package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// pairPayload mirrors the control API's pair body.
type pairPayload struct {
	Symbol        string  `json:"symbol"`
	Leverage      int     `json:"leverage"`
	TakeProfitPct float64 `json:"take_profit_pct"`
	StopLossPct   float64 `json:"stop_loss_pct"`
	CooldownSec   int     `json:"cooldown_sec"`
	Enabled       bool    `json:"enabled"`
}

//nolint:gochecknoglobals // Cobra boilerplate
var pairsCmd = &cobra.Command{
	Use:   "pairs",
	Short: "Inspect and edit per-symbol trading configuration",
}

//nolint:gochecknoglobals // Cobra boilerplate
var pairsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured pairs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var pairs []pairPayload
		if err := newAPIClient().get("/api/pairs", &pairs); err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SYMBOL\tLEVERAGE\tTP%\tSL%\tCOOLDOWN\tENABLED")
		for _, p := range pairs {
			fmt.Fprintf(w, "%s\t%d\t%g\t%g\t%ds\t%t\n",
				p.Symbol, p.Leverage, p.TakeProfitPct, p.StopLossPct, p.CooldownSec, p.Enabled)
		}
		return w.Flush()
	},
}

//nolint:gochecknoglobals // Cobra boilerplate
var pairsSetCmd = &cobra.Command{
	Use:   "set <symbol>",
	Short: "Create or update a pair's configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		leverage, _ := cmd.Flags().GetInt("leverage")
		tp, _ := cmd.Flags().GetFloat64("take-profit")
		sl, _ := cmd.Flags().GetFloat64("stop-loss")
		cooldown, _ := cmd.Flags().GetInt("cooldown")
		enabled, _ := cmd.Flags().GetBool("enabled")

		body := pairPayload{
			Leverage:      leverage,
			TakeProfitPct: tp,
			StopLossPct:   sl,
			CooldownSec:   cooldown,
			Enabled:       enabled,
		}
		var out pairPayload
		if err := newAPIClient().put("/api/pairs/"+args[0], body, &out); err != nil {
			return err
		}
		fmt.Printf("%s updated: leverage=%d tp=%g sl=%g cooldown=%ds enabled=%t\n",
			out.Symbol, out.Leverage, out.TakeProfitPct, out.StopLossPct, out.CooldownSec, out.Enabled)
		return nil
	},
}

//nolint:gochecknoglobals // Cobra boilerplate
var pairsEnableCmd = &cobra.Command{
	Use:   "enable <symbol>",
	Short: "Enable trading for a pair",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return togglePair(args[0], true) },
}

//nolint:gochecknoglobals // Cobra boilerplate
var pairsDisableCmd = &cobra.Command{
	Use:   "disable <symbol>",
	Short: "Disable trading for a pair",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return togglePair(args[0], false) },
}

func togglePair(symbol string, enable bool) error {
	action := "disable"
	if enable {
		action = "enable"
	}
	var out struct {
		Status string `json:"status"`
	}
	if err := newAPIClient().post("/api/pairs/"+symbol+"/"+action, &out); err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", symbol, out.Status)
	return nil
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	pairsSetCmd.Flags().Int("leverage", 4, "Leverage for new positions")
	pairsSetCmd.Flags().Float64("take-profit", 0, "Take-profit percent (0 uses process defaults)")
	pairsSetCmd.Flags().Float64("stop-loss", 0, "Stop-loss percent (0 uses process defaults)")
	pairsSetCmd.Flags().Int("cooldown", 60, "Minimum seconds between flips")
	pairsSetCmd.Flags().Bool("enabled", true, "Whether the pair may trade")

	pairsCmd.AddCommand(pairsListCmd)
	pairsCmd.AddCommand(pairsSetCmd)
	pairsCmd.AddCommand(pairsEnableCmd)
	pairsCmd.AddCommand(pairsDisableCmd)
	rootCmd.AddCommand(pairsCmd)
}

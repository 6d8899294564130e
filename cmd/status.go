package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// symbolStatus mirrors the control API's status payload.
type symbolStatus struct {
	Symbol    string `json:"symbol"`
	Accepting bool   `json:"accepting"`
	State     string `json:"state"`
	Position  *struct {
		Side       string  `json:"side"`
		Size       float64 `json:"size"`
		EntryPrice float64 `json:"entry_price"`
		Leverage   int     `json:"leverage"`
	} `json:"position"`
	Intent *struct {
		Kind       string  `json:"kind"`
		Status     string  `json:"status"`
		Size       float64 `json:"size"`
		FilledSize float64 `json:"filled_size"`
	} `json:"intent"`
	Divergence bool   `json:"divergence"`
	LastError  string `json:"last_error"`
}

//nolint:gochecknoglobals // Cobra boilerplate
var statusCmd = &cobra.Command{
	Use:   "status [symbol]",
	Short: "Show engine status for all symbols or one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient()

		var statuses []symbolStatus
		if len(args) == 1 {
			var st symbolStatus
			if err := client.get("/api/status/"+args[0], &st); err != nil {
				return err
			}
			statuses = append(statuses, st)
		} else {
			if err := client.get("/api/status", &statuses); err != nil {
				return err
			}
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SYMBOL\tSTATE\tINTAKE\tSIDE\tSIZE\tENTRY\tINTENT\tDIVERGENCE\tERROR")
		for _, st := range statuses {
			intake := "stopped"
			if st.Accepting {
				intake = "accepting"
			}
			side, size, entry := "-", "-", "-"
			if st.Position != nil && st.Position.Size > 0 {
				side = st.Position.Side
				size = fmt.Sprintf("%g", st.Position.Size)
				entry = fmt.Sprintf("%g", st.Position.EntryPrice)
			}
			intent := "-"
			if st.Intent != nil {
				intent = fmt.Sprintf("%s/%s %g/%g", st.Intent.Kind, st.Intent.Status, st.Intent.FilledSize, st.Intent.Size)
			}
			divergence := ""
			if st.Divergence {
				divergence = "YES"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				st.Symbol, st.State, intake, side, size, entry, intent, divergence, st.LastError)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		var pnl map[string]float64
		if err := client.get("/api/pnl", &pnl); err == nil {
			fmt.Printf("\nTotal realized PNL: %.4f\n", pnl["total_pnl"])
		}
		return nil
	},
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(statusCmd)
}

// Package cmd holds the CLI. `run` starts the trading process; the
// remaining commands are thin HTTP clients against a running process's
// control API.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "flipper",
	Short: "Crypto futures position flip engine",
	Long: `Flipper trades crypto perpetual futures by flipping between long and
short positions on strategy signals. It keeps a durable local record of
every order intent and fill, reconciles that record against the exchange,
and exposes an HTTP control surface for status, pair configuration and
emergency flattening.`,
}

//nolint:gochecknoglobals // Cobra boilerplate
var controlAddr string

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.PersistentFlags().StringVar(&controlAddr, "addr", "http://localhost:8880", "Control API address of a running process")
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "pandora",
	Short: "Trading dashboard core",
	Long: `Keeps the live signal feed, scout alerts and the three-timeframe bias
board in sync with the realtime stream and serves them over REST.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "config file path")
	rootCmd.AddCommand(serveCmd, classifyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pandora: %v\n", err)
		os.Exit(1)
	}
}

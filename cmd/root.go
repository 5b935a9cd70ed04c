package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hermes",
	Short: "Gossip membership and anti-entropy",
	Long: `hermes runs a peer to peer membership layer: every node learns who is in the
cluster, which members are alive and what each of them publishes about itself,
through periodic SYN/ACK/ACK2 gossip exchanges.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

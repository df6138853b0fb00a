package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "yappin",
	Short: "yappin is a distributed private-messaging and presence service",
	Long: "yappin runs stateless chat workers behind a sticky load balancer.\n" +
		"Each worker accepts websocket connections from any user and routes\n" +
		"messages and presence events across the fleet through shared Redis\n" +
		"stores and a NATS event bus.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

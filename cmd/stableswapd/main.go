// Command stableswapd runs StableSwap pools behind a JSON-RPC API.
package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "stableswapd",
		Short:        "StableSwap pricing and oracle node",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "daemon config file path")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-file", "", "rotate logs into this file instead of stdout")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pools of a pool definition file",
		RunE:  runServe,
	}
	serveCmd.Flags().String("pools", "./pools.yaml", "pool definition file")
	serveCmd.Flags().String("rpc-addr", "127.0.0.1:8645", "JSON-RPC listen address (HTTP and websocket)")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9645", "Prometheus metrics listen address")
	serveCmd.Flags().String("db", "", "SQLite database for snapshots, empty disables persistence")
	serveCmd.Flags().String("snapshot-cron", "@every 30s", "snapshot persistence schedule")
	serveCmd.Flags().Duration("stream-interval", time.Second, "snapshot stream publish interval")
	root.AddCommand(serveCmd)

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote a swap against the persisted pool state",
		RunE:  runQuote,
	}
	quoteCmd.Flags().String("pools", "./pools.yaml", "pool definition file")
	quoteCmd.Flags().String("db", "", "SQLite database holding the pool snapshots")
	quoteCmd.Flags().Uint64("pool", 0, "pool ID")
	quoteCmd.Flags().Int("i", 0, "index of the coin sold")
	quoteCmd.Flags().Int("j", 1, "index of the coin bought")
	quoteCmd.Flags().String("dx", "", "raw amount of coin i sold")
	root.AddCommand(quoteCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Replicate a node's pools and print them as they change",
		RunE:  runWatch,
	}
	watchCmd.Flags().String("url", "ws://127.0.0.1:8645", "websocket URL of a stableswapd node")
	root.AddCommand(watchCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

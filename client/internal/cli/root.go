// Package cli holds the syndicate-client commands: put, heartbeat and get.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/syndicate/syndicate/client/internal/shipper"
)

var (
	serverAddr string
	timeout    time.Duration
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "syndicate-client",
	Short: "Content source, heartbeat sender and reader for a syndicate server",
	Long: `syndicate-client talks to a syndicate aggregation server.

Example usage:
  syndicate-client put news.txt               # publish a feed, print the status
  syndicate-client put news.xml --heartbeat   # publish, then keep the source alive
  syndicate-client heartbeat news.txt         # heartbeat only, for an already published source
  syndicate-client get                        # print the merged Atom feed`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogger()
	},
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverAddr, "server", "s", shipper.DefaultAddr, "aggregation server host:port")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", shipper.DefaultTimeout, "per-request timeout")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug | info | warn | error")
}

// initLogger installs a JSON logger on stderr; stdout carries command output.
func initLogger() error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q", logLevel)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	return nil
}

func shipperOptions() shipper.Options {
	return shipper.Options{Addr: serverAddr, Timeout: timeout}
}

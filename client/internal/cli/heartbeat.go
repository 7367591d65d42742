package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/syndicate/syndicate/client/internal/identity"
	"github.com/syndicate/syndicate/client/internal/shipper"
)

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat <file>",
	Short: "Keep a published source alive",
	Long: `Send PUT /heartbeat for the source that published <file> until interrupted.

Do not run this alongside "put --heartbeat" for the same file: both would
write the same identity.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("identity-dir")
		interval, _ := cmd.Flags().GetDuration("interval")

		id, err := identity.Open(identity.PathFor(dir, args[0]))
		if err != nil {
			return err
		}

		opts := shipperOptions()
		opts.HeartbeatInterval = interval
		slog.Info("heartbeat started", "source_id", id.ID(), "server", opts.Addr, "interval", interval)
		shipper.New(id, opts).RunHeartbeat(cmd.Context())
		return nil
	},
}

func init() {
	heartbeatCmd.Flags().String("identity-dir", identity.DefaultDir, "directory holding source identities")
	heartbeatCmd.Flags().Duration("interval", shipper.DefaultHeartbeatInterval, "heartbeat interval")
	rootCmd.AddCommand(heartbeatCmd)
}

package cli

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/syndicate/syndicate/client/internal/identity"
	"github.com/syndicate/syndicate/client/internal/shipper"
	"github.com/syndicate/syndicate/pkg/atom"
	"github.com/syndicate/syndicate/pkg/wire"
)

var putCmd = &cobra.Command{
	Use:   "put <file>",
	Short: "Publish a feed file as this source's feed",
	Long: `Publish a feed file, replacing whatever this source published before.

The file is either an Atom (or RSS / JSON Feed) document, or the plain text
format: key:value lines for the feed, then one "entry" line before each
entry's key:value lines.

The source identity (UUID and clock) is kept next to other identities in
--identity-dir, one file per input name, and reused on later runs.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		dir, _ := cmd.Flags().GetString("identity-dir")
		heartbeat, _ := cmd.Flags().GetBool("heartbeat")
		interval, _ := cmd.Flags().GetDuration("interval")

		feed, err := loadFeed(args[0], format)
		if err != nil {
			return err
		}
		id, err := identity.Open(identity.PathFor(dir, args[0]))
		if err != nil {
			return err
		}

		opts := shipperOptions()
		opts.HeartbeatInterval = interval
		s := shipper.New(id, opts)

		resp, err := s.Put(cmd.Context(), feed)
		if resp != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", resp.Status, wire.Reason(resp.Status))
		}
		if err != nil {
			return err
		}
		slog.Info("feed published", "source_id", id.ID(), "entries", feed.Len(), "lamport", id.Lamport())

		if heartbeat {
			slog.Info("heartbeat started", "source_id", id.ID(), "interval", interval)
			s.RunHeartbeat(cmd.Context())
		}
		return nil
	},
}

func init() {
	putCmd.Flags().String("format", "auto", "input format: auto | text | atom")
	putCmd.Flags().String("identity-dir", identity.DefaultDir, "directory holding source identities")
	putCmd.Flags().Bool("heartbeat", false, "keep sending heartbeats after publishing")
	putCmd.Flags().Duration("interval", shipper.DefaultHeartbeatInterval, "heartbeat interval")
	rootCmd.AddCommand(putCmd)
}

// loadFeed reads path in the given format. "auto" tries feed documents first
// and falls back to the text format.
func loadFeed(path, format string) (*atom.Feed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}

	switch format {
	case "atom":
		return atom.Decode(data)
	case "text":
		return atom.ParseText(bytes.NewReader(data))
	case "auto", "":
		feed, err := atom.Decode(data)
		if errors.Is(err, atom.ErrUnsupportedFeed) {
			return atom.ParseText(bytes.NewReader(data))
		}
		return feed, err
	default:
		return nil, fmt.Errorf("unknown --format %q (want auto, text or atom)", format)
	}
}

package cli

import (
	"github.com/spf13/cobra"

	"github.com/syndicate/syndicate/client/internal/shipper"
)

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the merged Atom feed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := shipper.NewReader(shipperOptions()).Get(cmd.Context())
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(resp.Body)
		return err
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
}

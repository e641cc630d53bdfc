package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"pfp/internal/crypto"
	"pfp/internal/services/pairing"
)

func fingerprintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fingerprint <link|token>",
		Short: "Print the fingerprint of a pairing link or routing token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			offer, err := pairing.ParseLink(args[0])
			if err != nil {
				return err
			}
			if _, err := crypto.ParseRoutingToken(offer.Token); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Fingerprint: %s\n", crypto.Fingerprint(offer.Token))
			return nil
		},
	}
	return cmd
}

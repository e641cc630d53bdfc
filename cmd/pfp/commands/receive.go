package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"pfp/internal/app"
	"pfp/internal/crypto"
	"pfp/internal/domain"
	"pfp/internal/protocol/credential"
	"pfp/internal/secret"
	"pfp/internal/services/pairing"
)

// receive: create a session, print the pairing link, print credentials.
func receiveCmd() *cobra.Command {
	var (
		once      bool
		host      string
		notifyURL string
	)
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Wait for a credential from a paired device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := app.SignalContext(cmd.Context())
			defer stop()
			out := cmd.OutOrStdout()

			if host != "" {
				wire.Config.Pairing.Host = host
			}

			arrivals := make(chan *secret.Buffer, 8)
			deliver := func(plaintext []byte) {
				if len(plaintext) == 0 {
					logger.Debug("ignoring empty credential")
					return
				}
				buf, err := secret.NewFromBytes(plaintext)
				if err != nil {
					logger.Error("holding received credential", "error", err)
					return
				}
				select {
				case arrivals <- buf:
				default:
					buf.Close()
					logger.Warn("credential dropped; printing is falling behind")
				}
			}
			publisher := pairing.PublishFunc(func(_ context.Context, offer domain.Offer) error {
				link, err := wire.PairingLink(offer)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Open this link on the sending device, or run `pfp send` with it:\n\n  %s\n\n", link)
				fmt.Fprintf(out, "Fingerprint: %s\n\n", crypto.Fingerprint(offer.Token))
				return nil
			})

			var confirmer domain.Confirmer
			if notifyURL != "" {
				notifier := wire.NewNotifier(notifyURL)
				confirmer = notifier
				printLink := publisher
				publisher = func(ctx context.Context, offer domain.Offer) error {
					if err := printLink(ctx, offer); err != nil {
						return err
					}
					return notifier.PublishOffer(ctx, offer)
				}
			} else if wire.Config.Pairing.Confirm {
				logger.Warn("pairing.confirm has no effect without --notify")
			}

			receiver := wire.NewReceiver(publisher, confirmer, deliver)
			if _, err := receiver.Start(ctx); err != nil {
				return err
			}
			defer receiver.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case buf := <-arrivals:
					printCredential(out, buf)
					if once {
						return nil
					}
				}
			}
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "exit after the first credential")
	cmd.Flags().StringVar(&host, "host", "", "host hint carried in the pairing link")
	cmd.Flags().StringVar(&notifyURL, "notify", "", `also post the offer to a "pfp send --listen" endpoint at this URL`)
	return cmd
}

func printCredential(out io.Writer, buf *secret.Buffer) {
	defer buf.Close()
	c := credential.Decode(buf.String())
	if c.HasUsername() {
		fmt.Fprintf(out, "username: %s\n", c.Username)
	}
	fmt.Fprintf(out, "password: %s\n", c.Password)
}

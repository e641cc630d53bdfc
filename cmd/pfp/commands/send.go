package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pfp/internal/app"
	"pfp/internal/domain"
	"pfp/internal/protocol/credential"
	"pfp/internal/secret"
	"pfp/internal/services/pairing"
	"pfp/internal/services/session"
	"pfp/internal/services/submission"
	"pfp/internal/ui"
)

// send [link|token]: pair and push a credential to the receiving device.
func sendCmd() *cobra.Command {
	var (
		username     string
		passwordFile string
		listen       string
		timeout      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send [link|token]",
		Short: "Pair with a receiving device and send it a credential",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := app.SignalContext(cmd.Context())
			defer stop()

			var sender *pairing.Sender
			switch {
			case len(args) == 1:
				offer, err := pairing.ParseLink(args[0])
				if err != nil {
					return err
				}
				sender = wire.NewSender()
				if _, err := sender.Accept(offer); err != nil {
					return err
				}
			case listen != "":
				paired := make(chan struct{}, 1)
				sender = wire.NewSender(pairing.WithOnPaired(func(*session.Session, domain.Offer) { notify(paired) }))
				shutdown, err := listenForOffer(sender, listen)
				if err != nil {
					return err
				}
				defer shutdown()
				fmt.Fprintf(cmd.ErrOrStderr(), "Waiting for a pairing offer on %s\n", listen)
				select {
				case <-paired:
				case <-ctx.Done():
					return ctx.Err()
				}
			default:
				return errors.New("send needs a pairing link or --listen")
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Paired. Fingerprint: %s\n", sender.Session().Fingerprint())

			if passwordFile == "" && term.IsTerminal(int(os.Stdin.Fd())) {
				return runForm(ctx, sender, sender.Host(), timeout)
			}
			if passwordFile == "" {
				passwordFile = "-"
			}
			return sendOnce(ctx, sender, username, passwordFile, timeout)
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username to send with the password")
	cmd.Flags().StringVar(&passwordFile, "password-file", "", "read the password from this file (- for stdin); skips the form")
	cmd.Flags().StringVar(&listen, "listen", "", "accept pfp_receiver_init notifications on this address instead of a link")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "how long to keep retrying delivery")
	return cmd
}

// listenForOffer serves the notification endpoint on addr until shutdown
// is called. Offers from origins outside pairing.allowed_origins are
// rejected by the sender.
func listenForOffer(sender *pairing.Sender, addr string) (shutdown func(), err error) {
	if len(wire.Config.Pairing.AllowedOrigins) == 0 {
		logger.Warn("pairing.allowed_origins is empty; every notification will be rejected")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening for pairing notifications: %w", err)
	}

	bus := pairing.NewBus()
	cancel := sender.Listen(bus)
	srv := &http.Server{
		Handler:           pairing.NotifyHandler(bus, logger.With("component", "notify")),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("notification listener stopped", "error", err)
		}
	}()
	return func() {
		ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = srv.Shutdown(ctx)
		cancel()
	}, nil
}

func sendOnce(ctx context.Context, sender *pairing.Sender, username, passwordFile string, timeout time.Duration) error {
	password, err := secret.ReadFromPath(passwordFile)
	if err != nil {
		return err
	}
	defer password.Close()

	sent := make(chan struct{}, 1)
	loop := wire.NewLoop(sender,
		submission.WithOnSent(func(string) { notify(sent) }),
		submission.WithOnError(func(error) { notify(sent) }))
	loop.Set(credential.Encode(credential.Credential{Username: username, Password: password.String()}))
	if err := loop.Start(ctx); err != nil {
		return err
	}
	defer loop.Stop()

	if err := waitFlushed(ctx, loop, sent, timeout); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "sent")
	return nil
}

func runForm(ctx context.Context, sender *pairing.Sender, host string, timeout time.Duration) error {
	var program *tea.Program
	sent := make(chan struct{}, 1)
	loop := wire.NewLoop(sender,
		submission.WithOnSent(func(string) {
			notify(sent)
			program.Send(ui.SentMsg{})
		}),
		submission.WithOnError(func(err error) {
			notify(sent)
			program.Send(ui.ErrorMsg{Err: err})
		}))

	program = tea.NewProgram(ui.New(host, loop.Set), tea.WithContext(ctx), tea.WithOutput(os.Stderr))
	if err := loop.Start(ctx); err != nil {
		return err
	}
	defer loop.Stop()

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return waitFlushed(ctx, loop, sent, timeout)
}

// waitFlushed blocks until the loop has nothing left to send. It returns
// the loop's error if the value was dropped rather than delivered.
func waitFlushed(ctx context.Context, loop *submission.Loop, sent <-chan struct{}, timeout time.Duration) error {
	deadline := wire.Clock.After(timeout)
	for loop.Dirty() {
		select {
		case <-sent:
		case <-deadline:
			return fmt.Errorf("credential not delivered within %v", timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := loop.Err(); err != nil {
		return fmt.Errorf("credential not delivered: %w", err)
	}
	return nil
}

func notify(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

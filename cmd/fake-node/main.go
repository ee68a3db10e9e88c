package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/omochice/cats-chat/internal/logging"
	"github.com/omochice/cats-chat/internal/server"
	"github.com/omochice/cats-chat/pkg/protocol"
)

var rootCmd = &cobra.Command{
	Use:          "fake-node",
	Short:        "Development node that loops sent packets back over the live channel",
	SilenceUsage: true,
	RunE:         runNode,
}

var (
	flagListen   string
	flagCallsign string
	flagSSID     uint8
	flagLogLevel string
	flagStdin    bool
	flagFrom     string
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagListen, "listen", ":3000", "address to listen on")
	flags.StringVar(&flagCallsign, "callsign", "N0CALL", "callsign the node transmits as")
	flags.Uint8Var(&flagSSID, "ssid", 0, "SSID the node transmits as")
	flags.StringVar(&flagLogLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.BoolVar(&flagStdin, "stdin", false, "inject each stdin line as a received packet")
	flags.StringVar(&flagFrom, "from", "EX4MPLE-0", "sender CALL[-SSID] of injected packets")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runNode(cmd *cobra.Command, args []string) error {
	if _, err := logging.Setup(flagLogLevel, os.Stderr); err != nil {
		return err
	}
	logger := logging.Component("fake-node")

	from, err := protocol.ParseDestination(flagFrom)
	if err != nil {
		return err
	}

	srv := server.New(flagListen, server.Identity{Callsign: flagCallsign, SSID: flagSSID})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	if flagStdin {
		go injectLines(ctx, srv, from)
	}

	select {
	case err := <-errChan:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		srv.Stop()
	}

	logger.Info().Msg("node stopped")
	return nil
}

// injectLines stands in for the radio: every line read is delivered to chat
// clients as if it had just been received from sender.
func injectLines(ctx context.Context, srv *server.Server, sender protocol.Destination) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		msg := protocol.Message{
			ReceivedAt:   time.Now().UTC().Truncate(time.Second),
			FromCallsign: sender.Callsign,
			FromSSID:     uint8(sender.SSID),
			Comment:      text,
		}
		n, err := srv.Inject(msg)
		if err != nil {
			log.Warn().Err(err).Msg("inject packet")
			continue
		}
		log.Debug().Int("clients", n).Str("from", msg.From()).Msg("injected packet")
	}
}

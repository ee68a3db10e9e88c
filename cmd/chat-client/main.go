package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/omochice/cats-chat/internal/client"
	"github.com/omochice/cats-chat/internal/config"
	"github.com/omochice/cats-chat/internal/logging"
	"github.com/omochice/cats-chat/internal/render"
	"github.com/omochice/cats-chat/pkg/protocol"
)

var rootCmd = &cobra.Command{
	Use:          "chat-client",
	Short:        "Live chat with a packet-radio node",
	SilenceUsage: true,
}

var sendCmd = &cobra.Command{
	Use:          "send",
	Short:        "Send a single packet and exit",
	SilenceUsage: true,
}

var (
	flagConfig   string
	flagNode     string
	flagLogLevel string
	flagDest     string
	flagNotify   bool

	flagComment   string
	flagSendDests []string
)

func init() {
	// Assigned here because runChat refers back to rootCmd.
	rootCmd.RunE = runChat
	sendCmd.RunE = runSend

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagConfig, "config", "", "optional JSON config file")
	flags.StringVar(&flagNode, "node", config.DefaultNode, "node base URL")
	flags.StringVar(&flagLogLevel, "log-level", config.DefaultLogLevel, "log level (trace, debug, info, warn, error)")

	rootCmd.Flags().StringVar(&flagDest, "dest", "", "destination CALL[-SSID] for typed lines")
	rootCmd.Flags().BoolVar(&flagNotify, "notify", false, "raise a desktop notification per message")

	sendCmd.Flags().StringVar(&flagComment, "comment", "", "comment to send (empty sends null)")
	sendCmd.Flags().StringArrayVar(&flagSendDests, "dest", nil, "destination CALL[-SSID]; repeatable")

	rootCmd.AddCommand(sendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads --config and lets explicitly set flags win over the file.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if flagConfig != "" {
		var err error
		if cfg, err = config.Load(flagConfig); err != nil {
			return config.Config{}, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("node") {
		cfg.Node = flagNode
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	if cmd == rootCmd {
		if flags.Changed("dest") {
			cfg.Destination = flagDest
		}
		if flags.Changed("notify") {
			cfg.Notify = flagNotify
		}
	}

	cfg.FillMissingDefaults()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	if _, err := logging.Setup(cfg.LogLevel, os.Stderr); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := client.New(cfg, nil, log.Logger)
	if err != nil {
		return err
	}
	session.Attach(render.NewTerminal(os.Stdout))
	if cfg.Notify {
		session.Attach(render.NewNotifier(nil))
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- session.Run(ctx)
	}()

	chatURL, _ := cfg.ChatURL()
	log.Info().Str("url", chatURL).Str("dest", cfg.Destination).Msg("chat started")
	fmt.Fprintln(os.Stderr, "Type your messages (or 'quit' to exit):")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			log.Warn().Err(err).Msg("read stdin")
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if text == "quit" || text == "exit" {
				break loop
			}
			sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			if err := session.Say(sendCtx, text); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
			cancel()
		}
	}

	stop()
	if err := <-runErr; err != nil {
		return err
	}
	log.Info().Msg("chat stopped")
	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	dests := make([]protocol.Destination, 0, len(flagSendDests))
	for _, raw := range flagSendDests {
		d, err := protocol.ParseDestination(raw)
		if err != nil {
			return err
		}
		dests = append(dests, d)
	}

	session, err := client.New(cfg, nil, log.Logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	if err := session.Send(ctx, flagComment, dests...); err != nil {
		return err
	}
	log.Info().Int("destinations", len(dests)).Msg("packet sent")
	return nil
}

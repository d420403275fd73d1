// Package servecmder provides the serve command, which runs the chat relay.
package servecmder

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/trickle/pkg/config"
	"github.com/papercomputeco/trickle/pkg/logger"
	"github.com/papercomputeco/trickle/proxy"
	"github.com/papercomputeco/trickle/proxy/worker"
)

type serveCommander struct {
	listen    string
	upstream  string
	model     string
	apiKeyEnv string
	relay     string
	journal   string
	rateLimit float64

	debug    bool
	jsonLogs bool

	// listener, when set, is served instead of listening on listen.
	listener net.Listener

	logger *slog.Logger
}

// serveFlags are the registry flags serve binds into viper.
var serveFlags = []string{
	config.FlagListen,
	config.FlagUpstream,
	config.FlagModel,
	config.FlagAPIKeyEnv,
	config.FlagRelay,
	config.FlagJournal,
	config.FlagRateLimit,
}

const serveLongDesc string = `Run the chat relay.

The relay accepts POST /api/chat with {"query": "..."} (optionally with
earlier "messages"), asks an OpenAI-compatible upstream for a streamed chat
completion, and streams the answer back as "data:" frames.

The upstream API key is read from the environment variable named by
--api-key-env (OPENAI_API_KEY by default). Without a key the client's own
Authorization header is forwarded.

Relay modes:
  text   one "data: <delta>" frame per content delta (default)
  raw    the upstream event stream, unchanged

Examples:
  trickle serve
  trickle serve --upstream http://localhost:11434/v1 --model llama3.2
  trickle serve --journal ~/.trickle/journal.jsonl --rate-limit 5`

const serveShortDesc string = "Run the chat relay"

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, config.Flags, serveFlags)

			cmder.listen = v.GetString("proxy.listen")
			cmder.upstream = v.GetString("proxy.upstream")
			cmder.model = v.GetString("proxy.model")
			cmder.apiKeyEnv = v.GetString("proxy.api_key_env")
			cmder.relay = v.GetString("proxy.relay")
			cmder.journal = v.GetString("proxy.journal")
			cmder.rateLimit = v.GetFloat64("proxy.rate_limit")

			return config.ValidateRelay(cmder.relay)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return cmder.run(ctx)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagListen, &cmder.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagUpstream, &cmder.upstream)
	config.AddStringFlag(cmd, config.Flags, config.FlagModel, &cmder.model)
	config.AddStringFlag(cmd, config.Flags, config.FlagAPIKeyEnv, &cmder.apiKeyEnv)
	config.AddStringFlag(cmd, config.Flags, config.FlagRelay, &cmder.relay)
	config.AddStringFlag(cmd, config.Flags, config.FlagJournal, &cmder.journal)
	config.AddFloat64Flag(cmd, config.Flags, config.FlagRateLimit, &cmder.rateLimit)
	cmd.Flags().BoolVar(&cmder.jsonLogs, "json", false, "Emit JSON logs")

	return cmd
}

// run serves until ctx is done or the server fails.
func (c *serveCommander) run(ctx context.Context) error {
	if c.logger == nil {
		c.logger = logger.New(
			logger.WithDebug(c.debug),
			logger.WithPretty(!c.jsonLogs),
			logger.WithJSON(c.jsonLogs),
		)
	}

	cfg := proxy.Config{
		ListenAddr:  c.listen,
		UpstreamURL: c.upstream,
		Model:       c.model,
		Relay:       c.relay,
		RateLimit:   c.rateLimit,
	}

	if c.apiKeyEnv != "" {
		cfg.APIKey = os.Getenv(c.apiKeyEnv)
	}
	if cfg.APIKey == "" {
		c.logger.Warn("no upstream API key set, forwarding client Authorization",
			"api_key_env", c.apiKeyEnv,
		)
	}

	if c.journal != "" {
		sink, err := worker.NewFileSink(c.journal)
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer sink.Close()
		cfg.Journal = sink

		c.logger.Info("journaling relays", "path", c.journal)
	}

	p, err := proxy.New(cfg, c.logger)
	if err != nil {
		return fmt.Errorf("creating proxy: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		if c.listener != nil {
			errChan <- p.RunWithListener(c.listener)
			return
		}
		errChan <- p.Run()
	}()

	select {
	case err := <-errChan:
		_ = p.Close()
		if err != nil {
			return fmt.Errorf("proxy error: %w", err)
		}
		return nil
	case <-ctx.Done():
		c.logger.Info("shutting down")
		return p.Close()
	}
}

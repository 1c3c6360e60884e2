package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/internal/cli"
	httpAdapter "github.com/aretw0/parley/pkg/adapters/http"
	"github.com/aretw0/parley/pkg/adapters/twilio"
	"github.com/aretw0/parley/pkg/ports"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Starts the engine behind a JSON API (/v1), a server-sent event stream per session,
Prometheus metrics (/metrics) and, when Twilio credentials are set, a WhatsApp webhook.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}
		watch, _ := cmd.Flags().GetBool("watch")
		logger := newLogger(cfg)

		sigCtx := cli.NewSignalContext(cmd.Context())
		defer sigCtx.Cancel()

		streams := httpAdapter.NewStreamManager(logger)
		var (
			wa       *twilio.Sender
			waSender ports.MessageSender
		)
		if cfg.Twilio.Enabled() {
			wa, err = twilio.NewSender(twilio.Opts{
				AccountSID: cfg.Twilio.AccountSID,
				AuthToken:  cfg.Twilio.AuthToken,
				From:       cfg.Twilio.From,
			}, twilio.WithLogger(logger))
			if err != nil {
				return err
			}
			waSender = wa
		}
		sender := cli.ChannelSender(streams, waSender, cfg.Twilio.ConnectionID)

		stack, err := cli.NewStack(sigCtx, cfg, logger, cli.StackOptions{Sender: sender, Watch: watch})
		if err != nil {
			return err
		}
		defer func() {
			if err := stack.Close(); err != nil {
				logger.Warn("Shutdown incomplete", "err", err)
			}
		}()

		api, err := httpAdapter.NewHandler(stack.Engine, stack.Engine.Sessions(),
			httpAdapter.WithFlows(stack.Flows),
			httpAdapter.WithStreams(streams),
			httpAdapter.WithMetrics(stack.Registry),
			httpAdapter.WithVersion(parley.Version),
			httpAdapter.WithLogger(logger),
		)
		if err != nil {
			return err
		}

		mux := http.NewServeMux()
		mux.Handle("/", api)
		if wa != nil {
			var opts []twilio.WebhookOption
			if cfg.Twilio.WebhookURL != "" {
				opts = append(opts, twilio.WithSignature(cfg.Twilio.AuthToken, cfg.Twilio.WebhookURL))
			} else {
				logger.Warn("Twilio webhook signatures are not verified; set twilio.webhook_url")
			}
			opts = append(opts, twilio.WithWebhookLogger(logger))
			mux.Handle("/twilio/whatsapp", twilio.NewWebhook(stack.Engine, sender, cfg.Twilio.ConnectionID, opts...))
			logger.Info("Twilio webhook enabled", "path", "/twilio/whatsapp", "connection_id", cfg.Twilio.ConnectionID)
		}

		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("Starting Parley Server", "addr", srv.Addr, "flows", cfg.Flows.Source, "store", cfg.Store.Driver)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		case <-sigCtx.Done():
			logger.Info("Start shutdown", "signal", sigCtx.Signal())

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Error("Graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
				if err := srv.Close(); err != nil {
					return fmt.Errorf("error killing server: %w", err)
				}
			}
			logger.Info("Parley Server stopped gracefully")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().BoolP("watch", "w", false, "Reload flows when their files change (loam source)")
}

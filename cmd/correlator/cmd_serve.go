package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Alias1177/Correlator/internal/auth"
	"github.com/Alias1177/Correlator/internal/payment"
	"github.com/Alias1177/Correlator/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API, the agents and the job scheduler",
	Long: `Serve starts the five agents, the job scheduler and the HTTP API with its
websocket feed. It runs until interrupted, then drains in-flight work within
SHUTDOWN_TIMEOUT.`,
	RunE: runServe,
}

var servePort int

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (default HTTP_PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	keys, err := auth.ParseKeys(cfg.APIKeys)
	if err != nil {
		return fmt.Errorf("parsing API_KEYS: %w", err)
	}
	if len(keys) == 0 && !cfg.DebugMode {
		log.Warn().Msg("No API keys configured; only the public endpoints are usable")
	}
	billing := payment.NewStripeService(payment.Config{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		PriceID:       cfg.StripePriceID,
		SuccessURL:    cfg.BillingSuccessURL,
		CancelURL:     cfg.BillingCancelURL,
	}, a.db)
	authn := auth.New(auth.Config{
		Secret:    cfg.JWTSecret,
		TTL:       cfg.TokenTTL,
		DebugMode: cfg.DebugMode,
	}, keys, billing.Tier)

	if err := a.scheduler.Load(); err != nil {
		return fmt.Errorf("loading jobs: %w", err)
	}

	port := cfg.HTTPPort
	if servePort > 0 {
		port = servePort
	}
	scfg := server.DefaultConfig(port)
	scfg.CORSOrigins = cfg.CORSOrigins
	scfg.TrustedProxies = cfg.TrustedProxies
	scfg.VectorFile = cfg.VectorFile
	scfg.Version = version
	scfg.ShutdownTimeout = cfg.ShutdownTimeout

	srv := server.New(server.Deps{
		Store:       a.db,
		Cache:       a.cache,
		Analyzer:    a.analyzer,
		Portfolio:   a.portfolio,
		Alerts:      a.alerts,
		Coordinator: a.coord,
		Scheduler:   a.scheduler,
		Reports:     a.reports,
		Insight:     a.analyst,
		Vectors:     a.vectors,
		Auth:        authn,
		Billing:     billing,
		Metrics:     a.metrics,
	}, scfg)

	a.coord.Start(ctx)
	a.scheduler.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server stopped")
		}
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Error().Err(serr).Msg("HTTP server shutdown")
	}
	a.scheduler.Stop()
	if cerr := a.coord.Stop(shutdownCtx); cerr != nil {
		log.Error().Err(cerr).Msg("Agents did not stop in time")
	}
	if verr := a.vectors.Save(""); verr != nil {
		log.Warn().Err(verr).Msg("Vector store not saved")
	}
	return err
}

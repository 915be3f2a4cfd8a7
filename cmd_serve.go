package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"session-core/internal/api"
	"session-core/internal/engine"
	"session-core/internal/health"
	"session-core/internal/market"
	"session-core/internal/monitor"
	"session-core/pkg/i18n"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session engine with its HTTP API and gRPC health endpoint",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf(i18n.Get("ConfigLoadFailed"), err)
	}
	log.Println(i18n.Get("Starting"))
	log.Printf(i18n.Get("ConfigLoaded"), cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	eng := st.engine

	// Sessions: restore persisted ones, then seed any new definitions.
	if n, err := eng.Restore(ctx); err != nil {
		log.Printf(i18n.Get("RestoreFailed"), err)
	} else {
		log.Printf(i18n.Get("SessionsRestored"), n)
	}
	if cfg.SessionsFile != "" {
		defs, err := engine.LoadSessionsFile(cfg.SessionsFile)
		if err != nil {
			log.Printf(i18n.Get("SeedFileFailed"), err)
		} else {
			log.Printf(i18n.Get("SessionsSeeded"), eng.Seed(ctx, defs), cfg.SessionsFile)
		}
	}

	// Orphan recovery must never hold up startup.
	go func() {
		log.Printf(i18n.Get("RecoveryStarted"), cfg.RecoveryAutoClose)
		reports, err := eng.RecoverOrphans(ctx, "", cfg.RecoveryAutoClose)
		if err != nil {
			log.Printf(i18n.Get("RecoveryFailed"), err)
			return
		}
		found := 0
		for _, r := range reports {
			found += len(r.Orphans)
		}
		log.Printf(i18n.Get("RecoveryDone"), found)
	}()

	if cfg.EnablePriceStream && st.streamer != nil && st.accountID != "" {
		feed := &market.Feed{
			Streamer:    st.streamer,
			AccountID:   st.accountID,
			Bus:         st.bus,
			Cache:       st.quotes,
			Instruments: func() []string { return eng.ActiveInstruments(st.accountID) },
		}
		feed.Start(ctx)
		log.Printf(i18n.Get("PriceFeedStarted"), st.accountID)
	} else {
		log.Println(i18n.Get("PriceFeedDisabled"))
	}

	(&monitor.Monitor{Bus: st.bus, Metrics: st.metrics}).Start(ctx)

	server := api.NewServer(eng, st.bus, st.metrics, api.Options{
		JWTSecret:   cfg.JWTSecret,
		RequireAuth: cfg.RequireAuth,
		Meta: api.SystemMeta{
			Broker:      st.broker,
			Environment: st.env,
			Version:     buildVersion,
			InstanceTag: st.tag,
		},
	})
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 2)
	go func() {
		log.Printf(i18n.Get("ServerListening"), cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf(i18n.Get("APIServerError"), err)
		}
	}()

	hs := health.New()
	go func() {
		log.Printf(i18n.Get("HealthListening"), cfg.GRPCHealthPort)
		if err := hs.ListenAndServe(":" + cfg.GRPCHealthPort); err != nil {
			errCh <- fmt.Errorf(i18n.Get("HealthServerError"), err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	log.Println(i18n.Get("ShuttingDown"))

	hs.SetServing(false)
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil {
		log.Printf("⚠️ http shutdown: %v", err)
	}
	st.close(sctx)
	hs.Stop()
	log.Println(i18n.Get("ShutdownComplete"))
	return runErr
}

// Command garl-server runs the trust engine's HTTP adapter: it loads
// configuration, opens storage, resolves the signing identity, starts the
// webhook dispatcher, and serves the routes defined in internal/server.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/garl-protocol/trust-engine/internal/config"
	"github.com/garl-protocol/trust-engine/internal/pipeline"
	"github.com/garl-protocol/trust-engine/internal/server"
	"github.com/garl-protocol/trust-engine/internal/signing"
	"github.com/garl-protocol/trust-engine/internal/storage"
	"github.com/garl-protocol/trust-engine/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := storage.NewDB(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer db.Close()

	signer, err := signing.LoadOrCreateSigner(cfg.Signing.PrivateKeyHex, cfg.Signing.AllowEphemeral, db)
	if err != nil {
		log.Fatalf("signing: %v", err)
	}
	log.Printf("signing public key: %s", signer.PublicKeyHex())

	dispatcher := webhook.New(db, webhook.Config{
		QueueSize: cfg.Webhook.QueueSize,
		Timeout:   cfg.Webhook.DeliverTimeout,
		Retries:   retriesFor(cfg.Webhook.MaxRetries),
	})

	repCfg := cfg.Trust.ToReputationConfig()
	pipe := pipeline.New(db, signer, dispatcher, repCfg)

	srv := server.New(db, pipe, server.Deps{
		Signer:             signer,
		Dispatcher:         dispatcher,
		WriteLimitPerMin:   cfg.RateLimit.TracesPerAgentPerMinute,
		RegisterLimitPerHr: cfg.RateLimit.RegistrationsPerIPPerHour,
		ReadAuthEnabled:    cfg.Server.ReadAuthEnabled,
		AdminToken:         cfg.Server.AdminToken,
		CORSOrigins:        cfg.Server.CORSOriginList(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Run(ctx)

	addr := cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port)
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		cancel()
	}()

	log.Printf("garl trust engine listening on %s", addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("serve: %v", err)
	}
}

func retriesFor(n int) []time.Duration {
	base := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	if n <= 0 || n >= len(base) {
		return base
	}
	return base[:n]
}

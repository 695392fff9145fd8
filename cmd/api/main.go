package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"krapi.org/internal/auth"
	"krapi.org/internal/config"
	"krapi.org/internal/httpapi"
	"krapi.org/internal/obs"
	"krapi.org/internal/store/memory"
	"krapi.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var (
		store auth.Store
		pgs   *pg.Store
		ready httpapi.ReadyProbe
	)
	if cfg.PostgresDSN != "" {
		pgs, err = pg.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgs
		ready = httpapi.ReadyProbe{DB: pgs.DB()}
	} else {
		log.Println("KRAPI_PG_DSN not set, using in-memory store (development only)")
		store = memory.New()
	}

	signer, err := auth.NewHS256Signer(cfg.AuthSecret, cfg.Issuer)
	if err != nil {
		log.Fatalf("signer: %v", err)
	}
	hasher := auth.BcryptHasher{}
	keys := auth.NewKeyService(store)
	svc, err := auth.NewService(store, keys, hasher, signer, nil,
		auth.WithSessionTTL(cfg.SessionTTL),
		auth.WithBearerTTL(cfg.BearerTTL),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}
	registry := auth.NewRegistry(store, svc.Revocations(), cfg.BearerTTL)

	api := httpapi.New(ready, version, httpapi.Deps{
		Store:    store,
		Auth:     svc,
		Keys:     keys,
		Registry: registry,
		Hasher:   hasher,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	// Background sweeps: expired session rows and stale revocation entries.
	gcCtx, gcCancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gcCtx.Done():
				return
			case <-ticker.C:
				if _, err := svc.CollectGarbage(gcCtx); err != nil {
					log.Printf("session gc: %v", err)
				}
				api.Sweep()
			}
		}
	}()

	log.Printf("Starting krapi-auth %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	gcCancel()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pgs != nil {
		_ = pgs.Close()
	}
	log.Println("Stopped")
}

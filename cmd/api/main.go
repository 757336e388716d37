package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"rasd.org/internal/audit"
	"rasd.org/internal/config"
	"rasd.org/internal/confidential"
	"rasd.org/internal/httpapi"
	"rasd.org/internal/notify"
	"rasd.org/internal/obs"
	"rasd.org/internal/org"
	"rasd.org/internal/store/pg"
	"rasd.org/internal/workflow"
)

var version = "0.3.0"

func main() {
	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("RASD_BUILD_COMMIT"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	dispatcher := notify.NewLogDispatcher()
	auditor := audit.Sink{}
	quorum := workflow.QuorumPolicy(cfg.QuorumPolicy)

	var (
		svc   workflow.Service
		dir   org.Directory
		store confidential.Store
		probe httpapi.ReadyProbe
	)
	if cfg.PGDSN != "" {
		pgStore, err := pg.Open(cfg.PGDSN,
			pg.WithDispatcher(dispatcher),
			pg.WithAuditor(auditor),
			pg.WithQuorum(quorum),
		)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer func() { _ = pgStore.Close() }()
		svc = pgStore
		dir = pgStore.Directory()
		store = pgStore.Confidential()
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		// In-memory engine for local runs and smoke tests.
		memDir := org.NewInMemory()
		if err := seedDirectory(memDir); err != nil {
			log.Fatalf("seed directory: %v", err)
		}
		svc = workflow.NewInMemory(memDir,
			workflow.WithDispatcher(dispatcher),
			workflow.WithAuditor(auditor),
			workflow.WithQuorum(quorum),
		)
		dir = memDir
		store = confidential.NewInMemoryStore()
	}

	gate := confidential.NewGate(store, dir, svc,
		confidential.WithDispatcher(dispatcher),
		confidential.WithAuditor(auditor),
		confidential.WithStrictRank(cfg.StrictRankGate),
	)

	authOn := os.Getenv("RASD_AUTH_SECRET") != ""
	api := httpapi.New(svc, gate, probe, version, httpapi.WithAuth(authOn))

	handler := httpapi.RequestID(
		httpapi.LoggingJSON(
			httpapi.SecurityHeaders(
				httpapi.CORS(
					httpapi.MaxBodyBytes(
						httpapi.RateLimit(api.Handler(), cfg.RateLimitBurst, cfg.RateLimitPerSecond),
						cfg.MaxBodyBytes,
					),
				),
			),
		),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting rasd-api %s on %s", version, srv.Addr)
	obs.SetReady(true)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"parkrow.org/internal/activity"
	"parkrow.org/internal/auth"
	"parkrow.org/internal/feed"
	"parkrow.org/internal/httpapi"
	"parkrow.org/internal/obs"
	"parkrow.org/internal/store/memory"
	"parkrow.org/internal/store/pg"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("PARKROW_COMMIT"))

	secret := os.Getenv("PARKROW_AUTH_SECRET")
	signer, err := auth.NewSigner(secret, "parkrow-admin", nil)
	if err != nil {
		log.Fatalf("signer: %v", err)
	}

	// Datastore: Postgres when a DSN is configured, otherwise the in-memory
	// store for local development.
	var (
		store auth.Store
		probe httpapi.ReadyProbe
	)
	if dsn := os.Getenv("PARKROW_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		log.Print("PARKROW_PG_DSN not set; using in-memory store")
		store = memory.New()
	}

	liveFeed := feed.New()
	recorder := activity.NewRecorder(store.Activity(), liveFeed)

	opts := []auth.ServiceOption{auth.WithRecorder(recorder)}
	if user, hash := os.Getenv("PARKROW_BREAKGLASS_USER"), os.Getenv("PARKROW_BREAKGLASS_HASH"); user != "" || hash != "" {
		opts = append(opts, auth.WithBreakGlass(user, hash))
	}
	svc, err := auth.NewService(store, signer, opts...)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	api := httpapi.New(httpapi.Config{
		Auth:         svc,
		Activity:     activity.NewService(store.Activity()),
		Recorder:     recorder,
		Feed:         liveFeed,
		Ready:        probe,
		Version:      version,
		CookieSecure: os.Getenv("PARKROW_COOKIE_SECURE") != "false",
		CORSOrigins:  splitList(os.Getenv("PARKROW_CORS_ORIGINS")),
	})

	// Expired session rows are bookkeeping only; sweep them hourly.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sweepSessions(sweepCtx, store)

	addr := os.Getenv("PARKROW_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0, // SSE feed holds the response open
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting parkrow-admin-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

func sweepSessions(ctx context.Context, store auth.Store) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Sessions().DeleteExpired(ctx, time.Now().UTC())
			if err != nil {
				obs.Log("error", "session_sweep_failed", map[string]any{"error": err.Error()})
				continue
			}
			if n > 0 {
				obs.Log("info", "session_sweep", map[string]any{"deleted": n})
			}
		}
	}
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

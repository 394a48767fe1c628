// Command replayserver hosts the telemetry replay engine's public request
// surface: the create/attach command entry and the streaming attach
// upgrade endpoint.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joptimus/f1-race-replay/internal/api"
	"github.com/joptimus/f1-race-replay/internal/artifactcache"
	"github.com/joptimus/f1-race-replay/internal/config"
	"github.com/joptimus/f1-race-replay/internal/fixtureaccessor"
	"github.com/joptimus/f1-race-replay/internal/fsutil"
	"github.com/joptimus/f1-race-replay/internal/monitoring"
	"github.com/joptimus/f1-race-replay/internal/session"
	"github.com/joptimus/f1-race-replay/internal/telemetry"
	"github.com/joptimus/f1-race-replay/internal/timeutil"
	"github.com/joptimus/f1-race-replay/internal/version"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	accessorKind := flag.String("accessor", "fixture", "raw accessor backend (fixture)")
	fixtureDir := flag.String("fixture-dir", "fixtures", "directory of canned session fixtures, used when -accessor=fixture")
	cacheDir := flag.String("cache-dir", "", "directory for the persisted artifact cache; disabled if empty")
	configPath := flag.String("config", "", "path to a tuning config JSON file; defaults built in if empty")
	printVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *printVersion {
		log.Printf("replayserver %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	cfg := config.EmptyTuningConfig()
	if *configPath != "" {
		loaded, err := config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("replayserver: loading config: %v", err)
		}
		cfg = loaded
	}

	var accessor telemetry.RawAccessor
	switch *accessorKind {
	case "fixture":
		accessor = fixtureaccessor.New(fsutil.OSFileSystem{}, *fixtureDir)
	default:
		log.Fatalf("replayserver: unknown accessor backend %q", *accessorKind)
	}

	var store *artifactcache.Store
	if *cacheDir != "" {
		store = artifactcache.NewStore(fsutil.OSFileSystem{}, *cacheDir)
	}

	clock := timeutil.RealClock{}
	registry := session.NewRegistry(clock)
	build := session.NewCachingBuildFunc(accessor, store, cfg)

	srv := api.NewServer(registry, build, cfg, clock)

	httpServer := &http.Server{
		Addr:    *addr,
		Handler: api.LoggingMiddleware(srv.Routes()),
	}

	go func() {
		monitoring.Logf("replayserver %s: listening on %s", version.Version, *addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("replayserver: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	monitoring.Logf("replayserver: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		httpServer.Close()
		log.Fatalf("replayserver: graceful shutdown failed: %v", err)
	}
}

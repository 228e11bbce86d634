package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"zone.camp/internal/config"
	"zone.camp/internal/media"
	"zone.camp/internal/persistence/snapshot"
	"zone.camp/internal/server"
	"zone.camp/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		zoneID     = flag.String("zone", "zone_1", "zone id")
		configPath = flag.String("config", "./configs/zone.yaml", "path to zone.yaml")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		libPath    = flag.String("library", "", "path to library.yaml (empty to disable the local catalog)")
		cachePath  = flag.String("cache", "", "path to media cache db (default: <data>/<zone>/media.db)")
		snapPath   = flag.String("snapshot", "", "path to snapshot file (default: <data>/<zone>/zone.snap.zst)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("config not found (%s); using defaults", *configPath)
			cfg = config.Defaults()
		} else {
			logger.Fatalf("load config: %v", err)
		}
	}

	zoneDir := filepath.Join(*dataDir, *zoneID)
	_ = os.MkdirAll(zoneDir, 0o755)

	var library *media.Library
	if strings.TrimSpace(*libPath) != "" {
		library, err = media.LoadLibrary(*libPath)
		if err != nil {
			logger.Fatalf("load library: %v", err)
		}
	}

	cp := strings.TrimSpace(*cachePath)
	if cp == "" {
		cp = filepath.Join(zoneDir, "media.db")
	}
	cache, err := media.OpenCache(cp, cfg.MediaCacheTTL())
	if err != nil {
		logger.Fatalf("open media cache: %v", err)
	}
	defer cache.Close()

	sp := strings.TrimSpace(*snapPath)
	if sp == "" {
		sp = filepath.Join(zoneDir, "zone.snap.zst")
	}
	store := &snapshot.FileStore{Path: sp}

	var provider media.Provider
	if library != nil {
		provider = library
	}

	eng, err := server.New(server.Options{
		ZoneID:   *zoneID,
		Config:   cfg,
		Log:      logger,
		Provider: provider,
		Library:  library,
		Cache:    cache,
		Store:    store,
	})
	if err != nil {
		logger.Fatalf("engine: %v", err)
	}

	if snap, ok, err := store.Load(); err != nil {
		logger.Fatalf("read snapshot: %v", err)
	} else if ok {
		if snap.Header.ZoneID != "" && snap.Header.ZoneID != *zoneID {
			logger.Fatalf("snapshot zone id mismatch: flag=%s snap=%s", *zoneID, snap.Header.ZoneID)
		}
		eng.ImportSnapshot(snap)
		logger.Printf("resumed from snapshot=%s", filepath.Base(sp))
	}

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := eng.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("engine stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		m := eng.Metrics()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP zone_users Current number of joined users.\n")
		fmt.Fprintf(rw, "# TYPE zone_users gauge\n")
		fmt.Fprintf(rw, "zone_users{zone=%q} %d\n", *zoneID, m.Users)

		fmt.Fprintf(rw, "# HELP zone_connections Current number of websocket connections.\n")
		fmt.Fprintf(rw, "# TYPE zone_connections gauge\n")
		fmt.Fprintf(rw, "zone_connections{zone=%q} %d\n", *zoneID, m.Connections)

		fmt.Fprintf(rw, "# HELP zone_queue_length Items waiting in the playback queue.\n")
		fmt.Fprintf(rw, "# TYPE zone_queue_length gauge\n")
		fmt.Fprintf(rw, "zone_queue_length{zone=%q} %d\n", *zoneID, m.QueueLen)
	})
	mux.HandleFunc("/users", func(rw http.ResponseWriter, r *http.Request) {
		ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel2()
		names, err := eng.Names(ctx2)
		if err != nil {
			http.Error(rw, "unavailable", http.StatusServiceUnavailable)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]any{"names": names})
	})
	mux.HandleFunc("/search", func(rw http.ResponseWriter, r *http.Request) {
		if provider == nil {
			http.Error(rw, "no catalog", http.StatusNotImplemented)
			return
		}
		query := strings.TrimSpace(r.URL.Query().Get("q"))
		if query == "" {
			http.Error(rw, "missing q", http.StatusBadRequest)
			return
		}
		ctx2, cancel2 := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel2()
		results, err := provider.Search(ctx2, query)
		if err != nil {
			http.Error(rw, "search failed", http.StatusBadGateway)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(results)
	})
	mux.HandleFunc("/zone", ws.NewServer(eng, cfg.PingInterval(), logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

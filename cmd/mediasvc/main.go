// Command mediasvc is the process entrypoint: load config, open the blob
// directory and database, wire every service, and serve the HTTP surface
// of §6 until SIGINT/SIGTERM. Grounded on HttpIngester/main.go's
// read-config-then-wire-then-serve shape, adapted from that teacher's
// muxer/listener wiring to this server's store/service wiring.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/inhies/go-bytesize"
	"lukechampine.com/blake3"

	"mediaserver/internal/blurhash"
	"mediaserver/internal/config"
	"mediaserver/internal/derive"
	"mediaserver/internal/digest"
	"mediaserver/internal/httpapi"
	"mediaserver/internal/imaging"
	"mediaserver/internal/logging"
	"mediaserver/internal/object"
	"mediaserver/internal/resolver"
	"mediaserver/internal/store"
	"mediaserver/internal/vobject"
)

func main() {
	lg := logging.New(os.Stderr)

	cfg, err := config.Load()
	if err != nil {
		lg.Fatal("failed to load configuration: %v", err)
	}
	lg.SetLevel(cfg.LogLevel)

	if usedHex, err := digest.InitKey(cfg.HMACKey); err != nil {
		lg.Fatal("failed to initialize content digest key: %v", err)
	} else if !usedHex {
		lg.Warn("CONTENT_HMAC_KEY is not a 64-char hex string; deriving the digest key by hashing it instead")
	}

	if err := initBlobDir(cfg.UploadPath); err != nil {
		lg.Fatal("failed to initialize upload path %q: %v", cfg.UploadPath, err)
	}
	lg.Info("blob directory ready at %s (max upload %s)", cfg.UploadPath, bytesize.ByteSize(cfg.MaxUploadBytes))

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		lg.Fatal("failed to open database: %v", err)
	}
	defer db.Close()
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.Ping(pingCtx); err != nil {
		lg.Fatal("failed to reach database: %v", err)
	}

	permits := imaging.NewPermits(cfg.ImageConcurrency)
	objects := object.New(db)
	virtualObjects := vobject.New(db)
	resolve := resolver.New(virtualObjects)
	deriveCoord := derive.New(db, permits, cfg.UploadPath)
	blur := blurhash.New(db, permits, cfg.UploadPath)

	etagKey := blake3.Sum256([]byte(cfg.HMACKey))

	handler := &httpapi.Handler{
		Objects:        objects,
		VirtualObjects: virtualObjects,
		Resolver:       resolve,
		Derive:         deriveCoord,
		BlurHash:       blur,
		Log:            lg,
		BlobDir:        cfg.UploadPath,
		MaxUploadBytes: cfg.MaxUploadBytes,
		ETagKey:        etagKey[:],
	}

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		lg.Info("listening on %s", cfg.ListenAddr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("http server exited: %v", err)
		}
	case <-ctx.Done():
		lg.Info("shutdown signal received, draining in-flight requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		// Shutdown stops accepting connections and waits for in-flight
		// requests, including any holding an image permit, to finish; the
		// permit pool itself is not closed.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			lg.Error("graceful shutdown failed: %v", err)
		}
	}
	lg.Info("shutdown complete")
}

// initBlobDir creates the upload directory if needed and guards the
// one-time creation/permission check with an advisory lock, so concurrent
// process starts against the same directory don't race on mkdir/probe.
func initBlobDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	lock := flock.New(filepath.Join(path, ".media-server.lock"))
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	probe := filepath.Join(path, ".media-server.probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
}

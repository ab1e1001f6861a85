// Package main is the entry point for the slide tile server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/slide-tiles/server/internal/api"
	"github.com/slide-tiles/server/internal/cache"
	"github.com/slide-tiles/server/internal/config"
	"github.com/slide-tiles/server/internal/data/chunked"
	"github.com/slide-tiles/server/internal/data/tiledbstore"
	"github.com/slide-tiles/server/internal/decoder"
	"github.com/slide-tiles/server/internal/pool"
	"github.com/slide-tiles/server/internal/render"
	"github.com/slide-tiles/server/internal/service"
	"github.com/slide-tiles/server/internal/source"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting slide tile server on port %d", cfg.Server.Port)

	// Decoding engines: the bundled chunk store, plus TileDB when compiled
	// in. Store directories holding TileDB arrays are routed by probing for
	// the chunk layout first.
	chunkEngine := chunked.NewEngine(chunked.EngineOptions{
		MemoDir:            cfg.Decoder.MemoDir,
		DisableMemoization: cfg.Decoder.DisableMemoization,
	})
	tiledbEngine := tiledbstore.NewEngine()
	if tiledbEngine.Supported() {
		log.Printf("TileDB engine enabled")
	}

	openSession := func(path string, capture bool) (decoder.Session, error) {
		s, err := chunkEngine.Open(path, capture)
		if err == nil || !tiledbEngine.Supported() {
			return s, err
		}
		return tiledbEngine.Open(path, capture)
	}

	// Reader pool shared by every open image.
	poolManager := pool.NewManager(pool.Options{
		Open:     openSession,
		MemoSize: chunkEngine.MemoFileSize,
	})
	defer poolManager.Shutdown()

	// Initialize cache manager
	cacheManager, err := cache.NewManager(cache.Config{
		TileCacheSizeMB: cfg.Cache.TileSizeMB,
		TileTTL:         time.Duration(cfg.Cache.TileTTLMinutes) * time.Minute,
		ArtifactEntries: cfg.Cache.ArtifactEntries,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	// Initialize tile renderer
	tileRenderer := render.NewTileRenderer(render.Config{
		TileSize:        cfg.Render.TileSize,
		DefaultColormap: cfg.Render.DefaultColormap,
	})

	imageService := service.NewImageService(service.ImageServiceConfig{
		Pool:     poolManager,
		Cache:    cacheManager,
		Renderer: tileRenderer,
		SourceOptions: source.Options{
			Parallelize:         cfg.Decoder.Parallelize,
			ParallelizeChannels: cfg.Decoder.ParallelizeChannels,
			VSIFixChannelZ:      cfg.Decoder.VSIFixChannelZ,
		},
		TileSize: cfg.Render.TileSize,
	})
	defer imageService.Close()

	// Open configured images up front so their first tile is cheap.
	for _, path := range cfg.Decoder.OpenImages {
		info, err := imageService.OpenImage(path)
		if err != nil {
			log.Fatalf("Failed to open image %s: %v", path, err)
		}
		log.Printf("  [%s] %s: %dx%d, %d level(s), %d channel(s)",
			info.ID, info.Path, info.Width, info.Height, len(info.Levels), info.Channels)
	}

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Service:     imageService,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

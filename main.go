// Copyright 2025 Silica Protocol
//
// Silica API service entrypoint.
//
// Wires the chain indexer, the relational store, the node RPC client, the
// bounded caches and the HTTP surface, then runs until SIGINT/SIGTERM.

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/silica-protocol/silica-api/pkg/cache"
	"github.com/silica-protocol/silica-api/pkg/config"
	"github.com/silica-protocol/silica-api/pkg/database"
	"github.com/silica-protocol/silica-api/pkg/indexer"
	"github.com/silica-protocol/silica-api/pkg/rpc"
	"github.com/silica-protocol/silica-api/pkg/server"
)

func main() {
	logger := log.New(os.Stdout, "[SilicaAPI] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := connectDatabase(&cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := db.MigrateUp(migrateCtx); err != nil {
		cancelMigrate()
		logger.Fatalf("Database migrations failed: %v", err)
	}
	cancelMigrate()

	rpcClient, err := rpc.NewClient(cfg.Chain.RPCURL, cfg.Chain.RequestTimeout())
	if err != nil {
		logger.Fatalf("Failed to initialize RPC client: %v", err)
	}
	defer rpcClient.Close()

	repos := database.NewRepositories(db)
	apiCache := cache.New(&cfg.Cache)
	lastIndexedBlock := &atomic.Uint64{}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	indexerMetrics := indexer.NewMetrics(registry)

	chainIndexer := indexer.New(
		rpcClient, repos, apiCache, cfg.Indexer, lastIndexedBlock, indexerMetrics, nil)

	indexerCtx, stopIndexer := context.WithCancel(context.Background())
	indexerDone := make(chan struct{})
	go func() {
		defer close(indexerDone)
		if err := chainIndexer.Run(indexerCtx); err != nil {
			logger.Printf("Indexer terminated with error: %v", err)
		}
	}()

	srv := server.New(server.Options{
		DB:               db,
		Repos:            repos,
		RPC:              rpcClient,
		Cache:            apiCache,
		LastIndexedBlock: lastIndexedBlock,
		FaucetEnabled:    cfg.Faucet.Enabled,
		Gatherer:         registry,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Printf("Silica API listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server exited with error: %v", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Println("Shutdown signal received")

	// Stop the ingestion loop first, then drain in-flight requests.
	stopIndexer()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP shutdown error: %v", err)
	}

	select {
	case <-indexerDone:
	case <-time.After(30 * time.Second):
		logger.Println("Indexer did not stop within the shutdown budget")
	}

	logger.Println("Shutdown complete")
}

// connectDatabase retries the initial connection so the service survives
// the database coming up after it
func connectDatabase(cfg *config.DatabaseConfig, logger *log.Logger) (*database.Client, error) {
	var client *database.Client

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 2 * time.Minute

	err := backoff.Retry(func() error {
		var err error
		client, err = database.NewClient(cfg)
		if err != nil {
			logger.Printf("Database not ready, retrying: %v", err)
		}
		return err
	}, policy)
	if err != nil {
		return nil, err
	}
	return client, nil
}

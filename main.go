/*
File: main.go
Version: 2.0.0
Description: Process entry point: configuration, model load, background
             routines, listeners and signal-driven graceful shutdown.
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

const shutdownGrace = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML configuration file")
	flag.Parse()

	if err := LoadConfig(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
	defer ShutdownLogger()

	LogInfo("[MAIN] Starting phishguard (config: %s)", *configPath)

	bundle := LoadModelBundle(config.Model)

	var cache *PredictionCache
	if config.Cache.Enabled {
		cache = NewPredictionCache(config.Cache.Size, config.Cache.parsedTTL)
		if config.Cache.StateFile != "" {
			if err := cache.LoadSnapshot(config.Cache.StateFile); err != nil {
				LogWarn("[MAIN] Cache snapshot restore failed: %v", err)
			}
		}
	}

	overrides := NewOverrideList(config.Overrides)

	InitLimiter(config.RateLimit)

	service = NewPredictionService(bundle, cache, overrides)

	// Background routines share one stop channel and WaitGroup so shutdown
	// can drain them all before the logger goes away.
	stop := make(chan struct{})
	var background sync.WaitGroup

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	go GlobalLimiter.StartCleanupRoutine(bgCtx)

	if cache != nil {
		cache.StartSnapshotLoop(config.Cache.StateFile, config.Cache.parsedSaveInterval, stop, &background)
	}
	if overrides != nil {
		overrides.StartRefresh(stop, &background)
	}
	NewFeedChecker(config.FeedCheck, service).Start(stop, &background)

	var listeners sync.WaitGroup
	servers := startServers(&listeners)
	if len(servers) == 0 {
		LogFatal("[MAIN] No listeners started; check server configuration")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	LogInfo("[MAIN] Received %v, shutting down", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			LogWarn("[MAIN] Shutdown of [%s] failed: %v", srv.String(), err)
		} else {
			LogInfo("[MAIN] Stopped [%s]", srv.String())
		}
	}
	listeners.Wait()

	bgCancel()
	close(stop)
	background.Wait()

	LogInfo("[MAIN] Shutdown complete")
}

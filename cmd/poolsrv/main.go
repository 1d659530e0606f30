// Package main is the entrypoint for a standalone pool process: it loads
// configuration, constructs a pool against the configured backend, exposes
// Prometheus metrics, and handles graceful shutdown.
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

	"github.com/joao-brasil/poolcore/internal/alert"
	"github.com/joao-brasil/poolcore/internal/config"
	"github.com/joao-brasil/poolcore/internal/pool"
	"github.com/joao-brasil/poolcore/pkg/session"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

var (
	configPath  = flag.String("config", "configs/pool.yaml", "Path to pool configuration file")
	backend     = flag.String("backend", "sqlserver", "Session backend: sqlserver or mysql")
	metricsPort = flag.Int("metrics-port", 9090, "Port for the Prometheus /metrics endpoint")
	alertRedis  = flag.String("alert-redis-addr", "", "Redis address for alert delivery (empty disables it, falling back to log alerts)")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[main] starting pool server")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[main] failed to load configuration: %v", err)
	}
	log.Printf("[main] configuration loaded: pool=%s host=%s:%d min=%d max=%d",
		cfg.Name, cfg.Host, cfg.Port, cfg.MinConnections, cfg.MaxConnections)

	factory, err := sessionFactory(*backend)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}

	alertSink, closeAlert := alertSink(*alertRedis)
	defer closeAlert()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", *metricsPort),
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[main] metrics server listening on :%d/metrics", *metricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[main] metrics server error: %v", err)
		}
	}()

	log.Printf("[main] initializing pool %q against %s", cfg.Name, factory.Name())
	p, err := pool.New(context.Background(), *cfg, pool.Deps{
		Factory: factory,
		Alert:   alertSink,
	})
	if err != nil {
		log.Fatalf("[main] failed to initialize pool: %v", err)
	}

	st := p.Status(false)
	log.Printf("[main] pool ready: free=%d busy=%d max=%d", st.Free, st.Busy, st.MaxSize)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Println("[main] pool is ready, waiting for shutdown signal")
	sig := <-sigCh
	log.Printf("[main] received signal %v, shutting down gracefully", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] metrics server shutdown error: %v", err)
	}
	if err := p.Shutdown(shutdownCtx, true); err != nil {
		log.Printf("[main] pool shutdown error: %v", err)
	}
	log.Println("[main] shutdown complete")
}

func sessionFactory(backend string) (session.Factory, error) {
	switch backend {
	case "sqlserver":
		return session.MSSQLFactory{}, nil
	case "mysql":
		return session.MySQLFactory{}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q (want sqlserver or mysql)", backend)
	}
}

func alertSink(redisAddr string) (alert.Sink, func()) {
	if redisAddr == "" {
		return alert.LogSink{}, func() {}
	}

	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	sink := alert.NewRedisSink(client, "pool")
	return sink, func() {
		if err := client.Close(); err != nil {
			log.Printf("[main] redis alert client close error: %v", err)
		}
	}
}

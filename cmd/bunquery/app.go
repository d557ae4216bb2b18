package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kartikbazzad/bunbase/bunquery"
	"github.com/kartikbazzad/bunbase/bunquery/internal/config"
	"github.com/kartikbazzad/bunbase/bunquery/internal/logger"
	"github.com/kartikbazzad/bunbase/bunquery/storage"
	"github.com/kartikbazzad/bunbase/bunquery/storage/postgres"
	"github.com/kartikbazzad/bunbase/bunquery/storage/sqlite"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// app is everything a command needs: the opened store, a client over it and the
// optional metrics listener.
type app struct {
	cfg     *config.Config
	store   storage.ReadWriter
	client  *bunquery.Client
	log     *slog.Logger
	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	store, closeStore, err := openStore(ctx, cfg.Storage, log)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, closeStore)

	registry, err := buildRegistry(cfg.Models)
	if err != nil {
		a.Close()
		return nil, err
	}

	client, err := bunquery.Open(store, &bunquery.Options{
		Registry:            registry,
		Logger:              log,
		RelationConcurrency: cfg.Query.RelationConcurrency,
		StrictOperators:     cfg.Query.StrictOperators,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.client = client
	a.closers = append(a.closers, func() { client.Close() })

	if cfg.Metrics.Addr != "" {
		a.serveMetrics(cfg.Metrics.Addr)
	}
	return a, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig, log *slog.Logger) (storage.ReadWriter, func(), error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return storage.NewMemory(), func() {}, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				log.Error("sqlite close", "error", err)
			}
		}, nil
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown storage driver %q", config.ErrInvalidConfig, cfg.Driver)
}

// buildRegistry turns model declarations into a registry.
func buildRegistry(models []config.ModelConfig) (*bunquery.Registry, error) {
	registry := bunquery.NewRegistry()
	for _, mc := range models {
		m := bunquery.Model{Name: mc.Name, Store: mc.Store, Relations: make(map[string]bunquery.Relation, len(mc.Relations))}
		for _, rc := range mc.Relations {
			kind, err := bunquery.ParseKind(rc.Kind)
			if err != nil {
				return nil, fmt.Errorf("model %q relation %q: %w", mc.Name, rc.Name, err)
			}
			var rel bunquery.Relation
			switch kind {
			case bunquery.KindOneToOne:
				rel = bunquery.OneToOne(rc.Store, rc.ForeignKey, rc.LocalKey)
			case bunquery.KindOneToMany:
				rel = bunquery.OneToMany(rc.Store, rc.ForeignKey, rc.LocalKey)
			case bunquery.KindManyToMany:
				rel = bunquery.ManyToMany(rc.Store, rc.ForeignKey, rc.LocalKey)
			}
			m.Relations[rc.Name] = rel
		}
		if err := registry.Register(m); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		a.log.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server error", "error", err)
		}
	}()
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.log.Error("metrics server shutdown", "error", err)
		}
	})
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// loadApp reads configuration, initializes logging and opens the app.
func loadApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.Log)
	return newApp(ctx, cfg, logger.Get())
}

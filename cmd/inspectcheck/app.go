package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/dshills/inspectcheck/internal/checklist"
	"github.com/dshills/inspectcheck/internal/config"
	"github.com/dshills/inspectcheck/internal/logging"
	"github.com/dshills/inspectcheck/internal/metrics"
	"github.com/dshills/inspectcheck/internal/service"
	"github.com/dshills/inspectcheck/internal/store"
)

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configFile string
	dsn        string
	logLevel   string
	// logOut receives log output; nil means stderr.
	logOut io.Writer
}

// app holds what a subcommand needs once configuration is resolved.
type app struct {
	cfg     *config.Config
	log     *logrus.Logger
	catalog *checklist.Catalog
	metrics *metrics.Metrics
	store   *store.SQLStore
	svc     *service.Service
}

// loadConfig resolves configuration and logging without touching the store.
func loadConfig(g globalFlags) (*config.Config, *logrus.Logger, error) {
	out := g.logOut
	if out == nil {
		out = os.Stderr
	}
	boot, err := logging.NewWithOutput(out, "warn", "text")
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.NewLoader(boot).Load(g.configFile)
	if err != nil {
		return nil, nil, badInput("config: %w", err)
	}
	if g.dsn != "" {
		cfg.Store.DSN = g.dsn
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	log, err := logging.NewWithOutput(out, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, badInput("config: %w", err)
	}
	return cfg, log, nil
}

// loadCatalog returns the built-in schemas plus those of schemas.dir.
func loadCatalog(cfg *config.Config) (*checklist.Catalog, error) {
	cat, err := checklist.Builtin()
	if err != nil {
		return nil, err
	}
	if cfg.Schemas.Dir != "" {
		if err := cat.LoadDir(cfg.Schemas.Dir); err != nil {
			return nil, badInput("schemas: %w", err)
		}
	}
	return cat, nil
}

func openApp(ctx context.Context, g globalFlags) (*app, error) {
	cfg, log, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	cat, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, log)
	if err != nil {
		logging.LogError(log, "main", "openApp", "open store", map[string]string{"driver": cfg.Store.Driver}, err)
		return nil, err
	}

	m := metrics.New()
	svc, err := service.New(service.Options{
		Catalog: cat,
		Store:   st,
		Policy:  cfg.Policy(),
		Log:     log,
		Metrics: m,
	})
	if err != nil {
		st.Close()
		return nil, err
	}
	return &app{cfg: cfg, log: log, catalog: cat, metrics: m, store: st, svc: svc}, nil
}

// close dumps metrics when configured and closes the store.
func (a *app) close() {
	if path := a.cfg.Metrics.Textfile; path != "" {
		if err := a.metrics.WriteTextfile(path); err != nil {
			a.log.WithError(err).Warn("metrics textfile not written")
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("close store")
	}
}

// openOutput returns w for an empty path, else the created file.
func openOutput(path string, w io.Writer) (io.Writer, func() error, error) {
	if path == "" {
		return w, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, f.Close, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rewired-gh/seismerge/internal/cache"
	"github.com/rewired-gh/seismerge/internal/config"
	"github.com/rewired-gh/seismerge/internal/graphql"
	"github.com/rewired-gh/seismerge/internal/logger"
	"github.com/rewired-gh/seismerge/internal/metrics"
	"github.com/rewired-gh/seismerge/internal/models"
	"github.com/rewired-gh/seismerge/internal/push"
	"github.com/rewired-gh/seismerge/internal/push/natsfeed"
	"github.com/rewired-gh/seismerge/internal/telegram"
	"github.com/rewired-gh/seismerge/internal/workspace"
)

// followed lists the gateway subscriptions a session merges and relay copies.
var followed = workspace.Subscriptions{
	EventsCreated:                graphql.EventsCreated,
	DetectionsCreated:            graphql.DetectionsCreated,
	WaveformChannelSegmentsAdded: graphql.WaveformChannelSegmentsAdded,
	QcMasksCreated:               graphql.QcMasksCreated,
}

// newRegistry builds the registry the metrics endpoint serves.
var newRegistry = func() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}

// app holds everything a command builds from the configuration.
type app struct {
	session *workspace.Session
	cache   *cache.Cache

	closers []func()
}

// newApp wires the gateway client, cache, notifier and metrics into a
// session. Push transports and the metrics endpoint are only started when
// follow is set.
func newApp(cfg *config.Config, follow bool) (*app, error) {
	a := &app{}

	c := cache.New(cfg.Cache.Expiration, cfg.Cache.SnapshotPath, 0o644, 0o755)
	if err := c.Load(); err != nil {
		logger.Warn("Failed to restore cache snapshot: %v", err)
	} else {
		logger.Debug("Restored %d cached results from %s", c.Len(), cfg.Cache.SnapshotPath)
	}
	a.cache = c
	a.closers = append(a.closers, func() {
		if err := c.Save(); err != nil {
			logger.Error("Failed to save cache snapshot: %v", err)
		}
	})

	var recorder workspace.Recorder
	var observer graphql.Observer
	if cfg.Metrics.Enabled {
		m, err := metrics.New(newRegistry())
		if err != nil {
			a.close()
			return nil, err
		}
		recorder, observer = m, m
		if follow {
			a.serveMetrics(cfg.Metrics.ListenAddr, m)
		}
	}

	client := graphql.NewClient(graphql.Options{
		URL:            cfg.Gateway.URL,
		Encoding:       graphql.Encoding(cfg.Gateway.Encoding),
		Timeout:        cfg.Gateway.Timeout,
		MaxRetries:     cfg.Gateway.MaxRetries,
		RetryDelayBase: cfg.Gateway.RetryDelayBase,
		Observer:       observer,
	})

	var notifier workspace.Notifier
	if cfg.Telegram.Enabled {
		tg, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, 3, time.Second)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		notifier = tg
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	var source push.Source
	if follow {
		var err error
		source, err = a.pushSource(cfg)
		if err != nil {
			a.close()
			return nil, err
		}
	}

	a.session = workspace.New(client, source, followed, c, notifier, recorder, workspace.Options{
		Analyst:        cfg.Workspace.Analyst,
		Activity:       models.AnalystActivity(cfg.Workspace.Activity),
		Interval:       cfg.Interval(),
		Stations:       cfg.Workspace.Stations,
		RestraintOrder: cfg.RestraintOrder(),
		AutoOpen:       follow && cfg.Workspace.AutoOpen,
		ResubscribeGap: cfg.Subscription.ResubscribeGap,
		AlignPhase:     cfg.Workspace.AlignPhase,
	})
	return a, nil
}

func (a *app) pushSource(cfg *config.Config) (push.Source, error) {
	if cfg.Subscription.Transport == config.TransportNATS {
		nc, err := natsfeed.Connect(natsConfig(cfg))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, nc.Close)
		logger.Info("Connected to NATS at %s", nc.ConnectedUrl())
		return natsfeed.New(nc, cfg.Subscription.SubjectPrefix), nil
	}
	return graphql.NewSubscriptionClient(cfg.Gateway.WSURL, cfg.Gateway.AckTimeout), nil
}

func (a *app) serveMetrics(addr string, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("Serving metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed: %v", err)
		}
	}()
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
}

// close releases resources in reverse order of creation.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func natsConfig(cfg *config.Config) natsfeed.Config {
	return natsfeed.Config{
		URL:            cfg.Subscription.NATSURL,
		SubjectPrefix:  cfg.Subscription.SubjectPrefix,
		MaxReconnects:  cfg.Subscription.MaxReconnects,
		ReconnectWait:  cfg.Subscription.ReconnectWait,
		ConnectTimeout: cfg.Subscription.ConnectTimeout,
	}
}

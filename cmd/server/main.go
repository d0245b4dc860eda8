package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/iidesho/bragi"
	"github.com/iidesho/bragi/sbragi"

	"github.com/iidesho/aggregates"
	"github.com/iidesho/aggregates/api"
	"github.com/iidesho/aggregates/config"
	"github.com/iidesho/aggregates/crypto"
	"github.com/iidesho/aggregates/metrics"
	"github.com/iidesho/aggregates/serializer"
	"github.com/iidesho/aggregates/storage"
	"github.com/iidesho/aggregates/store"
	"github.com/iidesho/aggregates/store/eventstore"
	"github.com/iidesho/aggregates/store/inmemory"
	"github.com/iidesho/aggregates/store/mariadb"
	"github.com/iidesho/aggregates/store/ondisk"
	"github.com/iidesho/aggregates/traces"
	"github.com/iidesho/aggregates/webserver"
	"github.com/iidesho/aggregates/webserver/health"
)

// stream is any entity, the server does not know the domain types it stores.
type stream struct {
	bucket string
	id     string
}

func (s stream) Bucket() string   { return s.bucket }
func (s stream) StreamId() string { return s.id }

func setupLogging(logDir string) {
	if logDir == "" {
		return
	}
	bragi.SetPrefix(health.Name)
	handler, err := sbragi.NewHandlerInFolder(logDir)
	if err != nil {
		sbragi.WithError(err).Fatal("Unable to sett logdir", "path", logDir)
	}
	handler.MakeDefault()
	logger, err := sbragi.NewLogger(&handler)
	if err != nil {
		sbragi.WithError(err).Fatal("Unable create new logger", "handler", handler)
	}
	logger.SetDefault()
}

func connect(ctx context.Context, cfg config.Config) (store.Connection, error) {
	switch cfg.Backend {
	case config.EventStore:
		return eventstore.NewClient(cfg.ESDBConnection)
	case config.MariaDB:
		return mariadb.Init(ctx, cfg.MariaDBDSN)
	case config.OnDisk:
		return ondisk.Init(filepath.Join(cfg.Dir, "events"))
	}
	return inmemory.Init()
}

func pushMetrics(ctx context.Context, cfg config.Config) {
	t := time.NewTicker(cfg.MetricsPushInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sbragi.WithError(metrics.Push(ctx, cfg.MetricsPushURL, cfg.ServiceName)).
				Warning("pushing metrics", "url", cfg.MetricsPushURL)
		}
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		sbragi.WithError(err).Fatal("loading config")
	}
	health.Name = cfg.ServiceName
	setupLogging(cfg.LogDir)
	metrics.Init()
	traces.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := connect(ctx, cfg)
	if err != nil {
		sbragi.WithError(err).Fatal("connecting to store", "backend", cfg.Backend)
	}
	defer conn.Close()

	opts := []aggregates.Option{aggregates.WithPageSize(cfg.PageSize)}
	if cfg.Backend == config.OnDisk {
		cache, err := storage.New[aggregates.CachedSnapshot](filepath.Join(cfg.Dir, "snapshots"))
		if err != nil {
			sbragi.WithError(err).Fatal("opening snapshot cache", "dir", cfg.Dir)
		}
		defer cache.Close()
		opts = append(opts, aggregates.WithSnapshotCache(cache))
	}
	if cfg.CryptoKey != "" {
		key, err := crypto.ParseKey(cfg.CryptoKey)
		if err != nil {
			sbragi.WithError(err).Fatal("parsing crypto key")
		}
		opts = append(opts, aggregates.WithSerializer(serializer.Encrypted(serializer.JSON, key)))
	}
	s, err := aggregates.New(ctx, conn, serializer.NewRegistry(serializer.AllowRaw()), opts...)
	if err != nil {
		sbragi.WithError(err).Fatal("creating store")
	}

	serv, err := webserver.Init(cfg.Port, cfg.FromBase, webserver.WithDebug(cfg.DebugUser, cfg.DebugPass))
	if err != nil {
		sbragi.WithError(err).Fatal("while initing webserver")
	}
	serv.AddHealthCheck("store", s.Ping)
	api.Register[stream](serv.API(), s, "/streams", aggregates.WithOOBMaxCount(cfg.OOBMaxCount))

	if cfg.MetricsPushURL != "" {
		go pushMetrics(ctx, cfg)
	}
	go func() {
		<-ctx.Done()
		sbragi.WithError(serv.Shutdown()).Error("shutting down webserver")
	}()
	sbragi.Info("serving", "port", cfg.Port, "backend", cfg.Backend)
	serv.Run()
}

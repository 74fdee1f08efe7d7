package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/starford/bartermate/internal/barterservice"
	"github.com/starford/bartermate/internal/draft"
	"github.com/starford/bartermate/internal/events"
	"github.com/starford/bartermate/internal/feed"
	"github.com/starford/bartermate/internal/geo"
	"github.com/starford/bartermate/internal/localstore"
	"github.com/starford/bartermate/internal/metrics"
	"github.com/starford/bartermate/internal/netmon"
	"github.com/starford/bartermate/internal/remote"
	"github.com/starford/bartermate/internal/remote/blob"
	"github.com/starford/bartermate/internal/remote/mongostore"
	"github.com/starford/bartermate/internal/remote/natsfeed"
	"github.com/starford/bartermate/internal/remote/ownercache"
	"github.com/starford/bartermate/internal/session"
	"github.com/starford/bartermate/internal/syncer"
)

// core holds the wired offline-resilience components shared by the HTTP
// and MCP front ends.
type core struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	network    *netmon.Monitor
	debouncer  *draft.Debouncer
	feed       *feed.Service
	reconciler *syncer.Reconciler
	changes    remote.ChangeFeed
	service    *barterservice.Service

	closers []func()
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// newCore opens the local store and builds every component. Remote
// adapters are created without requiring the server to be reachable.
func newCore(ctx context.Context, cfg *Config, notifier events.Notifier, logger *slog.Logger) (*core, error) {
	c := &core{logger: logger}
	if cfg.Metrics.Enabled {
		c.metrics = metrics.New()
	}

	if err := os.MkdirAll(cfg.Local.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	store, err := localstore.Open(cfg.Local.Driver, cfg.Local.Path)
	if err != nil {
		return nil, fmt.Errorf("init local store: %w", err)
	}
	c.onClose(func() { _ = store.Close() })

	sess := session.New()
	if err := loadSession(sess, cfg.Session, logger); err != nil {
		c.close()
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Remote.ConnectTimeout)
	defer cancel()
	mongo, err := mongostore.Connect(connectCtx, cfg.Remote.URI, cfg.Remote.Database, logger)
	if err != nil {
		c.close()
		return nil, fmt.Errorf("init remote store: %w", err)
	}
	c.onClose(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongo.Close(closeCtx)
	})

	var owners remote.OwnerLookup = mongo
	if cfg.Cache.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		c.onClose(func() { _ = rdb.Close() })
		owners = ownercache.New(mongo, rdb, cfg.Cache.OwnerTTL, logger)
	}

	var blobs remote.BlobStore
	if cfg.Blob.Enabled() {
		bs, err := blob.New(blob.Options{
			Endpoint:  cfg.Blob.Endpoint,
			AccessKey: cfg.Blob.AccessKey,
			SecretKey: cfg.Blob.SecretKey,
			Bucket:    cfg.Blob.Bucket,
			PublicURL: cfg.Blob.PublicURL,
		}, logger)
		if err != nil {
			c.close()
			return nil, fmt.Errorf("init blob store: %w", err)
		}
		blobs = bs
	} else {
		logger.Warn("blob storage not configured, local images will not be uploaded")
	}

	switch cfg.Realtime.Driver {
	case RealtimeChangeStream:
		c.changes = mongostore.NewChangeFeed(mongo)
	case RealtimeNATS:
		conn, err := natsfeed.Connect(cfg.Realtime.NATSURL, "bartermate", logger)
		if err != nil {
			c.close()
			return nil, fmt.Errorf("init realtime: %w", err)
		}
		c.onClose(func() { drainNATS(conn) })
		c.changes = natsfeed.New(conn, cfg.Realtime.Subject, logger)
	}

	imageDir := filepath.Join(cfg.Local.DataDir, "images")
	position := geo.NewStatic(cfg.Geo.Coordinate())

	c.network = netmon.New(&netmon.HTTPProber{
		URL:    cfg.Network.ProbeURL,
		Client: &http.Client{Timeout: cfg.Network.ProbeTimeout},
	}, netmon.Options{
		Interval:     cfg.Network.Interval,
		ProbeTimeout: cfg.Network.ProbeTimeout,
		WatchPaths:   cfg.Network.WatchPaths,
	}, logger)
	c.network.OnChange(func(offline bool) {
		c.metrics.SetOffline(offline)
		notifier.Notify(events.NetworkChanged, map[string]bool{"offline": offline})
	})
	c.metrics.SetOffline(c.network.IsOffline())

	queue := draft.NewQueue(store, logger)
	c.debouncer = draft.NewDebouncer(queue, cfg.Sync.Debounce, notifier, logger)

	c.feed = feed.NewService(
		feed.NewCache(mongo, store, position, notifier, c.metrics, logger),
		feed.NewMerger(owners, position, notifier, c.metrics, logger),
	)

	c.reconciler = syncer.New(syncer.Deps{
		Queue:    queue,
		Session:  sess,
		Listings: mongo,
		Blobs:    blobs,
		ImageDir: imageDir,
		Pending:  c.debouncer,
		Network:  c.network,
		Notifier: notifier,
		Metrics:  c.metrics,
		Logger:   logger,
	}, cfg.Sync.Timeout)

	c.service = barterservice.New(barterservice.Deps{
		Queue:      queue,
		Debouncer:  c.debouncer,
		Feed:       c.feed,
		Reconciler: c.reconciler,
		Session:    sess,
		Network:    c.network,
		Notifier:   notifier,
		Logger:     logger,
		ImageDir:   imageDir,
		Location:   position,
	})

	return c, nil
}

func loadSession(sess *session.Session, cfg SessionConfig, logger *slog.Logger) error {
	var (
		id  session.Identity
		err error
	)
	switch {
	case cfg.Token != "":
		id, err = sess.SetToken(cfg.Token)
	case cfg.TokenFile != "":
		id, err = session.LoadTokenFile(sess, cfg.TokenFile)
	default:
		logger.Info("session: no startup token, waiting for sign-in")
		return nil
	}
	if err != nil {
		return fmt.Errorf("init session: %w", err)
	}
	logger.Info("session: signed in", slog.String("user_id", id.UserID))
	return nil
}

func drainNATS(conn *nats.Conn) {
	if err := conn.Drain(); err != nil {
		conn.Close()
	}
}

// run hands every background component to start, usually an errgroup's Go.
// Each one returns once ctx is cancelled.
func (c *core) run(ctx context.Context, start func(func() error)) {
	start(func() error { return c.network.Run(ctx) })
	start(func() error { return c.reconciler.Run(ctx) })
	if c.changes != nil {
		start(func() error { return c.feed.Merger().Run(ctx, c.changes) })
	}

	// The feed is fetched at startup and again whenever connectivity returns.
	online := make(chan struct{}, 1)
	unsubscribe := c.network.OnChange(func(offline bool) {
		if offline {
			return
		}
		select {
		case online <- struct{}{}:
		default:
		}
	})
	start(func() error {
		defer unsubscribe()
		c.feed.Refresh(ctx)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-online:
				c.feed.Refresh(ctx)
			}
		}
	})
}

// shutdown writes any debounced draft edit and releases the adapters.
func (c *core) shutdown() {
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.debouncer.Flush(flushCtx); err != nil {
		c.logger.Warn("draft: flush on shutdown failed", slog.String("error", err.Error()))
	}
	c.close()
}

func (c *core) onClose(fn func()) {
	c.closers = append(c.closers, fn)
}

func (c *core) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

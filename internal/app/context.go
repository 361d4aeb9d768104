// Package app wires the engine and its collaborators from configuration.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"fieldline/internal/blob"
	blobminio "fieldline/internal/blob/minio"
	blobs3 "fieldline/internal/blob/s3"
	"fieldline/internal/config"
	"fieldline/internal/db"
	"fieldline/internal/engine"
	"fieldline/internal/migrate"
	"fieldline/internal/netmon"
	"fieldline/internal/remote"
	"fieldline/internal/retry"
	"fieldline/internal/syncer"
)

// Runtime is an opened workspace.
type Runtime struct {
	DB     *sql.DB
	Engine *engine.Engine
	Remote *remote.Client
	Prober *netmon.Prober
	Logger *slog.Logger
}

func (r *Runtime) Close() error {
	if r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// Open migrates the workspace database, builds every collaborator from cfg
// and restores the active session.
func Open(ctx context.Context, workspace string, cfg *config.Config, actorID string, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	client := NewRemote(cfg)
	store, err := NewBlobStore(ctx, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	monitor := netmon.New(true, logger)
	orch := &syncer.Orchestrator{
		Retry:   retry.New(RetryPolicy(cfg), logger),
		Limiter: NewLimiter(cfg),
		Tracer:  otel.Tracer("fieldline/syncer"),
		Logger:  logger,
		Network: monitor,
	}
	e := engine.New(conn, cfg, db.MediaDir(workspace), logger, engine.Deps{
		Backend:  client,
		Uploader: store,
		Network:  monitor,
		Syncer:   orch,
	})
	if _, err := e.Open(ctx, actorID); err != nil {
		conn.Close()
		return nil, err
	}
	var prober *netmon.Prober
	if target := probeTarget(cfg, client); target != nil {
		prober = &netmon.Prober{
			Target:   target,
			Monitor:  monitor,
			Interval: cfg.Network.ProbeInterval,
			Timeout:  cfg.Network.ProbeTimeout,
		}
	}
	return &Runtime{DB: conn, Engine: e, Remote: client, Prober: prober, Logger: logger}, nil
}

func NewRemote(cfg *config.Config) *remote.Client {
	c := remote.New(cfg.Remote.BaseURL, cfg.Remote.Timeout)
	c.BearerToken = cfg.Remote.Token
	return c
}

// NewBlobStore picks the object storage driver. Driver "none" yields a
// store whose uploads fail terminally until storage is configured.
func NewBlobStore(ctx context.Context, cfg *config.Config) (*blob.Store, error) {
	b := cfg.Blob
	store := &blob.Store{PublicBaseURL: b.PublicBaseURL, Prefix: b.Prefix}
	switch strings.ToLower(b.Driver) {
	case "minio":
		d, err := blobminio.New(blobminio.Config{
			Endpoint:  b.Endpoint,
			Bucket:    b.Bucket,
			Region:    b.Region,
			AccessKey: b.AccessKey,
			SecretKey: b.SecretKey,
			UseSSL:    b.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("minio: %w", err)
		}
		store.Driver = d
	case "s3":
		d, err := blobs3.New(ctx, blobs3.Config{
			Bucket:         b.Bucket,
			Region:         b.Region,
			Endpoint:       b.Endpoint,
			AccessKey:      b.AccessKey,
			SecretKey:      b.SecretKey,
			ForcePathStyle: b.ForcePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("s3: %w", err)
		}
		store.Driver = d
	}
	return store, nil
}

func RetryPolicy(cfg *config.Config) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Jitter:      cfg.Retry.Jitter,
	}
}

// NewLimiter throttles uploads; nil when unlimited.
func NewLimiter(cfg *config.Config) *rate.Limiter {
	if cfg.Sync.UploadsPerSecond <= 0 {
		return nil
	}
	burst := cfg.Sync.UploadBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.Sync.UploadsPerSecond), burst)
}

func probeTarget(cfg *config.Config, client *remote.Client) netmon.Pinger {
	if cfg.Network.ProbeURL != "" {
		return urlPinger{client: remote.New(cfg.Network.ProbeURL, cfg.Network.ProbeTimeout)}
	}
	if cfg.Remote.BaseURL != "" {
		return client
	}
	return nil
}

// urlPinger checks an arbitrary health URL instead of the backend's /health.
type urlPinger struct {
	client *remote.Client
}

func (p urlPinger) Ping(ctx context.Context) error {
	return p.client.Get(ctx, "ping", "")
}

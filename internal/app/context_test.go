package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"fieldline/internal/config"
	"fieldline/internal/domain"
	"fieldline/internal/logging"
	"fieldline/internal/retry"
)

func TestOpenRestoresSessionAcrossRuntimes(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	cfg := config.Default()

	rt, err := Open(ctx, dir, cfg, "tester", logging.Discard())
	require.NoError(t, err)
	require.Nil(t, rt.Prober)
	_, err = rt.Engine.StartSession(ctx, "tester", "prop-7")
	require.NoError(t, err)
	sessionID := rt.Engine.Workflow.State().SessionID
	require.NoError(t, rt.Close())

	rt, err = Open(ctx, dir, cfg, "tester", logging.Discard())
	require.NoError(t, err)
	defer rt.Close()
	st := rt.Engine.Workflow.State()
	require.Equal(t, sessionID, st.SessionID)
	require.Equal(t, "prop-7", st.SelectedPropertyRef)
	require.Equal(t, domain.StepPropertySelection, st.CurrentStep)
}

func TestProberFollowsConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Remote.BaseURL = "http://127.0.0.1:1"
	rt, err := Open(context.Background(), t.TempDir(), cfg, "", logging.Discard())
	require.NoError(t, err)
	defer rt.Close()
	require.NotNil(t, rt.Prober)
	require.Equal(t, cfg.Network.ProbeInterval, rt.Prober.Interval)
}

func TestNoneDriverFailsTerminally(t *testing.T) {
	store, err := NewBlobStore(context.Background(), config.Default())
	require.NoError(t, err)
	_, err = store.UploadMedia(context.Background(), "i1", domain.MediaItem{ID: "m1"}, nil)
	require.Error(t, err)
	require.Equal(t, retry.Terminal, retry.Classify(err))
}

func TestBlobDriverSelection(t *testing.T) {
	cfg := config.Default()
	cfg.Blob.Driver = "minio"
	cfg.Blob.Bucket = "media"
	_, err := NewBlobStore(context.Background(), cfg)
	require.Error(t, err, "minio without endpoint")

	cfg.Blob.Endpoint = "localhost:9000"
	store, err := NewBlobStore(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, store.Driver)
}

func TestRetryPolicyAndLimiter(t *testing.T) {
	cfg := config.Default()
	p := RetryPolicy(cfg)
	require.Equal(t, 3, p.MaxAttempts)
	require.Equal(t, 500*time.Millisecond, p.BaseDelay)

	lim := NewLimiter(cfg)
	require.NotNil(t, lim)
	require.Equal(t, rate.Limit(2), lim.Limit())
	require.Equal(t, 1, lim.Burst())

	cfg.Sync.UploadsPerSecond = 0
	require.Nil(t, NewLimiter(cfg))
}

func TestProbeURLOverridesBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Network.ProbeURL = "http://127.0.0.1:1/healthz"
	target := probeTarget(cfg, NewRemote(cfg))
	_, ok := target.(urlPinger)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := target.Ping(ctx)
	require.Error(t, err)
	require.False(t, errors.Is(err, context.Canceled))
}

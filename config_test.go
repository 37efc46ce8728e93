package xordrive_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edgedlt/xordrive"
	"github.com/edgedlt/xordrive/clock"
	"github.com/edgedlt/xordrive/internal/testutil"
)

func baseConfigOpts() []xordrive.ConfigOption {
	return []xordrive.ConfigOption{
		xordrive.WithSelf(testutil.Peer("self")),
		xordrive.WithNetwork(testutil.NewFakeNetwork()),
		xordrive.WithStorePath("/tmp/store"),
		xordrive.WithDagPath("/tmp/dag"),
	}
}

func TestNewConfig_WithAllOptions(t *testing.T) {
	mock := clock.NewMock(time.Unix(0, 0))
	cfg, err := xordrive.NewConfig(
		xordrive.WithSelf(testutil.Peer("self")),
		xordrive.WithKeyPair(testutil.KeyPair()),
		xordrive.WithNetwork(testutil.NewFakeNetwork()),
		xordrive.WithLogger(zap.NewNop()),
		xordrive.WithClock(mock),
		xordrive.WithStorePath("/tmp/store"),
		xordrive.WithDagPath("/tmp/dag"),
		xordrive.WithRecordCacheCapacity(512),
		xordrive.WithMaxParallelFetch(40),
		xordrive.WithPendingTimeout(10*time.Minute),
		xordrive.WithFetchTimeout(15*time.Second),
		xordrive.WithDefaultQuorum(xordrive.QuorumAll()),
		xordrive.WithEventChannelCapacity(128),
	)

	require.NoError(t, err)
	assert.Equal(t, testutil.Peer("self"), cfg.Self)
	assert.Equal(t, "/tmp/store", cfg.StorePath)
	assert.Equal(t, "/tmp/dag", cfg.DagPath)
	assert.Equal(t, 512, cfg.RecordCacheCapacity)
	assert.Equal(t, 40, cfg.MaxParallelFetch)
	assert.Equal(t, 10*time.Minute, cfg.PendingTimeout)
	assert.Equal(t, 15*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 128, cfg.EventChannelCapacity)
	assert.Same(t, mock, cfg.Clock)
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := xordrive.NewConfig(baseConfigOpts()...)

	require.NoError(t, err)
	fetcher := xordrive.DefaultFetcherConfig()
	assert.Equal(t, xordrive.DefaultRecordCacheCapacity, cfg.RecordCacheCapacity)
	assert.Equal(t, fetcher.MaxParallelFetch, cfg.MaxParallelFetch)
	assert.Equal(t, fetcher.PendingTimeout, cfg.PendingTimeout)
	assert.Equal(t, fetcher.FetchTimeout, cfg.FetchTimeout)
	assert.Equal(t, xordrive.DefaultEventChannelCapacity, cfg.EventChannelCapacity)
	assert.NotNil(t, cfg.Logger)
	assert.NotNil(t, cfg.Clock)
}

func TestNewConfig_MissingSelf(t *testing.T) {
	_, err := xordrive.NewConfig(
		xordrive.WithNetwork(testutil.NewFakeNetwork()),
		xordrive.WithStorePath("/tmp/store"),
	)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "self peer id is required")
}

func TestNewConfig_MissingNetwork(t *testing.T) {
	_, err := xordrive.NewConfig(
		xordrive.WithSelf(testutil.Peer("self")),
		xordrive.WithStorePath("/tmp/store"),
	)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "network is required")
}

func TestNewConfig_MissingStorePath(t *testing.T) {
	_, err := xordrive.NewConfig(
		xordrive.WithSelf(testutil.Peer("self")),
		xordrive.WithNetwork(testutil.NewFakeNetwork()),
	)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "store path is required")
}

func TestNewConfig_NilNetwork(t *testing.T) {
	_, err := xordrive.NewConfig(xordrive.WithNetwork(nil))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "network cannot be nil")
}

func TestNewConfig_NilLogger(t *testing.T) {
	_, err := xordrive.NewConfig(xordrive.WithLogger(nil))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "logger cannot be nil")
}

func TestNewConfig_NilClock(t *testing.T) {
	_, err := xordrive.NewConfig(xordrive.WithClock(nil))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "clock cannot be nil")
}

func TestNewConfig_NilKeyPair(t *testing.T) {
	_, err := xordrive.NewConfig(xordrive.WithKeyPair(nil))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "key pair cannot be nil")
}

func TestNewConfig_EmptySelf(t *testing.T) {
	_, err := xordrive.NewConfig(xordrive.WithSelf(""))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "self peer id cannot be empty")
}

func TestNewConfig_InvalidMaxParallelFetch(t *testing.T) {
	opts := append(baseConfigOpts(), xordrive.WithMaxParallelFetch(0))
	_, err := xordrive.NewConfig(opts...)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "max parallel fetch")
}

func TestNewConfig_InvalidPendingTimeout(t *testing.T) {
	opts := append(baseConfigOpts(), xordrive.WithPendingTimeout(0))
	_, err := xordrive.NewConfig(opts...)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "pending timeout")
}

func TestNewConfig_InvalidCacheCapacity(t *testing.T) {
	opts := append(baseConfigOpts(), xordrive.WithRecordCacheCapacity(0))
	_, err := xordrive.NewConfig(opts...)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "record cache capacity")
}

func TestConfig_Warnings(t *testing.T) {
	t.Run("no warnings for good config", func(t *testing.T) {
		cfg, err := xordrive.NewConfig(baseConfigOpts()...)
		require.NoError(t, err)
		assert.Empty(t, cfg.Warnings())
	})

	t.Run("high max parallel fetch warning", func(t *testing.T) {
		opts := append(baseConfigOpts(), xordrive.WithMaxParallelFetch(500))
		cfg, err := xordrive.NewConfig(opts...)
		require.NoError(t, err)
		assert.True(t, hasWarning(cfg.Warnings(), "MaxParallelFetch"))
	})

	t.Run("short fetch timeout warning", func(t *testing.T) {
		opts := append(baseConfigOpts(), xordrive.WithFetchTimeout(time.Second))
		cfg, err := xordrive.NewConfig(opts...)
		require.NoError(t, err)
		assert.True(t, hasWarning(cfg.Warnings(), "FetchTimeout"))
	})

	t.Run("fetch timeout >= pending timeout warning", func(t *testing.T) {
		opts := append(baseConfigOpts(),
			xordrive.WithFetchTimeout(time.Minute),
			xordrive.WithPendingTimeout(30*time.Second),
		)
		cfg, err := xordrive.NewConfig(opts...)
		require.NoError(t, err)
		assert.True(t, hasWarning(cfg.Warnings(), "FetchTimeout/PendingTimeout"))
	})

	t.Run("small cache warning", func(t *testing.T) {
		opts := append(baseConfigOpts(), xordrive.WithRecordCacheCapacity(8))
		cfg, err := xordrive.NewConfig(opts...)
		require.NoError(t, err)
		assert.True(t, hasWarning(cfg.Warnings(), "RecordCacheCapacity"))
	})

	t.Run("no dag path warning", func(t *testing.T) {
		cfg, err := xordrive.NewConfig(
			xordrive.WithSelf(testutil.Peer("self")),
			xordrive.WithNetwork(testutil.NewFakeNetwork()),
			xordrive.WithStorePath("/tmp/store"),
		)
		require.NoError(t, err)
		assert.True(t, hasWarning(cfg.Warnings(), "DagPath"))
	})
}

func hasWarning(warnings []xordrive.ConfigWarning, field string) bool {
	for _, w := range warnings {
		if w.Field == field {
			return true
		}
	}
	return false
}

func TestConfigWarning_String(t *testing.T) {
	w := xordrive.ConfigWarning{
		Field:      "TestField",
		Message:    "test message",
		Suggestion: "test suggestion",
	}
	s := w.String()
	assert.Contains(t, s, "TestField")
	assert.Contains(t, s, "test message")
	assert.Contains(t, s, "test suggestion")
}

func TestConfig_LogWarnings(t *testing.T) {
	// Just ensure it doesn't panic with a real logger
	cfg, err := xordrive.NewConfig(
		xordrive.WithSelf(testutil.Peer("self")),
		xordrive.WithNetwork(testutil.NewFakeNetwork()),
		xordrive.WithStorePath("/tmp/store"),
		xordrive.WithLogger(zap.NewNop()),
	)
	require.NoError(t, err)

	cfg.LogWarnings()
}

func TestLoadConfigOptions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	content := []byte(
		"store_path: /data/records\n" +
			"dag_path: /data/spends.dag\n" +
			"record_cache_capacity: 2048\n" +
			"max_parallel_fetch: 10\n" +
			"pending_timeout: 5m\n" +
			"fetch_timeout: 30s\n" +
			"event_channel_capacity: 32\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	fileOpts, err := xordrive.LoadConfigOptions(path)
	require.NoError(t, err)

	opts := append(fileOpts,
		xordrive.WithSelf(testutil.Peer("self")),
		xordrive.WithNetwork(testutil.NewFakeNetwork()),
	)
	cfg, err := xordrive.NewConfig(opts...)
	require.NoError(t, err)

	assert.Equal(t, "/data/records", cfg.StorePath)
	assert.Equal(t, "/data/spends.dag", cfg.DagPath)
	assert.Equal(t, 2048, cfg.RecordCacheCapacity)
	assert.Equal(t, 10, cfg.MaxParallelFetch)
	assert.Equal(t, 5*time.Minute, cfg.PendingTimeout)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 32, cfg.EventChannelCapacity)
}

func TestLoadConfigOptions_MissingFile(t *testing.T) {
	_, err := xordrive.LoadConfigOptions(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadConfigOptions_CodeOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_parallel_fetch: 10\n"), 0o600))

	fileOpts, err := xordrive.LoadConfigOptions(path)
	require.NoError(t, err)

	opts := append(fileOpts,
		xordrive.WithSelf(testutil.Peer("self")),
		xordrive.WithNetwork(testutil.NewFakeNetwork()),
		xordrive.WithStorePath("/tmp/store"),
		xordrive.WithMaxParallelFetch(25),
	)
	cfg, err := xordrive.NewConfig(opts...)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.MaxParallelFetch)
}

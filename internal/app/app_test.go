package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jwebster45206/pbem-engine/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, redisURL string) *config.Config {
	t.Helper()
	t.Setenv("DATABASE_PATH", filepath.Join(t.TempDir(), "pbem.db"))
	t.Setenv("LLM_PROVIDER", "mock")
	t.Setenv("REDIS_URL", redisURL)
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestBuild_WithoutRedis(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := Build(context.Background(), testConfig(t, ""), log)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	assert.Nil(t, a.Redis)
	assert.Nil(t, a.RedisClient())
	assert.Equal(t, "mock", a.LLM.Name())
	require.NoError(t, a.Store.Ping(context.Background()))

	res, err := a.Processor.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Processed)
	assert.Nil(t, res.MessageID)
}

func TestBuild_WithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := Build(context.Background(), testConfig(t, mr.Addr()), log)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	require.NotNil(t, a.RedisClient())
	require.NoError(t, a.RedisClient().Ping(context.Background()).Err())

	_, err = a.Processor.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, mr.Exists("pbem:pipeline-lock"))
}

func TestBuild_BadInitiative(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Initiative = "coin_flip"

	_, err := Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}

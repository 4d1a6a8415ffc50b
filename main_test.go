package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/dermascan/internal/config"
	"github.com/example/dermascan/internal/grpcclient"
	"github.com/example/dermascan/internal/model"
	"github.com/example/dermascan/internal/repository"
)

func TestNewModelLoaderSelectsBackend(t *testing.T) {
	logger := zap.NewNop()

	tflite := newModelLoader(config.ModelConfig{Backend: config.BackendTFLite, Path: "m.tflite", Threads: 1}, logger)
	assert.IsType(t, &model.TFLiteLoader{}, tflite)
	assert.Equal(t, "m.tflite", tflite.Location())

	remote := newModelLoader(config.ModelConfig{Backend: config.BackendGRPC, GRPCAddr: "inference:50051"}, logger)
	assert.IsType(t, &grpcclient.Loader{}, remote)
	assert.Equal(t, "grpc://inference:50051", remote.Location())
}

func TestInitCache(t *testing.T) {
	cache, closeCache, err := initCache(context.Background(), config.RedisConfig{Enabled: false, Addr: "127.0.0.1:1"}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, cache)
	closeCache()

	mr := miniredis.RunT(t)
	cache, closeCache, err = initCache(context.Background(), config.RedisConfig{Enabled: true, Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	defer closeCache()
	require.NoError(t, cache.Set(context.Background(), "k", "v", time.Minute))
	assert.True(t, mr.Exists("k"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _, err = initCache(ctx, config.RedisConfig{Enabled: true, Addr: "127.0.0.1:1"}, zap.NewNop())
	assert.Error(t, err)
}

func TestSweepCommandReapsStaleProvisional(t *testing.T) {
	dir := t.TempDir()
	dsn := "file:" + filepath.Join(dir, "dermascan.db")
	mediaRoot := filepath.Join(dir, "media")

	t.Setenv("DERMASCAN_AUTH_JWT_SECRET", "test-secret")
	t.Setenv("DERMASCAN_DATABASE_DRIVER", config.DriverSQLite)
	t.Setenv("DERMASCAN_DATABASE_DSN", dsn)
	t.Setenv("DERMASCAN_MEDIA_ROOT", mediaRoot)
	t.Setenv("DERMASCAN_LOG_LEVEL", "error")

	db, err := initDatabase(context.Background(), config.DatabaseConfig{Driver: config.DriverSQLite, DSN: dsn}, zap.NewNop())
	require.NoError(t, err)
	repo := repository.NewPredictionRepository(db, zap.NewNop())
	require.NoError(t, repo.AutoMigrate(context.Background()))
	require.NoError(t, repo.CreateProvisional(context.Background(), &repository.Prediction{
		ID:        "11111111-1111-1111-1111-111111111111",
		UserID:    "user-1",
		ImagePath: "predictions/orphan.png",
		Label:     "unknown",
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	}))
	require.NoError(t, os.MkdirAll(filepath.Join(mediaRoot, "predictions"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(mediaRoot, "predictions", "orphan.png"), []byte("png"), 0o600))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	cmd := newRootCommand()
	cmd.SetArgs([]string{"sweep"})
	require.NoError(t, cmd.Execute())

	_, err = os.Stat(filepath.Join(mediaRoot, "predictions", "orphan.png"))
	assert.True(t, os.IsNotExist(err))

	db, err = initDatabase(context.Background(), config.DatabaseConfig{Driver: config.DriverSQLite, DSN: dsn}, zap.NewNop())
	require.NoError(t, err)
	var count int64
	require.NoError(t, db.Model(&repository.Prediction{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRootCommandRejectsInvalidConfig(t *testing.T) {
	t.Setenv("DERMASCAN_AUTH_JWT_SECRET", "")
	t.Setenv("DERMASCAN_MODEL_BACKEND", "onnx")

	cmd := newRootCommand()
	cmd.SetArgs([]string{"sweep"})
	cmd.SetErr(io.Discard)
	assert.Error(t, cmd.Execute())
}

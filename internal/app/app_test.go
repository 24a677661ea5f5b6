package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webgrove/fetchd/internal/app"
	"github.com/webgrove/fetchd/internal/config"
	"github.com/webgrove/fetchd/internal/fetchd"
)

func TestNewAppWithMemoryProviders(t *testing.T) {
	cfg := config.Config{
		Queue:   config.QueueConfig{Provider: "memory"},
		Storage: config.StorageConfig{Provider: "memory"},
	}

	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close(context.Background())

	require.NotNil(t, a.GetQueue())
	require.NotNil(t, a.GetResultStore())
	require.NotNil(t, a.GetTargetIndex())
	require.NotNil(t, a.GetBlobStore())
	require.NotNil(t, a.GetHub())
	require.NotNil(t, a.GetIDGenerator())
	require.NotNil(t, a.GetClock())

	jobID, err := a.GetQueue().Enqueue(context.Background(), fetchd.Job{Target: "https://example.com"})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)
}

func TestNewAppRejectsUnknownProviders(t *testing.T) {
	_, err := app.New(context.Background(), config.Config{
		Queue: config.QueueConfig{Provider: "redis"},
	}, zap.NewNop())
	require.ErrorContains(t, err, "unknown queue provider")

	_, err = app.New(context.Background(), config.Config{
		Queue:   config.QueueConfig{Provider: "memory"},
		Storage: config.StorageConfig{Provider: "s3"},
	}, zap.NewNop())
	require.ErrorContains(t, err, "unknown storage provider")
}

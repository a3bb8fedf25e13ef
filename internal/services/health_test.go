package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"virtgate/internal/shared/testutil"
)

type staticStats map[string]any

func (s staticStats) Stats() map[string]any { return s }

func TestHealthService_Readiness(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)

	tests := []struct {
		name       string
		dataDir    string
		wantStatus string
	}{
		{name: "ready", dataDir: t.TempDir(), wantStatus: "ready"},
		{name: "missing data dir", dataDir: filepath.Join(t.TempDir(), "missing"), wantStatus: "not_ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := NewHealthService(BuildInfo{Version: "1.2.3"}, tt.dataDir,
				map[string]StatsSource{"task_queue": staticStats{"workers": 2}}, logger)

			status := hs.ReadinessCheck(context.Background())
			assert.Equal(t, tt.wantStatus, status.Status)
			assert.Equal(t, "1.2.3", status.Version)
			require.Contains(t, status.Services, "task_queue")
			assert.Equal(t, 2, status.Services["task_queue"].Stats["workers"])
			require.Contains(t, status.Services, "data")
		})
	}
	assert.True(t, handler.ContainsMessage("service not ready"))
}

func TestHealthService_Liveness(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	hs := NewHealthService(BuildInfo{Version: "dev"}, t.TempDir(), nil, logger)

	assert.Equal(t, "ok", hs.HealthCheck(context.Background()).Status)

	live := hs.LivenessCheck(context.Background())
	assert.Equal(t, "alive", live.Status)
	assert.Contains(t, live.Runtime, "goroutines")
}

func TestHealthService_Version(t *testing.T) {
	hs := NewHealthService(BuildInfo{Version: "1.0.0", Commit: "abc123"}, t.TempDir(), nil, nil)

	v := hs.Version()
	assert.Equal(t, "1.0.0", v["version"])
	assert.Equal(t, "abc123", v["commit"])
	assert.NotContains(t, v, "build_time")
}

package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sua-org/edge-agent/internal/core"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORAGE_PATH", "/tmp/evidence-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "edge-001", cfg.DeviceID)
	assert.Equal(t, 0.85, cfg.ConfidenceThreshold)
	assert.Equal(t, core.SeverityHigh, cfg.AlertThreshold)
	assert.Equal(t, 60*time.Second, cfg.AlertCooldown)
	assert.Equal(t, 30*time.Second, cfg.SyncInterval)
	assert.Equal(t, 10, cfg.SyncBatchSize)
	assert.Equal(t, filepath.Join("/tmp/evidence-test", "outbox.db"), cfg.SyncQueuePath)
	assert.Equal(t, "simulated", cfg.InferenceBackend)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ALERT_THRESHOLD", "Critical")
	t.Setenv("ALERT_COOLDOWN", "15")
	t.Setenv("SYNC_QUEUE_PATH", "")
	t.Setenv("FACE_BLUR_ENABLED", "false")
	t.Setenv("EDGE_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, core.SeverityCritical, cfg.AlertThreshold)
	assert.Equal(t, 15*time.Second, cfg.AlertCooldown)
	assert.Equal(t, "", cfg.SyncQueuePath)
	assert.False(t, cfg.FaceBlurEnabled)
	assert.Equal(t, 8080, cfg.Port)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]map[string]string{
		"threshold":  {"ALERT_THRESHOLD": "urgent"},
		"confidence": {"CONFIDENCE_THRESHOLD": "1.5"},
		"retention":  {"RETENTION_DAYS": "0"},
		"backend":    {"INFERENCE_BACKEND": "onnx"},
		"http url":   {"INFERENCE_BACKEND": "http"},
		"upload":     {"EVIDENCE_UPLOAD_BACKEND": "ftp"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

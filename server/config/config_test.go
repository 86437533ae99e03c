package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/dbh"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, []string{"mp4", "avi", "mov", "mkv"}, cfg.AllowedExtensions)
	require.EqualValues(t, 512*1024*1024, cfg.MaxUploadBytes())
	require.Equal(t, "models", cfg.ModelCache())
}

func TestLoadConfig(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "vidannotate.json")
	raw := `{
		"listen": ":9000",
		"modelPath": "/models/yolov8s.onnx",
		"allowedExtensions": [".MP4", "mkv"],
		"db": {"driver": "sqlite3", "database": "/var/lib/vidannotate/jobs.sqlite"},
		"detectionParams": {"probabilityThreshold": 0.4}
	}`
	require.NoError(t, os.WriteFile(fn, []byte(raw), 0644))
	t.Setenv("VIDANNOTATE_MAX_UPLOAD_MB", "64")

	cfg, err := LoadConfig(fn)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Listen)
	require.Equal(t, "/models/yolov8s.onnx", cfg.ModelPath)
	require.Equal(t, "uploads", cfg.UploadDir)
	require.Equal(t, 64, cfg.MaxUploadMB)
	require.Equal(t, "/var/lib/vidannotate/jobs.sqlite", cfg.DB.Database)
	require.NotNil(t, cfg.OutputStorage.Filesystem)
	require.Equal(t, "outputs", cfg.OutputStorage.Filesystem.Root)
	require.InDelta(t, 0.4, cfg.DetectionParams.ProbabilityThreshold, 1e-6)

	require.NoError(t, cfg.Validate())
	require.Equal(t, []string{"mp4", "mkv"}, cfg.AllowedExtensions)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"VIDANNOTATE_MODEL_PATH":         "wss://gpu.example.com/api/detector/ws",
		"VIDANNOTATE_ALLOWED_EXTENSIONS": "mp4, mov ,",
		"VIDANNOTATE_DISABLE_CUDA":       "true",
		"VIDANNOTATE_DB":                 "/tmp/jobs.sqlite",
		"VIDANNOTATE_GCS_BUCKET":         "annotated-videos",
	}
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(func(k string) string { return env[k] }))
	require.Equal(t, "wss://gpu.example.com/api/detector/ws", cfg.ModelPath)
	require.Equal(t, []string{"mp4", "mov"}, cfg.AllowedExtensions)
	require.True(t, cfg.DisableCUDA)
	require.Equal(t, dbh.MakeSqliteConfig("/tmp/jobs.sqlite"), cfg.DB)
	require.Equal(t, "annotated-videos", cfg.OutputStorage.GCS.Bucket)

	env["VIDANNOTATE_RATE_LIMIT_PER_MINUTE"] = "lots"
	require.Error(t, Default().ApplyEnv(func(k string) string { return env[k] }))
}

func TestValidate(t *testing.T) {
	bad := []func(c *Config){
		func(c *Config) { c.Listen = "" },
		func(c *Config) { c.UploadDir = "" },
		func(c *Config) { c.ModelPath = "" },
		func(c *Config) { c.AllowedExtensions = nil },
		func(c *Config) { c.AllowedExtensions = []string{"mp4", "tar.gz"} },
		func(c *Config) { c.AllowedExtensions = []string{"mp4", "gif"} },
		func(c *Config) { c.MaxUploadMB = 0 },
		func(c *Config) { c.RateLimitPerMinute = -1 },
		func(c *Config) {
			c.OutputStorage = StorageConfig{Filesystem: &StorageConfigFS{Root: "a"}, GCS: &StorageConfigGCS{Bucket: "b"}}
		},
		func(c *Config) { c.OutputStorage = StorageConfig{GCS: &StorageConfigGCS{}} },
		func(c *Config) { c.DB = dbh.DBConfig{} },
	}
	for i, mutate := range bad {
		cfg := Default()
		mutate(cfg)
		require.Error(t, cfg.Validate(), "case %v", i)
	}

	cfg := Default()
	cfg.AllowedExtensions = []string{" .MKV", "m4v"}
	require.NoError(t, cfg.Validate())
	require.Equal(t, []string{"mkv", "m4v"}, cfg.AllowedExtensions)
}

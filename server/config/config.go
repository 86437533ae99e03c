package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/vidannotate/pkg/nn"
	"github.com/cyclopcam/vidannotate/pkg/videox"
	"github.com/joho/godotenv"
)

// Prefix of the environment variables that override the config file
const EnvPrefix = "VIDANNOTATE_"

// One of the storage options must be configured (i.e. either 'filesystem' or 'gcs')
type StorageConfig struct {
	Filesystem *StorageConfigFS  `json:"filesystem"`
	GCS        *StorageConfigGCS `json:"gcs"`
}

type StorageConfigFS struct {
	Root string `json:"root"` // Path to the root of the filesystem
}

type StorageConfigGCS struct {
	Bucket string `json:"bucket"` // Name of the GCS bucket
	Prefix string `json:"prefix"` // Prepended to every object name, eg "outputs/"
	Public bool   `json:"public"` // Whether the bucket is public. This allows us to redirect downloads straight to GCS
}

type Config struct {
	Listen             string              `json:"listen"`             // HTTP listen address, eg ":8080"
	UploadDir          string              `json:"uploadDir"`          // Where uploads are kept while they are being processed
	OutputDir          string              `json:"outputDir"`          // Default filesystem output store, and scratch space for GCS uploads
	ModelPath          string              `json:"modelPath"`          // .onnx file, http(s) URL, or ws(s) URL of a remote detector
	ModelCacheDir      string              `json:"modelCacheDir"`      // Where downloaded models are kept
	AllowedExtensions  []string            `json:"allowedExtensions"`  // Lowercase, without the dot
	MaxUploadMB        int                 `json:"maxUploadMB"`        // Upload size limit
	RateLimitPerMinute int                 `json:"rateLimitPerMinute"` // Per-IP limit on upload requests
	DisableCUDA        bool                `json:"disableCUDA"`        // Always run the model on the CPU
	ServeDetector      bool                `json:"serveDetector"`      // Expose our model to remote clients at /api/detector/ws
	DB                 dbh.DBConfig        `json:"db"`                 // Job history
	OutputStorage      StorageConfig       `json:"outputStorage"`      // Where annotated videos go
	DetectionParams    *nn.DetectionParams `json:"detectionParams"`    // nil for defaults
}

// Default returns the configuration that we use when there is no config file
func Default() *Config {
	return &Config{
		Listen:             ":8080",
		UploadDir:          "uploads",
		OutputDir:          "outputs",
		ModelPath:          "yolov8n.onnx",
		AllowedExtensions:  []string{"mp4", "avi", "mov", "mkv"},
		MaxUploadMB:        512,
		RateLimitPerMinute: 20,
		DB:                 dbh.MakeSqliteConfig("vidannotate.sqlite"),
	}
}

// LoadConfig reads the JSON config file (if filename is not empty), loads a .env file
// from the working directory (if there is one), and applies VIDANNOTATE_* environment overrides.
// Fields missing from the JSON file keep their defaults.
func LoadConfig(filename string) (*Config, error) {
	cfg := Default()
	if filename != "" {
		raw, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("Error loading %v: %w", filename, err)
		}
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("Error loading as JSON %v: %w", filename, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("Error loading .env: %w", err)
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if cfg.OutputStorage.Filesystem == nil && cfg.OutputStorage.GCS == nil {
		cfg.OutputStorage.Filesystem = &StorageConfigFS{Root: cfg.OutputDir}
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables, eg VIDANNOTATE_MODEL_PATH
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	integer := func(name string, dst *int) error {
		if v := getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("Invalid %v%v '%v': %w", EnvPrefix, name, v, err)
			}
			*dst = n
		}
		return nil
	}
	boolean := func(name string, dst *bool) error {
		if v := getenv(EnvPrefix + name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("Invalid %v%v '%v': %w", EnvPrefix, name, v, err)
			}
			*dst = b
		}
		return nil
	}

	str("LISTEN", &c.Listen)
	str("UPLOAD_DIR", &c.UploadDir)
	str("OUTPUT_DIR", &c.OutputDir)
	str("MODEL_PATH", &c.ModelPath)
	str("MODEL_CACHE_DIR", &c.ModelCacheDir)
	if v := getenv(EnvPrefix + "ALLOWED_EXTENSIONS"); v != "" {
		c.AllowedExtensions = nil
		for _, ext := range strings.Split(v, ",") {
			if ext = strings.TrimSpace(ext); ext != "" {
				c.AllowedExtensions = append(c.AllowedExtensions, ext)
			}
		}
	}
	if err := integer("MAX_UPLOAD_MB", &c.MaxUploadMB); err != nil {
		return err
	}
	if err := integer("RATE_LIMIT_PER_MINUTE", &c.RateLimitPerMinute); err != nil {
		return err
	}
	if err := boolean("DISABLE_CUDA", &c.DisableCUDA); err != nil {
		return err
	}
	if err := boolean("SERVE_DETECTOR", &c.ServeDetector); err != nil {
		return err
	}
	if v := getenv(EnvPrefix + "DB"); v != "" {
		c.DB = dbh.MakeSqliteConfig(v)
	}
	if v := getenv(EnvPrefix + "GCS_BUCKET"); v != "" {
		c.OutputStorage = StorageConfig{GCS: &StorageConfigGCS{Bucket: v, Prefix: getenv(EnvPrefix + "GCS_PREFIX")}}
	}
	return nil
}

// Validate rejects configurations that the server can't run with.
// It also normalizes AllowedExtensions to lowercase without a leading dot.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address may not be empty")
	}
	if c.UploadDir == "" || c.OutputDir == "" {
		return errors.New("uploadDir and outputDir may not be empty")
	}
	if c.ModelPath == "" {
		return errors.New("modelPath may not be empty")
	}
	if len(c.AllowedExtensions) == 0 {
		return errors.New("allowedExtensions may not be empty")
	}
	for i, ext := range c.AllowedExtensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext == "" || strings.ContainsAny(ext, `./\`) {
			return fmt.Errorf("Invalid allowed extension '%v'", c.AllowedExtensions[i])
		}
		// Outputs keep the upload's extension, so we must be able to write it
		if !videox.IsSupportedContainer("." + ext) {
			return fmt.Errorf("Allowed extension '%v' is not a container we can write", c.AllowedExtensions[i])
		}
		c.AllowedExtensions[i] = ext
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("maxUploadMB must be positive (%v)", c.MaxUploadMB)
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("rateLimitPerMinute must be positive (%v)", c.RateLimitPerMinute)
	}
	if c.OutputStorage.Filesystem != nil && c.OutputStorage.GCS != nil {
		return errors.New("Only one of outputStorage.filesystem and outputStorage.gcs may be configured")
	}
	if c.OutputStorage.Filesystem != nil && c.OutputStorage.Filesystem.Root == "" {
		return errors.New("outputStorage.filesystem.root may not be empty")
	}
	if c.OutputStorage.GCS != nil && c.OutputStorage.GCS.Bucket == "" {
		return errors.New("outputStorage.gcs.bucket may not be empty")
	}
	if c.DB.Driver == "" {
		return errors.New("db.driver may not be empty")
	}
	return nil
}

// MaxUploadBytes is MaxUploadMB in bytes
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// ModelCache returns the model download directory, defaulting to a directory next to the outputs
func (c *Config) ModelCache() string {
	if c.ModelCacheDir != "" {
		return c.ModelCacheDir
	}
	return filepath.Join(filepath.Dir(filepath.Clean(c.OutputDir)), "models")
}

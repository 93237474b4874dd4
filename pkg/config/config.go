// Package config holds runner configuration read from PLANEXEC_* environment
// variables. Binaries use the loaded values as their flag defaults.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	defaultPlannedArenaBytes = 64 << 20
	defaultScratchArenaBytes = 1 << 20
	defaultListenAddr        = ":8080"
	defaultCacheDir          = "~/.cache/planexec/blobs"

	envPlannedArenaBytes = "PLANEXEC_PLANNED_ARENA_BYTES"
	envScratchArenaBytes = "PLANEXEC_SCRATCH_ARENA_BYTES"
	envListenAddr        = "PLANEXEC_LISTEN_ADDR"
	envMetricsAddr       = "PLANEXEC_METRICS_ADDR"
	envProfileDB         = "PLANEXEC_PROFILE_DB"
	envBlobserverURL     = "PLANEXEC_BLOBSERVER_URL"
	envCacheDir          = "PLANEXEC_CACHE_DIR"
	envCacheBucket       = "PLANEXEC_CACHE_BUCKET"
	envLogLevel          = "PLANEXEC_LOG_LEVEL"
)

// Config holds runner configuration loaded from environment variables.
type Config struct {
	// PlannedArenaBytes and ScratchArenaBytes size each method instance's arenas.
	PlannedArenaBytes int
	ScratchArenaBytes int

	// ListenAddr is where plan-store serves blobs.
	ListenAddr string
	// MetricsAddr, if set, serves Prometheus metrics at /metrics.
	MetricsAddr string
	// ProfileDB, if set, is a SQLite file that receives every telemetry event.
	ProfileDB string

	// BlobserverURL is the plan-store base URL plans are fetched from by hash.
	BlobserverURL string
	CacheDir      string
	// CacheBucket is a gs://<bucket>[/prefix] URL backing plan-store.
	CacheBucket string

	// LogLevel applies to the structured event log.
	LogLevel zapcore.Level
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		PlannedArenaBytes: defaultPlannedArenaBytes,
		ScratchArenaBytes: defaultScratchArenaBytes,
		ListenAddr:        defaultListenAddr,
		CacheDir:          defaultCacheDir,
		LogLevel:          zapcore.InfoLevel,
	}

	var err error
	if cfg.PlannedArenaBytes, err = sizeFromEnv(envPlannedArenaBytes, cfg.PlannedArenaBytes); err != nil {
		return Config{}, err
	}
	if cfg.ScratchArenaBytes, err = sizeFromEnv(envScratchArenaBytes, cfg.ScratchArenaBytes); err != nil {
		return Config{}, err
	}
	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	cfg.MetricsAddr = os.Getenv(envMetricsAddr)
	cfg.ProfileDB = os.Getenv(envProfileDB)
	cfg.BlobserverURL = os.Getenv(envBlobserverURL)
	if v := os.Getenv(envCacheDir); v != "" {
		cfg.CacheDir = v
	}
	cfg.CacheBucket = os.Getenv(envCacheBucket)
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}

	return cfg, nil
}

// sizeFromEnv parses a byte count, accepting k, m and g suffixes (powers of 1024).
func sizeFromEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := ParseSize(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// ParseSize parses "4096", "64k", "16M" or "1g".
func ParseSize(s string) (int, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	shift := 0
	switch {
	case strings.HasSuffix(s, "k"):
		shift = 10
	case strings.HasSuffix(s, "m"):
		shift = 20
	case strings.HasSuffix(s, "g"):
		shift = 30
	}
	if shift > 0 {
		s = s[:len(s)-1]
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n << shift, nil
}

func parseLogLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level zapcore.Level) *zap.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(w), level)
	return zap.New(core)
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, strings.TrimPrefix(path, "~/")), nil
}

// ParseBucketURL splits gs://bucket/prefix into its bucket and object prefix.
// A non-empty prefix always ends in "/".
func ParseBucketURL(s string) (bucket, prefix string, err error) {
	if !strings.HasPrefix(s, "gs://") {
		return "", "", fmt.Errorf("bucket URL %q must be a GCS bucket URL (gs://<bucketName>)", s)
	}
	rest := strings.TrimPrefix(s, "gs://")
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("bucket URL %q has no bucket name", s)
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return bucket, prefix, nil
}

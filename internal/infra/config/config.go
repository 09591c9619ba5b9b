package config

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr               string `yaml:"addr"`
	PublicBaseURL      string `yaml:"public_base_url"`
	ShutdownTimeoutSec int    `yaml:"shutdown_timeout_sec"`
	ScratchDir         string `yaml:"scratch_dir"`
	ArtifactsDir       string `yaml:"artifacts_dir"`
	AdminToken         string `yaml:"admin_token"`

	Jobs     Jobs     `yaml:"jobs"`
	Limits   Limits   `yaml:"limits"`
	Backends Backends `yaml:"backends"`

	Redis Redis `yaml:"redis"`
	MinIO MinIO `yaml:"minio"`
	NATS  NATS  `yaml:"nats"`
	Tools Tools `yaml:"tools"`
}

type Jobs struct {
	QueueCapacity      int     `yaml:"queue_capacity"`
	PoolSize           int     `yaml:"pool_size"`
	MaxClipSeconds     float64 `yaml:"max_clip_seconds"`
	JobTimeoutSec      int     `yaml:"job_timeout_sec"`
	WorkerLostGraceSec int     `yaml:"worker_lost_grace_sec"`
	RequeueAfterSec    int     `yaml:"requeue_after_sec"`
	CleanupIntervalSec int     `yaml:"cleanup_interval_sec"`
	ArtifactTTLHours   int     `yaml:"artifact_ttl_hours"`
	DownloadTTLSec     int     `yaml:"download_ttl_sec"`
}

type Limits struct {
	ReadPerWindow  int64 `yaml:"read_per_window"`
	ReadWindowSec  int   `yaml:"read_window_sec"`
	WritePerWindow int64 `yaml:"write_per_window"`
	WriteWindowSec int   `yaml:"write_window_sec"`
	FailOpen       bool  `yaml:"fail_open"`
}

// Backends selects concrete implementations at startup; call sites never
// branch on the medium.
type Backends struct {
	JobStore      string `yaml:"job_store"`      // memory | redis
	ArtifactStore string `yaml:"artifact_store"` // memory | local | minio
	Queue         string `yaml:"queue"`          // memory | nats
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MinIO struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
	BasePath        string `yaml:"base_path"`
}

type NATS struct {
	URL           string `yaml:"url"`
	Stream        string `yaml:"stream"`
	Subject       string `yaml:"subject"`
	QueueName     string `yaml:"queue_name"`
	MaxReconnects int    `yaml:"max_reconnects"`
}

type Tools struct {
	YtdlpPath         string `yaml:"ytdlp_path"`
	FFmpegPath        string `yaml:"ffmpeg_path"`
	ResolveTimeoutSec int    `yaml:"resolve_timeout_sec"`
}

func MustLoad(path string) *Config {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("config: cannot read file %q: %v", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Fatalf("config: cannot unmarshal yaml: %v", err)
	}

	if cfg.Addr == "" {
		log.Fatalf("config: addr is empty")
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
	// Finished artifacts must not share a directory with per-job scratch
	// space, which the pipeline wipes after every run.
	if cfg.ArtifactsDir == "" {
		cfg.ArtifactsDir = filepath.Join(cfg.ScratchDir, "artifacts")
	}
	if cfg.ShutdownTimeoutSec <= 0 {
		cfg.ShutdownTimeoutSec = 10
	}

	if cfg.Jobs.QueueCapacity <= 0 {
		cfg.Jobs.QueueCapacity = 20
	}
	if cfg.Jobs.PoolSize <= 0 {
		cfg.Jobs.PoolSize = 4
	}
	if cfg.Jobs.MaxClipSeconds <= 0 {
		cfg.Jobs.MaxClipSeconds = 180
	}
	if cfg.Jobs.JobTimeoutSec <= 0 {
		cfg.Jobs.JobTimeoutSec = 7200
	}
	if cfg.Jobs.WorkerLostGraceSec <= 0 {
		cfg.Jobs.WorkerLostGraceSec = 2 * cfg.Jobs.JobTimeoutSec
	}
	if cfg.Jobs.RequeueAfterSec <= 0 {
		cfg.Jobs.RequeueAfterSec = 60
	}
	if cfg.Jobs.CleanupIntervalSec <= 0 {
		cfg.Jobs.CleanupIntervalSec = 60
	}
	if cfg.Jobs.ArtifactTTLHours <= 0 {
		cfg.Jobs.ArtifactTTLHours = 24
	}
	if cfg.Jobs.DownloadTTLSec <= 0 {
		cfg.Jobs.DownloadTTLSec = 3600
	}

	if cfg.Limits.ReadPerWindow <= 0 {
		cfg.Limits.ReadPerWindow = 60
	}
	if cfg.Limits.ReadWindowSec <= 0 {
		cfg.Limits.ReadWindowSec = 60
	}
	if cfg.Limits.WritePerWindow <= 0 {
		cfg.Limits.WritePerWindow = 5
	}
	if cfg.Limits.WriteWindowSec <= 0 {
		cfg.Limits.WriteWindowSec = 3600
	}

	if cfg.Backends.JobStore == "" {
		cfg.Backends.JobStore = "memory"
	}
	if cfg.Backends.ArtifactStore == "" {
		cfg.Backends.ArtifactStore = "memory"
	}
	if cfg.Backends.Queue == "" {
		cfg.Backends.Queue = "memory"
	}
	if cfg.Backends.Queue == "nats" && cfg.NATS.Subject == "" {
		log.Fatalf("config: nats.subject is empty")
	}
	if cfg.Backends.JobStore == "redis" && cfg.Redis.Addr == "" {
		log.Fatalf("config: redis.addr is empty")
	}
	if cfg.Backends.ArtifactStore == "minio" && cfg.MinIO.Endpoint == "" {
		log.Fatalf("config: minio.endpoint is empty")
	}

	return &cfg
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSec) * time.Second
}

func (j Jobs) JobTimeout() time.Duration {
	return time.Duration(j.JobTimeoutSec) * time.Second
}

func (j Jobs) WorkerLostGrace() time.Duration {
	return time.Duration(j.WorkerLostGraceSec) * time.Second
}

func (j Jobs) RequeueAfter() time.Duration {
	return time.Duration(j.RequeueAfterSec) * time.Second
}

func (j Jobs) CleanupInterval() time.Duration {
	return time.Duration(j.CleanupIntervalSec) * time.Second
}

func (j Jobs) ArtifactTTL() time.Duration {
	return time.Duration(j.ArtifactTTLHours) * time.Hour
}

func (j Jobs) DownloadTTL() time.Duration {
	return time.Duration(j.DownloadTTLSec) * time.Second
}

func (l Limits) ReadWindow() time.Duration {
	return time.Duration(l.ReadWindowSec) * time.Second
}

func (l Limits) WriteWindow() time.Duration {
	return time.Duration(l.WriteWindowSec) * time.Second
}

func (t Tools) ResolveTimeout() time.Duration {
	return time.Duration(t.ResolveTimeoutSec) * time.Second
}

package app

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ordersight/ordersight-backend/internal/platform/envutil"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`

	WorkerEnabled bool `yaml:"worker_enabled"`

	JobSweepInterval    time.Duration `yaml:"job_sweep_interval"`
	StallSweepInterval  time.Duration `yaml:"stall_sweep_interval"`
	ResultSweepInterval time.Duration `yaml:"result_sweep_interval"`
}

// LoadConfig starts from env defaults and, when CONFIG_FILE points at a
// YAML file, overlays its values on top.
func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		HTTPAddr:            envutil.Str("HTTP_ADDR", ":8080"),
		WorkerEnabled:       envutil.Bool("WORKER_ENABLED", true),
		JobSweepInterval:    envutil.Duration("JOB_SWEEP_INTERVAL", time.Minute),
		StallSweepInterval:  envutil.Duration("STALL_SWEEP_INTERVAL", 5*time.Minute),
		ResultSweepInterval: envutil.Duration("RESULT_SWEEP_INTERVAL", time.Hour),
	}

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		return cfg
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Warn("config file unreadable, using env defaults", "path", path, "error", err)
		return cfg
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		log.Warn("config file invalid, using env defaults", "path", path, "error", err)
	}
	return cfg
}

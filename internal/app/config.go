package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/projectmatch-backend/internal/pkg/logger"
	"github.com/yungbote/projectmatch-backend/internal/utils"
)

// Checkpoint backends selectable at startup.
const (
	CheckpointBackendMemory   = "memory"
	CheckpointBackendRedis    = "redis"
	CheckpointBackendPostgres = "postgres"
)

type Config struct {
	ServiceName string `yaml:"service_name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`

	ListenAddr string `yaml:"listen_addr"`

	// Which checkpoint store backs conversation threads.
	CheckpointBackend string `yaml:"checkpoint_backend"`
	// TTL applied by the redis backend; zero keeps threads forever.
	CheckpointTTL time.Duration `yaml:"checkpoint_ttl"`

	// Vector collection holding project summary embeddings.
	ProjectCollection string `yaml:"project_collection"`
}

// LoadConfig reads the optional YAML config file named by CONFIG_FILE
// and then applies environment overrides, so a container can tweak a
// single value without replacing the file.
func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := Config{
		ServiceName:       "projectmatch-backend",
		Environment:       "development",
		ListenAddr:        ":8080",
		CheckpointBackend: CheckpointBackendPostgres,
		ProjectCollection: "project_embeddings",
	}

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
		log.Info("config file loaded", "path", path)
	}

	cfg.ServiceName = utils.GetEnv("SERVICE_NAME", cfg.ServiceName, log)
	cfg.Environment = utils.GetEnv("APP_ENV", cfg.Environment, log)
	cfg.Version = utils.GetEnv("APP_VERSION", cfg.Version, log)
	cfg.ListenAddr = utils.GetEnv("LISTEN_ADDR", cfg.ListenAddr, log)
	cfg.CheckpointBackend = strings.ToLower(utils.GetEnv("CHECKPOINT_BACKEND", cfg.CheckpointBackend, log))
	cfg.ProjectCollection = utils.GetEnv("PROJECT_COLLECTION", cfg.ProjectCollection, log)
	if ttlSeconds := utils.GetEnvAsInt("CHECKPOINT_TTL_SECONDS", int(cfg.CheckpointTTL/time.Second), log); ttlSeconds > 0 {
		cfg.CheckpointTTL = time.Duration(ttlSeconds) * time.Second
	}

	switch cfg.CheckpointBackend {
	case CheckpointBackendMemory, CheckpointBackendRedis, CheckpointBackendPostgres:
	default:
		return cfg, fmt.Errorf("unknown checkpoint backend %q", cfg.CheckpointBackend)
	}
	return cfg, nil
}

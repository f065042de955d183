package app

import (
	"embed"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/arbor-backend/internal/platform/logger"
	"github.com/yungbote/arbor-backend/internal/utils"
)

const configPathEnv = "CONFIG_YAML"

//go:embed config.yaml
var defaultConfigFS embed.FS

type Config struct {
	ServiceName string
	Environment string
	Version     string

	Port        string
	DBDriver    string
	RedisAddr   string
	MetricsAddr string

	CORSOrigins  []string
	SSEHeartbeat time.Duration
}

type yamlConfig struct {
	Service struct {
		Name        string `yaml:"name"`
		Environment string `yaml:"environment"`
		Version     string `yaml:"version"`
	} `yaml:"service"`
	Server struct {
		Port         string   `yaml:"port"`
		CORSOrigins  []string `yaml:"cors_origins"`
		SSEHeartbeat string   `yaml:"sse_heartbeat"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver"`
	} `yaml:"database"`
	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
}

// LoadConfig layers the embedded defaults, an optional CONFIG_YAML file,
// and environment variables, in that order of increasing precedence.
func LoadConfig(log *logger.Logger) Config {
	y := loadConfigYAML(log)

	cfg := Config{
		ServiceName: utils.GetEnv("SERVICE_NAME", y.Service.Name, log),
		Environment: utils.GetEnv("ENVIRONMENT", y.Service.Environment, log),
		Version:     utils.GetEnv("SERVICE_VERSION", y.Service.Version, log),
		Port:        utils.GetEnv("PORT", y.Server.Port, log),
		DBDriver:    utils.GetEnv("DB_DRIVER", y.Database.Driver, log),
		RedisAddr:   utils.GetEnv("REDIS_ADDR", y.Redis.Addr, log),
		MetricsAddr: utils.GetEnv("METRICS_ADDR", y.Metrics.Addr, log),
	}

	if raw := utils.GetEnv("CORS_ORIGINS", "", log); raw != "" {
		cfg.CORSOrigins = splitCSV(raw)
	} else {
		cfg.CORSOrigins = y.Server.CORSOrigins
	}

	// A zero heartbeat lets the SSE hub apply its own default.
	if d, err := time.ParseDuration(utils.GetEnv("SSE_HEARTBEAT", y.Server.SSEHeartbeat, log)); err == nil {
		cfg.SSEHeartbeat = d
	}

	return cfg
}

func loadConfigYAML(log *logger.Logger) yamlConfig {
	var y yamlConfig
	data, err := readConfigFile()
	if err == nil {
		err = yaml.Unmarshal(data, &y)
	}
	if err != nil && log != nil {
		log.Warn("Config YAML load failed; relying on env and built-in defaults", "error", err)
	}

	if y.Service.Name == "" {
		y.Service.Name = "arbor"
	}
	if y.Service.Environment == "" {
		y.Service.Environment = "development"
	}
	if y.Service.Version == "" {
		y.Service.Version = "dev"
	}
	if y.Server.Port == "" {
		y.Server.Port = "8080"
	}
	if y.Database.Driver == "" {
		y.Database.Driver = "postgres"
	}
	return y
}

func readConfigFile() ([]byte, error) {
	if path := strings.TrimSpace(os.Getenv(configPathEnv)); path != "" {
		return os.ReadFile(path)
	}
	return defaultConfigFS.ReadFile("config.yaml")
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

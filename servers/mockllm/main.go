// main.go
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"go.yaml.in/yaml/v3"
)

// Config describes the mock backend. Every field is optional.
type Config struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	DelayMS int    `yaml:"delay_ms"`
	// Models maps a model name to a canned behavior.
	Models map[string]Behavior `yaml:"models"`
}

// Behavior is what the mock does for one model. Query parameters override it per request.
type Behavior struct {
	Reply   string `yaml:"reply"`
	DelayMS int    `yaml:"delay_ms"`
	// Fail is "429", "500", "502", "503", "timeout", "empty" or any 4xx/5xx code.
	Fail string `yaml:"fail"`
}

func main() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := loadConfig(configPath())
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	log.Infof("Mock LLM backend starting on %s (%d canned model(s))", addr, len(cfg.Models))
	if err := newRouter(cfg).Run(addr); err != nil {
		log.Fatal(err)
	}
}

func configPath() string {
	if p := strings.TrimSpace(os.Getenv("MOCKLLM_CONFIG")); p != "" {
		return p
	}
	return filepath.Join("servers", "mockllm", "mockllm.yml")
}

// loadConfig reads the YAML file at path. A missing file yields the defaults.
func loadConfig(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8001
	}
	if cfg.DelayMS < 0 {
		return nil, fmt.Errorf("delay_ms must not be negative")
	}
	return cfg, nil
}

// behaviorFor merges the configured behavior for model with the request's query overrides.
func (cfg *Config) behaviorFor(c *gin.Context, model string) Behavior {
	b := cfg.Models[model]
	if b.DelayMS == 0 {
		b.DelayMS = cfg.DelayMS
	}
	if v := c.Query("delay"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			b.DelayMS = ms
		}
	}
	if v := c.Query("fail"); v != "" {
		b.Fail = v
	}
	return b
}

func (b Behavior) delay() time.Duration {
	return time.Duration(b.DelayMS) * time.Millisecond
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds all static runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by Default() values.
type Config struct {
	Model     ModelConfig     `json:"model" yaml:"model" toml:"model"`
	Inference InferenceConfig `json:"inference" yaml:"inference" toml:"inference"`
	Server    ServerConfig    `json:"server" yaml:"server" toml:"server"`
	Devices   []DeviceConfig  `json:"devices" yaml:"devices" toml:"devices"`
}

// ModelConfig identifies the served model and where its artifact lives.
type ModelConfig struct {
	Name             string `json:"name" yaml:"name" toml:"name"`
	RepoID           string `json:"repo_id" yaml:"repo_id" toml:"repo_id"`
	ModelsDir        string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	Endpoint         string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	MaxContextLength int    `json:"max_context_length" yaml:"max_context_length" toml:"max_context_length"`
	DownloadRetries  int    `json:"download_retries" yaml:"download_retries" toml:"download_retries"`
	// RemoteFallback permits serving straight from the remote repository when
	// local acquisition exhausts its retries (degraded mode, no cache).
	RemoteFallback bool `json:"remote_fallback" yaml:"remote_fallback" toml:"remote_fallback"`
}

// InferenceConfig holds default sampling parameters applied when a request
// omits them.
type InferenceConfig struct {
	MaxTokens         int     `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	Temperature       float64 `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopP              float64 `json:"top_p" yaml:"top_p" toml:"top_p"`
	TopK              int     `json:"top_k" yaml:"top_k" toml:"top_k"`
	RepetitionPenalty float64 `json:"repetition_penalty" yaml:"repetition_penalty" toml:"repetition_penalty"`
}

// ServerConfig holds the HTTP bind address and service tunables.
type ServerConfig struct {
	Host           string   `json:"host" yaml:"host" toml:"host"`
	Port           int      `json:"port" yaml:"port" toml:"port"`
	LogLevel       string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	MaxQueueDepth  int      `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWaitSeconds int      `json:"max_wait_seconds" yaml:"max_wait_seconds" toml:"max_wait_seconds"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
}

// DeviceConfig describes one hardware execution target. Lower rank is tried
// first during negotiation.
type DeviceConfig struct {
	Name    string            `json:"name" yaml:"name" toml:"name"`
	Rank    int               `json:"rank" yaml:"rank" toml:"rank"`
	Options map[string]string `json:"options" yaml:"options" toml:"options"`
}

// Addr returns the HTTP listen address.
func (c ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// MaxWait returns the admission wait bound as a duration.
func (c ServerConfig) MaxWait() time.Duration {
	return time.Duration(c.MaxWaitSeconds) * time.Second
}

// Default returns the built-in configuration used when no file is supplied.
func Default() Config {
	return Config{
		Model: ModelConfig{
			Name:             "DeepSeek-R1-Distill-Qwen-1.5B",
			RepoID:           "deepseek-ai/DeepSeek-R1-Distill-Qwen-1.5B",
			ModelsDir:        "./models",
			Endpoint:         "https://huggingface.co",
			MaxContextLength: 4096,
			DownloadRetries:  3,
		},
		Inference: InferenceConfig{
			MaxTokens:         500,
			Temperature:       0.7,
			TopP:              0.9,
			TopK:              50,
			RepetitionPenalty: 1.1,
		},
		Server: ServerConfig{
			Host:           "localhost",
			Port:           8000,
			LogLevel:       "info",
			MaxQueueDepth:  8,
			MaxWaitSeconds: 30,
		},
		Devices: []DeviceConfig{
			{Name: "NPU", Rank: 0, Options: map[string]string{
				"NPU_USE_NPUW":     "YES",
				"PERFORMANCE_HINT": "LATENCY",
				"CACHE_MODE":       "OPTIMIZE_SPEED",
			}},
			{Name: "CPU", Rank: 1, Options: map[string]string{
				"PERFORMANCE_HINT":      "LATENCY",
				"INFERENCE_NUM_THREADS": "4",
			}},
		},
	}
}

// Load reads a configuration file based on its extension and fills unset
// fields from Default(). Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	d := Default()
	if c.Model.Name == "" {
		c.Model.Name = d.Model.Name
	}
	if c.Model.RepoID == "" {
		c.Model.RepoID = d.Model.RepoID
	}
	if c.Model.ModelsDir == "" {
		c.Model.ModelsDir = d.Model.ModelsDir
	}
	if c.Model.Endpoint == "" {
		c.Model.Endpoint = d.Model.Endpoint
	}
	if c.Model.MaxContextLength <= 0 {
		c.Model.MaxContextLength = d.Model.MaxContextLength
	}
	if c.Model.DownloadRetries <= 0 {
		c.Model.DownloadRetries = d.Model.DownloadRetries
	}
	if c.Inference.MaxTokens <= 0 {
		c.Inference.MaxTokens = d.Inference.MaxTokens
	}
	if c.Inference.Temperature <= 0 {
		c.Inference.Temperature = d.Inference.Temperature
	}
	if c.Inference.TopP <= 0 {
		c.Inference.TopP = d.Inference.TopP
	}
	if c.Inference.TopK <= 0 {
		c.Inference.TopK = d.Inference.TopK
	}
	if c.Inference.RepetitionPenalty <= 0 {
		c.Inference.RepetitionPenalty = d.Inference.RepetitionPenalty
	}
	if c.Server.Host == "" {
		c.Server.Host = d.Server.Host
	}
	if c.Server.Port <= 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = d.Server.LogLevel
	}
	if c.Server.MaxQueueDepth <= 0 {
		c.Server.MaxQueueDepth = d.Server.MaxQueueDepth
	}
	if c.Server.MaxWaitSeconds <= 0 {
		c.Server.MaxWaitSeconds = d.Server.MaxWaitSeconds
	}
	if len(c.Devices) == 0 {
		c.Devices = d.Devices
	}
	return c
}

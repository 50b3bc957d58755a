// Package config holds runtime settings for the bastion service. Defaults
// come first, then an optional YAML file, then environment variables -
// env always wins.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all tunables for serving and training.
type Config struct {
	// === HTTP ===
	Port string `yaml:"port"` // Listen port for `bastion serve` (default: 8080)

	// === Model ===
	ModelPath   string `yaml:"model_path"`   // Directory with model.onnx (+ vocab.txt for the ORT backend)
	ModelName   string `yaml:"model_name"`   // HuggingFace name used when downloading
	WeightsPath string `yaml:"weights_path"` // Safetensors file for trained head weights
	Backend     string `yaml:"backend"`      // Encoder backend: "ort", "hugot", or "" for auto

	// === Inference ===
	MaxInFlight      int           `yaml:"max_in_flight"`     // Concurrent inference cap (default: 8)
	InferenceTimeout time.Duration `yaml:"inference_timeout"` // Per-request encode+classify budget

	// === Training ===
	Epochs       int     `yaml:"epochs"`
	BatchSize    int     `yaml:"batch_size"`
	LearningRate float64 `yaml:"learning_rate"`
	Seed         int64   `yaml:"seed"` // Head init / dropout seed
}

// NewDefaultConfig creates a Config with sensible defaults, overridable
// via BASTION_* environment variables.
func NewDefaultConfig() *Config {
	return &Config{
		Port: GetEnv("BASTION_PORT", "8080"),

		ModelPath:   GetEnv("BASTION_MODEL_PATH", ""),
		ModelName:   GetEnv("BASTION_MODEL_NAME", ""),
		WeightsPath: GetEnv("BASTION_WEIGHTS_PATH", "./models/heads.safetensors"),
		Backend:     GetEnv("BASTION_ENCODER_BACKEND", ""),

		MaxInFlight:      clampInt(GetEnvInt("BASTION_MAX_IN_FLIGHT", 8), 1, 1024),
		InferenceTimeout: time.Duration(GetEnvInt("BASTION_INFERENCE_TIMEOUT_MS", 30000)) * time.Millisecond,

		Epochs:       GetEnvInt("BASTION_EPOCHS", 5),
		BatchSize:    GetEnvInt("BASTION_BATCH_SIZE", 16),
		LearningRate: GetEnvFloat("BASTION_LEARNING_RATE", 2e-5),
		Seed:         int64(GetEnvInt("BASTION_SEED", 42)),
	}
}

// Load reads defaults, merges an optional YAML file, then re-applies any
// environment overrides. A missing file is only an error when its path was
// given explicitly.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if path == "" {
		path = GetEnv("BASTION_CONFIG", "")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv re-applies environment variables over file values.
func (c *Config) applyEnv() {
	c.Port = GetEnv("BASTION_PORT", c.Port)
	c.ModelPath = GetEnv("BASTION_MODEL_PATH", c.ModelPath)
	c.ModelName = GetEnv("BASTION_MODEL_NAME", c.ModelName)
	c.WeightsPath = GetEnv("BASTION_WEIGHTS_PATH", c.WeightsPath)
	c.Backend = GetEnv("BASTION_ENCODER_BACKEND", c.Backend)
	c.MaxInFlight = clampInt(GetEnvInt("BASTION_MAX_IN_FLIGHT", c.MaxInFlight), 1, 1024)
	if os.Getenv("BASTION_INFERENCE_TIMEOUT_MS") != "" {
		c.InferenceTimeout = time.Duration(GetEnvInt("BASTION_INFERENCE_TIMEOUT_MS", 30000)) * time.Millisecond
	}
	c.Epochs = GetEnvInt("BASTION_EPOCHS", c.Epochs)
	c.BatchSize = GetEnvInt("BASTION_BATCH_SIZE", c.BatchSize)
	c.LearningRate = GetEnvFloat("BASTION_LEARNING_RATE", c.LearningRate)
	c.Seed = int64(GetEnvInt("BASTION_SEED", int(c.Seed)))
}

// Validate checks values that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	var problems []string
	if c.Epochs <= 0 {
		problems = append(problems, "epochs must be positive")
	}
	if c.BatchSize <= 0 {
		problems = append(problems, "batch_size must be positive")
	}
	if c.LearningRate <= 0 {
		problems = append(problems, "learning_rate must be positive")
	}
	if c.InferenceTimeout <= 0 {
		problems = append(problems, "inference_timeout must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// Helper functions for environment variable parsing.

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

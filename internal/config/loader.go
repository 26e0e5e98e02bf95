package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Load reads and parses the configuration file and environment variables
func Load(configPath string) (*Config, *Secrets, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if cfg.Generation.TopicsFile != "" {
		topics, err := readTopicsFile(cfg.Generation.TopicsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read topics file: %w", err)
		}
		cfg.Generation.Topics = append(cfg.Generation.Topics, topics...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	secrets, err := LoadSecrets()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	return &cfg, secrets, nil
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Generation.NumQuizQuestions == 0 {
		cfg.Generation.NumQuizQuestions = 8
	}
	if cfg.Generation.NumProblems == 0 {
		cfg.Generation.NumProblems = 3
	}
	if cfg.Generation.Concurrency == 0 {
		cfg.Generation.Concurrency = 4
	}
	if cfg.Generation.GradeMaxRetries == 0 {
		cfg.Generation.GradeMaxRetries = 2
	}
	if cfg.Generation.IdeaRetryAttempts == 0 {
		cfg.Generation.IdeaRetryAttempts = 3
	}

	if cfg.Scheduler.MaxParallel == 0 {
		cfg.Scheduler.MaxParallel = 3
	}
	if cfg.Scheduler.MinStartIntervalMS == 0 {
		cfg.Scheduler.MinStartIntervalMS = 500
	}
	if cfg.Scheduler.MaxAttempts == 0 {
		cfg.Scheduler.MaxAttempts = 3
	}
	if cfg.Scheduler.BaseBackoffMS == 0 {
		cfg.Scheduler.BaseBackoffMS = 2000
	}
	if cfg.Scheduler.MaxBackoffSeconds == 0 {
		cfg.Scheduler.MaxBackoffSeconds = 60
	}

	if cfg.Checkpoint.FlushIntervalSeconds == 0 {
		cfg.Checkpoint.FlushIntervalSeconds = 10
	}
	if cfg.Checkpoint.RetainSnapshots == 0 {
		cfg.Checkpoint.RetainSnapshots = 3
	}

	for name, model := range cfg.Models {
		if model.Temperature == 0 {
			model.Temperature = 0.7
		}
		if model.TopP == 0 {
			model.TopP = 1.0
		}
		if model.MaxOutputTokens == 0 {
			model.MaxOutputTokens = 4096
		}
		if model.HTTPTimeoutSeconds == 0 {
			model.HTTPTimeoutSeconds = 120
		}
		cfg.Models[name] = model
	}
}

// readTopicsFile reads a newline-delimited topic list, skipping blank
// lines and lines starting with '#'
func readTopicsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var topics []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		topics = append(topics, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return topics, nil
}

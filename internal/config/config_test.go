package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validConfigTOML = `
[generation]
topics = ["Recursion", "Pointers"]
audience = "beginners"

[models.generator]
base_url = "http://localhost:8080/v1"
model_name = "gen-model"

[models.grader]
base_url = "http://localhost:8080/v1"
model_name = "grade-model"

[prompt_templates]
lesson_ideas = "ideas {{.Topic}}"
lesson_plan = "plan {{.Topic}}"
quiz_ideas = "quiz ideas {{.Topic}}"
quiz_questions = "quiz {{.Topic}}"
problem_ideas = "problem ideas {{.Topic}}"
problems = "problems {{.Topic}}"
plan_rubric = "grade plan {{.Topic}}"
quiz_rubric = "grade quiz {{.Topic}}"
problem_rubric = "grade problems {{.Topic}}"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, _, err := Load(writeConfig(t, validConfigTOML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Generation.NumQuizQuestions != 8 {
		t.Errorf("Expected default quiz questions 8, got %d", cfg.Generation.NumQuizQuestions)
	}
	if cfg.Generation.NumProblems != 3 {
		t.Errorf("Expected default problems 3, got %d", cfg.Generation.NumProblems)
	}
	if cfg.Generation.Concurrency != 4 {
		t.Errorf("Expected default concurrency 4, got %d", cfg.Generation.Concurrency)
	}
	if cfg.Scheduler.MaxParallel != 3 || cfg.Scheduler.MaxAttempts != 3 {
		t.Errorf("Unexpected scheduler defaults: %+v", cfg.Scheduler)
	}
	if cfg.Scheduler.MinStartIntervalMS != 500 {
		t.Errorf("Expected default start interval 500ms, got %d", cfg.Scheduler.MinStartIntervalMS)
	}
	if cfg.Checkpoint.FlushIntervalSeconds != 10 || cfg.Checkpoint.RetainSnapshots != 3 {
		t.Errorf("Unexpected checkpoint defaults: %+v", cfg.Checkpoint)
	}

	gen := cfg.Models["generator"]
	if gen.Temperature != 0.7 || gen.TopP != 1.0 || gen.MaxOutputTokens != 4096 {
		t.Errorf("Unexpected model defaults: %+v", gen)
	}
}

func TestLoadReadsTopicsFile(t *testing.T) {
	dir := t.TempDir()
	topicsPath := filepath.Join(dir, "topics.txt")
	content := "Recursion\n\n# a comment\n  Pointers  \nGoroutines\n"
	if err := os.WriteFile(topicsPath, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfgTOML := strings.Replace(validConfigTOML,
		`topics = ["Recursion", "Pointers"]`,
		`topics_file = "`+strings.ReplaceAll(topicsPath, `\`, `\\`)+`"`, 1)
	cfg, _, err := Load(writeConfig(t, cfgTOML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	expected := []string{"Recursion", "Pointers", "Goroutines"}
	if len(cfg.Generation.Topics) != len(expected) {
		t.Fatalf("Expected %d topics, got %v", len(expected), cfg.Generation.Topics)
	}
	for i, topic := range expected {
		if cfg.Generation.Topics[i] != topic {
			t.Errorf("Topic %d: expected %q, got %q", i, topic, cfg.Generation.Topics[i])
		}
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "no topics",
			mutate:  func(c *Config) { c.Generation.Topics = nil },
			wantErr: "generation.topics",
		},
		{
			name:    "missing generator model",
			mutate:  func(c *Config) { delete(c.Models, "generator") },
			wantErr: "models.generator is required",
		},
		{
			name:    "missing grader model",
			mutate:  func(c *Config) { delete(c.Models, "grader") },
			wantErr: "models.grader is required",
		},
		{
			name: "missing base url",
			mutate: func(c *Config) {
				m := c.Models["generator"]
				m.BaseURL = ""
				c.Models["generator"] = m
			},
			wantErr: "models.generator.base_url",
		},
		{
			name: "temperature out of range",
			mutate: func(c *Config) {
				m := c.Models["grader"]
				m.Temperature = 3.0
				c.Models["grader"] = m
			},
			wantErr: "models.grader.temperature",
		},
		{
			name:    "concurrency too high",
			mutate:  func(c *Config) { c.Generation.Concurrency = MaxConcurrency + 1 },
			wantErr: "generation.concurrency",
		},
		{
			name:    "scheduler parallelism too high",
			mutate:  func(c *Config) { c.Scheduler.MaxParallel = MaxSchedulerParallel + 1 },
			wantErr: "scheduler.max_parallel",
		},
		{
			name:    "missing rubric template",
			mutate:  func(c *Config) { c.PromptTemplates.PlanRubric = "" },
			wantErr: "prompt_templates.plan_rubric",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _, err := Load(writeConfig(t, validConfigTOML))
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGetAPIKey(t *testing.T) {
	secrets := &Secrets{APIKeys: map[string]string{
		"generic": "generic-key",
		"openai":  "openai-key",
		"gemini":  "gemini-key",
	}}

	tests := []struct {
		baseURL  string
		expected string
	}{
		{"https://api.openai.com/v1", "openai-key"},
		{"https://generativelanguage.googleapis.com/v1beta/openai", "gemini-key"},
		{"https://api.together.xyz/v1", "generic-key"}, // no provider key set
		{"http://localhost:8080/v1", "generic-key"},
	}
	for _, tt := range tests {
		if got := secrets.GetAPIKey(tt.baseURL); got != tt.expected {
			t.Errorf("GetAPIKey(%q) = %q, want %q", tt.baseURL, got, tt.expected)
		}
	}

	empty := &Secrets{APIKeys: map[string]string{}}
	if got := empty.GetAPIKey("http://localhost:8080/v1"); got != "" {
		t.Errorf("Expected empty key for local server, got %q", got)
	}
}

func TestLoadSecretsFromEnvironment(t *testing.T) {
	t.Setenv("API_KEY", "generic-value")
	t.Setenv("OPENAI_API_KEY", "openai-value")

	secrets, err := LoadSecrets()
	if err != nil {
		t.Fatalf("LoadSecrets failed: %v", err)
	}
	if secrets.APIKeys["generic"] != "generic-value" {
		t.Errorf("Expected generic key, got %q", secrets.APIKeys["generic"])
	}
	if secrets.APIKeys["openai"] != "openai-value" {
		t.Errorf("Expected openai key, got %q", secrets.APIKeys["openai"])
	}
}

package config

import (
	"fmt"
	"os"
	"strings"
)

// Config represents the complete application configuration
type Config struct {
	Generation      GenerationConfig       `toml:"generation"`
	Models          map[string]ModelConfig `toml:"models"`
	Scheduler       SchedulerConfig        `toml:"scheduler"`
	Checkpoint      CheckpointConfig       `toml:"checkpoint"`
	PromptTemplates PromptTemplates        `toml:"prompt_templates"`
}

// GenerationConfig holds generation-specific settings
type GenerationConfig struct {
	Topics            []string `toml:"topics"`             // Topics to generate content for, one job each
	TopicsFile        string   `toml:"topics_file"`        // Optional newline-delimited topic list
	Audience          string   `toml:"audience"`           // Target audience description
	NumQuizQuestions  int      `toml:"num_quiz_questions"` // Questions per quiz (default 8)
	NumProblems       int      `toml:"num_problems"`       // Coding problems per topic (default 3)
	Concurrency       int      `toml:"concurrency"`        // Top-level job concurrency (default 4)
	GradeMaxRetries   int      `toml:"grade_max_retries"`  // Regenerations after a failing grade (default 2)
	IdeaRetryAttempts int      `toml:"idea_retry_attempts"`
	ResumeFromSession string   `toml:"resume_from_session"` // Session directory to resume from
}

// ModelConfig represents configuration for a single model endpoint
type ModelConfig struct {
	BaseURL            string  `toml:"base_url"`
	ModelName          string  `toml:"model_name"`
	Temperature        float64 `toml:"temperature"`
	TopP               float64 `toml:"top_p"`
	MaxOutputTokens    int     `toml:"max_output_tokens"`
	HTTPTimeoutSeconds int     `toml:"http_timeout_seconds"` // Default 120
	UseJSONMode        bool    `toml:"use_json_mode"`        // Request json_object response format
}

// SchedulerConfig bounds and paces outbound model calls. The limits are
// process-wide: every pipeline in every job shares one scheduler.
type SchedulerConfig struct {
	MaxParallel        int `toml:"max_parallel"`          // Concurrent in-flight calls (default 3)
	MinStartIntervalMS int `toml:"min_start_interval_ms"` // Spacing between call starts (default 500)
	MaxAttempts        int `toml:"max_attempts"`          // Invocation ceiling per call (default 3)
	BaseBackoffMS      int `toml:"base_backoff_ms"`       // Exponential backoff base (default 2000)
	MaxBackoffSeconds  int `toml:"max_backoff_seconds"`   // Backoff cap (default 60)
}

// CheckpointConfig controls the run-level checkpoint manager
type CheckpointConfig struct {
	Enabled              bool  `toml:"enabled"`
	Seed                 int64 `toml:"seed"`
	FlushIntervalSeconds int   `toml:"flush_interval_seconds"` // Default 10
	RetainSnapshots      int   `toml:"retain_snapshots"`       // Default 3
}

// PromptTemplates holds all customizable prompt templates
type PromptTemplates struct {
	LessonIdeas        string `toml:"lesson_ideas"`
	LessonPlan         string `toml:"lesson_plan"`
	QuizIdeas          string `toml:"quiz_ideas"`
	QuizQuestions      string `toml:"quiz_questions"`
	ProblemIdeas       string `toml:"problem_ideas"`
	Problems           string `toml:"problems"`
	PlanRubric         string `toml:"plan_rubric"`
	QuizRubric         string `toml:"quiz_rubric"`
	ProblemRubric      string `toml:"problem_rubric"`
	GeneratorSystem    string `toml:"generator_system_prompt"` // Optional
	GraderSystemPrompt string `toml:"grader_system_prompt"`    // Optional
}

const (
	// MaxConcurrency is the maximum allowed job concurrency
	MaxConcurrency = 256
	// MaxSchedulerParallel is the maximum allowed in-flight call bound
	MaxSchedulerParallel = 64
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Generation.Topics) == 0 && c.Generation.TopicsFile == "" {
		return fmt.Errorf("generation.topics or generation.topics_file is required")
	}
	if c.Generation.NumQuizQuestions < 1 {
		return fmt.Errorf("generation.num_quiz_questions must be at least 1")
	}
	if c.Generation.NumProblems < 1 {
		return fmt.Errorf("generation.num_problems must be at least 1")
	}
	if c.Generation.Concurrency < 1 || c.Generation.Concurrency > MaxConcurrency {
		return fmt.Errorf("generation.concurrency must be between 1 and %d (got %d)", MaxConcurrency, c.Generation.Concurrency)
	}
	if c.Generation.GradeMaxRetries < 0 || c.Generation.GradeMaxRetries > 5 {
		return fmt.Errorf("generation.grade_max_retries must be between 0 and 5 (got %d)", c.Generation.GradeMaxRetries)
	}
	if c.Generation.IdeaRetryAttempts < 1 || c.Generation.IdeaRetryAttempts > 5 {
		return fmt.Errorf("generation.idea_retry_attempts must be between 1 and 5 (got %d)", c.Generation.IdeaRetryAttempts)
	}

	if c.Scheduler.MaxParallel < 1 || c.Scheduler.MaxParallel > MaxSchedulerParallel {
		return fmt.Errorf("scheduler.max_parallel must be between 1 and %d (got %d)", MaxSchedulerParallel, c.Scheduler.MaxParallel)
	}
	if c.Scheduler.MinStartIntervalMS < 0 {
		return fmt.Errorf("scheduler.min_start_interval_ms must not be negative")
	}
	if c.Scheduler.MaxAttempts < 1 {
		return fmt.Errorf("scheduler.max_attempts must be at least 1")
	}

	if c.Checkpoint.FlushIntervalSeconds < 1 {
		return fmt.Errorf("checkpoint.flush_interval_seconds must be at least 1")
	}
	if c.Checkpoint.RetainSnapshots < 1 {
		return fmt.Errorf("checkpoint.retain_snapshots must be at least 1")
	}

	// Validate generator model exists
	generator, ok := c.Models["generator"]
	if !ok {
		return fmt.Errorf("models.generator is required")
	}
	if err := validateModelConfig("generator", generator); err != nil {
		return err
	}

	// Grader model is required because every content stage is gated
	grader, ok := c.Models["grader"]
	if !ok {
		return fmt.Errorf("models.grader is required")
	}
	if err := validateModelConfig("grader", grader); err != nil {
		return err
	}

	// Validate prompt templates
	required := map[string]string{
		"lesson_ideas":   c.PromptTemplates.LessonIdeas,
		"lesson_plan":    c.PromptTemplates.LessonPlan,
		"quiz_ideas":     c.PromptTemplates.QuizIdeas,
		"quiz_questions": c.PromptTemplates.QuizQuestions,
		"problem_ideas":  c.PromptTemplates.ProblemIdeas,
		"problems":       c.PromptTemplates.Problems,
		"plan_rubric":    c.PromptTemplates.PlanRubric,
		"quiz_rubric":    c.PromptTemplates.QuizRubric,
		"problem_rubric": c.PromptTemplates.ProblemRubric,
	}
	for name, tmpl := range required {
		if tmpl == "" {
			return fmt.Errorf("prompt_templates.%s is required", name)
		}
	}

	return nil
}

func validateModelConfig(name string, mc ModelConfig) error {
	if mc.BaseURL == "" {
		return fmt.Errorf("models.%s.base_url is required", name)
	}
	if mc.ModelName == "" {
		return fmt.Errorf("models.%s.model_name is required", name)
	}
	if mc.Temperature < 0 || mc.Temperature > 2 {
		return fmt.Errorf("models.%s.temperature must be between 0 and 2", name)
	}
	if mc.TopP < 0 || mc.TopP > 1 {
		return fmt.Errorf("models.%s.top_p must be between 0 and 1", name)
	}
	if mc.MaxOutputTokens < 1 {
		return fmt.Errorf("models.%s.max_output_tokens must be at least 1", name)
	}
	return nil
}

// Secrets holds sensitive credentials loaded from environment variables
type Secrets struct {
	APIKeys map[string]string
}

// LoadSecrets loads API keys from environment variables
func LoadSecrets() (*Secrets, error) {
	secrets := &Secrets{
		APIKeys: make(map[string]string),
	}

	// Generic key works for any OpenAI-compatible provider
	if key := os.Getenv("API_KEY"); key != "" {
		secrets.APIKeys["generic"] = key
	}

	// Provider-specific keys override the generic one
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		secrets.APIKeys["openai"] = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		secrets.APIKeys["gemini"] = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		secrets.APIKeys["anthropic"] = key
	}
	if key := os.Getenv("TOGETHER_API_KEY"); key != "" {
		secrets.APIKeys["together"] = key
	}

	return secrets, nil
}

// GetAPIKey returns the API key for a given base URL
func (s *Secrets) GetAPIKey(baseURL string) string {
	if strings.Contains(baseURL, "openai.com") {
		if key := s.APIKeys["openai"]; key != "" {
			return key
		}
	}
	if strings.Contains(baseURL, "googleapis.com") {
		if key := s.APIKeys["gemini"]; key != "" {
			return key
		}
	}
	if strings.Contains(baseURL, "anthropic.com") {
		if key := s.APIKeys["anthropic"]; key != "" {
			return key
		}
	}
	if strings.Contains(baseURL, "together.xyz") || strings.Contains(baseURL, "together.ai") {
		if key := s.APIKeys["together"]; key != "" {
			return key
		}
	}

	if key := s.APIKeys["generic"]; key != "" {
		return key
	}

	// Could be a local server without auth
	return ""
}

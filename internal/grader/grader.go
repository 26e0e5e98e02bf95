// Package grader runs LLM-as-a-grader quality checks against generated
// content. A grade is a pass/fail verdict plus structured issues; it is
// the pipeline's job to act on a failing verdict, not the grader's.
package grader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"lessonforge/internal/config"
	"lessonforge/internal/llm"
	"lessonforge/internal/scheduler"
	"lessonforge/internal/util"
	"lessonforge/pkg/models"
)

// Grader evaluates stage outputs against a rubric
type Grader struct {
	cfg     *config.Config
	secrets *config.Secrets
	client  *llm.Client
	sched   *scheduler.Scheduler
	logger  *slog.Logger
}

// New creates a new grader
func New(
	cfg *config.Config,
	secrets *config.Secrets,
	client *llm.Client,
	sched *scheduler.Scheduler,
	logger *slog.Logger,
) *Grader {
	return &Grader{
		cfg:     cfg,
		secrets: secrets,
		client:  client,
		sched:   sched,
		logger:  logger.With("component", "grader"),
	}
}

// gradeValidator accepts any object carrying a boolean pass field
var gradeValidator = llm.ValidatorFunc(func(data []byte) error {
	var g struct {
		Pass *bool `json:"pass"`
	}
	if err := json.Unmarshal(data, &g); err != nil {
		return fmt.Errorf("expected grade object: %w", err)
	}
	if g.Pass == nil {
		return fmt.Errorf("missing required key %q", "pass")
	}
	return nil
})

// Grade renders the rubric template over data, asks the grader model for
// a verdict, and parses it. The returned usage is the grading call's
// token consumption.
func (g *Grader) Grade(
	ctx context.Context,
	rubricTemplate string,
	data map[string]interface{},
) (models.Grade, llm.Usage, error) {
	prompt, err := util.RenderTemplate(rubricTemplate, data)
	if err != nil {
		return models.Grade{}, llm.Usage{}, fmt.Errorf("failed to render rubric template: %w", err)
	}

	graderModel := g.cfg.Models["grader"]
	apiKey := g.secrets.GetAPIKey(graderModel.BaseURL)

	messages := []llm.Message{}
	if g.cfg.PromptTemplates.GraderSystemPrompt != "" {
		messages = append(messages, llm.Message{
			Role:    "system",
			Content: g.cfg.PromptTemplates.GraderSystemPrompt,
		})
	}
	messages = append(messages, llm.Message{Role: "user", Content: prompt})

	result, err := scheduler.Schedule(ctx, g.sched, func(ctx context.Context) (*llm.Result, error) {
		return g.client.Generate(ctx, graderModel, apiKey, messages, gradeValidator)
	})
	if err != nil {
		return models.Grade{}, llm.Usage{}, err
	}

	var grade models.Grade
	if err := json.Unmarshal(result.JSON, &grade); err != nil {
		return models.Grade{}, result.Usage, fmt.Errorf("failed to parse grade: %w", err)
	}

	g.logger.Debug("Grade received", "pass", grade.Pass, "issues", len(grade.Issues))
	return grade, result.Usage, nil
}

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"lessonforge/internal/llm"
	"lessonforge/internal/util"
	"lessonforge/pkg/models"
)

// IdeaDraft wraps the free-text output of an idea-generation stage so it
// checkpoints as a JSON object like every other stage.
type IdeaDraft struct {
	Ideas string `json:"ideas"`
}

var (
	ideaValidator = llm.ValidatorFunc(func(data []byte) error {
		var d IdeaDraft
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("expected idea draft object: %w", err)
		}
		if strings.TrimSpace(d.Ideas) == "" {
			return fmt.Errorf("idea draft is empty")
		}
		return nil
	})

	// A plan needs its keys present and at least one real objective;
	// an empty objective list reads as a refused or lazy completion
	planValidator = llm.ValidatorFunc(func(data []byte) error {
		if err := llm.ObjectWithKeys("title", "objectives", "sections").Validate(data); err != nil {
			return err
		}
		var plan struct {
			Objectives json.RawMessage `json:"objectives"`
		}
		if err := json.Unmarshal(data, &plan); err != nil {
			return err
		}
		if err := llm.NonEmptyStringArray(1).Validate(plan.Objectives); err != nil {
			return fmt.Errorf("objectives: %w", err)
		}
		return nil
	})

	quizValidator    = llm.ObjectWithKeys("questions")
	problemValidator = llm.ObjectWithKeys("problems")
	gradeValidator   = llm.ObjectWithKeys("pass")
)

func renderPrompt(tmpl string, data map[string]interface{}) (string, error) {
	prompt, err := util.RenderTemplate(tmpl, data)
	if err != nil {
		return "", fmt.Errorf("failed to render prompt template: %w", err)
	}
	return prompt, nil
}

// ensureIdeas runs a free-text idea stage with a bounded inner retry for
// call-level failures (transport errors, empty output). This budget is
// separate from the grading loop, which retries for quality.
func (p *Pipeline) ensureIdeas(
	ctx context.Context,
	s Stage,
	tmpl string,
	data map[string]interface{},
) (IdeaDraft, error) {
	return ensureStage(ctx, p, s, ideaValidator, func(ctx context.Context) (IdeaDraft, error) {
		attempts := p.cfg.Generation.IdeaRetryAttempts
		var lastErr error
		for attempt := 1; attempt <= attempts; attempt++ {
			result, err := p.generateCall(ctx, tmpl, data, nil)
			if err == nil {
				text := strings.TrimSpace(result.Text)
				if text != "" {
					return IdeaDraft{Ideas: text}, nil
				}
				err = fmt.Errorf("stage %s returned empty output", s)
			}
			lastErr = err
			if ctx.Err() != nil {
				return IdeaDraft{}, ctx.Err()
			}
			if attempt < attempts {
				p.logger.Warn("Idea generation failed, retrying",
					"stage", s, "attempt", attempt, "max_attempts", attempts, "error", err)
			}
		}
		return IdeaDraft{}, fmt.Errorf("stage %s failed after %d attempts: %w", s, attempts, lastErr)
	})
}

// EnsureIdeas produces the lesson idea draft for the topic
func (p *Pipeline) EnsureIdeas(ctx context.Context) (IdeaDraft, error) {
	return p.ensureIdeas(ctx, StageIdeas, p.cfg.PromptTemplates.LessonIdeas, map[string]interface{}{
		"Topic":    p.topic,
		"Audience": p.audience,
	})
}

// EnsurePlan produces the structured lesson plan, generating the idea
// draft first if needed
func (p *Pipeline) EnsurePlan(ctx context.Context) (models.LessonPlan, error) {
	return ensureStage(ctx, p, StagePlan, planValidator, func(ctx context.Context) (models.LessonPlan, error) {
		ideas, err := p.EnsureIdeas(ctx)
		if err != nil {
			return models.LessonPlan{}, err
		}

		result, err := p.generateCall(ctx, p.cfg.PromptTemplates.LessonPlan, map[string]interface{}{
			"Topic":    p.topic,
			"Audience": p.audience,
			"Ideas":    ideas.Ideas,
		}, planValidator)
		if err != nil {
			return models.LessonPlan{}, err
		}

		var plan models.LessonPlan
		if err := json.Unmarshal(result.JSON, &plan); err != nil {
			return models.LessonPlan{}, fmt.Errorf("failed to parse lesson plan: %w", err)
		}
		return plan, nil
	})
}

func (p *Pipeline) ensurePlanGrade(ctx context.Context) (models.Grade, error) {
	return ensureStage(ctx, p, StagePlanGrade, gradeValidator, func(ctx context.Context) (models.Grade, error) {
		plan, err := p.EnsurePlan(ctx)
		if err != nil {
			return models.Grade{}, err
		}
		return p.gradeValue(ctx, StagePlanGrade, p.cfg.PromptTemplates.PlanRubric, map[string]interface{}{
			"Topic":    p.topic,
			"Audience": p.audience,
			"PlanJSON": mustJSON(plan),
		})
	})
}

// EnsureGradedPlan produces a lesson plan whose paired grade passes,
// regenerating on failing grades up to the configured retry budget
func (p *Pipeline) EnsureGradedPlan(ctx context.Context) (models.LessonPlan, models.Grade, error) {
	return ensureGraded(ctx, p, StagePlan, p.EnsurePlan, p.ensurePlanGrade)
}

// EnsureQuizIdeas produces question angles for the quiz stage
func (p *Pipeline) EnsureQuizIdeas(ctx context.Context) (IdeaDraft, error) {
	plan, err := p.EnsurePlan(ctx)
	if err != nil {
		return IdeaDraft{}, err
	}
	return p.ensureIdeas(ctx, StageQuizIdeas, p.cfg.PromptTemplates.QuizIdeas, map[string]interface{}{
		"Topic":        p.topic,
		"Audience":     p.audience,
		"PlanJSON":     mustJSON(plan),
		"NumQuestions": p.cfg.Generation.NumQuizQuestions,
	})
}

// EnsureQuizzes produces the quiz for the lesson plan
func (p *Pipeline) EnsureQuizzes(ctx context.Context) (models.Quiz, error) {
	return ensureStage(ctx, p, StageQuizzes, quizValidator, func(ctx context.Context) (models.Quiz, error) {
		plan, err := p.EnsurePlan(ctx)
		if err != nil {
			return models.Quiz{}, err
		}
		ideas, err := p.EnsureQuizIdeas(ctx)
		if err != nil {
			return models.Quiz{}, err
		}

		result, err := p.generateCall(ctx, p.cfg.PromptTemplates.QuizQuestions, map[string]interface{}{
			"Topic":        p.topic,
			"Audience":     p.audience,
			"PlanJSON":     mustJSON(plan),
			"Ideas":        ideas.Ideas,
			"NumQuestions": p.cfg.Generation.NumQuizQuestions,
		}, quizValidator)
		if err != nil {
			return models.Quiz{}, err
		}

		var quiz models.Quiz
		if err := json.Unmarshal(result.JSON, &quiz); err != nil {
			return models.Quiz{}, fmt.Errorf("failed to parse quiz: %w", err)
		}
		return quiz, nil
	})
}

func (p *Pipeline) ensureQuizGrade(ctx context.Context) (models.Grade, error) {
	return ensureStage(ctx, p, StageQuizGrade, gradeValidator, func(ctx context.Context) (models.Grade, error) {
		quiz, err := p.EnsureQuizzes(ctx)
		if err != nil {
			return models.Grade{}, err
		}
		return p.gradeValue(ctx, StageQuizGrade, p.cfg.PromptTemplates.QuizRubric, map[string]interface{}{
			"Topic":        p.topic,
			"QuizJSON":     mustJSON(quiz),
			"NumQuestions": p.cfg.Generation.NumQuizQuestions,
		})
	})
}

// EnsureGradedQuiz produces a quiz whose paired grade passes
func (p *Pipeline) EnsureGradedQuiz(ctx context.Context) (models.Quiz, models.Grade, error) {
	return ensureGraded(ctx, p, StageQuizzes, p.EnsureQuizzes, p.ensureQuizGrade)
}

// EnsureProblemIdeas produces exercise angles for the problem stage
func (p *Pipeline) EnsureProblemIdeas(ctx context.Context) (IdeaDraft, error) {
	plan, err := p.EnsurePlan(ctx)
	if err != nil {
		return IdeaDraft{}, err
	}
	return p.ensureIdeas(ctx, StageProblemIdeas, p.cfg.PromptTemplates.ProblemIdeas, map[string]interface{}{
		"Topic":       p.topic,
		"Audience":    p.audience,
		"PlanJSON":    mustJSON(plan),
		"NumProblems": p.cfg.Generation.NumProblems,
	})
}

// EnsureProblems produces the coding problem set
func (p *Pipeline) EnsureProblems(ctx context.Context) (models.ProblemSet, error) {
	return ensureStage(ctx, p, StageProblems, problemValidator, func(ctx context.Context) (models.ProblemSet, error) {
		plan, err := p.EnsurePlan(ctx)
		if err != nil {
			return models.ProblemSet{}, err
		}
		ideas, err := p.EnsureProblemIdeas(ctx)
		if err != nil {
			return models.ProblemSet{}, err
		}

		result, err := p.generateCall(ctx, p.cfg.PromptTemplates.Problems, map[string]interface{}{
			"Topic":       p.topic,
			"Audience":    p.audience,
			"PlanJSON":    mustJSON(plan),
			"Ideas":       ideas.Ideas,
			"NumProblems": p.cfg.Generation.NumProblems,
		}, problemValidator)
		if err != nil {
			return models.ProblemSet{}, err
		}

		var set models.ProblemSet
		if err := json.Unmarshal(result.JSON, &set); err != nil {
			return models.ProblemSet{}, fmt.Errorf("failed to parse problem set: %w", err)
		}
		return set, nil
	})
}

func (p *Pipeline) ensureProblemGrade(ctx context.Context) (models.Grade, error) {
	return ensureStage(ctx, p, StageProblemGrade, gradeValidator, func(ctx context.Context) (models.Grade, error) {
		set, err := p.EnsureProblems(ctx)
		if err != nil {
			return models.Grade{}, err
		}
		return p.gradeValue(ctx, StageProblemGrade, p.cfg.PromptTemplates.ProblemRubric, map[string]interface{}{
			"Topic":        p.topic,
			"ProblemsJSON": mustJSON(set),
			"NumProblems":  p.cfg.Generation.NumProblems,
		})
	})
}

// EnsureGradedProblems produces a problem set whose paired grade passes
func (p *Pipeline) EnsureGradedProblems(ctx context.Context) (models.ProblemSet, models.Grade, error) {
	return ensureGraded(ctx, p, StageProblems, p.EnsureProblems, p.ensureProblemGrade)
}

// gradeValue runs one grading call and reports its usage and verdict
func (p *Pipeline) gradeValue(
	ctx context.Context,
	s Stage,
	rubric string,
	data map[string]interface{},
) (models.Grade, error) {
	graderModel := p.cfg.Models["grader"]
	handle := p.reporter.StartModelCall(graderModel.ModelName)
	defer p.reporter.FinishModelCall(handle)

	grade, usage, err := p.grader.Grade(ctx, rubric, data)
	if err != nil {
		return models.Grade{}, err
	}
	p.reporter.RecordModelUsage(handle, usage)
	if p.collector != nil {
		p.collector.RecordGrade(string(s), grade.Pass)
		p.collector.RecordTokenUsage(graderModel.ModelName, usage.PromptTokens, usage.CompletionTokens)
	}
	return grade, nil
}

func mustJSON(v interface{}) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

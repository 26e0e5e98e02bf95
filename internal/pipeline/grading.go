package pipeline

import (
	"context"
	"fmt"
	"strings"

	"lessonforge/pkg/models"
)

// GradeError reports that a stage could not pass its grade within the
// retry budget. It carries the final failing grade's issues so the
// operator can see what the grader kept objecting to.
type GradeError struct {
	Stage    Stage
	Attempts int
	Issues   []string
}

func (e *GradeError) Error() string {
	return fmt.Sprintf("stage %s failed its grade after %d attempts: %s",
		e.Stage, e.Attempts, strings.Join(e.Issues, "; "))
}

// ensureGraded runs the generate-grade-regenerate loop for a gated
// stage: up to 1 + grade_max_retries attempts, invalidating the stage
// (and everything downstream, including the grade itself) after each
// failing verdict. The returned error is final; no outer layer retries
// a quality failure.
func ensureGraded[T any](
	ctx context.Context,
	p *Pipeline,
	s Stage,
	ensureValue func(context.Context) (T, error),
	ensureGrade func(context.Context) (models.Grade, error),
) (T, models.Grade, error) {
	var zero T
	budget := 1 + p.cfg.Generation.GradeMaxRetries

	var grade models.Grade
	for attempt := 1; attempt <= budget; attempt++ {
		value, err := ensureValue(ctx)
		if err != nil {
			return zero, models.Grade{}, err
		}

		grade, err = ensureGrade(ctx)
		if err != nil {
			return zero, models.Grade{}, err
		}

		if grade.Pass {
			return value, grade, nil
		}

		if attempt < budget {
			p.logger.Warn("Stage failed its grade, regenerating",
				"stage", s,
				"attempt", attempt,
				"budget", budget,
				"issues", grade.Issues)
			p.Invalidate(s)
		}
	}

	return zero, grade, &GradeError{Stage: s, Attempts: budget, Issues: grade.Issues}
}

package pipeline

import (
	"context"
	"errors"
	"testing"
)

func failThenPass(failures int) func(call int) string {
	return func(call int) string {
		if call <= failures {
			return gradeFail
		}
		return gradePass
	}
}

func TestGradedPlanRegeneratesOnFailingGrade(t *testing.T) {
	f := newFakeLLM(t)
	f.respondWith("GRADE_PLAN", failThenPass(1))
	p := newTestPipeline(t, f, t.TempDir(), "Recursion", 2)

	plan, grade, err := p.EnsureGradedPlan(context.Background())
	if err != nil {
		t.Fatalf("EnsureGradedPlan failed: %v", err)
	}
	if !grade.Pass {
		t.Error("Expected a passing final grade")
	}
	if plan.Title == "" {
		t.Error("Expected a plan on the passing attempt")
	}

	// One failing cycle plus one passing cycle
	if f.count("PLAN") != 2 || f.count("GRADE_PLAN") != 2 {
		t.Errorf("Expected 2 plan and 2 grade calls, got PLAN=%d GRADE_PLAN=%d",
			f.count("PLAN"), f.count("GRADE_PLAN"))
	}
	// The idea draft sits upstream of the invalidated stage and survives
	if f.count("IDEAS") != 1 {
		t.Errorf("Expected idea draft reused across regeneration, got %d calls", f.count("IDEAS"))
	}
}

func TestGradedPlanExhaustsBudget(t *testing.T) {
	f := newFakeLLM(t)
	f.static("GRADE_PLAN", gradeFail)
	p := newTestPipeline(t, f, t.TempDir(), "Recursion", 1)

	_, grade, err := p.EnsureGradedPlan(context.Background())

	var gradeErr *GradeError
	if !errors.As(err, &gradeErr) {
		t.Fatalf("Expected GradeError, got %v", err)
	}
	if gradeErr.Stage != StagePlan {
		t.Errorf("Expected stage %s in error, got %s", StagePlan, gradeErr.Stage)
	}
	if gradeErr.Attempts != 2 {
		t.Errorf("Expected 2 attempts with grade_max_retries=1, got %d", gradeErr.Attempts)
	}
	if len(gradeErr.Issues) == 0 || gradeErr.Issues[0] != "objectives too vague" {
		t.Errorf("Expected the grader's issues in the error, got %v", gradeErr.Issues)
	}
	if grade.Pass {
		t.Error("Expected the returned grade to be the failing one")
	}
	if f.count("PLAN") != 2 || f.count("GRADE_PLAN") != 2 {
		t.Errorf("Expected exactly budget-many cycles, got PLAN=%d GRADE_PLAN=%d",
			f.count("PLAN"), f.count("GRADE_PLAN"))
	}
}

func TestGradeZeroRetriesFailsImmediately(t *testing.T) {
	f := newFakeLLM(t)
	f.static("GRADE_PLAN", gradeFail)
	p := newTestPipeline(t, f, t.TempDir(), "Recursion", 0)

	_, _, err := p.EnsureGradedPlan(context.Background())

	var gradeErr *GradeError
	if !errors.As(err, &gradeErr) {
		t.Fatalf("Expected GradeError, got %v", err)
	}
	if gradeErr.Attempts != 1 {
		t.Errorf("Expected a single attempt with grade_max_retries=0, got %d", gradeErr.Attempts)
	}
	if f.count("PLAN") != 1 || f.count("GRADE_PLAN") != 1 {
		t.Errorf("Expected one cycle, got PLAN=%d GRADE_PLAN=%d",
			f.count("PLAN"), f.count("GRADE_PLAN"))
	}
}

func TestQuizGradeFailurePreservesUpstreamStages(t *testing.T) {
	f := newFakeLLM(t)
	f.respondWith("GRADE_QUIZ", failThenPass(1))
	p := newTestPipeline(t, f, t.TempDir(), "Recursion", 2)
	ctx := context.Background()

	if _, _, err := p.EnsureGradedPlan(ctx); err != nil {
		t.Fatalf("EnsureGradedPlan failed: %v", err)
	}
	if _, _, err := p.EnsureGradedQuiz(ctx); err != nil {
		t.Fatalf("EnsureGradedQuiz failed: %v", err)
	}

	// Regenerating the quiz must not touch the plan or the quiz ideas,
	// both of which sit before the invalidated stage
	if f.count("PLAN") != 1 || f.count("GRADE_PLAN") != 1 {
		t.Errorf("Expected the plan untouched, got PLAN=%d GRADE_PLAN=%d",
			f.count("PLAN"), f.count("GRADE_PLAN"))
	}
	if f.count("QUIZ_IDEAS") != 1 {
		t.Errorf("Expected quiz ideas reused, got %d calls", f.count("QUIZ_IDEAS"))
	}
	if f.count("QUIZ") != 2 || f.count("GRADE_QUIZ") != 2 {
		t.Errorf("Expected 2 quiz cycles, got QUIZ=%d GRADE_QUIZ=%d",
			f.count("QUIZ"), f.count("GRADE_QUIZ"))
	}
}

func TestPassingGradeIsMemoized(t *testing.T) {
	f := newFakeLLM(t)
	p := newTestPipeline(t, f, t.TempDir(), "Recursion", 2)
	ctx := context.Background()

	if _, _, err := p.EnsureGradedPlan(ctx); err != nil {
		t.Fatalf("EnsureGradedPlan failed: %v", err)
	}
	if _, _, err := p.EnsureGradedPlan(ctx); err != nil {
		t.Fatalf("Second EnsureGradedPlan failed: %v", err)
	}

	if f.count("PLAN") != 1 || f.count("GRADE_PLAN") != 1 {
		t.Errorf("Expected memoized plan and grade, got PLAN=%d GRADE_PLAN=%d",
			f.count("PLAN"), f.count("GRADE_PLAN"))
	}
}

package pipeline

import "testing"

func TestFromStage(t *testing.T) {
	all := FromStage(StageIdeas)
	if len(all) != len(StageOrder) {
		t.Errorf("Expected the first stage to cascade over all %d stages, got %d", len(StageOrder), len(all))
	}

	tail := FromStage(StageQuizzes)
	expected := []Stage{StageQuizzes, StageQuizGrade, StageProblemIdeas, StageProblems, StageProblemGrade}
	if len(tail) != len(expected) {
		t.Fatalf("Expected %d stages from %s, got %d", len(expected), StageQuizzes, len(tail))
	}
	for i, s := range expected {
		if tail[i] != s {
			t.Errorf("Position %d: expected %s, got %s", i, s, tail[i])
		}
	}

	last := FromStage(StageProblemGrade)
	if len(last) != 1 || last[0] != StageProblemGrade {
		t.Errorf("Expected the final stage to cascade only over itself, got %v", last)
	}

	if got := FromStage(Stage("bogus")); got != nil {
		t.Errorf("Expected nil for an unknown stage, got %v", got)
	}
}

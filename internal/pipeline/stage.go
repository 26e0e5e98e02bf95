// Package pipeline chains the dependent generation stages for one topic:
// free-text ideas feed a structured lesson plan, which feeds quizzes and
// coding problems, each gated by a grading call. Every stage output is
// cached in memory and checkpointed to disk so an interrupted run resumes
// without repeating completed work.
package pipeline

// Stage names one unit of pipeline work. Stages form a fixed total
// order; a stage's output is a function of all stages before it, so
// invalidating a stage invalidates everything after it.
type Stage string

const (
	StageIdeas        Stage = "ideas"
	StagePlan         Stage = "plan"
	StagePlanGrade    Stage = "plan_grade"
	StageQuizIdeas    Stage = "quiz_ideas"
	StageQuizzes      Stage = "quizzes"
	StageQuizGrade    Stage = "quiz_grade"
	StageProblemIdeas Stage = "problem_ideas"
	StageProblems     Stage = "problems"
	StageProblemGrade Stage = "problem_grade"
)

// StageOrder is the declared dependency order. Invalidation cascades are
// an index-range operation over this slice.
var StageOrder = []Stage{
	StageIdeas,
	StagePlan,
	StagePlanGrade,
	StageQuizIdeas,
	StageQuizzes,
	StageQuizGrade,
	StageProblemIdeas,
	StageProblems,
	StageProblemGrade,
}

// stageIndex returns the position of s in StageOrder, or -1
func stageIndex(s Stage) int {
	for i, stage := range StageOrder {
		if stage == s {
			return i
		}
	}
	return -1
}

// FromStage returns s and every stage ordered after it
func FromStage(s Stage) []Stage {
	idx := stageIndex(s)
	if idx < 0 {
		return nil
	}
	return StageOrder[idx:]
}

package models

import "time"

// LessonPlan is the structured plan produced for one topic
type LessonPlan struct {
	Title      string          `json:"title"`
	Audience   string          `json:"audience,omitempty"`
	Objectives []string        `json:"objectives"`
	Sections   []LessonSection `json:"sections"`
}

// LessonSection is one teaching unit within a lesson plan
type LessonSection struct {
	Heading  string   `json:"heading"`
	Summary  string   `json:"summary"`
	KeyIdeas []string `json:"key_ideas,omitempty"`
}

// Quiz is the full set of questions generated for a lesson plan
type Quiz struct {
	Questions []QuizQuestion `json:"questions"`
}

// QuizQuestion is a single multiple-choice question
type QuizQuestion struct {
	Prompt      string   `json:"prompt"`
	Choices     []string `json:"choices"`
	AnswerIndex int      `json:"answer_index"`
	Explanation string   `json:"explanation,omitempty"`
}

// CodingProblem is a single generated coding exercise
type CodingProblem struct {
	Title        string   `json:"title"`
	Statement    string   `json:"statement"`
	Difficulty   string   `json:"difficulty,omitempty"`
	Hints        []string `json:"hints,omitempty"`
	SampleInput  string   `json:"sample_input,omitempty"`
	SampleOutput string   `json:"sample_output,omitempty"`
}

// ProblemSet groups the coding problems for one topic
type ProblemSet struct {
	Problems []CodingProblem `json:"problems"`
}

// Grade is a pass/fail quality verdict from a grading model call
type Grade struct {
	Pass   bool     `json:"pass"`
	Issues []string `json:"issues"`
}

// Job is one independent unit of top-level work: generate all content
// for a single topic. IDs must be unique within a batch.
type Job struct {
	ID       string
	Topic    string
	Audience string
}

// TokenUsage accumulates token counts for one model
type TokenUsage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// Add returns the sum of two usage deltas
func (u TokenUsage) Add(d TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + d.PromptTokens,
		CompletionTokens: u.CompletionTokens + d.CompletionTokens,
		TotalTokens:      u.TotalTokens + d.TotalTokens,
	}
}

// SessionStats tracks statistics for a generation session
type SessionStats struct {
	StartTime       time.Time
	EndTime         time.Time
	TotalJobs       int
	SuccessCount    int
	FailureCount    int
	SkippedCount    int // Jobs already recorded complete in the run checkpoint
	TotalDuration   time.Duration
	AverageDuration time.Duration
}

package models

import "time"

// RunCheckpointVersion is the current run checkpoint format version.
// Snapshots with any other version are treated as unreadable.
const RunCheckpointVersion = 1

// RunCheckpoint tracks which top-level jobs have completed for a batch
// run. It records completion per job identifier only, never partial
// pipeline state; stage-level progress lives in per-topic stage
// checkpoint files owned by the pipeline.
type RunCheckpoint struct {
	Version       int                      `json:"version"`
	UpdatedAt     time.Time                `json:"updated_at"`
	Seed          *int64                   `json:"seed"`
	CompletedJobs map[string]JobCompletion `json:"completed_jobs"`
}

// JobCompletion records when a job finished
type JobCompletion struct {
	CompletedAt time.Time `json:"completed_at"`
}

// Package generate drives a whole batch run: it expands topics into
// jobs, skips work the run checkpoint already recorded, and fans the
// rest out over the job runner, one pipeline per topic.
package generate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"lessonforge/internal/checkpoint"
	"lessonforge/internal/config"
	"lessonforge/internal/grader"
	"lessonforge/internal/llm"
	"lessonforge/internal/metrics"
	"lessonforge/internal/pipeline"
	"lessonforge/internal/runner"
	"lessonforge/internal/scheduler"
	"lessonforge/internal/writer"
	"lessonforge/pkg/models"
)

// Batch owns the shared machinery for one run: a single scheduler and
// model client shared by every pipeline, the run checkpoint manager,
// and the artifact writer.
type Batch struct {
	runID     string
	cfg       *config.Config
	secrets   *config.Secrets
	session   *writer.SessionManager
	logger    *slog.Logger
	collector *metrics.Collector
	client    *llm.Client
	sched     *scheduler.Scheduler
	grader    *grader.Grader
	ckpt      *checkpoint.Manager // nil when checkpointing is disabled
	artifacts *writer.ArtifactWriter
	stats     models.SessionStats
}

// topicResult is what one job hands back to the batch
type topicResult struct {
	jobID     string
	questions int
	problems  int
}

// NewBatch wires up the batch machinery
func NewBatch(
	cfg *config.Config,
	secrets *config.Secrets,
	session *writer.SessionManager,
	logger *slog.Logger,
) (*Batch, error) {
	runID := uuid.NewString()
	logger = logger.With("run_id", runID)
	collector := metrics.NewCollector()
	client := llm.NewClient(logger)
	sched := scheduler.New(scheduler.Config{
		MaxParallel:      cfg.Scheduler.MaxParallel,
		MinStartInterval: time.Duration(cfg.Scheduler.MinStartIntervalMS) * time.Millisecond,
		MaxAttempts:      cfg.Scheduler.MaxAttempts,
		BaseBackoff:      time.Duration(cfg.Scheduler.BaseBackoffMS) * time.Millisecond,
		MaxBackoff:       time.Duration(cfg.Scheduler.MaxBackoffSeconds) * time.Second,
	}, logger, collector)

	var ckpt *checkpoint.Manager
	if cfg.Checkpoint.Enabled {
		var err error
		ckpt, err = checkpoint.Open(
			session.GetRunCheckpointDir(),
			time.Duration(cfg.Checkpoint.FlushIntervalSeconds)*time.Second,
			cfg.Checkpoint.RetainSnapshots,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to open run checkpoint: %w", err)
		}
	}

	artifacts, err := writer.NewArtifactWriter(session)
	if err != nil {
		if ckpt != nil {
			_ = ckpt.Close()
		}
		return nil, err
	}

	return &Batch{
		runID:     runID,
		cfg:       cfg,
		secrets:   secrets,
		session:   session,
		logger:    logger,
		collector: collector,
		client:    client,
		sched:     sched,
		grader:    grader.New(cfg, secrets, client, sched, logger),
		ckpt:      ckpt,
		artifacts: artifacts,
		stats:     models.SessionStats{StartTime: time.Now()},
	}, nil
}

// buildJobs expands configured topics into jobs, rejecting duplicates
func (b *Batch) buildJobs() ([]models.Job, error) {
	seen := make(map[string]bool, len(b.cfg.Generation.Topics))
	jobs := make([]models.Job, 0, len(b.cfg.Generation.Topics))
	for _, topic := range b.cfg.Generation.Topics {
		if seen[topic] {
			return nil, fmt.Errorf("duplicate topic in input: %q", topic)
		}
		seen[topic] = true
		jobs = append(jobs, models.Job{
			ID:       topic,
			Topic:    topic,
			Audience: b.cfg.Generation.Audience,
		})
	}
	return jobs, nil
}

// Run executes the whole batch. The seed consistency check happens
// before any job executes; a mismatch aborts the run.
func (b *Batch) Run(ctx context.Context) error {
	jobs, err := b.buildJobs()
	if err != nil {
		return err
	}
	b.stats.TotalJobs = len(jobs)

	var pending []models.Job
	if b.ckpt != nil {
		if err := b.ckpt.EnsureSeed(b.cfg.Checkpoint.Seed); err != nil {
			return err
		}

		ids := make([]string, len(jobs))
		for i, job := range jobs {
			ids[i] = job.ID
		}
		b.ckpt.PruneTo(ids)

		for _, job := range jobs {
			if b.ckpt.IsCompleted(job.ID) {
				b.stats.SkippedCount++
				continue
			}
			pending = append(pending, job)
		}
		if b.stats.SkippedCount > 0 {
			b.logger.Info("Resuming batch",
				"total", len(jobs),
				"completed", b.stats.SkippedCount,
				"pending", len(pending))
		}
	} else {
		pending = jobs
	}

	if len(pending) == 0 {
		b.logger.Info("Nothing to do, all jobs already completed")
		return nil
	}

	b.logger.Info("Starting generation batch",
		"jobs", len(pending),
		"concurrency", b.cfg.Generation.Concurrency,
		"scheduler_parallel", b.cfg.Scheduler.MaxParallel)

	progress := runner.NewProgress(len(pending), "Generating", b.logger)
	defer progress.Finish()

	_, runErr := runner.RunAll(ctx, pending, b.cfg.Generation.Concurrency, progress,
		func(ctx context.Context, _ int, job models.Job) (topicResult, error) {
			return b.runJob(ctx, job, progress)
		})

	b.finalize(progress, runErr)
	if runErr != nil {
		return fmt.Errorf("batch failed: %w", runErr)
	}
	return nil
}

// runJob drives one topic's pipeline end to end
func (b *Batch) runJob(ctx context.Context, job models.Job, progress *runner.Progress) (topicResult, error) {
	start := time.Now()
	jobLogger := b.logger.With("job_id", job.ID)

	p, err := pipeline.New(
		job.Topic,
		job.Audience,
		b.session.GetStageCheckpointDir(job.ID),
		b.cfg,
		b.secrets,
		b.client,
		b.sched,
		b.grader,
		jobLogger,
		b.collector,
		progress,
	)
	if err != nil {
		return topicResult{}, err
	}

	plan, _, err := p.EnsureGradedPlan(ctx)
	if err != nil {
		return topicResult{}, fmt.Errorf("topic %q: %w", job.Topic, err)
	}

	quiz, _, err := p.EnsureGradedQuiz(ctx)
	if err != nil {
		return topicResult{}, fmt.Errorf("topic %q: %w", job.Topic, err)
	}

	problems, _, err := p.EnsureGradedProblems(ctx)
	if err != nil {
		return topicResult{}, fmt.Errorf("topic %q: %w", job.Topic, err)
	}

	if err := b.artifacts.WriteTopicContent(job.ID, plan, quiz, problems); err != nil {
		return topicResult{}, fmt.Errorf("topic %q: %w", job.Topic, err)
	}
	if err := b.artifacts.WriteManifestEntry(writer.ManifestEntry{
		RunID:       b.runID,
		JobID:       job.ID,
		Topic:       job.Topic,
		CompletedAt: time.Now().UTC(),
		Questions:   len(quiz.Questions),
		Problems:    len(problems.Problems),
	}); err != nil {
		jobLogger.Warn("Failed to append manifest entry", "error", err)
	}

	if b.ckpt != nil {
		b.ckpt.MarkCompleted(job.ID)
	}

	jobLogger.Info("Topic complete",
		"duration", time.Since(start),
		"questions", len(quiz.Questions),
		"problems", len(problems.Problems))
	return topicResult{jobID: job.ID, questions: len(quiz.Questions), problems: len(problems.Problems)}, nil
}

func (b *Batch) finalize(progress *runner.Progress, runErr error) {
	snapshot := progress.GetSnapshot()
	b.stats.EndTime = time.Now()
	b.stats.TotalDuration = b.stats.EndTime.Sub(b.stats.StartTime)
	b.stats.SuccessCount = snapshot.Completed - snapshot.Failures
	b.stats.FailureCount = snapshot.Failures
	if b.stats.SuccessCount > 0 {
		b.stats.AverageDuration = b.stats.TotalDuration / time.Duration(b.stats.SuccessCount)
	}

	for model, usage := range snapshot.Usage {
		b.logger.Info("Model usage",
			"model", model,
			"prompt_tokens", usage.PromptTokens,
			"completion_tokens", usage.CompletionTokens)
	}
	b.logger.Info("Batch summary",
		"total", b.stats.TotalJobs,
		"skipped", b.stats.SkippedCount,
		"succeeded", b.stats.SuccessCount,
		"failed", b.stats.FailureCount,
		"duration", b.stats.TotalDuration,
		"had_error", runErr != nil)
}

// Close flushes the run checkpoint and closes artifact files
func (b *Batch) Close() {
	if b.ckpt != nil {
		if err := b.ckpt.Close(); err != nil {
			b.logger.Error("Failed to flush run checkpoint on shutdown", "error", err)
		}
	}
	if err := b.artifacts.Close(); err != nil {
		b.logger.Warn("Failed to close artifact writer", "error", err)
	}
}

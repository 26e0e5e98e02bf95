package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"lessonforge/internal/config"
	"lessonforge/internal/grader"
	"lessonforge/internal/llm"
	"lessonforge/internal/metrics"
	"lessonforge/internal/scheduler"
)

// Source tags where a cached stage value came from
type Source string

const (
	SourceCheckpoint Source = "checkpoint"
	SourceGenerated  Source = "generated"
)

// Reporter receives model call lifecycle events from the pipeline.
// The runner's progress display implements it.
type Reporter interface {
	Log(message string)
	StartModelCall(model string) int
	RecordModelUsage(handle int, usage llm.Usage)
	FinishModelCall(handle int)
}

// nopReporter discards all events
type nopReporter struct{}

func (nopReporter) Log(string) {}

func (nopReporter) StartModelCall(string) int { return 0 }

func (nopReporter) RecordModelUsage(int, llm.Usage) {}

func (nopReporter) FinishModelCall(int) {}

// cacheEntry holds one stage's validated output for the rest of the run
type cacheEntry struct {
	raw    json.RawMessage
	source Source
	path   string // checkpoint file it was restored from, if any
}

// Pipeline owns the stage caches for one topic. It is not safe for
// concurrent use; each job constructs its own instance.
type Pipeline struct {
	topic    string
	audience string
	dir      string // stage checkpoint directory, unique per topic

	cfg       *config.Config
	secrets   *config.Secrets
	client    *llm.Client
	sched     *scheduler.Scheduler
	grader    *grader.Grader
	logger    *slog.Logger
	collector *metrics.Collector
	reporter  Reporter

	cache map[Stage]*cacheEntry
}

// New creates a pipeline for one topic. checkpointDir must be unique to
// the topic; distinct jobs must never share one. collector and reporter
// may be nil.
func New(
	topic string,
	audience string,
	checkpointDir string,
	cfg *config.Config,
	secrets *config.Secrets,
	client *llm.Client,
	sched *scheduler.Scheduler,
	gr *grader.Grader,
	logger *slog.Logger,
	collector *metrics.Collector,
	reporter Reporter,
) (*Pipeline, error) {
	if err := os.MkdirAll(checkpointDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create stage checkpoint directory: %w", err)
	}
	if reporter == nil {
		reporter = nopReporter{}
	}
	return &Pipeline{
		topic:     topic,
		audience:  audience,
		dir:       checkpointDir,
		cfg:       cfg,
		secrets:   secrets,
		client:    client,
		sched:     sched,
		grader:    gr,
		logger:    logger.With("topic", topic),
		collector: collector,
		reporter:  reporter,
		cache:     make(map[Stage]*cacheEntry),
	}, nil
}

// Topic returns the run identity key for this pipeline
func (p *Pipeline) Topic() string { return p.topic }

// Cached reports whether a stage value is held in memory, and its source
func (p *Pipeline) Cached(s Stage) (Source, bool) {
	entry, ok := p.cache[s]
	if !ok {
		return "", false
	}
	return entry.source, true
}

// Invalidate clears stage s and every stage ordered after it, removing
// both in-memory values and checkpoint files. Stages before s are left
// untouched.
func (p *Pipeline) Invalidate(s Stage) {
	for _, stage := range FromStage(s) {
		if _, ok := p.cache[stage]; ok {
			delete(p.cache, stage)
		}
		path := p.stagePath(stage)
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				p.logger.Warn("Failed to remove stage checkpoint", "stage", stage, "path", path, "error", err)
			}
			continue
		}
		p.logger.Debug("Stage checkpoint removed", "stage", stage, "path", path)
	}
}

func (p *Pipeline) stagePath(s Stage) string {
	return filepath.Join(p.dir, string(s)+".json")
}

// writeStageCheckpoint persists a stage value with the topic embedded
// so a run over a different topic never reuses it. Write is atomic:
// temp file then rename.
func (p *Pipeline) writeStageCheckpoint(s Stage, raw json.RawMessage) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("stage %s value is not an object: %w", s, err)
	}
	topicJSON, err := json.Marshal(p.topic)
	if err != nil {
		return err
	}
	fields["topic"] = topicJSON

	data, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal stage checkpoint: %w", err)
	}

	path := p.stagePath(s)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp stage checkpoint: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename stage checkpoint: %w", err)
	}
	return nil
}

// readStageCheckpoint restores a stage value from disk. A missing file,
// a topic mismatch, or an invalid shape all degrade to "absent": the
// stage regenerates instead of crashing.
func (p *Pipeline) readStageCheckpoint(s Stage, v llm.Validator) (json.RawMessage, bool) {
	path := p.stagePath(s)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			p.logger.Warn("Failed to read stage checkpoint", "stage", s, "path", path, "error", err)
		}
		return nil, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		p.logger.Warn("Discarding corrupt stage checkpoint", "stage", s, "path", path, "error", err)
		return nil, false
	}

	var topic string
	if err := json.Unmarshal(fields["topic"], &topic); err != nil || topic != p.topic {
		p.logger.Warn("Discarding stage checkpoint for different topic",
			"stage", s, "path", path, "checkpoint_topic", topic)
		return nil, false
	}
	delete(fields, "topic")

	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, false
	}
	if v != nil {
		if err := v.Validate(raw); err != nil {
			p.logger.Warn("Discarding stage checkpoint with invalid shape",
				"stage", s, "path", path, "error", err)
			return nil, false
		}
	}

	p.logger.Info("Stage restored from checkpoint", "stage", s, "path", path)
	return raw, true
}

// ensureStage is the memoized accessor shared by every stage: memory
// first, then a validated checkpoint, then generation. Idempotent within
// a run; a second call never issues another model call.
func ensureStage[T any](
	ctx context.Context,
	p *Pipeline,
	s Stage,
	v llm.Validator,
	generate func(context.Context) (T, error),
) (T, error) {
	var zero T

	if entry, ok := p.cache[s]; ok {
		var value T
		if err := json.Unmarshal(entry.raw, &value); err != nil {
			return zero, fmt.Errorf("stage %s cache corrupted: %w", s, err)
		}
		return value, nil
	}

	if raw, ok := p.readStageCheckpoint(s, v); ok {
		var value T
		if err := json.Unmarshal(raw, &value); err == nil {
			p.cache[s] = &cacheEntry{raw: raw, source: SourceCheckpoint, path: p.stagePath(s)}
			return value, nil
		}
		p.logger.Warn("Stage checkpoint did not unmarshal, regenerating", "stage", s)
	}

	start := time.Now()
	value, err := generate(ctx)
	if err != nil {
		return zero, err
	}
	if p.collector != nil {
		p.collector.RecordStageDuration(string(s), time.Since(start))
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal stage %s output: %w", s, err)
	}
	if err := p.writeStageCheckpoint(s, raw); err != nil {
		// Forward progress matters more than the checkpoint
		p.logger.Warn("Failed to write stage checkpoint", "stage", s, "error", err)
	}
	p.cache[s] = &cacheEntry{raw: raw, source: SourceGenerated}
	return value, nil
}

// generateCall renders a prompt template, schedules one generator-model
// call through the shared scheduler, and reports usage.
func (p *Pipeline) generateCall(
	ctx context.Context,
	tmpl string,
	data map[string]interface{},
	v llm.Validator,
) (*llm.Result, error) {
	prompt, err := renderPrompt(tmpl, data)
	if err != nil {
		return nil, err
	}

	generatorModel := p.cfg.Models["generator"]
	apiKey := p.secrets.GetAPIKey(generatorModel.BaseURL)

	messages := []llm.Message{}
	if p.cfg.PromptTemplates.GeneratorSystem != "" {
		messages = append(messages, llm.Message{
			Role:    "system",
			Content: p.cfg.PromptTemplates.GeneratorSystem,
		})
	}
	messages = append(messages, llm.Message{Role: "user", Content: prompt})

	handle := p.reporter.StartModelCall(generatorModel.ModelName)
	defer p.reporter.FinishModelCall(handle)

	result, err := scheduler.Schedule(ctx, p.sched, func(ctx context.Context) (*llm.Result, error) {
		return p.client.Generate(ctx, generatorModel, apiKey, messages, v)
	})
	if err != nil {
		return nil, err
	}

	p.reporter.RecordModelUsage(handle, result.Usage)
	if p.collector != nil {
		p.collector.RecordTokenUsage(result.Model, result.Usage.PromptTokens, result.Usage.CompletionTokens)
	}
	return result, nil
}

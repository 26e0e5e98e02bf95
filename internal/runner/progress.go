package runner

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"lessonforge/internal/llm"
	"lessonforge/pkg/models"
)

// throughputWindow is how far back the rolling tokens/second looks
const throughputWindow = 30 * time.Second

// Progress is the live telemetry surface handed to each job handler.
// It satisfies the pipeline's Reporter interface.
type Progress struct {
	logger *slog.Logger
	bar    *progressbar.ProgressBar

	mu         sync.Mutex
	total      int
	completed  int
	failures   int
	running    int
	activeCall int // model calls currently in flight
	nextHandle int
	handles    map[int]string // handle -> model name
	usage      map[string]models.TokenUsage
	samples    []usageSample
}

type usageSample struct {
	at     time.Time
	tokens int64
}

// Snapshot is a point-in-time view of batch progress
type Snapshot struct {
	Completed       int
	Failures        int
	Running         int
	Waiting         int
	ActiveCalls     int
	TokensPerSecond float64
	Usage           map[string]models.TokenUsage
}

// NewProgress creates a progress reporter for a batch of total jobs
func NewProgress(total int, description string, logger *slog.Logger) *Progress {
	return &Progress{
		logger:  logger,
		bar:     progressbar.Default(int64(total), description),
		total:   total,
		handles: make(map[int]string),
		usage:   make(map[string]models.TokenUsage),
	}
}

func (p *Progress) jobStarted() {
	p.mu.Lock()
	p.running++
	p.mu.Unlock()
}

func (p *Progress) jobFinished(err error) {
	p.mu.Lock()
	p.running--
	p.completed++
	if err != nil {
		p.failures++
	}
	p.mu.Unlock()
	_ = p.bar.Add(1)
}

// Log emits a message without disturbing the progress display
func (p *Progress) Log(message string) {
	p.logger.Info(message)
}

// StartModelCall registers an in-flight model call and returns a handle
// for usage reporting
func (p *Progress) StartModelCall(model string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextHandle++
	handle := p.nextHandle
	p.handles[handle] = model
	p.activeCall++
	return handle
}

// RecordModelUsage attributes a token usage delta to the call's model
// and feeds the rolling throughput window
func (p *Progress) RecordModelUsage(handle int, usage llm.Usage) {
	delta := models.TokenUsage{
		PromptTokens:     int64(usage.PromptTokens),
		CompletionTokens: int64(usage.CompletionTokens),
		TotalTokens:      int64(usage.TotalTokens),
	}

	p.mu.Lock()
	model, ok := p.handles[handle]
	if !ok {
		p.mu.Unlock()
		return
	}
	p.usage[model] = p.usage[model].Add(delta)
	p.samples = append(p.samples, usageSample{at: time.Now(), tokens: delta.TotalTokens})
	p.pruneSamplesLocked(time.Now())
	rate := p.tokensPerSecondLocked(time.Now())
	p.mu.Unlock()

	p.bar.Describe(fmt.Sprintf("Generating (%.0f tok/s)", rate))
}

// FinishModelCall releases a call handle
func (p *Progress) FinishModelCall(handle int) {
	p.mu.Lock()
	if _, ok := p.handles[handle]; ok {
		delete(p.handles, handle)
		p.activeCall--
	}
	p.mu.Unlock()
}

// GetSnapshot returns current counters and throughput
func (p *Progress) GetSnapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	usage := make(map[string]models.TokenUsage, len(p.usage))
	for model, u := range p.usage {
		usage[model] = u
	}
	waiting := p.total - p.completed - p.running
	if waiting < 0 {
		waiting = 0
	}
	return Snapshot{
		Completed:       p.completed,
		Failures:        p.failures,
		Running:         p.running,
		Waiting:         waiting,
		ActiveCalls:     p.activeCall,
		TokensPerSecond: p.tokensPerSecondLocked(time.Now()),
		Usage:           usage,
	}
}

// Finish completes the progress display
func (p *Progress) Finish() {
	_ = p.bar.Finish()
}

func (p *Progress) pruneSamplesLocked(now time.Time) {
	cutoff := now.Add(-throughputWindow)
	i := 0
	for ; i < len(p.samples); i++ {
		if p.samples[i].at.After(cutoff) {
			break
		}
	}
	p.samples = p.samples[i:]
}

func (p *Progress) tokensPerSecondLocked(now time.Time) float64 {
	p.pruneSamplesLocked(now)
	if len(p.samples) == 0 {
		return 0
	}
	var total int64
	for _, s := range p.samples {
		total += s.tokens
	}
	elapsed := now.Sub(p.samples[0].at).Seconds()
	if elapsed < 1 {
		elapsed = 1
	}
	return float64(total) / elapsed
}

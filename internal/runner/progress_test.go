package runner

import (
	"log/slog"
	"os"
	"testing"

	"lessonforge/internal/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestProgressTracksUsagePerModel(t *testing.T) {
	p := NewProgress(2, "test", testLogger())
	defer p.Finish()

	h1 := p.StartModelCall("generator-model")
	p.RecordModelUsage(h1, llm.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150})
	p.FinishModelCall(h1)

	h2 := p.StartModelCall("generator-model")
	p.RecordModelUsage(h2, llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15})
	p.FinishModelCall(h2)

	h3 := p.StartModelCall("grader-model")
	p.RecordModelUsage(h3, llm.Usage{PromptTokens: 20, CompletionTokens: 10, TotalTokens: 30})
	p.FinishModelCall(h3)

	snap := p.GetSnapshot()
	gen := snap.Usage["generator-model"]
	if gen.PromptTokens != 110 || gen.CompletionTokens != 55 || gen.TotalTokens != 165 {
		t.Errorf("Unexpected generator usage: %+v", gen)
	}
	grader := snap.Usage["grader-model"]
	if grader.TotalTokens != 30 {
		t.Errorf("Unexpected grader usage: %+v", grader)
	}
	if snap.TokensPerSecond <= 0 {
		t.Errorf("Expected positive throughput, got %f", snap.TokensPerSecond)
	}
}

func TestProgressHandlesAreDistinct(t *testing.T) {
	p := NewProgress(1, "test", testLogger())
	defer p.Finish()

	h1 := p.StartModelCall("model-a")
	h2 := p.StartModelCall("model-b")
	if h1 == h2 {
		t.Fatalf("Expected distinct handles, both are %d", h1)
	}

	if snap := p.GetSnapshot(); snap.ActiveCalls != 2 {
		t.Errorf("Expected 2 active calls, got %d", snap.ActiveCalls)
	}

	p.FinishModelCall(h1)
	p.FinishModelCall(h1) // double finish must not go negative
	if snap := p.GetSnapshot(); snap.ActiveCalls != 1 {
		t.Errorf("Expected 1 active call, got %d", snap.ActiveCalls)
	}
}

func TestProgressIgnoresUsageForUnknownHandle(t *testing.T) {
	p := NewProgress(1, "test", testLogger())
	defer p.Finish()

	p.RecordModelUsage(999, llm.Usage{TotalTokens: 100})
	if snap := p.GetSnapshot(); len(snap.Usage) != 0 {
		t.Errorf("Expected no usage recorded for an unknown handle, got %v", snap.Usage)
	}
}

func TestProgressJobCounters(t *testing.T) {
	p := NewProgress(3, "test", testLogger())
	defer p.Finish()

	p.jobStarted()
	p.jobStarted()
	if snap := p.GetSnapshot(); snap.Running != 2 || snap.Waiting != 1 {
		t.Errorf("Expected 2 running and 1 waiting, got %+v", snap)
	}

	p.jobFinished(nil)
	p.jobFinished(os.ErrDeadlineExceeded)
	snap := p.GetSnapshot()
	if snap.Completed != 2 {
		t.Errorf("Expected 2 completed, got %d", snap.Completed)
	}
	if snap.Failures != 1 {
		t.Errorf("Expected 1 failure, got %d", snap.Failures)
	}
	if snap.Running != 0 {
		t.Errorf("Expected 0 running, got %d", snap.Running)
	}
}

package writer

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// SessionManager manages session directories and files
type SessionManager struct {
	sessionDir string
	logger     *slog.Logger
}

// NewSessionManager creates a session directory, or reopens an existing
// one when resuming
func NewSessionManager(logger *slog.Logger, resumeFromSession string) (*SessionManager, error) {
	outputDir := "output"
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var sessionDir string
	if resumeFromSession != "" {
		sessionDir = filepath.Join(outputDir, resumeFromSession)
		if _, err := os.Stat(sessionDir); os.IsNotExist(err) {
			return nil, fmt.Errorf("session directory not found: %s", sessionDir)
		}
		logger.Info("Resuming from existing session", "path", sessionDir)
	} else {
		timestamp := time.Now().Format("2006-01-02T15-04-05")
		sessionDir = filepath.Join(outputDir, "session_"+timestamp)
		if err := os.MkdirAll(sessionDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create session directory: %w", err)
		}
		logger.Info("Created new session directory", "path", sessionDir)
	}

	return &SessionManager{
		sessionDir: sessionDir,
		logger:     logger,
	}, nil
}

// GetSessionDir returns the session directory path
func (sm *SessionManager) GetSessionDir() string {
	return sm.sessionDir
}

// GetLogPath returns the full path to the session log file
func (sm *SessionManager) GetLogPath() string {
	return filepath.Join(sm.sessionDir, "session.log")
}

// GetRunCheckpointDir returns the directory for run checkpoint snapshots
func (sm *SessionManager) GetRunCheckpointDir() string {
	return filepath.Join(sm.sessionDir, "run_checkpoint")
}

// GetStageCheckpointDir returns the per-topic stage checkpoint
// directory. Distinct topics get distinct directories so concurrent
// jobs never contend for files.
func (sm *SessionManager) GetStageCheckpointDir(jobID string) string {
	return filepath.Join(sm.sessionDir, "stages", sanitizePathComponent(jobID))
}

// GetTopicDir returns the artifact directory for one topic
func (sm *SessionManager) GetTopicDir(jobID string) string {
	return filepath.Join(sm.sessionDir, "content", sanitizePathComponent(jobID))
}

// GetManifestPath returns the path to the batch manifest file
func (sm *SessionManager) GetManifestPath() string {
	return filepath.Join(sm.sessionDir, "manifest.jsonl")
}

var unsafePathChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// sanitizePathComponent maps an arbitrary job id to a safe directory name
func sanitizePathComponent(s string) string {
	s = unsafePathChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, "._")
	if s == "" {
		s = "job"
	}
	return s
}

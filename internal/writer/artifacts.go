package writer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"lessonforge/pkg/models"
)

// ArtifactWriter renders and persists generated content for one session.
// WriteManifestEntry is safe for concurrent use; topic artifacts go to
// per-topic directories and never contend.
type ArtifactWriter struct {
	session *SessionManager

	mu       sync.Mutex
	manifest *os.File
}

// ManifestEntry is one line of the batch manifest
type ManifestEntry struct {
	RunID       string    `json:"run_id"`
	JobID       string    `json:"job_id"`
	Topic       string    `json:"topic"`
	CompletedAt time.Time `json:"completed_at"`
	Questions   int       `json:"questions"`
	Problems    int       `json:"problems"`
}

// NewArtifactWriter opens the manifest for appending
func NewArtifactWriter(session *SessionManager) (*ArtifactWriter, error) {
	f, err := os.OpenFile(session.GetManifestPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	return &ArtifactWriter{session: session, manifest: f}, nil
}

// WriteTopicContent writes the lesson markdown plus raw JSON artifacts
// for one completed topic
func (w *ArtifactWriter) WriteTopicContent(
	jobID string,
	plan models.LessonPlan,
	quiz models.Quiz,
	problems models.ProblemSet,
) error {
	dir := w.session.GetTopicDir(jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create topic directory: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "lesson.md"), []byte(RenderLessonMarkdown(plan, quiz, problems)), 0644); err != nil {
		return fmt.Errorf("failed to write lesson markdown: %w", err)
	}

	for name, v := range map[string]interface{}{
		"plan.json":     plan,
		"quiz.json":     quiz,
		"problems.json": problems,
	} {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}

	return nil
}

// WriteManifestEntry appends one completed topic to the manifest
func (w *ArtifactWriter) WriteManifestEntry(entry ManifestEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest entry: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.manifest.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append manifest entry: %w", err)
	}
	return nil
}

// Close flushes and closes the manifest
func (w *ArtifactWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.manifest.Close()
}

// RenderLessonMarkdown renders the full lesson document for one topic
func RenderLessonMarkdown(plan models.LessonPlan, quiz models.Quiz, problems models.ProblemSet) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", plan.Title)
	if plan.Audience != "" {
		fmt.Fprintf(&b, "*Audience: %s*\n\n", plan.Audience)
	}

	if len(plan.Objectives) > 0 {
		b.WriteString("## Learning Objectives\n\n")
		for _, obj := range plan.Objectives {
			fmt.Fprintf(&b, "- %s\n", obj)
		}
		b.WriteString("\n")
	}

	for i, section := range plan.Sections {
		fmt.Fprintf(&b, "## %d. %s\n\n%s\n\n", i+1, section.Heading, section.Summary)
		for _, idea := range section.KeyIdeas {
			fmt.Fprintf(&b, "- %s\n", idea)
		}
		if len(section.KeyIdeas) > 0 {
			b.WriteString("\n")
		}
	}

	if len(quiz.Questions) > 0 {
		b.WriteString("## Quiz\n\n")
		for i, q := range quiz.Questions {
			fmt.Fprintf(&b, "**Q%d. %s**\n\n", i+1, q.Prompt)
			for j, choice := range q.Choices {
				fmt.Fprintf(&b, "%c. %s\n", 'A'+j, choice)
			}
			if q.AnswerIndex >= 0 && q.AnswerIndex < len(q.Choices) {
				fmt.Fprintf(&b, "\n<details><summary>Answer</summary>%c", 'A'+q.AnswerIndex)
				if q.Explanation != "" {
					fmt.Fprintf(&b, ": %s", q.Explanation)
				}
				b.WriteString("</details>\n")
			}
			b.WriteString("\n")
		}
	}

	if len(problems.Problems) > 0 {
		b.WriteString("## Coding Problems\n\n")
		for i, prob := range problems.Problems {
			fmt.Fprintf(&b, "### Problem %d: %s\n\n%s\n\n", i+1, prob.Title, prob.Statement)
			if prob.Difficulty != "" {
				fmt.Fprintf(&b, "*Difficulty: %s*\n\n", prob.Difficulty)
			}
			if prob.SampleInput != "" {
				fmt.Fprintf(&b, "```\nInput:\n%s\nOutput:\n%s\n```\n\n", prob.SampleInput, prob.SampleOutput)
			}
			for _, hint := range prob.Hints {
				fmt.Fprintf(&b, "> Hint: %s\n", hint)
			}
			if len(prob.Hints) > 0 {
				b.WriteString("\n")
			}
		}
	}

	return b.String()
}

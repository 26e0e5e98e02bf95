package llm

import (
	"encoding/json"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain object",
			input:    `{"title": "Recursion"}`,
			expected: `{"title": "Recursion"}`,
		},
		{
			name:     "fenced json block",
			input:    "Here is the plan:\n```json\n{\"title\": \"Recursion\"}\n```\nDone.",
			expected: `{"title": "Recursion"}`,
		},
		{
			name:     "fence without language tag",
			input:    "```\n[\"a\", \"b\"]\n```",
			expected: `["a", "b"]`,
		},
		{
			name:     "object with surrounding prose",
			input:    `Sure! {"pass": true, "issues": []} Hope that helps.`,
			expected: `{"pass": true, "issues": []}`,
		},
		{
			name:     "array before object",
			input:    `["one", "two"] trailing {"x": 1}`,
			expected: `["one", "two"]`,
		},
		{
			name:     "nested brackets inside strings",
			input:    `{"note": "use arr[0] and {braces}", "n": 1}`,
			expected: `{"note": "use arr[0] and {braces}", "n": 1}`,
		},
		{
			name:     "truncated object gets closed",
			input:    `{"title": "Recursion", "body": "cut off here`,
			expected: `{"title": "Recursion", "body": "cut off here}`,
		},
		{
			name:     "truncated array gets closed",
			input:    `["alpha", "beta",`,
			expected: `["alpha", "beta"]`,
		},
		{
			name:     "no json at all",
			input:    "I cannot help with that.",
			expected: "I cannot help with that.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractJSON(tt.input)
			if got != tt.expected {
				t.Errorf("ExtractJSON(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSanitizeJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "newline inside string",
			input:    "{\"body\": \"line one\nline two\"}",
			expected: `{"body": "line one\nline two"}`,
		},
		{
			name:     "crlf inside string",
			input:    "{\"body\": \"a\r\nb\"}",
			expected: `{"body": "a\nb"}`,
		},
		{
			name:     "newlines outside strings untouched",
			input:    "{\n\"a\": 1\n}",
			expected: "{\n\"a\": 1\n}",
		},
		{
			name:     "already escaped newline untouched",
			input:    `{"body": "a\nb"}`,
			expected: `{"body": "a\nb"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeJSON(tt.input)
			if got != tt.expected {
				t.Errorf("SanitizeJSON(%q) = %q, want %q", tt.input, got, tt.expected)
			}
			if !json.Valid([]byte(got)) {
				t.Errorf("Sanitized output is not valid JSON: %q", got)
			}
		})
	}
}

func TestValidators(t *testing.T) {
	if err := ObjectWithKeys("title", "sections").Validate([]byte(`{"title": "x", "sections": []}`)); err != nil {
		t.Errorf("Expected valid object to pass: %v", err)
	}
	if err := ObjectWithKeys("title").Validate([]byte(`{"other": 1}`)); err == nil {
		t.Error("Expected missing key to fail validation")
	}
	if err := ObjectWithKeys("title").Validate([]byte(`not json`)); err == nil {
		t.Error("Expected invalid JSON to fail validation")
	}

	if err := NonEmptyStringArray(2).Validate([]byte(`["a", "b", "c"]`)); err != nil {
		t.Errorf("Expected valid array to pass: %v", err)
	}
	if err := NonEmptyStringArray(2).Validate([]byte(`["a"]`)); err == nil {
		t.Error("Expected short array to fail validation")
	}
	if err := NonEmptyStringArray(1).Validate([]byte(`["a", ""]`)); err == nil {
		t.Error("Expected blank element to fail validation")
	}
}

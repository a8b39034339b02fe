package export

import (
	"strings"
	"testing"
	"time"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Biology Review", "Biology-Review"},
		{"Chapter 4 Quiz v1.2", "Chapter-4-Quiz-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "transcript"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},       // Spaces encoded as %20, not +
		{"test+sign", "test%2Bsign"},           // + signs are encoded
		{"special<>", "special%3C%3E"},         // Special chars encoded
		{"normal-text.txt", "normal-text.txt"}, // Unreserved chars pass through
		{"héllo", "h%C3%A9llo"},           // Multibyte runes encode per UTF-8 byte
		{"", ""},                               // Empty string
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRenderTranscriptHTML(t *testing.T) {
	data := TemplateData{
		Title:       "Photosynthesis Q&A",
		SpaceType:   "chat",
		FolderTitle: "Biology 101",
		CreatedAt:   time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC),
		Messages: []TemplateMessage{
			{Role: "user", Content: "What is photosynthesis?", CreatedAt: time.Date(2025, 3, 10, 9, 31, 0, 0, time.UTC)},
			{Role: "assistant", Content: "It converts light into chemical energy.", CreatedAt: time.Date(2025, 3, 10, 9, 31, 5, 0, time.UTC)},
		},
	}

	html, err := RenderTranscriptHTML(data)
	if err != nil {
		t.Fatalf("RenderTranscriptHTML() error = %v", err)
	}

	if !strings.Contains(html, "Photosynthesis Q&amp;A") && !strings.Contains(html, "Photosynthesis Q&A") {
		t.Error("HTML missing title")
	}
	if !strings.Contains(html, "Biology 101") {
		t.Error("HTML missing folder title")
	}
	if !strings.Contains(html, "What is photosynthesis?") {
		t.Error("HTML missing user message")
	}
	if !strings.Contains(html, "It converts light into chemical energy.") {
		t.Error("HTML missing assistant message")
	}
}

func TestRenderTranscriptHTMLEmptySpace(t *testing.T) {
	data := TemplateData{
		Title:       "Empty Notes",
		SpaceType:   "notes",
		FolderTitle: "Chemistry",
		CreatedAt:   time.Now(),
	}

	html, err := RenderTranscriptHTML(data)
	if err != nil {
		t.Fatalf("RenderTranscriptHTML() error = %v", err)
	}
	if !strings.Contains(html, "No messages yet") {
		t.Error("expected empty-transcript placeholder")
	}
}

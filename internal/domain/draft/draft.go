// Package draft defines the terminal draft artifact and its per-thread
// version chain.
package draft

import "time"

// Type classifies what kind of draft is being produced.
type Type string

const (
	TypeEmail           Type = "email"
	TypeMeetingSummary  Type = "meeting_summary"
	TypeDocumentSummary Type = "document_summary"
	TypeGeneric         Type = "generic"
)

// StylePreferences are per-user drafting preferences.
type StylePreferences struct {
	Tone      string `json:"tone"`
	Formality string `json:"formality"`
	Length    string `json:"length"`
}

// DefaultStyle returns the preferences used when none have been learned.
func DefaultStyle() StylePreferences {
	return StylePreferences{
		Tone:      "professional",
		Formality: "standard",
		Length:    "concise",
	}
}

// Completeness is the result of validating a draft against type-specific
// heuristics.
type Completeness struct {
	Score       float64  `json:"score"`
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	IsComplete  bool     `json:"is_complete"`
}

// Version is one entry in a thread's draft history. Version numbers for a
// thread are strictly increasing and never reused.
type Version struct {
	ThreadID      string    `json:"thread_id"`
	Number        int       `json:"version_number"`
	Content       string    `json:"content"`
	Source        string    `json:"source"` // event type that produced it
	ParentVersion int       `json:"parent_version,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Draft is the terminal artifact of one response cycle.
type Draft struct {
	ThreadID     string       `json:"thread_id"`
	Content      string       `json:"content"`
	Type         Type         `json:"type"`
	Version      int          `json:"version"`
	QualityScore float64      `json:"quality_score"`
	WordCount    int          `json:"word_count"`
	CharCount    int          `json:"char_count"`
	IsError      bool         `json:"is_error"`
	Completeness Completeness `json:"completeness"`
	CreatedAt    time.Time    `json:"created_at"`
}

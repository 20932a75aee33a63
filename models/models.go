package models

import (
	"errors"
	"time"
)

// ErrSessionNotFound is returned when a chat session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Mode tags a chat message with the agent that produced it.
type Mode string

const (
	ModeChat         Mode = "chat"
	ModeSearch       Mode = "search"
	ModeDeepResearch Mode = "deepResearch"
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeChat, ModeSearch, ModeDeepResearch:
		return true
	}
	return false
}

// Research statuses recorded on assistant messages.
const (
	ResearchStatusFinished = "finished"
	ResearchStatusFailed   = "failed"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatSession struct {
	ID        string    `json:"id" db:"id"`
	SeqID     int       `json:"seq_id" db:"seq_id"`
	Title     string    `json:"title" db:"title"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type ChatMessage struct {
	ID                    int64               `json:"id"`
	SessionID             string              `json:"sessionId"`
	Role                  string              `json:"role"`
	Content               string              `json:"content"`
	FileCount             int                 `json:"fileCount,omitempty"`
	AccumulatedTokenUsage int                 `json:"accumulatedTokenUsage,omitempty"`
	Mode                  Mode                `json:"mode,omitempty"`
	ResearchStatus        string              `json:"researchStatus,omitempty"`
	DeepResearchResult    *DeepResearchResult `json:"deepResearchResult,omitempty"`
}

// DeepResearchResult is the persisted bundle of a finished research run.
type DeepResearchResult struct {
	ID             int64          `json:"id,omitempty"`
	SessionID      string         `json:"sessionId"`
	MessageID      int64          `json:"messageId"`
	ResearchTarget string         `json:"researchTarget"`
	Report         string         `json:"report"`
	Tasks          []ResearchTask `json:"tasks"`
}

// ResearchTask is a task row of a research bundle. ID is the row identifier,
// TaskID the identifier the task had inside the run.
type ResearchTask struct {
	ID           string         `json:"id"`
	TaskID       string         `json:"taskId"`
	Description  string         `json:"description"`
	NeedSearch   bool           `json:"needSearch"`
	Result       string         `json:"result"`
	SearchResult []SearchResult `json:"searchResult"`
}

// SearchResult is one retrieved document.
type SearchResult struct {
	Title         string  `json:"title"`
	SourceURL     string  `json:"sourceUrl"`
	Content       string  `json:"content"`
	RelativeScore float64 `json:"relativeScore"`
}

package research

import "github.com/fupingyezi/mini-DeepResearch/models"

// SearchResult is one retrieved document attached to a task.
type SearchResult = models.SearchResult

// Status is the lifecycle position of a task.
type Status string

const (
	StatusPending       Status = "pending"
	StatusSearched      Status = "searched"
	StatusProcessed     Status = "processed"
	StatusFailedAttempt Status = "failed_attempt"
)

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusSearched:
		return 1
	case StatusProcessed:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusFailedAttempt || s.rank() >= 0
}

// CanTransition reports whether a task in status s may move to next.
// Staying put is always allowed. failed_attempt is terminal and reachable
// only from pending or searched.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	if !next.Valid() {
		return false
	}
	if s == StatusFailedAttempt {
		return false
	}
	if next == StatusFailedAttempt {
		return s == StatusPending || s == StatusSearched
	}
	return next.rank() > s.rank()
}

// Task is a unit of research work.
type Task struct {
	ID           string         `json:"id"`
	Description  string         `json:"description"`
	NeedSearch   bool           `json:"needSearch"`
	Status       Status         `json:"status"`
	SearchResult []SearchResult `json:"searchResult"`
	Result       string         `json:"result"`
}

// ReadyToProcess reports whether the task can go to the processing step.
func (t Task) ReadyToProcess() bool {
	return t.Status == StatusSearched || (t.Status == StatusPending && !t.NeedSearch)
}

// NeedsSearch reports whether the task is waiting for retrieval.
func (t Task) NeedsSearch() bool {
	return t.Status == StatusPending && t.NeedSearch
}

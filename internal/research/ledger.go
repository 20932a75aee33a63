package research

// TaskUpdate is a partial write to one task of the ledger. Nil fields are
// left untouched by MergeTasks.
type TaskUpdate struct {
	ID           string
	Description  *string
	NeedSearch   *bool
	Status       *Status
	SearchResult []SearchResult
	Result       *string
}

// FullUpdate returns an update that writes every field of t.
func FullUpdate(t Task) TaskUpdate {
	u := TaskUpdate{
		ID:          t.ID,
		Description: &t.Description,
		NeedSearch:  &t.NeedSearch,
		Status:      &t.Status,
		Result:      &t.Result,
	}
	if t.SearchResult != nil {
		u.SearchResult = append([]SearchResult{}, t.SearchResult...)
	}
	return u
}

// StatusUpdate returns an update that only moves the status of task id.
func StatusUpdate(id string, status Status) TaskUpdate {
	return TaskUpdate{ID: id, Status: &status}
}

// WithResult sets the result field on u.
func (u TaskUpdate) WithResult(result string) TaskUpdate {
	u.Result = &result
	return u
}

// WithSearchResult sets the search result field on u.
func (u TaskUpdate) WithSearchResult(results []SearchResult) TaskUpdate {
	if results == nil {
		results = []SearchResult{}
	}
	u.SearchResult = results
	return u
}

// MergeTasks applies updates to ledger by task id. Known ids are updated field
// by field, unknown ids are appended in the order they are first seen. A
// status write that would regress the task is dropped. The input ledger is
// not modified.
func MergeTasks(ledger []Task, updates []TaskUpdate) []Task {
	out := make([]Task, len(ledger), len(ledger)+len(updates))
	copy(out, ledger)
	index := make(map[string]int, len(out))
	for i, t := range out {
		index[t.ID] = i
	}
	for _, u := range updates {
		if u.ID == "" {
			continue
		}
		i, ok := index[u.ID]
		if !ok {
			out = append(out, Task{ID: u.ID, Status: StatusPending})
			i = len(out) - 1
			index[u.ID] = i
		}
		out[i] = applyUpdate(out[i], u)
	}
	return out
}

func applyUpdate(t Task, u TaskUpdate) Task {
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.NeedSearch != nil {
		t.NeedSearch = *u.NeedSearch
	}
	if u.Status != nil && t.Status.CanTransition(*u.Status) {
		t.Status = *u.Status
	}
	if u.SearchResult != nil {
		t.SearchResult = append([]SearchResult{}, u.SearchResult...)
	}
	if u.Result != nil {
		t.Result = *u.Result
	}
	return t
}

// FindTask returns the task with id and whether it exists.
func FindTask(tasks []Task, id string) (Task, bool) {
	for _, t := range tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// AllProcessed reports whether tasks is non-empty and every task is processed.
func AllProcessed(tasks []Task) bool {
	if len(tasks) == 0 {
		return false
	}
	for _, t := range tasks {
		if t.Status != StatusProcessed {
			return false
		}
	}
	return true
}

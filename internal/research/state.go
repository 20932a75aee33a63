package research

// Message is a conversation note accumulated during a run.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// State is the full graph state of one deep-research run.
type State struct {
	Input             string    `json:"input"`
	Messages          []Message `json:"messages"`
	ResearchTarget    string    `json:"researchTarget"`
	SimpleAnalysis    string    `json:"simpleAnalysis"`
	Tasks             []Task    `json:"tasks"`
	NextAction        string    `json:"nextAction"`
	Summary           string    `json:"summary"`
	DecomposeAttempts int       `json:"decomposeAttempts"`
}

// NewState returns the initial state for input.
func NewState(input string) State {
	return State{Input: input, Messages: []Message{}, Tasks: []Task{}}
}

// Patch is the partial state a node returns. Nil pointers and nil slices
// mean "not provided".
type Patch struct {
	Messages          []Message
	ResearchTarget    *string
	SimpleAnalysis    *string
	Tasks             []TaskUpdate
	NextAction        *string
	Summary           *string
	DecomposeAttempts *int
}

// Empty reports whether p carries no writes.
func (p Patch) Empty() bool {
	return len(p.Messages) == 0 && len(p.Tasks) == 0 &&
		p.ResearchTarget == nil && p.SimpleAnalysis == nil &&
		p.NextAction == nil && p.Summary == nil && p.DecomposeAttempts == nil
}

// Merge applies p to s using the per-field reducers: tasks merge by id,
// messages concatenate, scalars overwrite when provided.
func Merge(s State, p Patch) State {
	out := s
	if len(p.Messages) > 0 {
		out.Messages = make([]Message, 0, len(s.Messages)+len(p.Messages))
		out.Messages = append(out.Messages, s.Messages...)
		out.Messages = append(out.Messages, p.Messages...)
	}
	if len(p.Tasks) > 0 {
		out.Tasks = MergeTasks(s.Tasks, p.Tasks)
	}
	if p.ResearchTarget != nil {
		out.ResearchTarget = *p.ResearchTarget
	}
	if p.SimpleAnalysis != nil {
		out.SimpleAnalysis = *p.SimpleAnalysis
	}
	if p.NextAction != nil {
		out.NextAction = *p.NextAction
	}
	if p.Summary != nil {
		out.Summary = *p.Summary
	}
	if p.DecomposeAttempts != nil {
		out.DecomposeAttempts = *p.DecomposeAttempts
	}
	return out
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.Messages = append([]Message(nil), s.Messages...)
	out.Tasks = make([]Task, len(s.Tasks))
	for i, t := range s.Tasks {
		t.SearchResult = append([]SearchResult(nil), t.SearchResult...)
		out.Tasks[i] = t
	}
	return out
}

func ptr[T any](v T) *T { return &v }

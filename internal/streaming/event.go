// Package streaming turns graph snapshots into client events and carries
// them over server-sent events.
package streaming

import (
	"encoding/json"
	"time"

	"github.com/fupingyezi/mini-DeepResearch/internal/research"
)

// Event types on the wire.
const (
	TypeStart        = "start"
	TypeStartAnalyse = "start_analyse"
	TypeTasksInitial = "tasks_initial"
	TypeTaskUpdate   = "task_update"
	TypeSummary      = "summary"
	TypeContent      = "content"
	TypeDone         = "done"
	TypeError        = "error"
)

// GenerationFailed is the client-facing text of an error frame.
const GenerationFailed = "生成失败"

// Event is one SSE frame body.
type Event struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	TimeStamp int64           `json:"timeStamp,omitempty"`
	Content   string          `json:"content,omitempty"`
	Role      string          `json:"role,omitempty"`
	ID        string          `json:"id,omitempty"`
}

// AnalysePayload is the payload of a start_analyse event.
type AnalysePayload struct {
	SimpleAnalysis string `json:"simpleAnalysis"`
	ResearchTarget string `json:"researchTarget"`
}

func withPayload(typ string, v any) Event {
	raw, err := json.Marshal(v)
	if err != nil {
		// payloads are plain structs and strings
		panic(err)
	}
	return Event{Type: typ, Payload: raw}
}

func Start(now time.Time) Event {
	return Event{Type: TypeStart, TimeStamp: now.UnixMilli()}
}

func StartAnalyse(simpleAnalysis, researchTarget string) Event {
	return withPayload(TypeStartAnalyse, AnalysePayload{SimpleAnalysis: simpleAnalysis, ResearchTarget: researchTarget})
}

func TasksInitial(tasks []research.Task) Event {
	if tasks == nil {
		tasks = []research.Task{}
	}
	return withPayload(TypeTasksInitial, tasks)
}

func TaskUpdate(task research.Task) Event {
	return withPayload(TypeTaskUpdate, task)
}

func Summary(summary string) Event {
	return withPayload(TypeSummary, summary)
}

func Content(id, role, content string) Event {
	return Event{Type: TypeContent, ID: id, Role: role, Content: content}
}

func Done() Event { return Event{Type: TypeDone} }

// Error builds an error frame. The cause is logged server side only.
func Error() Event { return Event{Type: TypeError, Content: GenerationFailed} }

// DecodeAnalyse, DecodeTasks, DecodeTask and DecodeSummary read typed payloads.
func DecodeAnalyse(e Event) (AnalysePayload, error) {
	var p AnalysePayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

func DecodeTasks(e Event) ([]research.Task, error) {
	var tasks []research.Task
	err := json.Unmarshal(e.Payload, &tasks)
	return tasks, err
}

func DecodeTask(e Event) (research.Task, error) {
	var t research.Task
	err := json.Unmarshal(e.Payload, &t)
	return t, err
}

func DecodeSummary(e Event) (string, error) {
	var s string
	err := json.Unmarshal(e.Payload, &s)
	return s, err
}

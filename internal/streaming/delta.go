package streaming

import "github.com/fupingyezi/mini-DeepResearch/internal/research"

// Extractor derives client events from consecutive states.
type Extractor struct {
	// OnMultipleTaskChanges is called when one transition changed the
	// status of more than one task. Extract reports only the first.
	OnMultipleTaskChanges func(n int)
}

// Extract returns the single highest-priority event between prev and cur:
// start_analyse, then tasks_initial, then task_update, then summary. prev is
// nil for the first state of a run.
func (x Extractor) Extract(prev *research.State, cur research.State) (Event, bool) {
	ev, ok, changed := extract(prev, cur)
	if changed > 1 && x.OnMultipleTaskChanges != nil {
		x.OnMultipleTaskChanges(changed)
	}
	return ev, ok
}

// Drain returns every event between prev and cur in priority order by
// folding each extracted event into a working copy of prev.
func (x Extractor) Drain(prev *research.State, cur research.State) []Event {
	var work research.State
	if prev != nil {
		work = prev.Clone()
	}
	started := prev != nil
	var out []Event
	for {
		var p *research.State
		if started {
			p = &work
		}
		ev, ok, changed := extract(p, cur)
		if !ok {
			return out
		}
		if len(out) == 0 && changed > 1 && x.OnMultipleTaskChanges != nil {
			x.OnMultipleTaskChanges(changed)
		}
		out = append(out, ev)
		work = fold(work, cur, ev)
		started = true
	}
}

// Extract uses a zero Extractor.
func Extract(prev *research.State, cur research.State) (Event, bool) {
	return Extractor{}.Extract(prev, cur)
}

// Drain uses a zero Extractor.
func Drain(prev *research.State, cur research.State) []Event {
	return Extractor{}.Drain(prev, cur)
}

func extract(prev *research.State, cur research.State) (Event, bool, int) {
	if cur.SimpleAnalysis != "" && (prev == nil || prev.SimpleAnalysis != cur.SimpleAnalysis) {
		return StartAnalyse(cur.SimpleAnalysis, cur.ResearchTarget), true, 0
	}
	if len(cur.Tasks) > 0 && (prev == nil || len(prev.Tasks) == 0) {
		return TasksInitial(cur.Tasks), true, 0
	}
	if prev != nil {
		var first *research.Task
		changed := 0
		for i := range cur.Tasks {
			before, ok := research.FindTask(prev.Tasks, cur.Tasks[i].ID)
			if !ok || before.Status == cur.Tasks[i].Status {
				continue
			}
			changed++
			if first == nil {
				first = &cur.Tasks[i]
			}
		}
		if first != nil {
			return TaskUpdate(*first), true, changed
		}
	}
	if cur.Summary != "" && (prev == nil || prev.Summary != cur.Summary) {
		return Summary(cur.Summary), true, 0
	}
	return Event{}, false, 0
}

// fold applies the transition reported by ev from cur onto work.
func fold(work, cur research.State, ev Event) research.State {
	switch ev.Type {
	case TypeStartAnalyse:
		work.SimpleAnalysis = cur.SimpleAnalysis
		work.ResearchTarget = cur.ResearchTarget
	case TypeTasksInitial:
		work.Tasks = cur.Clone().Tasks
	case TypeTaskUpdate:
		t, _ := DecodeTask(ev)
		tasks := append([]research.Task(nil), work.Tasks...)
		for i := range tasks {
			if tasks[i].ID == t.ID {
				tasks[i] = t
			}
		}
		work.Tasks = tasks
	case TypeSummary:
		work.Summary = cur.Summary
	}
	return work
}

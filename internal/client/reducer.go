package client

import (
	"strings"

	"github.com/fupingyezi/mini-DeepResearch/internal/research"
	"github.com/fupingyezi/mini-DeepResearch/internal/streaming"
	"github.com/fupingyezi/mini-DeepResearch/models"
)

// Research is the research progress as the client has seen it.
type Research struct {
	SimpleAnalysis string
	ResearchTarget string
	Tasks          []research.Task
	Report         string
}

// reducer folds frames into the assistant content. content frames are
// appended in every mode; the research frames only matter in deepResearch.
type reducer struct {
	deep    bool
	content string
	view    Research
}

func newReducer(mode models.Mode) *reducer {
	return &reducer{deep: mode == models.ModeDeepResearch}
}

func (r *reducer) apply(ev streaming.Event) error {
	switch ev.Type {
	case streaming.TypeContent:
		r.content += ev.Content
		return nil
	}
	if !r.deep {
		return nil
	}
	switch ev.Type {
	case streaming.TypeStartAnalyse:
		p, err := streaming.DecodeAnalyse(ev)
		if err != nil {
			return err
		}
		r.view.SimpleAnalysis = p.SimpleAnalysis
		r.view.ResearchTarget = p.ResearchTarget
		r.content += p.SimpleAnalysis
	case streaming.TypeTasksInitial:
		tasks, err := streaming.DecodeTasks(ev)
		if err != nil {
			return err
		}
		r.view.Tasks = tasks
	case streaming.TypeTaskUpdate:
		t, err := streaming.DecodeTask(ev)
		if err != nil {
			return err
		}
		for i := range r.view.Tasks {
			if r.view.Tasks[i].ID == t.ID {
				r.view.Tasks[i] = t
			}
		}
	case streaming.TypeSummary:
		s, err := streaming.DecodeSummary(ev)
		if err != nil {
			return err
		}
		r.view.Report = s
		if r.content != "" && !strings.HasSuffix(r.content, "\n") {
			r.content += "\n\n"
		}
		r.content += s
	}
	return nil
}

func (r *reducer) research() *Research {
	v := r.view
	v.Tasks = append([]research.Task(nil), r.view.Tasks...)
	return &v
}

// result is the bundle to persist, or nil when no report arrived.
func (r *reducer) result(sessionID string, messageID int64) *models.DeepResearchResult {
	if strings.TrimSpace(r.view.Report) == "" {
		return nil
	}
	tasks := make([]models.ResearchTask, 0, len(r.view.Tasks))
	for _, t := range r.view.Tasks {
		tasks = append(tasks, models.ResearchTask{
			TaskID:       t.ID,
			Description:  t.Description,
			NeedSearch:   t.NeedSearch,
			Result:       t.Result,
			SearchResult: t.SearchResult,
		})
	}
	return &models.DeepResearchResult{
		SessionID:      sessionID,
		MessageID:      messageID,
		ResearchTarget: r.view.ResearchTarget,
		Report:         r.view.Report,
		Tasks:          tasks,
	}
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fupingyezi/mini-DeepResearch/models"
)

type messageRow struct {
	ID                    int64  `db:"id"`
	SessionID             string `db:"session_id"`
	Role                  string `db:"role"`
	Content               string `db:"content"`
	FileCount             int    `db:"file_count"`
	AccumulatedTokenUsage int    `db:"accumulated_token_usage"`
	Mode                  string `db:"mode"`
	ResearchStatus        string `db:"research_status"`
}

type resultRow struct {
	ID             int64  `db:"id"`
	SessionID      string `db:"session_id"`
	MessageID      int64  `db:"message_id"`
	ResearchTarget string `db:"research_target"`
	Report         string `db:"report"`
}

type taskRow struct {
	ID          string         `db:"id"`
	TaskID      string         `db:"task_id"`
	Description string         `db:"description"`
	NeedSearch  bool           `db:"need_search"`
	Result      sql.NullString `db:"result"`
}

type searchResultRow struct {
	Title         sql.NullString  `db:"title"`
	SourceURL     sql.NullString  `db:"source_url"`
	Content       sql.NullString  `db:"content"`
	RelativeScore sql.NullFloat64 `db:"relative_score"`
}

// hasBundle reports whether m carries a research bundle that is persisted
// alongside it.
func hasBundle(m models.ChatMessage) bool {
	return m.Mode == models.ModeDeepResearch && m.ResearchStatus == models.ResearchStatusFinished && m.DeepResearchResult != nil
}

// AddMessages writes a batch of messages in one transaction. Finished deep
// research messages also write their result, tasks and search results.
// Every touched session has its updated_at bumped.
func (s *Store) AddMessages(ctx context.Context, msgs []models.ChatMessage) (err error) {
	if len(msgs) == 0 {
		return ErrNoMessages
	}
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var sessions []string
	seen := map[string]bool{}
	for _, m := range msgs {
		if err = insertMessage(ctx, tx, m); err != nil {
			return err
		}
		if !seen[m.SessionID] {
			seen[m.SessionID] = true
			sessions = append(sessions, m.SessionID)
		}
	}
	for _, id := range sessions {
		if _, err = tx.ExecContext(ctx, `UPDATE chat_session SET updated_at=NOW() WHERE id=$1`, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertMessage(ctx context.Context, tx *sqlx.Tx, m models.ChatMessage) error {
	mode := m.Mode
	if mode == "" {
		mode = models.ModeChat
	}
	status := m.ResearchStatus
	if status == "" {
		status = models.ResearchStatusFailed
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO chat_message (id, session_id, role, content, file_count, accumulated_token_usage, mode, research_status) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		m.ID, m.SessionID, m.Role, m.Content, m.FileCount, m.AccumulatedTokenUsage, string(mode), status)
	if err != nil {
		return fmt.Errorf("insert message %d: %w", m.ID, err)
	}
	if !hasBundle(m) {
		return nil
	}

	dr := m.DeepResearchResult
	var resultID int64
	err = tx.QueryRowxContext(ctx, `INSERT INTO deep_research_result (session_id, message_id, research_target, report) VALUES ($1,$2,$3,$4) RETURNING id`,
		m.SessionID, m.ID, strings.TrimSpace(dr.ResearchTarget), strings.TrimSpace(dr.Report)).Scan(&resultID)
	if err != nil {
		return fmt.Errorf("insert research result: %w", err)
	}
	for _, t := range dr.Tasks {
		rowID := t.ID
		if rowID == "" {
			rowID = uuid.NewString()
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO research_task (id, task_id, research_result_id, description, need_search, result) VALUES ($1,$2,$3,$4,$5,$6)`,
			rowID, t.TaskID, resultID, strings.TrimSpace(t.Description), t.NeedSearch, nullableString(strings.TrimSpace(t.Result)))
		if err != nil {
			return fmt.Errorf("insert research task %s: %w", t.TaskID, err)
		}
		for _, sr := range t.SearchResult {
			_, err = tx.ExecContext(ctx, `INSERT INTO research_task_search_result (task_id, title, source_url, content, relative_score) VALUES ($1,$2,$3,$4,$5)`,
				rowID, nullableString(sr.Title), nullableString(sr.SourceURL), nullableString(sr.Content), sr.RelativeScore)
			if err != nil {
				return fmt.Errorf("insert search result: %w", err)
			}
		}
	}
	return nil
}

// GetCurrentMessages returns the messages of a session ordered by id.
// Finished deep research messages carry their bundle.
func (s *Store) GetCurrentMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	var rows []messageRow
	if err := s.DB.SelectContext(ctx, &rows, `SELECT id, session_id, role, content, file_count, accumulated_token_usage, mode, research_status FROM chat_message WHERE session_id=$1 ORDER BY id`, sessionID); err != nil {
		return nil, err
	}
	out := make([]models.ChatMessage, 0, len(rows))
	for _, r := range rows {
		m := models.ChatMessage{
			ID:                    r.ID,
			SessionID:             r.SessionID,
			Role:                  r.Role,
			Content:               r.Content,
			FileCount:             r.FileCount,
			AccumulatedTokenUsage: r.AccumulatedTokenUsage,
			Mode:                  models.Mode(r.Mode),
			ResearchStatus:        r.ResearchStatus,
		}
		if m.Mode == models.ModeDeepResearch && m.ResearchStatus == models.ResearchStatusFinished {
			dr, err := s.GetDeepResearchResult(ctx, m.SessionID, m.ID)
			switch {
			case err == nil:
				m.DeepResearchResult = dr
			case !errors.Is(err, ErrResultNotFound):
				return nil, err
			}
		}
		out = append(out, m)
	}
	return out, nil
}

// GetDeepResearchResult loads the bundle of one message. Tasks come back in
// insertion order and each task's search results by descending score.
func (s *Store) GetDeepResearchResult(ctx context.Context, sessionID string, messageID int64) (*models.DeepResearchResult, error) {
	var r resultRow
	err := s.DB.GetContext(ctx, &r, `SELECT id, session_id, message_id, research_target, report FROM deep_research_result WHERE session_id=$1 AND message_id=$2`, sessionID, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, err
	}

	var tasks []taskRow
	if err := s.DB.SelectContext(ctx, &tasks, `SELECT id, task_id, description, need_search, result FROM research_task WHERE research_result_id=$1 ORDER BY created_at ASC`, r.ID); err != nil {
		return nil, err
	}
	out := &models.DeepResearchResult{
		ID:             r.ID,
		SessionID:      r.SessionID,
		MessageID:      r.MessageID,
		ResearchTarget: r.ResearchTarget,
		Report:         r.Report,
		Tasks:          make([]models.ResearchTask, 0, len(tasks)),
	}
	for _, t := range tasks {
		var srs []searchResultRow
		if err := s.DB.SelectContext(ctx, &srs, `SELECT title, source_url, content, relative_score FROM research_task_search_result WHERE task_id=$1 ORDER BY relative_score DESC NULLS LAST`, t.ID); err != nil {
			return nil, err
		}
		task := models.ResearchTask{
			ID:           t.ID,
			TaskID:       t.TaskID,
			Description:  t.Description,
			NeedSearch:   t.NeedSearch,
			Result:       t.Result.String,
			SearchResult: make([]models.SearchResult, 0, len(srs)),
		}
		for _, sr := range srs {
			task.SearchResult = append(task.SearchResult, models.SearchResult{
				Title:         sr.Title.String,
				SourceURL:     sr.SourceURL.String,
				Content:       sr.Content.String,
				RelativeScore: sr.RelativeScore.Float64,
			})
		}
		out.Tasks = append(out.Tasks, task)
	}
	return out, nil
}

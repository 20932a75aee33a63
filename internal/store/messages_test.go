package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/fupingyezi/mini-DeepResearch/models"
)

const (
	insertMessageSQL = `INSERT INTO chat_message (id, session_id, role, content, file_count, accumulated_token_usage, mode, research_status) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	insertResultSQL  = `INSERT INTO deep_research_result (session_id, message_id, research_target, report) VALUES ($1,$2,$3,$4) RETURNING id`
	insertTaskSQL    = `INSERT INTO research_task (id, task_id, research_result_id, description, need_search, result) VALUES ($1,$2,$3,$4,$5,$6)`
	insertSearchSQL  = `INSERT INTO research_task_search_result (task_id, title, source_url, content, relative_score) VALUES ($1,$2,$3,$4,$5)`
	touchSessionSQL  = `UPDATE chat_session SET updated_at=NOW() WHERE id=$1`
)

func researchPair() []models.ChatMessage {
	return []models.ChatMessage{
		{ID: 1, SessionID: "s1", Role: models.RoleUser, Content: "蜂鸟的最高时速", Mode: models.ModeDeepResearch},
		{
			ID: 2, SessionID: "s1", Role: models.RoleAssistant, Content: "报告",
			Mode: models.ModeDeepResearch, ResearchStatus: models.ResearchStatusFinished,
			DeepResearchResult: &models.DeepResearchResult{
				ResearchTarget: "蜂鸟速度",
				Report:         "蜂鸟最高时速约 50 公里。",
				Tasks: []models.ResearchTask{{
					ID: "row-1", TaskID: "1", Description: "查找蜂鸟速度", NeedSearch: true, Result: "约 50 km/h",
					SearchResult: []models.SearchResult{{Title: "蜂鸟", SourceURL: "https://zoo.example/hb", Content: "c", RelativeScore: 0.92}},
				}},
			},
		},
	}
}

func TestAddMessagesWritesBundleInOneTx(t *testing.T) {
	st, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertMessageSQL)).
		WithArgs(int64(1), "s1", "user", "蜂鸟的最高时速", 0, 0, "deepResearch", "failed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertMessageSQL)).
		WithArgs(int64(2), "s1", "assistant", "报告", 0, 0, "deepResearch", "finished").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(insertResultSQL)).
		WithArgs("s1", int64(2), "蜂鸟速度", "蜂鸟最高时速约 50 公里。").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec(regexp.QuoteMeta(insertTaskSQL)).
		WithArgs("row-1", "1", int64(7), "查找蜂鸟速度", true, "约 50 km/h").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertSearchSQL)).
		WithArgs("row-1", "蜂鸟", "https://zoo.example/hb", "c", 0.92).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(touchSessionSQL)).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := st.AddMessages(context.Background(), researchPair()); err != nil {
		t.Fatalf("AddMessages: %v", err)
	}
	expectationsMet(t, mock)
}

func TestAddMessagesRollsBackOnFailure(t *testing.T) {
	st, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertMessageSQL)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertMessageSQL)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(insertResultSQL)).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := st.AddMessages(context.Background(), researchPair())
	if err == nil {
		t.Fatalf("expected error")
	}
	expectationsMet(t, mock)
}

func TestAddMessagesEmpty(t *testing.T) {
	st, _ := newMock(t)
	if err := st.AddMessages(context.Background(), nil); !errors.Is(err, ErrNoMessages) {
		t.Fatalf("expected ErrNoMessages, got %v", err)
	}
}

func TestAddMessagesFailedResearchSkipsBundle(t *testing.T) {
	st, mock := newMock(t)
	msg := researchPair()[1]
	msg.ResearchStatus = models.ResearchStatusFailed

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertMessageSQL)).
		WithArgs(int64(2), "s1", "assistant", "报告", 0, 0, "deepResearch", "failed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(touchSessionSQL)).WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := st.AddMessages(context.Background(), []models.ChatMessage{msg}); err != nil {
		t.Fatalf("AddMessages: %v", err)
	}
	expectationsMet(t, mock)
}

func TestGetDeepResearchResult(t *testing.T) {
	st, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, session_id, message_id, research_target, report FROM deep_research_result WHERE session_id=$1 AND message_id=$2`)).
		WithArgs("s1", int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "message_id", "research_target", "report"}).
			AddRow(int64(7), "s1", int64(2), "蜂鸟速度", "报告"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, task_id, description, need_search, result FROM research_task WHERE research_result_id=$1 ORDER BY created_at ASC`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "task_id", "description", "need_search", "result"}).
			AddRow("row-1", "1", "查找蜂鸟速度", true, "约 50 km/h").
			AddRow("row-2", "2", "总结", false, nil))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM research_task_search_result WHERE task_id=$1 ORDER BY relative_score DESC`)).
		WithArgs("row-1").
		WillReturnRows(sqlmock.NewRows([]string{"title", "source_url", "content", "relative_score"}).
			AddRow("a", "https://a", "ca", 0.9).
			AddRow("b", "https://b", nil, 0.4))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM research_task_search_result WHERE task_id=$1 ORDER BY relative_score DESC`)).
		WithArgs("row-2").
		WillReturnRows(sqlmock.NewRows([]string{"title", "source_url", "content", "relative_score"}))

	got, err := st.GetDeepResearchResult(context.Background(), "s1", 2)
	if err != nil {
		t.Fatalf("GetDeepResearchResult: %v", err)
	}
	if len(got.Tasks) != 2 || got.Tasks[0].TaskID != "1" || got.Tasks[1].Result != "" {
		t.Fatalf("unexpected tasks %+v", got.Tasks)
	}
	if len(got.Tasks[0].SearchResult) != 2 || got.Tasks[0].SearchResult[1].Content != "" {
		t.Fatalf("unexpected search results %+v", got.Tasks[0].SearchResult)
	}
	if got.Tasks[1].SearchResult == nil {
		t.Fatalf("expected non-nil empty search results")
	}
	expectationsMet(t, mock)
}

func TestGetDeepResearchResultNotFound(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectQuery(`FROM deep_research_result`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "message_id", "research_target", "report"}))

	if _, err := st.GetDeepResearchResult(context.Background(), "s1", 9); !errors.Is(err, ErrResultNotFound) {
		t.Fatalf("expected ErrResultNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestGetCurrentMessagesSkipsMissingBundle(t *testing.T) {
	st, mock := newMock(t)
	cols := []string{"id", "session_id", "role", "content", "file_count", "accumulated_token_usage", "mode", "research_status"}
	mock.ExpectQuery(regexp.QuoteMeta(`FROM chat_message WHERE session_id=$1 ORDER BY id`)).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(1), "s1", "user", "q", 0, 0, "deepResearch", "failed").
			AddRow(int64(2), "s1", "assistant", "a", 0, 0, "deepResearch", "finished"))
	mock.ExpectQuery(`FROM deep_research_result`).
		WithArgs("s1", int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "message_id", "research_target", "report"}))

	got, err := st.GetCurrentMessages(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetCurrentMessages: %v", err)
	}
	if len(got) != 2 || got[1].DeepResearchResult != nil || got[1].Mode != models.ModeDeepResearch {
		t.Fatalf("unexpected messages %+v", got)
	}
	expectationsMet(t, mock)
}

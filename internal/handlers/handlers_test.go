package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Stonelukas/curator/internal/common"
	"github.com/Stonelukas/curator/internal/interfaces"
	"github.com/Stonelukas/curator/internal/models"
)

type fakeAutomation struct {
	active    bool
	startErr  error
	cancelled bool
	phase     models.RunPhase
}

func (a *fakeAutomation) Start(ctx context.Context) (*interfaces.RunHandle, error) {
	if a.startErr != nil {
		return nil, a.startErr
	}
	done := make(chan struct{})
	close(done)
	return &interfaces.RunHandle{ID: "run-1", Done: done}, nil
}

func (a *fakeAutomation) Cancel()                { a.cancelled = true }
func (a *fakeAutomation) Active() bool           { return a.active }
func (a *fakeAutomation) Phase() models.RunPhase { return a.phase }

type fakeStatus struct {
	status     *models.RecordStatus
	refreshErr error
	refreshed  bool
	completion *models.CompletionSummary
}

func (s *fakeStatus) Refresh(ctx context.Context) (*models.RecordStatus, error) {
	s.refreshed = true
	if s.refreshErr != nil {
		return nil, s.refreshErr
	}
	return s.status, nil
}

func (s *fakeStatus) Current() *models.RecordStatus { return s.status }
func (s *fakeStatus) ApplyEvent(kind interfaces.StatusEventKind, payload map[string]interface{}) {
}
func (s *fakeStatus) Subscribe(sub interfaces.StatusSubscriber) int { return 0 }
func (s *fakeStatus) Unsubscribe(id int)                            {}
func (s *fakeStatus) Completion() *models.CompletionSummary         { return s.completion }

type fakeHistory struct {
	entries   []models.RunEntry
	importN   int
	importErr error
	cleared   bool
}

func (h *fakeHistory) Append(ctx context.Context, entry models.RunEntry) (*models.RunEntry, error) {
	return &entry, nil
}
func (h *fakeHistory) ForRecord(ctx context.Context, recordID string) []models.RunEntry {
	out := []models.RunEntry{}
	for _, e := range h.entries {
		if e.RecordID == recordID {
			out = append(out, e)
		}
	}
	return out
}
func (h *fakeHistory) All(ctx context.Context) []models.RunEntry { return h.entries }
func (h *fakeHistory) Statistics(ctx context.Context) models.HistoryStatistics {
	return models.HistoryStatistics{TotalRuns: len(h.entries)}
}
func (h *fakeHistory) Prune(ctx context.Context, maxAgeDays int) (int, error) { return 0, nil }
func (h *fakeHistory) Clear(ctx context.Context) error {
	h.cleared = true
	return nil
}
func (h *fakeHistory) Export(ctx context.Context) (*models.HistoryExport, error) {
	return &models.HistoryExport{Version: "1", History: h.entries}, nil
}
func (h *fakeHistory) Import(ctx context.Context, data []byte) (int, error) {
	return h.importN, h.importErr
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestStartHandler(t *testing.T) {
	handler := NewAutomationHandler(&fakeAutomation{}, common.GetLogger())

	rec := httptest.NewRecorder()
	handler.StartHandler(rec, httptest.NewRequest(http.MethodPost, "/api/automation/start", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "started", body["status"])
	assert.Equal(t, "run-1", body["run_id"])
}

func TestStartHandlerConflictWhileActive(t *testing.T) {
	handler := NewAutomationHandler(&fakeAutomation{startErr: interfaces.ErrRunActive}, common.GetLogger())

	rec := httptest.NewRecorder()
	handler.StartHandler(rec, httptest.NewRequest(http.MethodPost, "/api/automation/start", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStartHandlerRejectsGet(t *testing.T) {
	handler := NewAutomationHandler(&fakeAutomation{}, common.GetLogger())

	rec := httptest.NewRecorder()
	handler.StartHandler(rec, httptest.NewRequest(http.MethodGet, "/api/automation/start", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCancelHandler(t *testing.T) {
	automation := &fakeAutomation{active: true}
	handler := NewAutomationHandler(automation, common.GetLogger())

	rec := httptest.NewRecorder()
	handler.CancelHandler(rec, httptest.NewRequest(http.MethodPost, "/api/automation/cancel", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, automation.cancelled)
}

func TestCancelHandlerWithoutActiveRun(t *testing.T) {
	handler := NewAutomationHandler(&fakeAutomation{}, common.GetLogger())

	rec := httptest.NewRecorder()
	handler.CancelHandler(rec, httptest.NewRequest(http.MethodPost, "/api/automation/cancel", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetStatusHandler(t *testing.T) {
	status := &fakeStatus{status: &models.RecordStatus{RecordID: "42"}}
	handler := NewStatusHandler(status, &fakeAutomation{phase: models.PhaseIdle}, common.GetLogger())

	rec := httptest.NewRecorder()
	handler.GetStatusHandler(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, status.refreshed)

	body := decodeBody(t, rec)
	record := body["record"].(map[string]interface{})
	assert.Equal(t, "42", record["record_id"])
	run := body["run"].(map[string]interface{})
	assert.Equal(t, false, run["active"])
	assert.Equal(t, "idle", run["phase"])
}

func TestGetStatusHandlerForcedRefresh(t *testing.T) {
	status := &fakeStatus{status: &models.RecordStatus{RecordID: "42"}}
	handler := NewStatusHandler(status, &fakeAutomation{}, common.GetLogger())

	rec := httptest.NewRecorder()
	handler.GetStatusHandler(rec, httptest.NewRequest(http.MethodGet, "/api/status?refresh=true", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, status.refreshed)
}

func TestGetStatusHandlerRefreshFailure(t *testing.T) {
	status := &fakeStatus{refreshErr: assert.AnError}
	handler := NewStatusHandler(status, &fakeAutomation{}, common.GetLogger())

	rec := httptest.NewRecorder()
	handler.GetStatusHandler(rec, httptest.NewRequest(http.MethodGet, "/api/status?refresh=true", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestGetCompletionHandler(t *testing.T) {
	status := &fakeStatus{completion: &models.CompletionSummary{Percentage: 50, Total: 2, Matched: 1}}
	handler := NewStatusHandler(status, &fakeAutomation{}, common.GetLogger())

	rec := httptest.NewRecorder()
	handler.GetCompletionHandler(rec, httptest.NewRequest(http.MethodGet, "/api/status/completion", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(50), body["percentage"])
}

func TestHistoryListHandler(t *testing.T) {
	history := &fakeHistory{entries: []models.RunEntry{
		{RecordID: "a"},
		{RecordID: "b"},
	}}
	handler := NewHistoryHandler(history, common.GetLogger())

	rec := httptest.NewRecorder()
	handler.ListHandler(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["count"])
}

func TestHistoryListHandlerFiltersByRecord(t *testing.T) {
	history := &fakeHistory{entries: []models.RunEntry{
		{RecordID: "a"},
		{RecordID: "b"},
	}}
	handler := NewHistoryHandler(history, common.GetLogger())

	rec := httptest.NewRecorder()
	handler.ListHandler(rec, httptest.NewRequest(http.MethodGet, "/api/history?record_id=a", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["count"])
}

func TestHistoryStatsHandler(t *testing.T) {
	history := &fakeHistory{entries: []models.RunEntry{{RecordID: "a"}}}
	handler := NewHistoryHandler(history, common.GetLogger())

	rec := httptest.NewRecorder()
	handler.StatsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/history/stats", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["total_runs"])
}

func TestHistoryExportHandlerSetsDisposition(t *testing.T) {
	handler := NewHistoryHandler(&fakeHistory{}, common.GetLogger())

	rec := httptest.NewRecorder()
	handler.ExportHandler(rec, httptest.NewRequest(http.MethodGet, "/api/history/export", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	disposition := rec.Header().Get("Content-Disposition")
	assert.Contains(t, disposition, "attachment")
	assert.Contains(t, disposition, "curator-history-")
}

func TestHistoryImportHandler(t *testing.T) {
	history := &fakeHistory{importN: 3}
	handler := NewHistoryHandler(history, common.GetLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/history/import", strings.NewReader("[]"))
	handler.ImportHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(3), body["imported"])
}

func TestHistoryImportHandlerRejectsBadPayload(t *testing.T) {
	history := &fakeHistory{importErr: assert.AnError}
	handler := NewHistoryHandler(history, common.GetLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/history/import", strings.NewReader("garbage"))
	handler.ImportHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryClearHandler(t *testing.T) {
	history := &fakeHistory{}
	handler := NewHistoryHandler(history, common.GetLogger())

	rec := httptest.NewRecorder()
	handler.ClearHandler(rec, httptest.NewRequest(http.MethodPost, "/api/history/clear", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, history.cleared)
}

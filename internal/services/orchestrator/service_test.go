package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Stonelukas/curator/internal/common"
	"github.com/Stonelukas/curator/internal/interfaces"
	"github.com/Stonelukas/curator/internal/models"
)

type fakeTracker struct {
	mu      sync.Mutex
	status  *models.RecordStatus
	applied []interfaces.StatusEventKind
	block   chan struct{}
}

func (t *fakeTracker) Refresh(ctx context.Context) (*models.RecordStatus, error) {
	if t.block != nil {
		<-t.block
	}
	return t.status, nil
}

func (t *fakeTracker) Current() *models.RecordStatus { return t.status }

func (t *fakeTracker) ApplyEvent(kind interfaces.StatusEventKind, payload map[string]interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.applied = append(t.applied, kind)
}

func (t *fakeTracker) Subscribe(sub interfaces.StatusSubscriber) int { return 0 }
func (t *fakeTracker) Unsubscribe(id int)                            {}
func (t *fakeTracker) Completion() *models.CompletionSummary         { return &models.CompletionSummary{} }

func (t *fakeTracker) appliedEvents() []interfaces.StatusEventKind {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]interfaces.StatusEventKind, len(t.applied))
	copy(out, t.applied)
	return out
}

type fakeDetector struct {
	mu               sync.Mutex
	organizedResults []bool
	invalidated      []string
}

func (d *fakeDetector) Detect(ctx context.Context, recordID string, concern models.Concern) models.DetectionOutcome {
	d.mu.Lock()
	defer d.mu.Unlock()

	if concern.Kind == models.ConcernOrganized && len(d.organizedResults) > 0 {
		found := d.organizedResults[0]
		if len(d.organizedResults) > 1 {
			d.organizedResults = d.organizedResults[1:]
		}
		return models.DetectionOutcome{Found: found}
	}
	return models.DetectionOutcome{}
}

func (d *fakeDetector) Invalidate(recordID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.invalidated = append(d.invalidated, recordID)
}

func (d *fakeDetector) InvalidateAll() {}

type fakeHistory struct {
	mu      sync.Mutex
	entries []models.RunEntry
}

func (h *fakeHistory) Append(ctx context.Context, entry models.RunEntry) (*models.RunEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
	return &entry, nil
}

func (h *fakeHistory) ForRecord(ctx context.Context, recordID string) []models.RunEntry { return nil }
func (h *fakeHistory) All(ctx context.Context) []models.RunEntry                        { return nil }
func (h *fakeHistory) Statistics(ctx context.Context) models.HistoryStatistics {
	return models.HistoryStatistics{}
}
func (h *fakeHistory) Prune(ctx context.Context, maxAgeDays int) (int, error) { return 0, nil }
func (h *fakeHistory) Clear(ctx context.Context) error                        { return nil }
func (h *fakeHistory) Export(ctx context.Context) (*models.HistoryExport, error) {
	return &models.HistoryExport{}, nil
}
func (h *fakeHistory) Import(ctx context.Context, data []byte) (int, error) { return 0, nil }

func (h *fakeHistory) recorded() []models.RunEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.RunEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

type fakeUI struct {
	mu             sync.Mutex
	missing        map[interfaces.RoleKind]bool
	observeResults map[interfaces.RoleKind]bool
	invoked        []interfaces.Role
	onInvoke       func(role interfaces.Role)
}

func newFakeUI() *fakeUI {
	return &fakeUI{
		missing:        make(map[interfaces.RoleKind]bool),
		observeResults: make(map[interfaces.RoleKind]bool),
	}
}

func (u *fakeUI) Locate(ctx context.Context, role interfaces.Role) (*interfaces.ActionHandle, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.missing[role.Kind] {
		return nil, nil
	}
	return &interfaces.ActionHandle{Role: role, Selector: "fake"}, nil
}

func (u *fakeUI) Invoke(ctx context.Context, handle *interfaces.ActionHandle) (bool, error) {
	u.mu.Lock()
	u.invoked = append(u.invoked, handle.Role)
	hook := u.onInvoke
	u.mu.Unlock()

	if hook != nil {
		hook(handle.Role)
	}
	return true, nil
}

func (u *fakeUI) Observe(ctx context.Context, role interfaces.Role, timeout time.Duration) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	result, ok := u.observeResults[role.Kind]
	if !ok {
		return true, nil
	}
	return result, nil
}

func (u *fakeUI) Location(ctx context.Context) (string, error) { return "", nil }
func (u *fakeUI) Title(ctx context.Context) (string, error)    { return "", nil }
func (u *fakeUI) Snapshot(ctx context.Context) (string, error) { return "", nil }

func (u *fakeUI) invokedKinds() []interfaces.RoleKind {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]interfaces.RoleKind, 0, len(u.invoked))
	for _, role := range u.invoked {
		out = append(out, role.Kind)
	}
	return out
}

func (u *fakeUI) invokeCount(kind interfaces.RoleKind) int {
	count := 0
	for _, k := range u.invokedKinds() {
		if k == kind {
			count++
		}
	}
	return count
}

func testConfig() *common.AutomationConfig {
	return &common.AutomationConfig{
		Sources: []common.SourceConfig{
			{ID: "stashdb", Name: "StashDB", Endpoint: "https://stashdb.org/graphql", Enabled: true},
		},
		AutoApply:          true,
		SkipAlreadyScraped: true,
		OrganizeEnabled:    false,
		ReviewTimeout:      50 * time.Millisecond,
		SettleTimeout:      50 * time.Millisecond,
	}
}

func statusFor(recordID string, scraped bool) *models.RecordStatus {
	return &models.RecordStatus{
		RecordID: recordID,
		Name:     "Test Record",
		Sources: map[string]models.SourceStatus{
			"stashdb": {Scraped: scraped},
		},
	}
}

func waitDone(t *testing.T, handle *interfaces.RunHandle) {
	t.Helper()
	select {
	case <-handle.Done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish in time")
	}
}

func newTestService(tracker *fakeTracker, detector *fakeDetector, history *fakeHistory, ui *fakeUI, config *common.AutomationConfig) *Service {
	return NewService(tracker, detector, history, ui, config, nil, common.GetLogger())
}

func TestRunScrapesMissingSourceAndCompletes(t *testing.T) {
	tracker := &fakeTracker{status: statusFor("42", false)}
	detector := &fakeDetector{}
	history := &fakeHistory{}
	ui := newFakeUI()

	svc := newTestService(tracker, detector, history, ui, testConfig())

	handle, err := svc.Start(context.Background())
	require.NoError(t, err)
	waitDone(t, handle)

	assert.Equal(t, models.PhaseIdle, svc.Phase())
	assert.False(t, svc.Active())

	entries := history.recorded()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)
	assert.False(t, entries[0].Cancelled)
	assert.Equal(t, []string{"stashdb"}, entries[0].SourcesUsed)
	assert.Equal(t, "42", entries[0].RecordID)

	assert.Equal(t, 1, ui.invokeCount(interfaces.RoleScrapeTrigger))
	assert.Equal(t, 1, ui.invokeCount(interfaces.RoleApplyConfirm))
	assert.Equal(t, 1, ui.invokeCount(interfaces.RoleSaveConfirm))

	// Saved data invalidates cached detections
	assert.Contains(t, detector.invalidated, "42")
	assert.Contains(t, tracker.appliedEvents(), interfaces.StatusEventSourceScraped)
	assert.Contains(t, tracker.appliedEvents(), interfaces.StatusEventRunFinished)
}

func TestAlreadyScrapedSourceIsNeverInvoked(t *testing.T) {
	tracker := &fakeTracker{status: statusFor("42", true)}
	history := &fakeHistory{}
	ui := newFakeUI()

	svc := newTestService(tracker, &fakeDetector{}, history, ui, testConfig())

	handle, err := svc.Start(context.Background())
	require.NoError(t, err)
	waitDone(t, handle)

	assert.Zero(t, ui.invokeCount(interfaces.RoleScrapeTrigger))
	assert.Zero(t, ui.invokeCount(interfaces.RoleSaveConfirm))

	entries := history.recorded()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)
	assert.Empty(t, entries[0].SourcesUsed)
}

func TestEmptyPlanWithOrganizeGoesStraightToOrganizing(t *testing.T) {
	config := testConfig()
	config.OrganizeEnabled = true

	tracker := &fakeTracker{status: statusFor("42", true)}
	// Re-check says not organized, verification after the toggle says organized
	detector := &fakeDetector{organizedResults: []bool{false, true}}
	history := &fakeHistory{}
	ui := newFakeUI()

	svc := newTestService(tracker, detector, history, ui, config)

	handle, err := svc.Start(context.Background())
	require.NoError(t, err)
	waitDone(t, handle)

	assert.Zero(t, ui.invokeCount(interfaces.RoleScrapeTrigger))
	assert.Zero(t, ui.invokeCount(interfaces.RoleSaveConfirm))
	assert.Equal(t, 1, ui.invokeCount(interfaces.RoleOrganizeToggle))

	entries := history.recorded()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)
	assert.Empty(t, entries[0].SourcesUsed)
	assert.Empty(t, entries[0].Warnings)

	assert.Contains(t, tracker.appliedEvents(), interfaces.StatusEventOrganizedSet)
}

func TestCancellationMidScrapingIsNotAFailure(t *testing.T) {
	tracker := &fakeTracker{status: statusFor("42", false)}
	history := &fakeHistory{}
	ui := newFakeUI()

	svc := newTestService(tracker, &fakeDetector{}, history, ui, testConfig())

	ui.onInvoke = func(role interfaces.Role) {
		if role.Kind == interfaces.RoleScrapeTrigger {
			svc.Cancel()
		}
	}

	handle, err := svc.Start(context.Background())
	require.NoError(t, err)
	waitDone(t, handle)

	entries := history.recorded()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
	assert.True(t, entries[0].Cancelled)
	assert.Empty(t, entries[0].Errors)

	// Cancellation takes effect at the next checkpoint, before save
	assert.Zero(t, ui.invokeCount(interfaces.RoleSaveConfirm))
	assert.Zero(t, ui.invokeCount(interfaces.RoleOrganizeToggle))
}

func TestReviewTimeoutProceedsWithWarning(t *testing.T) {
	config := testConfig()
	config.AutoApply = false

	tracker := &fakeTracker{status: statusFor("42", false)}
	history := &fakeHistory{}
	ui := newFakeUI()
	ui.observeResults[interfaces.RoleApplyConfirm] = false

	svc := newTestService(tracker, &fakeDetector{}, history, ui, config)

	handle, err := svc.Start(context.Background())
	require.NoError(t, err)
	waitDone(t, handle)

	entries := history.recorded()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)
	assert.NotEmpty(t, entries[0].Warnings)
	assert.Empty(t, entries[0].Errors)

	// The run still saved after the timeout
	assert.Equal(t, 1, ui.invokeCount(interfaces.RoleSaveConfirm))
}

func TestSaveFailureIsFatal(t *testing.T) {
	config := testConfig()
	config.OrganizeEnabled = true

	tracker := &fakeTracker{status: statusFor("42", false)}
	detector := &fakeDetector{organizedResults: []bool{false}}
	history := &fakeHistory{}
	ui := newFakeUI()
	ui.missing[interfaces.RoleSaveConfirm] = true

	svc := newTestService(tracker, detector, history, ui, config)

	handle, err := svc.Start(context.Background())
	require.NoError(t, err)
	waitDone(t, handle)

	entries := history.recorded()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
	assert.False(t, entries[0].Cancelled)
	assert.NotEmpty(t, entries[0].Errors)

	// No organize after a failed save
	assert.Zero(t, ui.invokeCount(interfaces.RoleOrganizeToggle))
}

func TestMissingScrapeTriggerSkipsSourceWithWarning(t *testing.T) {
	tracker := &fakeTracker{status: statusFor("42", false)}
	history := &fakeHistory{}
	ui := newFakeUI()
	ui.missing[interfaces.RoleScrapeTrigger] = true
	ui.missing[interfaces.RoleSourceOption] = true

	svc := newTestService(tracker, &fakeDetector{}, history, ui, testConfig())

	handle, err := svc.Start(context.Background())
	require.NoError(t, err)
	waitDone(t, handle)

	entries := history.recorded()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)
	assert.Empty(t, entries[0].SourcesUsed)
	assert.NotEmpty(t, entries[0].Warnings)

	// Nothing scraped, so nothing to save
	assert.Zero(t, ui.invokeCount(interfaces.RoleSaveConfirm))
}

func TestSecondStartIsRejectedWhileRunActive(t *testing.T) {
	gate := make(chan struct{})
	tracker := &fakeTracker{status: statusFor("42", true), block: gate}
	history := &fakeHistory{}
	ui := newFakeUI()

	svc := newTestService(tracker, &fakeDetector{}, history, ui, testConfig())

	handle, err := svc.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, svc.Active())

	_, err = svc.Start(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrRunActive)

	close(gate)
	waitDone(t, handle)

	// A fresh start after completion is allowed
	handle2, err := svc.Start(context.Background())
	require.NoError(t, err)
	waitDone(t, handle2)
}

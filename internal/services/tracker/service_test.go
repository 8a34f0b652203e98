package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Stonelukas/curator/internal/common"
	"github.com/Stonelukas/curator/internal/interfaces"
	"github.com/Stonelukas/curator/internal/models"
)

type fakeDetector struct {
	scraped   map[string]bool
	organized bool
}

func (d *fakeDetector) Detect(ctx context.Context, recordID string, concern models.Concern) models.DetectionOutcome {
	if concern.Kind == models.ConcernOrganized {
		return models.DetectionOutcome{Found: d.organized, Confidence: 100}
	}
	if d.scraped[concern.SourceID] {
		return models.DetectionOutcome{Found: true, Confidence: 100, Strategy: "api-external-ref"}
	}
	return models.DetectionOutcome{}
}

func (d *fakeDetector) Invalidate(recordID string) {}
func (d *fakeDetector) InvalidateAll()             {}

type fakeClient struct {
	record *models.Record
	err    error
}

func (c *fakeClient) FindRecord(ctx context.Context, id string) (*models.Record, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.record, nil
}

func (c *fakeClient) UpdateOrganized(ctx context.Context, id string, organized bool) (*models.Record, error) {
	return c.record, nil
}

type fakePageUI struct {
	location string
	title    string
	html     string
}

func (u *fakePageUI) Location(ctx context.Context) (string, error) { return u.location, nil }
func (u *fakePageUI) Title(ctx context.Context) (string, error)    { return u.title, nil }
func (u *fakePageUI) Snapshot(ctx context.Context) (string, error) { return u.html, nil }
func (u *fakePageUI) Locate(ctx context.Context, role interfaces.Role) (*interfaces.ActionHandle, error) {
	return nil, nil
}
func (u *fakePageUI) Invoke(ctx context.Context, handle *interfaces.ActionHandle) (bool, error) {
	return false, nil
}
func (u *fakePageUI) Observe(ctx context.Context, role interfaces.Role, timeout time.Duration) (bool, error) {
	return false, nil
}

func trackerConfig() *common.AutomationConfig {
	return &common.AutomationConfig{
		Sources: []common.SourceConfig{
			{ID: "stashdb", Name: "StashDB", Endpoint: "https://stashdb.org/graphql", Enabled: true},
			{ID: "tpdb", Name: "ThePornDB", Endpoint: "https://theporndb.net/graphql", Enabled: true},
		},
		OrganizeEnabled: true,
	}
}

func newTracker(detector *fakeDetector, client *fakeClient, ui *fakePageUI, config *common.AutomationConfig) *Service {
	return NewService(detector, client, ui, config, nil, common.GetLogger())
}

func TestRefreshBuildsSnapshotFromDetection(t *testing.T) {
	detector := &fakeDetector{scraped: map[string]bool{"stashdb": true}, organized: true}
	client := &fakeClient{record: &models.Record{ID: "123", Title: "Api Title"}}
	ui := &fakePageUI{location: "http://localhost:9999/scenes/123"}

	svc := newTracker(detector, client, ui, trackerConfig())

	status, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "123", status.RecordID)
	assert.Equal(t, "Api Title", status.Name)
	assert.True(t, status.Organized)
	assert.True(t, status.Sources["stashdb"].Scraped)
	assert.False(t, status.Sources["tpdb"].Scraped)
	assert.Equal(t, 100, status.Sources["stashdb"].Confidence)
}

func TestRefreshFailsWhenNoRecordOpen(t *testing.T) {
	svc := newTracker(&fakeDetector{}, &fakeClient{}, &fakePageUI{location: "http://localhost:9999/settings"}, trackerConfig())

	_, err := svc.Refresh(context.Background())
	assert.Error(t, err)
}

func TestNameResolutionPriority(t *testing.T) {
	config := trackerConfig()

	t.Run("api title wins", func(t *testing.T) {
		client := &fakeClient{record: &models.Record{Title: "Api Title"}}
		ui := &fakePageUI{location: "/scenes/1", html: "<h1>Heading</h1>", title: "Page Title"}
		svc := newTracker(&fakeDetector{}, client, ui, config)

		status, err := svc.Refresh(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Api Title", status.Name)
	})

	t.Run("heading when api has no title", func(t *testing.T) {
		client := &fakeClient{err: errors.New("unreachable")}
		ui := &fakePageUI{location: "/scenes/1", html: "<h1>Heading</h1>", title: "Page Title"}
		svc := newTracker(&fakeDetector{}, client, ui, config)

		status, err := svc.Refresh(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Heading", status.Name)
	})

	t.Run("page title excluding chrome strings", func(t *testing.T) {
		client := &fakeClient{err: errors.New("unreachable")}
		ui := &fakePageUI{location: "/scenes/1", html: "<html></html>", title: "Some Record"}
		svc := newTracker(&fakeDetector{}, client, ui, config)

		status, err := svc.Refresh(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Some Record", status.Name)
	})

	t.Run("fallback for generic title", func(t *testing.T) {
		client := &fakeClient{err: errors.New("unreachable")}
		ui := &fakePageUI{location: "/scenes/1", html: "<html></html>", title: "Stash"}
		svc := newTracker(&fakeDetector{}, client, ui, config)

		status, err := svc.Refresh(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Record 1", status.Name)
	})
}

func TestSubscribersNotifiedInRegistrationOrder(t *testing.T) {
	svc := newTracker(&fakeDetector{}, &fakeClient{record: &models.Record{Title: "x"}}, &fakePageUI{location: "/scenes/1"}, trackerConfig())

	var order []string
	svc.Subscribe(func(status *models.RecordStatus) { order = append(order, "first") })
	svc.Subscribe(func(status *models.RecordStatus) { order = append(order, "second") })
	third := svc.Subscribe(func(status *models.RecordStatus) { order = append(order, "third") })
	svc.Unsubscribe(third)

	_, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestPanickingSubscriberDoesNotStopOthers(t *testing.T) {
	svc := newTracker(&fakeDetector{}, &fakeClient{record: &models.Record{Title: "x"}}, &fakePageUI{location: "/scenes/1"}, trackerConfig())

	var called bool
	svc.Subscribe(func(status *models.RecordStatus) { panic("boom") })
	svc.Subscribe(func(status *models.RecordStatus) { called = true })

	_, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	assert.True(t, called)
}

func TestUnchangedRefreshDoesNotNotify(t *testing.T) {
	svc := newTracker(&fakeDetector{}, &fakeClient{record: &models.Record{Title: "x"}}, &fakePageUI{location: "/scenes/1"}, trackerConfig())

	notifications := 0
	svc.Subscribe(func(status *models.RecordStatus) { notifications++ })

	ctx := context.Background()
	_, err := svc.Refresh(ctx)
	require.NoError(t, err)
	_, err = svc.Refresh(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, notifications)
}

func TestApplyEventMutatesWithoutRedetection(t *testing.T) {
	svc := newTracker(&fakeDetector{}, &fakeClient{record: &models.Record{Title: "x"}}, &fakePageUI{location: "/scenes/1"}, trackerConfig())

	ctx := context.Background()
	_, err := svc.Refresh(ctx)
	require.NoError(t, err)

	svc.ApplyEvent(interfaces.StatusEventSourceScraped, map[string]interface{}{"source_id": "stashdb"})
	svc.ApplyEvent(interfaces.StatusEventOrganizedSet, map[string]interface{}{"organized": true})

	summary := &models.RunSummary{RunID: "r1", Success: true}
	svc.ApplyEvent(interfaces.StatusEventRunFinished, map[string]interface{}{"summary": summary})

	current := svc.Current()
	assert.True(t, current.Sources["stashdb"].Scraped)
	assert.Equal(t, "run-observed", current.Sources["stashdb"].StrategyUsed)
	assert.True(t, current.Organized)
	require.NotNil(t, current.LastRun)
	assert.Equal(t, "r1", current.LastRun.RunID)
}

func TestApplyEventDroppedWithoutCurrentRecord(t *testing.T) {
	svc := newTracker(&fakeDetector{}, &fakeClient{}, &fakePageUI{}, trackerConfig())

	// Must not panic with no snapshot
	svc.ApplyEvent(interfaces.StatusEventOrganizedSet, map[string]interface{}{"organized": true})
	assert.Nil(t, svc.Current())
}

func TestCompletion(t *testing.T) {
	detector := &fakeDetector{scraped: map[string]bool{"stashdb": true}}
	svc := newTracker(detector, &fakeClient{record: &models.Record{Title: "x"}}, &fakePageUI{location: "/scenes/1"}, trackerConfig())

	_, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	summary := svc.Completion()
	// Two sources plus the organized flag
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Matched)
	assert.Equal(t, 33, summary.Percentage)
	assert.Equal(t, []string{"scrape ThePornDB", "mark organized"}, summary.Recommendations)
}

func TestCompletionEmptyBeforeFirstRefresh(t *testing.T) {
	svc := newTracker(&fakeDetector{}, &fakeClient{}, &fakePageUI{}, trackerConfig())

	summary := svc.Completion()
	assert.Zero(t, summary.Total)
	assert.Zero(t, summary.Percentage)
	assert.Empty(t, summary.Recommendations)
}

func TestExtractRecordID(t *testing.T) {
	assert.Equal(t, "123", extractRecordID("http://localhost:9999/scenes/123"))
	assert.Equal(t, "123", extractRecordID("http://localhost:9999/scenes/123/edit"))
	assert.Equal(t, "7", extractRecordID("/records/7"))
	assert.Empty(t, extractRecordID("http://localhost:9999/settings"))
	assert.Empty(t, extractRecordID(""))
}

package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Stonelukas/curator/internal/common"
	"github.com/Stonelukas/curator/internal/interfaces"
	"github.com/Stonelukas/curator/internal/models"
)

type countingTracker struct {
	mu       sync.Mutex
	refreshC int
}

func (t *countingTracker) Refresh(ctx context.Context) (*models.RecordStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refreshC++
	return &models.RecordStatus{RecordID: "1"}, nil
}

func (t *countingTracker) Current() *models.RecordStatus { return nil }
func (t *countingTracker) ApplyEvent(kind interfaces.StatusEventKind, payload map[string]interface{}) {
}
func (t *countingTracker) Subscribe(sub interfaces.StatusSubscriber) int { return 0 }
func (t *countingTracker) Unsubscribe(id int)                            {}
func (t *countingTracker) Completion() *models.CompletionSummary         { return nil }

func (t *countingTracker) refreshes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refreshC
}

func TestRapidSignalsCollapseIntoOneRefresh(t *testing.T) {
	tracker := &countingTracker{}
	svc := NewService(tracker, &common.WatcherConfig{MinRefreshInterval: 100 * time.Millisecond}, nil, common.GetLogger())

	svc.Start()
	defer svc.Stop()

	// First signal refreshes immediately, the burst behind it collapses
	for i := 0; i < 10; i++ {
		svc.Signal()
	}

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, tracker.refreshes())

	time.Sleep(200 * time.Millisecond)
	assert.LessOrEqual(t, tracker.refreshes(), 2)
}

func TestSignalAfterIntervalRefreshesAgain(t *testing.T) {
	tracker := &countingTracker{}
	svc := NewService(tracker, &common.WatcherConfig{MinRefreshInterval: 20 * time.Millisecond}, nil, common.GetLogger())

	svc.Start()
	defer svc.Stop()

	svc.Signal()
	time.Sleep(50 * time.Millisecond)

	svc.Signal()
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 2, tracker.refreshes())
}

func TestStopTerminatesLoop(t *testing.T) {
	tracker := &countingTracker{}
	svc := NewService(tracker, &common.WatcherConfig{MinRefreshInterval: time.Millisecond}, nil, common.GetLogger())

	svc.Start()
	svc.Stop()
	// Idempotent
	svc.Stop()

	time.Sleep(20 * time.Millisecond)
	before := tracker.refreshes()

	svc.Signal()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, tracker.refreshes())
}

func TestStartIsIdempotent(t *testing.T) {
	tracker := &countingTracker{}
	svc := NewService(tracker, &common.WatcherConfig{MinRefreshInterval: 10 * time.Millisecond}, nil, common.GetLogger())

	svc.Start()
	svc.Start()
	defer svc.Stop()

	svc.Signal()
	time.Sleep(50 * time.Millisecond)

	// A duplicate loop would have refreshed twice for one signal
	assert.Equal(t, 1, tracker.refreshes())
}

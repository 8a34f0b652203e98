// Package tracker owns the current-record status snapshot: it recomputes
// it through the detection pipeline, diffs changes, and fans them out to
// subscribers and the event bus.
package tracker

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/Stonelukas/curator/internal/common"
	"github.com/Stonelukas/curator/internal/interfaces"
	"github.com/Stonelukas/curator/internal/models"
)

// recordURLPattern extracts the record id from catalog UI URLs such as
// /scenes/123 or /scenes/123/edit
var recordURLPattern = regexp.MustCompile(`/(?:scenes|records)/(\d+)`)

// chromeTitles are generic page titles that never identify a record
var chromeTitles = []string{"stash", "loading", "home", "curator"}

// Service implements interfaces.StatusService
type Service struct {
	detector interfaces.DetectionService
	client   interfaces.CatalogClient
	ui       interfaces.UIDriver
	config   *common.AutomationConfig
	events   interfaces.EventService
	logger   arbor.ILogger

	mu        sync.RWMutex
	current   *models.RecordStatus
	subs      map[int]interfaces.StatusSubscriber
	subOrder  []int
	nextSubID int
}

// NewService creates a status tracker
func NewService(detector interfaces.DetectionService, client interfaces.CatalogClient, uiDriver interfaces.UIDriver, config *common.AutomationConfig, events interfaces.EventService, logger arbor.ILogger) *Service {
	return &Service{
		detector: detector,
		client:   client,
		ui:       uiDriver,
		config:   config,
		events:   events,
		logger:   logger,
		subs:     make(map[int]interfaces.StatusSubscriber),
	}
}

// Refresh re-runs detection for all concerns against the current page
// context. Navigating to a different record replaces the snapshot
// wholesale; otherwise the previous run summary is carried over.
func (s *Service) Refresh(ctx context.Context) (*models.RecordStatus, error) {
	location, err := s.ui.Location(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page location: %w", err)
	}

	recordID := extractRecordID(location)
	if recordID == "" {
		return nil, fmt.Errorf("no record open at %s", location)
	}

	status := &models.RecordStatus{
		RecordID:   recordID,
		URL:        location,
		LastUpdate: time.Now(),
		Sources:    make(map[string]models.SourceStatus),
	}

	s.mu.RLock()
	if s.current != nil && s.current.RecordID == recordID {
		status.LastRun = s.current.LastRun
	}
	s.mu.RUnlock()

	for _, source := range s.config.EnabledSources() {
		outcome := s.detector.Detect(ctx, recordID, models.SourceConcern(source.ID))
		status.Sources[source.ID] = models.SourceStatus{
			Scraped:      outcome.Found,
			Confidence:   outcome.Confidence,
			Timestamp:    time.Now(),
			StrategyUsed: outcome.Strategy,
		}
	}

	organized := s.detector.Detect(ctx, recordID, models.OrganizedConcern())
	status.Organized = organized.Found

	status.Name = s.resolveName(ctx, recordID)

	s.mu.Lock()
	changed := statusChanged(s.current, status)
	s.current = status
	snapshot := status.Clone()
	s.mu.Unlock()

	if changed {
		s.notify(snapshot)
		s.publish(ctx, snapshot)
	}

	return snapshot, nil
}

// Current returns the last computed snapshot
func (s *Service) Current() *models.RecordStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// ApplyEvent mutates status directly without re-detection, used when the
// orchestrator already knows an outcome.
func (s *Service) ApplyEvent(kind interfaces.StatusEventKind, payload map[string]interface{}) {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		s.logger.Warn().Str("kind", string(kind)).Msg("Status event dropped, no current record")
		return
	}

	switch kind {
	case interfaces.StatusEventSourceScraped:
		if sourceID, ok := payload["source_id"].(string); ok && sourceID != "" {
			s.current.Sources[sourceID] = models.SourceStatus{
				Scraped:      true,
				Confidence:   90,
				Timestamp:    time.Now(),
				StrategyUsed: "run-observed",
			}
		}
	case interfaces.StatusEventOrganizedSet:
		if organized, ok := payload["organized"].(bool); ok {
			s.current.Organized = organized
		}
	case interfaces.StatusEventRunFinished:
		if summary, ok := payload["summary"].(*models.RunSummary); ok {
			s.current.LastRun = summary
		}
	}

	s.current.LastUpdate = time.Now()
	snapshot := s.current.Clone()
	s.mu.Unlock()

	s.notify(snapshot)
	s.publish(context.Background(), snapshot)
}

// Subscribe registers a change callback and returns a subscription id
func (s *Service) Subscribe(sub interfaces.StatusSubscriber) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSubID++
	id := s.nextSubID
	s.subs[id] = sub
	s.subOrder = append(s.subOrder, id)
	return id
}

// Unsubscribe removes a previously registered callback
func (s *Service) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.subs, id)
	for i, existing := range s.subOrder {
		if existing == id {
			s.subOrder = append(s.subOrder[:i], s.subOrder[i+1:]...)
			break
		}
	}
}

// Completion derives the completion percentage and the ordered list of
// unmet concerns as imperative recommendations.
func (s *Service) Completion() *models.CompletionSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := &models.CompletionSummary{Recommendations: []string{}}
	if s.current == nil {
		return summary
	}

	sources := s.config.EnabledSources()
	summary.Total = len(sources)
	if s.config.OrganizeEnabled {
		summary.Total++
	}

	for _, source := range sources {
		if status, ok := s.current.Sources[source.ID]; ok && status.Scraped {
			summary.Matched++
			continue
		}
		name := source.Name
		if name == "" {
			name = source.ID
		}
		summary.Recommendations = append(summary.Recommendations, fmt.Sprintf("scrape %s", name))
	}

	if s.config.OrganizeEnabled {
		if s.current.Organized {
			summary.Matched++
		} else {
			summary.Recommendations = append(summary.Recommendations, "mark organized")
		}
	}

	if summary.Total > 0 {
		summary.Percentage = int(float64(summary.Matched)/float64(summary.Total)*100 + 0.5)
	}

	return summary
}

// notify invokes subscribers synchronously in registration order. A
// panicking subscriber is logged and never prevents the rest.
func (s *Service) notify(status *models.RecordStatus) {
	s.mu.RLock()
	order := make([]int, len(s.subOrder))
	copy(order, s.subOrder)
	subs := make(map[int]interfaces.StatusSubscriber, len(s.subs))
	for id, sub := range s.subs {
		subs[id] = sub
	}
	s.mu.RUnlock()

	for _, id := range order {
		sub, ok := subs[id]
		if !ok {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error().
						Int("subscriber_id", id).
						Str("panic", fmt.Sprintf("%v", r)).
						Msg("Status subscriber panicked")
				}
			}()
			sub(status)
		}()
	}
}

func (s *Service) publish(ctx context.Context, status *models.RecordStatus) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventStatusChanged,
		Payload: status,
	})
}

// resolveName applies the name resolution priority: API title, prominent
// heading, page title (excluding generic chrome strings), synthesized
// fallback.
func (s *Service) resolveName(ctx context.Context, recordID string) string {
	if record, err := s.client.FindRecord(ctx, recordID); err == nil && strings.TrimSpace(record.Title) != "" {
		return strings.TrimSpace(record.Title)
	}

	if html, err := s.ui.Snapshot(ctx); err == nil {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
			heading := strings.TrimSpace(doc.Find("h1, .scene-header h3, .record-title").First().Text())
			if heading != "" {
				return heading
			}
		}
	}

	if title, err := s.ui.Title(ctx); err == nil {
		title = strings.TrimSpace(title)
		if title != "" && !isChromeTitle(title) {
			return title
		}
	}

	return fmt.Sprintf("Record %s", recordID)
}

func isChromeTitle(title string) bool {
	lower := strings.ToLower(title)
	for _, generic := range chromeTitles {
		if lower == generic || strings.HasPrefix(lower, generic+" ") {
			return true
		}
	}
	return false
}

func extractRecordID(location string) string {
	matches := recordURLPattern.FindStringSubmatch(location)
	if len(matches) < 2 {
		return ""
	}
	return matches[1]
}

// statusChanged compares the fields subscribers care about
func statusChanged(old, next *models.RecordStatus) bool {
	if old == nil {
		return true
	}
	if old.RecordID != next.RecordID || old.Organized != next.Organized || old.Name != next.Name {
		return true
	}
	if len(old.Sources) != len(next.Sources) {
		return true
	}
	for id, nextStatus := range next.Sources {
		oldStatus, ok := old.Sources[id]
		if !ok || oldStatus.Scraped != nextStatus.Scraped {
			return true
		}
	}
	return false
}

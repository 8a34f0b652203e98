// Package detector runs the ordered, confidence-scored strategy pipeline
// that decides whether a source has already contributed data to a record
// and whether the record is marked organized.
package detector

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	gocache "github.com/patrickmn/go-cache"
	"github.com/ternarybob/arbor"

	"github.com/Stonelukas/curator/internal/common"
	"github.com/Stonelukas/curator/internal/interfaces"
	"github.com/Stonelukas/curator/internal/models"
)

// Service implements interfaces.DetectionService. Detection is read-only
// apart from the cache; cache writes are last-write-wins re-derivations of
// the same external truth, so concurrent calls are safe.
type Service struct {
	client interfaces.CatalogClient
	ui     interfaces.UIDriver
	config *common.AutomationConfig
	logger arbor.ILogger
	cache  *gocache.Cache
}

// NewService creates a detection service
func NewService(client interfaces.CatalogClient, uiDriver interfaces.UIDriver, config *common.AutomationConfig, logger arbor.ILogger) *Service {
	return &Service{
		client: client,
		ui:     uiDriver,
		config: config,
		logger: logger,
		cache:  gocache.New(gocache.NoExpiration, 0),
	}
}

// Detect probes one concern for a record. Strategies run authoritative
// first, then heuristics in declared order (descending confidence;
// declaration order breaks ties). The first Found result wins and is
// cached until the record is invalidated.
func (s *Service) Detect(ctx context.Context, recordID string, concern models.Concern) models.DetectionOutcome {
	key := cacheKey(recordID, concern)
	if cached, ok := s.cache.Get(key); ok {
		return cached.(models.DetectionOutcome)
	}

	pc := &probeContext{
		recordID: recordID,
		client:   s.client,
		ui:       s.ui,
	}

	for _, strat := range s.strategiesFor(concern) {
		outcome, err := strat.probe(ctx, pc)
		if err != nil {
			// One failing strategy never aborts concern-level detection
			s.logger.Warn().
				Err(err).
				Str("record_id", recordID).
				Str("concern", concern.Key()).
				Str("strategy", strat.name).
				Msg("Detection strategy failed, falling through")
			continue
		}

		if outcome.Found {
			outcome.Strategy = strat.name
			outcome.Confidence = strat.confidence
			if strat.kind == models.StrategyAuthoritative {
				outcome.Confidence = 100
			}

			s.cache.Set(key, outcome, gocache.NoExpiration)

			s.logger.Debug().
				Str("record_id", recordID).
				Str("concern", concern.Key()).
				Str("strategy", strat.name).
				Int("confidence", outcome.Confidence).
				Msg("Concern detected")
			return outcome
		}
	}

	return models.DetectionOutcome{Found: false, Confidence: 0}
}

// Invalidate drops all cached outcomes for a record. Must be called after
// any action that could change backing data; a stale read after a
// successful mutation is a correctness bug.
func (s *Service) Invalidate(recordID string) {
	prefix := recordID + "|"
	for key := range s.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			s.cache.Delete(key)
		}
	}

	s.logger.Debug().Str("record_id", recordID).Msg("Detection cache invalidated")
}

// InvalidateAll drops the whole cache
func (s *Service) InvalidateAll() {
	s.cache.Flush()
}

func cacheKey(recordID string, concern models.Concern) string {
	return fmt.Sprintf("%s|%s", recordID, concern.Key())
}

// probeContext shares lazily fetched state between strategies of a single
// Detect call so the record and the page snapshot are each fetched at most
// once per concern evaluation.
type probeContext struct {
	recordID string
	client   interfaces.CatalogClient
	ui       interfaces.UIDriver

	record        *models.Record
	recordErr     error
	recordFetched bool

	doc        *goquery.Document
	docErr     error
	docFetched bool
}

func (pc *probeContext) fetchRecord(ctx context.Context) (*models.Record, error) {
	if !pc.recordFetched {
		pc.recordFetched = true
		pc.record, pc.recordErr = pc.client.FindRecord(ctx, pc.recordID)
	}
	return pc.record, pc.recordErr
}

func (pc *probeContext) document(ctx context.Context) (*goquery.Document, error) {
	if !pc.docFetched {
		pc.docFetched = true
		html, err := pc.ui.Snapshot(ctx)
		if err != nil {
			pc.docErr = err
		} else {
			pc.doc, pc.docErr = goquery.NewDocumentFromReader(strings.NewReader(html))
		}
	}
	return pc.doc, pc.docErr
}

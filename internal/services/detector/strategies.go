package detector

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Stonelukas/curator/internal/common"
	"github.com/Stonelukas/curator/internal/models"
)

type probeFunc func(ctx context.Context, pc *probeContext) (models.DetectionOutcome, error)

// strategy is one ranked detection method. Confidence values are static;
// they rank strategies and annotate outcomes, never recomputed at runtime.
type strategy struct {
	name       string
	kind       models.StrategyKind
	confidence int
	probe      probeFunc
}

// strategiesFor builds the ordered strategy list for a concern. Lists are
// authored in deliberate priority order: authoritative first, heuristics
// in descending confidence, declaration order breaking ties.
func (s *Service) strategiesFor(concern models.Concern) []strategy {
	if concern.Kind == models.ConcernOrganized {
		return []strategy{
			{
				name:       "api-organized-flag",
				kind:       models.StrategyAuthoritative,
				confidence: 100,
				probe:      probeOrganizedFlag,
			},
			{
				name:       "ui-organized-button",
				kind:       models.StrategyHeuristic,
				confidence: 90,
				probe:      probeOrganizedButton,
			},
		}
	}

	source, _ := s.config.Source(concern.SourceID)

	strategies := []strategy{
		{
			name:       "api-external-ref",
			kind:       models.StrategyAuthoritative,
			confidence: 100,
			probe:      probeExternalRef(source),
		},
		{
			name:       "ui-source-link",
			kind:       models.StrategyHeuristic,
			confidence: 85,
			probe:      probeSourceLink(source),
		},
		{
			name:       "ui-source-badge",
			kind:       models.StrategyHeuristic,
			confidence: 70,
			probe:      probeSourceBadge(source),
		},
	}

	// Rich metadata is weak evidence of a past scrape even without a
	// direct external-id match. Off by default; reduces false negatives
	// at the cost of false positives.
	if s.config.RichMetadataHeuristic {
		confidence := s.config.RichMetadataConfidence
		if confidence <= 0 {
			confidence = 40
		}
		strategies = append(strategies, strategy{
			name:       "ui-rich-metadata",
			kind:       models.StrategyHeuristic,
			confidence: confidence,
			probe:      probeRichMetadata,
		})
	}

	return strategies
}

// probeOrganizedFlag reads the organized flag from the catalog API
func probeOrganizedFlag(ctx context.Context, pc *probeContext) (models.DetectionOutcome, error) {
	record, err := pc.fetchRecord(ctx)
	if err != nil {
		return models.DetectionOutcome{}, err
	}

	if !record.Organized {
		return models.DetectionOutcome{Reason: "organized flag not set"}, nil
	}

	return models.DetectionOutcome{
		Found: true,
		Data:  map[string]interface{}{"organized": true},
	}, nil
}

// probeOrganizedButton inspects the organized toggle's rendered state
func probeOrganizedButton(ctx context.Context, pc *probeContext) (models.DetectionOutcome, error) {
	doc, err := pc.document(ctx)
	if err != nil {
		return models.DetectionOutcome{}, err
	}

	button := doc.Find(`button[title="Organized"], .organized-button`).First()
	if button.Length() == 0 {
		return models.DetectionOutcome{Reason: "organized button not present"}, nil
	}

	if button.HasClass("organized") || button.AttrOr("data-organized", "") == "true" {
		return models.DetectionOutcome{
			Found: true,
			Data:  map[string]interface{}{"organized": true},
		}, nil
	}

	return models.DetectionOutcome{Reason: "organized button inactive"}, nil
}

// probeExternalRef checks the catalog API for an external reference
// pointing at the source's endpoint
func probeExternalRef(source common.SourceConfig) probeFunc {
	return func(ctx context.Context, pc *probeContext) (models.DetectionOutcome, error) {
		if source.Endpoint == "" {
			return models.DetectionOutcome{}, fmt.Errorf("source %q has no endpoint configured", source.ID)
		}

		record, err := pc.fetchRecord(ctx)
		if err != nil {
			return models.DetectionOutcome{}, err
		}

		ref, ok := record.HasRef(source.Endpoint)
		if !ok {
			return models.DetectionOutcome{Reason: "no external reference for source"}, nil
		}

		return models.DetectionOutcome{
			Found: true,
			Data: map[string]interface{}{
				"endpoint":    ref.Endpoint,
				"external_id": ref.ExternalID,
			},
		}, nil
	}
}

// probeSourceLink looks for an outbound link to the source's host in the
// record page
func probeSourceLink(source common.SourceConfig) probeFunc {
	return func(ctx context.Context, pc *probeContext) (models.DetectionOutcome, error) {
		host := endpointHost(source.Endpoint)
		if host == "" {
			return models.DetectionOutcome{Reason: "source has no resolvable host"}, nil
		}

		doc, err := pc.document(ctx)
		if err != nil {
			return models.DetectionOutcome{}, err
		}

		found := false
		doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			href := sel.AttrOr("href", "")
			if strings.Contains(strings.ToLower(href), host) {
				found = true
				return false
			}
			return true
		})

		if !found {
			return models.DetectionOutcome{Reason: "no link to source host"}, nil
		}

		return models.DetectionOutcome{
			Found: true,
			Data:  map[string]interface{}{"host": host},
		}, nil
	}
}

// probeSourceBadge looks for a scraped-source badge naming the source
func probeSourceBadge(source common.SourceConfig) probeFunc {
	return func(ctx context.Context, pc *probeContext) (models.DetectionOutcome, error) {
		doc, err := pc.document(ctx)
		if err != nil {
			return models.DetectionOutcome{}, err
		}

		needle := strings.ToLower(source.Name)
		if needle == "" {
			needle = strings.ToLower(source.ID)
		}

		found := false
		doc.Find("[data-source], .scraped-badge, .stash-id-pill").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			text := strings.ToLower(sel.Text() + " " + sel.AttrOr("data-source", ""))
			if strings.Contains(text, needle) {
				found = true
				return false
			}
			return true
		})

		if !found {
			return models.DetectionOutcome{Reason: "no source badge"}, nil
		}

		return models.DetectionOutcome{
			Found: true,
			Data:  map[string]interface{}{"badge": needle},
		}, nil
	}
}

// probeRichMetadata treats a well-populated record as weak evidence that
// some scrape already ran
func probeRichMetadata(ctx context.Context, pc *probeContext) (models.DetectionOutcome, error) {
	record, err := pc.fetchRecord(ctx)
	if err != nil {
		return models.DetectionOutcome{}, err
	}

	populated := 0
	if record.Details != "" {
		populated++
	}
	if record.Date != "" {
		populated++
	}
	if record.Studio != "" {
		populated++
	}
	if len(record.Performers) > 0 {
		populated++
	}
	if len(record.Tags) >= 3 {
		populated++
	}

	if populated < 4 {
		return models.DetectionOutcome{Reason: fmt.Sprintf("only %d metadata fields populated", populated)}, nil
	}

	return models.DetectionOutcome{
		Found:  true,
		Reason: "record carries rich metadata",
		Data:   map[string]interface{}{"populated_fields": populated},
	}, nil
}

func endpointHost(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return strings.ToLower(endpoint)
	}
	return strings.ToLower(u.Host)
}

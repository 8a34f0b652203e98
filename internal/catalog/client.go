// Package catalog is a typed wrapper around the catalog application's
// GraphQL API. It carries no business logic; callers interpret results.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/Stonelukas/curator/internal/common"
	"github.com/Stonelukas/curator/internal/interfaces"
	"github.com/Stonelukas/curator/internal/models"
)

const findRecordQuery = `query FindScene($id: ID!) {
  findScene(id: $id) {
    id
    title
    details
    date
    organized
    studio { name }
    performers { name }
    tags { name }
    stash_ids { endpoint stash_id }
  }
}`

const updateOrganizedMutation = `mutation SceneUpdate($id: ID!, $organized: Boolean!) {
  sceneUpdate(input: { id: $id, organized: $organized }) {
    id
    organized
  }
}`

// Client implements interfaces.CatalogClient over GraphQL
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     arbor.ILogger
}

// NewClient creates a catalog client from configuration
func NewClient(config *common.CatalogConfig, logger arbor.ILogger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	perSec := config.RatePerSec
	if perSec <= 0 {
		perSec = 4
	}

	return &Client{
		endpoint:   config.Endpoint,
		apiKey:     config.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(perSec), 1),
		logger:     logger,
	}
}

type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

type namedObject struct {
	Name string `json:"name"`
}

type stashID struct {
	Endpoint string `json:"endpoint"`
	StashID  string `json:"stash_id"`
}

type sceneResult struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	Details    string        `json:"details"`
	Date       string        `json:"date"`
	Organized  bool          `json:"organized"`
	Studio     *namedObject  `json:"studio"`
	Performers []namedObject `json:"performers"`
	Tags       []namedObject `json:"tags"`
	StashIDs   []stashID     `json:"stash_ids"`
}

// FindRecord fetches a record by id
func (c *Client) FindRecord(ctx context.Context, id string) (*models.Record, error) {
	var payload struct {
		FindScene *sceneResult `json:"findScene"`
	}

	err := c.execute(ctx, findRecordQuery, map[string]interface{}{"id": id}, &payload)
	if err != nil {
		return nil, err
	}

	if payload.FindScene == nil {
		return nil, interfaces.ErrRecordNotFound
	}

	return sceneToRecord(payload.FindScene), nil
}

// UpdateOrganized sets the organized flag on a record
func (c *Client) UpdateOrganized(ctx context.Context, id string, organized bool) (*models.Record, error) {
	var payload struct {
		SceneUpdate *sceneResult `json:"sceneUpdate"`
	}

	err := c.execute(ctx, updateOrganizedMutation, map[string]interface{}{
		"id":        id,
		"organized": organized,
	}, &payload)
	if err != nil {
		return nil, err
	}

	if payload.SceneUpdate == nil {
		return nil, interfaces.ErrRecordNotFound
	}

	c.logger.Debug().
		Str("record_id", id).
		Bool("organized", organized).
		Msg("Organized flag updated")

	return sceneToRecord(payload.SceneUpdate), nil
}

// execute sends a GraphQL request and decodes data into out. Any non-empty
// errors list is treated as request failure regardless of transport status.
func (c *Client) execute(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait cancelled: %w", err)
	}

	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("failed to marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("ApiKey", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	var gqlResp graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&gqlResp); err != nil {
		return fmt.Errorf("failed to decode catalog response (status %d): %w", resp.StatusCode, err)
	}

	if len(gqlResp.Errors) > 0 {
		messages := make([]string, 0, len(gqlResp.Errors))
		for _, e := range gqlResp.Errors {
			messages = append(messages, e.Message)
		}
		return fmt.Errorf("catalog query failed: %s", strings.Join(messages, "; "))
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("catalog request failed with status %d", resp.StatusCode)
	}

	if out != nil && len(gqlResp.Data) > 0 {
		if err := json.Unmarshal(gqlResp.Data, out); err != nil {
			return fmt.Errorf("failed to unmarshal catalog data: %w", err)
		}
	}

	return nil
}

func sceneToRecord(s *sceneResult) *models.Record {
	record := &models.Record{
		ID:        s.ID,
		Title:     s.Title,
		Details:   s.Details,
		Date:      s.Date,
		Organized: s.Organized,
	}

	if s.Studio != nil {
		record.Studio = s.Studio.Name
	}
	for _, p := range s.Performers {
		record.Performers = append(record.Performers, p.Name)
	}
	for _, t := range s.Tags {
		record.Tags = append(record.Tags, t.Name)
	}
	for _, sid := range s.StashIDs {
		record.ExternalRefs = append(record.ExternalRefs, models.ExternalRef{
			Endpoint:   sid.Endpoint,
			ExternalID: sid.StashID,
		})
	}

	return record
}

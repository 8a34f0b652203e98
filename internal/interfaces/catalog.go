package interfaces

import (
	"context"
	"errors"

	"github.com/Stonelukas/curator/internal/models"
)

// ErrRecordNotFound is returned when the catalog has no record for an id
var ErrRecordNotFound = errors.New("record not found")

// CatalogClient is the typed wrapper around the catalog's GraphQL API.
// It carries no business logic.
type CatalogClient interface {
	// FindRecord fetches a record by id
	FindRecord(ctx context.Context, id string) (*models.Record, error)

	// UpdateOrganized sets the organized flag on a record
	UpdateOrganized(ctx context.Context, id string, organized bool) (*models.Record, error)
}

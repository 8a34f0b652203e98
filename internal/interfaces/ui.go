package interfaces

import (
	"context"
	"errors"
	"time"
)

// ErrUIUnavailable is returned when the catalog UI cannot be reached at all
var ErrUIUnavailable = errors.New("catalog UI unavailable")

// RoleKind is the closed set of semantic UI roles the automation acts on
type RoleKind string

const (
	RoleScrapeTrigger  RoleKind = "scrape_trigger"
	RoleSourceOption   RoleKind = "source_option"
	RoleApplyConfirm   RoleKind = "apply_confirm"
	RoleSaveConfirm    RoleKind = "save_confirm"
	RoleOrganizeToggle RoleKind = "organize_toggle"
)

// Role is a semantic UI role, optionally qualified by a source id
// (only RoleSourceOption carries one).
type Role struct {
	Kind     RoleKind `json:"kind"`
	SourceID string   `json:"source_id,omitempty"`
}

// SourceOptionRole builds the scrape-dropdown option role for a source
func SourceOptionRole(sourceID string) Role {
	return Role{Kind: RoleSourceOption, SourceID: sourceID}
}

// ActionHandle identifies a located, actionable element
type ActionHandle struct {
	Role     Role   `json:"role"`
	Selector string `json:"selector"`
}

// UIDriver abstracts the catalog application's live UI surface. The core
// never touches selectors or DOM directly; it asks for semantic roles.
type UIDriver interface {
	// Locate finds an actionable element for a role. Returns (nil, nil)
	// when no element matches; an error only on transport failure.
	Locate(ctx context.Context, role Role) (*ActionHandle, error)

	// Invoke performs the action and reports whether it appeared to execute
	Invoke(ctx context.Context, handle *ActionHandle) (bool, error)

	// Observe waits for a role's expected post-condition within the bound:
	// scrape trigger -> result rows appeared, apply confirm -> apply was
	// confirmed, save confirm -> save acknowledged, organize toggle ->
	// toggle state flipped.
	Observe(ctx context.Context, role Role, timeout time.Duration) (bool, error)

	// Location returns the current page URL
	Location(ctx context.Context) (string, error)

	// Title returns the current page title
	Title(ctx context.Context) (string, error)

	// Snapshot returns the current page HTML for heuristic inspection
	Snapshot(ctx context.Context) (string, error)
}

package ui

import (
	"fmt"
	"strings"

	"github.com/Stonelukas/curator/internal/interfaces"
)

// Selector lists are tried in order; the first one that resolves to a
// visible element wins. The catalog UI has shipped several markup
// revisions, so every role carries fallbacks for older builds.
var roleSelectors = map[interfaces.RoleKind][]string{
	interfaces.RoleScrapeTrigger: {
		`button[data-rb-event-key="scenes-scrape"]`,
		`.scrape-button-container button.dropdown-toggle`,
		`button[title="Scrape with..."]`,
		`.edit-buttons .scrape-dropdown > button`,
	},
	interfaces.RoleApplyConfirm: {
		`.scrape-dialog button.btn-primary`,
		`.modal-footer button.ml-2`,
		`button[data-testid="scrape-apply"]`,
	},
	interfaces.RoleSaveConfirm: {
		`.edit-buttons button.btn-primary[type="submit"]`,
		`button.save-button`,
		`.form-container .edit-buttons-container .btn-primary`,
	},
	interfaces.RoleOrganizeToggle: {
		`button[title="Organized"]`,
		`.organized-button`,
		`button.minimal.organized`,
	},
}

// Post-condition selectors used by Observe: presence (or absence, with the
// "!" prefix) of the first matching selector signals the expected effect.
var roleObservations = map[interfaces.RoleKind][]string{
	interfaces.RoleScrapeTrigger:  {`.scrape-dialog .scene-scrape-results`, `.search-result`, `.scrape-dialog`},
	interfaces.RoleApplyConfirm:   {`!.scrape-dialog`},
	interfaces.RoleSaveConfirm:    {`!.edit-buttons button.btn-primary[disabled]`, `.toast-success`},
	interfaces.RoleOrganizeToggle: {`button[title="Organized"].organized`},
}

// SelectorsFor returns the ordered selector candidates for a role
func SelectorsFor(role interfaces.Role) ([]string, error) {
	if role.Kind == interfaces.RoleSourceOption {
		if role.SourceID == "" {
			return nil, fmt.Errorf("source option role requires a source id")
		}
		// Dropdown items are labelled with the source name; match loosely
		// on either a data attribute or the visible text hook.
		return []string{
			fmt.Sprintf(`.scrape-dropdown a[data-source=%q]`, role.SourceID),
			fmt.Sprintf(`.dropdown-menu a[data-scraper=%q]`, role.SourceID),
			fmt.Sprintf(`.dropdown-menu .dropdown-item[data-source-id=%q]`, strings.ToLower(role.SourceID)),
		}, nil
	}

	selectors, ok := roleSelectors[role.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown UI role: %s", role.Kind)
	}
	return selectors, nil
}

// ObservationsFor returns the post-condition selectors for a role
func ObservationsFor(role interfaces.Role) []string {
	return roleObservations[role.Kind]
}

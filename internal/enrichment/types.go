package enrichment

import (
	"context"

	"github.com/example/dermascan/internal/diagnosis"
)

// Suggestion is one medicine suggested for a classified label.
type Suggestion struct {
	Name         string `json:"name"`
	GenericName  string `json:"generic_name"`
	DosageForm   string `json:"dosage_form"`
	Manufacturer string `json:"manufacturer"`
	Description  string `json:"description"`
	SideEffects  string `json:"side_effects"`
}

// Suggester returns between 1 and MaxSuggestions suggestions for a label.
// It never fails; an unavailable source degrades to the fallback suggestion.
type Suggester interface {
	Suggest(ctx context.Context, label diagnosis.Label) []Suggestion
}

// labelResponse is the subset of the drug label endpoint we read. Every field
// is optional in practice.
type labelResponse struct {
	Results []labelResult `json:"results"`
}

type labelResult struct {
	OpenFDA             openFDAFields `json:"openfda"`
	Description         []string      `json:"description"`
	IndicationsAndUsage []string      `json:"indications_and_usage"`
}

type openFDAFields struct {
	BrandName        []string `json:"brand_name"`
	GenericName      []string `json:"generic_name"`
	DosageForm       []string `json:"dosage_form"`
	ManufacturerName []string `json:"manufacturer_name"`
}

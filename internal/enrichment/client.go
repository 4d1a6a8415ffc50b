// Package enrichment looks up medicine suggestions for a classified label from
// the openFDA drug label service.
package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/example/dermascan/internal/diagnosis"
)

const (
	// MaxSuggestions caps the suggestions attached to one prediction.
	MaxSuggestions = 5
	// MaxDescriptionRunes is the visible length kept from a description.
	MaxDescriptionRunes = 500

	truncationMarker = "..."
	unknownField     = "Unknown"
	noDescription    = "No description available"
	sideEffectsNote  = "Consult your healthcare provider for complete information about side effects."
	defaultTerm      = "skin cancer"
	maxTermsPerLabel = 2
)

var searchTerms = map[diagnosis.Label][]string{
	diagnosis.LabelMelanoma:              {"melanoma"},
	diagnosis.LabelBasalCellCarcinoma:    {"basal cell carcinoma", "skin cancer"},
	diagnosis.LabelSquamousCellCarcinoma: {"squamous cell carcinoma", "skin cancer"},
	diagnosis.LabelActinicKeratosis:      {"actinic keratosis"},
	diagnosis.LabelBenign:                {"dermatological treatment"},
	diagnosis.LabelDermatofibroma:        {"dermatofibroma"},
	diagnosis.LabelVascularLesion:        {"vascular lesion"},
}

var fallback = Suggestion{
	Name:         "Consultation Required",
	GenericName:  "Medical Consultation",
	DosageForm:   "Consultation",
	Manufacturer: "Healthcare Provider",
	Description:  "Please consult with a healthcare provider for proper diagnosis and treatment.",
	SideEffects:  "N/A",
}

// Fallback returns the suggestion used when the service yields nothing.
func Fallback() Suggestion {
	return fallback
}

// IsFallback reports whether list is the degraded single-suggestion result.
func IsFallback(list []Suggestion) bool {
	return len(list) == 1 && list[0] == fallback
}

// SearchTerms returns the ordered search terms used for label.
func SearchTerms(label diagnosis.Label) []string {
	terms, ok := searchTerms[label]
	if !ok {
		return []string{defaultTerm}
	}
	if len(terms) > maxTermsPerLabel {
		terms = terms[:maxTermsPerLabel]
	}
	return append([]string(nil), terms...)
}

// Config holds enrichment client settings.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:  "https://api.fda.gov/drug",
		Timeout:  10 * time.Second,
		CacheTTL: time.Hour,
	}
}

// Client queries the drug label endpoint. It is safe for concurrent use.
type Client struct {
	config     Config
	httpClient *http.Client
	cache      *cache.Cache
	logger     *zap.Logger
}

// NewClient builds a client, filling unset config values with defaults.
func NewClient(config Config, logger *zap.Logger) *Client {
	defaults := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = defaults.CacheTTL
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		cache:      cache.New(config.CacheTTL, config.CacheTTL*2),
		logger:     logger.Named("enrichment"),
	}
}

// Suggest implements Suggester. Each search term gets one bounded request; a
// term that fails is skipped. The caller's cancellation is not propagated.
func (c *Client) Suggest(ctx context.Context, label diagnosis.Label) []Suggestion {
	cacheKey := "suggestions:" + string(label)
	if cached, found := c.cache.Get(cacheKey); found {
		if list, ok := cached.([]Suggestion); ok {
			return append([]Suggestion(nil), list...)
		}
	}

	ctx = context.WithoutCancel(ctx)
	var suggestions []Suggestion
	for _, term := range SearchTerms(label) {
		found, err := c.query(ctx, term, MaxSuggestions)
		if err != nil {
			c.logger.Warn("drug label query failed",
				zap.String("label", string(label)),
				zap.String("term", term),
				zap.Error(err))
			continue
		}

		remaining := MaxSuggestions - len(suggestions)
		if len(found) > remaining {
			found = found[:remaining]
		}
		suggestions = append(suggestions, found...)
		if len(suggestions) >= MaxSuggestions {
			break
		}
	}

	if len(suggestions) == 0 {
		c.logger.Info("no drug labels found, using fallback suggestion", zap.String("label", string(label)))
		return []Suggestion{fallback}
	}

	c.cache.Set(cacheKey, append([]Suggestion(nil), suggestions...), cache.DefaultExpiration)
	return suggestions
}

func (c *Client) query(ctx context.Context, term string, limit int) ([]Suggestion, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	params := url.Values{}
	params.Set("search", fmt.Sprintf("indications_and_usage:%q", term))
	params.Set("limit", fmt.Sprint(limit))
	endpoint := c.config.BaseURL + "/label.json?" + params.Encode()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var payload labelResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode drug labels: %w", err)
	}

	out := make([]Suggestion, 0, len(payload.Results))
	for _, r := range payload.Results {
		out = append(out, r.toSuggestion())
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r labelResult) toSuggestion() Suggestion {
	description := firstOr(r.Description, "")
	if description == "" {
		description = firstOr(r.IndicationsAndUsage, noDescription)
	}
	return Suggestion{
		Name:         firstOr(r.OpenFDA.BrandName, unknownField),
		GenericName:  firstOr(r.OpenFDA.GenericName, unknownField),
		DosageForm:   firstOr(r.OpenFDA.DosageForm, unknownField),
		Manufacturer: firstOr(r.OpenFDA.ManufacturerName, unknownField),
		Description:  Truncate(description, MaxDescriptionRunes),
		SideEffects:  sideEffectsNote,
	}
}

func firstOr(values []string, def string) string {
	if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
		return def
	}
	return values[0]
}

// Truncate keeps the first limit characters of s and appends "..." when s is longer.
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + truncationMarker
}

// Package catalog loads the provider listing and filters it for display.
package catalog

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/homepro-connect/pkg/logging"
)

var catalogTracer = otel.Tracer("homepro.internal.catalog")

// NoProvidersText is shown in place of an empty result.
const NoProvidersText = "No providers found."

// Lister fetches the raw provider listing.
type Lister interface {
	ListProviders(ctx context.Context) ([]json.RawMessage, error)
}

// CategoryOption is one entry of the category dropdown.
type CategoryOption struct {
	Value string
	Label string
}

// Criteria narrows the catalog. Empty or "all" category and price match
// everything.
type Criteria struct {
	Query    string
	Category string
	Price    string
}

// Card is the display shape of a provider.
type Card struct {
	ProviderID string
	Title      string
	Subtitle   string
	Rating     string
	Price      string
	Image      string
}

// Rendered is the result of Render: either cards or the empty placeholder.
type Rendered struct {
	Cards       []Card
	Placeholder string
}

// Catalog is the in-memory provider set.
type Catalog struct {
	lister Lister
	logger *logging.Logger

	mu           sync.RWMutex
	providers    []Provider
	fromFallback bool
}

// New constructs a Catalog.
func New(lister Lister, logger *logging.Logger) *Catalog {
	if lister == nil {
		panic("catalog: lister required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Catalog{lister: lister, logger: logger}
}

// Load fetches the providers. Any failure installs the built-in seed list
// instead; this is not reported as an error.
func (c *Catalog) Load(ctx context.Context) []Provider {
	ctx, span := catalogTracer.Start(ctx, "catalog.load")
	defer span.End()

	providers, err := c.fetch(ctx)
	fallback := false
	if err != nil {
		c.logger.Warn("catalog: load failed, using built-in providers", "error", err)
		span.RecordError(err)
		providers = fallbackProviders()
		fallback = true
	}
	span.SetAttributes(
		attribute.Int("homepro.provider_count", len(providers)),
		attribute.Bool("homepro.fallback", fallback),
	)

	c.mu.Lock()
	c.providers = providers
	c.fromFallback = fallback
	c.mu.Unlock()
	return clone(providers)
}

func (c *Catalog) fetch(ctx context.Context) ([]Provider, error) {
	items, err := c.lister.ListProviders(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Provider, 0, len(items))
	for _, item := range items {
		var p Provider
		if err := json.Unmarshal(item, &p); err != nil {
			c.logger.Warn("catalog: skipping undecodable provider", "error", err)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// FromFallback reports whether the last Load installed the seed list.
func (c *Catalog) FromFallback() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fromFallback
}

// Providers returns a copy of the loaded set in catalog order.
func (c *Catalog) Providers() []Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return clone(c.providers)
}

// Find returns the provider with id.
func (c *Catalog) Find(id string) (Provider, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.providers {
		if p.ID == id {
			return p, true
		}
	}
	return Provider{}, false
}

// Categories lists distinct categories in first-seen order. Label is for
// display only.
func (c *Catalog) Categories() []CategoryOption {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Categories(c.providers)
}

// Filter applies criteria to the loaded set.
func (c *Catalog) Filter(criteria Criteria) []Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Filter(c.providers, criteria)
}

// Render filters and converts to cards.
func (c *Catalog) Render(criteria Criteria) Rendered {
	matches := c.Filter(criteria)
	if len(matches) == 0 {
		return Rendered{Placeholder: NoProvidersText}
	}
	cards := make([]Card, 0, len(matches))
	for _, p := range matches {
		cards = append(cards, p.Card())
	}
	return Rendered{Cards: cards}
}

// Card converts p to its display shape.
func (p Provider) Card() Card {
	return Card{
		ProviderID: p.ID,
		Title:      p.Name,
		Subtitle:   p.Category + " - " + p.Service,
		Rating:     strconv.FormatFloat(p.Rating, 'f', 1, 64),
		Price:      "$" + p.Price,
		Image:      p.Image,
	}
}

// Categories lists the distinct categories of providers.
func Categories(providers []Provider) []CategoryOption {
	seen := make(map[string]bool)
	var out []CategoryOption
	for _, p := range providers {
		if p.Category == "" || seen[p.Category] {
			continue
		}
		seen[p.Category] = true
		out = append(out, CategoryOption{Value: p.Category, Label: capitalize(p.Category)})
	}
	return out
}

// Filter is a pure projection of providers: identical inputs give identical
// output in catalog order.
func Filter(providers []Provider, criteria Criteria) []Provider {
	q := strings.ToLower(strings.TrimSpace(criteria.Query))
	out := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if q != "" &&
			!strings.Contains(strings.ToLower(p.Name), q) &&
			!strings.Contains(strings.ToLower(p.Description), q) {
			continue
		}
		if !wildcard(criteria.Category) && p.Category != criteria.Category {
			continue
		}
		if !wildcard(criteria.Price) && p.Price != criteria.Price {
			continue
		}
		out = append(out, p)
	}
	return out
}

func wildcard(v string) bool { return v == "" || v == "all" }

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	return strings.ToUpper(string(r[0])) + string(r[1:])
}

func clone(in []Provider) []Provider {
	if in == nil {
		return nil
	}
	out := make([]Provider, len(in))
	copy(out, in)
	return out
}

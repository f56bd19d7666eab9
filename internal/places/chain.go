package places

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/harinnig/heymateBackend/internal/directory"
	"github.com/harinnig/heymateBackend/internal/model"
)

// Place is one nearby business returned by a lookup source.
type Place struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Address        string  `json:"address,omitempty"`
	Phone          string  `json:"phone,omitempty"`
	Website        string  `json:"website,omitempty"`
	OpeningHours   string  `json:"opening_hours,omitempty"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	DistanceMeters float64 `json:"distance_meters"`
}

// Query is one nearby lookup.
type Query struct {
	Category     string
	Point        model.GeoPoint
	RadiusMeters float64
	Limit        int
}

// Source is one place-data backend. Implementations must respect the
// context deadline; the chain budgets one per source.
type Source interface {
	Lookup(ctx context.Context, q Query) ([]Place, error)
	Name() string
}

// ErrNoResults signals a source answered but found nothing, letting the
// chain move on to the next source.
var ErrNoResults = errors.New("no places found")

// DefaultSourceTimeout bounds each source attempt.
const DefaultSourceTimeout = 10 * time.Second

// Chain tries an ordered list of sources, first success wins. Each
// attempt runs under its own timeout so one slow backend cannot eat the
// whole budget. A chain where every source fails returns an empty
// result, not an error; nearby lookup is advisory.
type Chain struct {
	sources []Source
	timeout time.Duration
}

func NewChain(timeout time.Duration, sources ...Source) *Chain {
	if timeout <= 0 {
		timeout = DefaultSourceTimeout
	}
	return &Chain{sources: sources, timeout: timeout}
}

// Lookup runs the chain. Results are sorted by distance ascending and
// capped to q.Limit.
func (c *Chain) Lookup(ctx context.Context, q Query) []Place {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	for _, src := range c.sources {
		attempt, cancel := context.WithTimeout(ctx, c.timeout)
		found, err := src.Lookup(attempt, q)
		cancel()
		if err != nil {
			if !errors.Is(err, ErrNoResults) {
				slog.WarnContext(ctx, "place source failed",
					"source", src.Name(), "category", q.Category, "error", err)
			}
			continue
		}
		if len(found) == 0 {
			continue
		}
		for i := range found {
			found[i].DistanceMeters = directory.HaversineMeters(q.Point, model.GeoPoint{
				Latitude:  found[i].Latitude,
				Longitude: found[i].Longitude,
			})
		}
		sort.Slice(found, func(i, j int) bool {
			return found[i].DistanceMeters < found[j].DistanceMeters
		})
		if len(found) > q.Limit {
			found = found[:q.Limit]
		}
		slog.InfoContext(ctx, "places_found",
			"source", src.Name(), "category", q.Category, "count", len(found))
		return found
	}
	return []Place{}
}

// categorySearchTerms maps service categories to the search keyword the
// open place databases understand.
var categorySearchTerms = map[string]string{
	"Plumbing":      "plumber",
	"Electrical":    "electrician",
	"Cleaning":      "cleaning service",
	"Painting":      "painter",
	"Carpentry":     "carpenter",
	"AC Repair":     "air conditioning repair",
	"Car Wash":      "car wash",
	"Moving":        "packers movers",
	"Salon":         "salon",
	"Pet Care":      "veterinary pet",
	"Tutoring":      "tuition centre",
	"Food Delivery": "restaurant",
	"Other":         "home services",
}

// SearchTerm resolves the lookup keyword for a category.
func SearchTerm(category string) string {
	if term, ok := categorySearchTerms[category]; ok {
		return term
	}
	if category != "" {
		return category
	}
	return "shop"
}

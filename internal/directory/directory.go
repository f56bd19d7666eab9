package directory

import (
	"context"
	"math"

	"github.com/harinnig/heymateBackend/internal/model"
)

// Directory is the provider-directory boundary: given a category and a
// point it returns available, non-excluded providers within the radius,
// ranked by distance ascending.
type Directory interface {
	Query(ctx context.Context, category string, point model.GeoPoint, radiusMeters float64, excludeIDs []string) ([]model.Candidate, error)
}

// JobCounter records completed jobs against a provider. The counter is
// the only provider field the request lifecycle writes.
type JobCounter interface {
	IncrementCompletedJobs(ctx context.Context, providerID string) error
}

const earthRadiusMeters = 6371000

// HaversineMeters is the great-circle distance between two points.
func HaversineMeters(a, b model.GeoPoint) float64 {
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

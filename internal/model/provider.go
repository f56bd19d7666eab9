package model

import "time"

// Provider is the directory's view of a service provider. The core reads
// availability, location and categories; the only field it writes is the
// completed-job counter.
type Provider struct {
	ProviderID    string    `json:"provider_id" bson:"provider_id"`
	Name          string    `json:"name" bson:"name"`
	Categories    []string  `json:"categories" bson:"categories"`
	Location      GeoPoint  `json:"location" bson:"location"`
	Available     bool      `json:"available" bson:"available"`
	RatingAverage float64   `json:"rating_average" bson:"rating_average"`
	RatingCount   int       `json:"rating_count" bson:"rating_count"`
	CompletedJobs int       `json:"completed_jobs" bson:"completed_jobs"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
}

// ServesCategory reports whether the provider covers the category.
func (p *Provider) ServesCategory(category string) bool {
	for _, c := range p.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// Candidate is one match returned by a directory query, ranked by
// distance from the request location.
type Candidate struct {
	ProviderID     string  `json:"provider_id"`
	Name           string  `json:"name,omitempty"`
	DistanceMeters float64 `json:"distance_meters"`
}

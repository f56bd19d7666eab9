package directory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/harinnig/heymateBackend/internal/httpclient"
	"github.com/harinnig/heymateBackend/internal/model"
)

// Client talks to an external provider-directory service over HTTP.
type Client struct {
	baseURL string
	client  *httpclient.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  httpclient.NewClient("provider-directory", 10*time.Second),
	}
}

func (c *Client) Query(ctx context.Context, category string, point model.GeoPoint, radiusMeters float64, excludeIDs []string) ([]model.Candidate, error) {
	var result struct {
		Category   string            `json:"category"`
		Candidates []model.Candidate `json:"candidates"`
		Count      int               `json:"count"`
	}

	err := httpclient.NewRequest("GET", c.baseURL).
		Path("/internal/providers/nearby").
		Query("category", category).
		Query("lat", strconv.FormatFloat(point.Latitude, 'f', -1, 64)).
		Query("lon", strconv.FormatFloat(point.Longitude, 'f', -1, 64)).
		Query("radius", strconv.FormatFloat(radiusMeters, 'f', -1, 64)).
		Query("exclude", strings.Join(excludeIDs, ",")).
		Context(ctx).
		ExecuteJSON(c.client, &result)
	if err != nil {
		return nil, fmt.Errorf("query directory: %w", err)
	}
	return result.Candidates, nil
}

func (c *Client) IncrementCompletedJobs(ctx context.Context, providerID string) error {
	path := fmt.Sprintf("/internal/providers/%s/completed-jobs", providerID)
	err := httpclient.NewRequest("POST", c.baseURL).
		Path(path).
		Context(ctx).
		ExecuteJSON(c.client, nil)
	if err != nil {
		return fmt.Errorf("increment completed jobs: %w", err)
	}
	return nil
}

package places

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/harinnig/heymateBackend/internal/httpclient"
)

const defaultOverpassURL = "https://overpass-api.de/api/interpreter"

// OverpassSource queries the OpenStreetMap Overpass API. The query
// matches shops, amenities, crafts and names against the category's
// search keyword within the radius.
type OverpassSource struct {
	baseURL string
	client  *httpclient.Client
}

func NewOverpassSource(baseURL string, client *httpclient.Client) *OverpassSource {
	if baseURL == "" {
		baseURL = defaultOverpassURL
	}
	return &OverpassSource{baseURL: baseURL, client: client}
}

func (s *OverpassSource) Name() string { return "overpass" }

type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

type overpassElement struct {
	ID     int64             `json:"id"`
	Lat    float64           `json:"lat"`
	Lon    float64           `json:"lon"`
	Center *overpassCenter   `json:"center,omitempty"`
	Tags   map[string]string `json:"tags"`
}

type overpassCenter struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (s *OverpassSource) Lookup(ctx context.Context, q Query) ([]Place, error) {
	keyword := SearchTerm(q.Category)
	radius := int(q.RadiusMeters)
	if radius <= 0 {
		radius = 5000
	}

	query := buildOverpassQuery(keyword, radius, q.Point.Latitude, q.Point.Longitude)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, strings.NewReader(query))
	if err != nil {
		return nil, fmt.Errorf("build overpass request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("overpass call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("overpass status %d", resp.StatusCode)
	}

	var decoded overpassResponse
	if err := decodeBody(resp.Body, &decoded); err != nil {
		return nil, fmt.Errorf("decode overpass response: %w", err)
	}

	places := make([]Place, 0, len(decoded.Elements))
	for _, el := range decoded.Elements {
		name := el.Tags["name"]
		if name == "" {
			continue
		}
		lat, lon := el.Lat, el.Lon
		if lat == 0 && lon == 0 && el.Center != nil {
			lat, lon = el.Center.Lat, el.Center.Lon
		}
		if lat == 0 && lon == 0 {
			continue
		}
		places = append(places, Place{
			ID:           strconv.FormatInt(el.ID, 10),
			Name:         name,
			Address:      overpassAddress(el.Tags),
			Phone:        firstTag(el.Tags, "phone", "contact:phone", "contact:mobile"),
			Website:      firstTag(el.Tags, "website", "contact:website"),
			OpeningHours: el.Tags["opening_hours"],
			Latitude:     lat,
			Longitude:    lon,
		})
	}
	if len(places) == 0 {
		return nil, ErrNoResults
	}
	return places, nil
}

func buildOverpassQuery(keyword string, radius int, lat, lon float64) string {
	around := fmt.Sprintf("(around:%d,%f,%f)", radius, lat, lon)
	var b strings.Builder
	b.WriteString("[out:json][timeout:20];\n(\n")
	for _, selector := range []string{"shop", "amenity", "craft", "name"} {
		fmt.Fprintf(&b, "  node[%q~%q,i]%s;\n", selector, keyword, around)
	}
	for _, selector := range []string{"name", "shop"} {
		fmt.Fprintf(&b, "  way[%q~%q,i]%s;\n", selector, keyword, around)
	}
	b.WriteString(");\nout center tags 30;\n")
	return b.String()
}

func overpassAddress(tags map[string]string) string {
	parts := make([]string, 0, 3)
	for _, key := range []string{"addr:housenumber", "addr:street"} {
		if v := tags[key]; v != "" {
			parts = append(parts, v)
		}
	}
	if v := firstTag(tags, "addr:suburb", "addr:city"); v != "" {
		parts = append(parts, v)
	}
	if len(parts) > 0 {
		return strings.Join(parts, ", ")
	}
	return firstTag(tags, "addr:full", "addr:place")
}

func firstTag(tags map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := tags[k]; v != "" {
			return v
		}
	}
	return ""
}

func decodeBody(r io.Reader, v any) error {
	body, err := io.ReadAll(io.LimitReader(r, 4<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

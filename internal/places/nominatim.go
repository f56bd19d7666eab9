package places

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/harinnig/heymateBackend/internal/httpclient"
)

const defaultNominatimURL = "https://nominatim.openstreetmap.org"

// NominatimSource is the secondary source: a bounded-viewbox free-text
// search against the OSM geocoder. Nominatim requires an identifying
// User-Agent.
type NominatimSource struct {
	baseURL   string
	userAgent string
	client    *httpclient.Client
}

func NewNominatimSource(baseURL, userAgent string, client *httpclient.Client) *NominatimSource {
	if baseURL == "" {
		baseURL = defaultNominatimURL
	}
	if userAgent == "" {
		userAgent = "heymated/1.0"
	}
	return &NominatimSource{baseURL: baseURL, userAgent: userAgent, client: client}
}

func (s *NominatimSource) Name() string { return "nominatim" }

type nominatimPlace struct {
	PlaceID     int64  `json:"place_id"`
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
}

func (s *NominatimSource) Lookup(ctx context.Context, q Query) ([]Place, error) {
	lat, lon := q.Point.Latitude, q.Point.Longitude
	viewbox := fmt.Sprintf("%f,%f,%f,%f", lon-0.1, lat+0.1, lon+0.1, lat-0.1)

	var decoded []nominatimPlace
	err := httpclient.NewRequest("GET", s.baseURL).
		Path("/search").
		Query("q", SearchTerm(q.Category)).
		Query("format", "json").
		Query("limit", "15").
		Query("addressdetails", "1").
		Query("viewbox", viewbox).
		Query("bounded", "1").
		Header("User-Agent", s.userAgent).
		Context(ctx).
		ExecuteJSON(s.client, &decoded)
	if err != nil {
		return nil, fmt.Errorf("nominatim call: %w", err)
	}

	places := make([]Place, 0, len(decoded))
	for _, p := range decoded {
		if p.DisplayName == "" {
			continue
		}
		plat, perr := strconv.ParseFloat(p.Lat, 64)
		plon, lerr := strconv.ParseFloat(p.Lon, 64)
		if perr != nil || lerr != nil {
			continue
		}
		name, address := splitDisplayName(p.DisplayName)
		places = append(places, Place{
			ID:        strconv.FormatInt(p.PlaceID, 10),
			Name:      name,
			Address:   address,
			Latitude:  plat,
			Longitude: plon,
		})
	}
	if len(places) == 0 {
		return nil, ErrNoResults
	}
	return places, nil
}

func splitDisplayName(displayName string) (name, address string) {
	parts := strings.Split(displayName, ",")
	name = strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		end := len(parts)
		if end > 3 {
			end = 3
		}
		address = strings.TrimSpace(strings.Join(parts[1:end], ","))
	}
	return name, address
}

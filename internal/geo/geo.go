// Package geo resolves place names to coordinates and produces proximity
// SQL fragments for location-aware queries.
//
// Resolution checks a static gazetteer of oceanographic locations first,
// then optionally falls back to the Nominatim geocoding service. External
// lookup is best effort: failure means "not found", never an error surfaced
// to the pipeline.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/floatchat/floatchat/internal/log"
)

// DefaultRadiusKm is the proximity radius used when none is configured.
const DefaultRadiusKm = 500.0

// kmPerDegreeLatitude approximates one degree of latitude.
const kmPerDegreeLatitude = 111.32

// Location is a named point on the globe.
type Location struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Country   string  `json:"country,omitempty"`
}

// gazetteerEntry pairs the lower-cased lookup key with its location.
// Slice order is load-bearing: EnhanceQuery surfaces the first key found
// as a substring of the query.
type gazetteerEntry struct {
	key string
	loc Location
}

// gazetteer covers major ARGO deployment areas for common queries.
var gazetteer = []gazetteerEntry{
	{"mumbai", Location{"Mumbai", 19.0760, 72.8777, "India"}},
	{"pacific", Location{"Pacific Ocean", 15.0, -150.0, ""}},
	{"atlantic", Location{"Atlantic Ocean", 25.0, -40.0, ""}},
	{"indian ocean", Location{"Indian Ocean", -10.0, 90.0, ""}},
	{"bay of bengal", Location{"Bay of Bengal", 12.0, 88.0, "India"}},
	{"arabian sea", Location{"Arabian Sea", 14.0, 65.0, ""}},
	{"gulf of mexico", Location{"Gulf of Mexico", 26.0, -90.0, ""}},
	{"mediterranean", Location{"Mediterranean Sea", 35.0, 20.0, ""}},
	{"north sea", Location{"North Sea", 55.0, 3.0, ""}},
	{"california", Location{"California Coast", 35.0, -125.0, "USA"}},
	{"alaska", Location{"Alaska", 58.0, -150.0, "USA"}},
	{"japan", Location{"Japan", 35.0, 140.0, "Japan"}},
	{"australia", Location{"Australia", -20.0, 130.0, "Australia"}},
	{"antarctica", Location{"Antarctica", -65.0, 0.0, ""}},
	{"greenland", Location{"Greenland", 70.0, -40.0, "Denmark"}},
	{"hawaii", Location{"Hawaii", 21.0, -157.0, "USA"}},
	{"tropical pacific", Location{"Tropical Pacific", 5.0, -170.0, ""}},
	{"north atlantic", Location{"North Atlantic", 45.0, -35.0, ""}},
	{"south atlantic", Location{"South Atlantic", -25.0, -15.0, ""}},
	{"tropical indian", Location{"Tropical Indian Ocean", -5.0, 80.0, ""}},
	{"south pacific", Location{"South Pacific", -25.0, -170.0, ""}},
}

const nominatimURL = "https://nominatim.openstreetmap.org/search"

// Resolver converts place names to coordinates.
type Resolver struct {
	client          *http.Client
	externalEnabled bool
	geocodeEndpoint string
	userAgent       string
	radiusKm        float64
	logger          log.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithExternalGeocoding toggles the Nominatim fallback.
func WithExternalGeocoding(enabled bool) Option {
	return func(r *Resolver) { r.externalEnabled = enabled }
}

// WithRadiusKm overrides the default proximity radius.
func WithRadiusKm(km float64) Option {
	return func(r *Resolver) {
		if km > 0 {
			r.radiusKm = km
		}
	}
}

// WithUserAgent sets the User-Agent header sent to the geocoding service.
// Nominatim's usage policy requires an identifying agent.
func WithUserAgent(ua string) Option {
	return func(r *Resolver) {
		if ua != "" {
			r.userAgent = ua
		}
	}
}

// WithGeocodeEndpoint overrides the geocoding URL, for tests.
func WithGeocodeEndpoint(endpoint string) Option {
	return func(r *Resolver) { r.geocodeEndpoint = endpoint }
}

// NewResolver creates a Resolver with a bounded-timeout HTTP client.
func NewResolver(logger log.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		client:          &http.Client{Timeout: 5 * time.Second},
		externalEnabled: true,
		geocodeEndpoint: nominatimURL,
		userAgent:       "FloatChat/1.0 (oceanographic research)",
		radiusKm:        DefaultRadiusKm,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lookup resolves a place name to coordinates. The gazetteer is consulted
// first; unknown names go to the external geocoder when enabled. A nil
// result means the name could not be resolved, which is not an error.
func (r *Resolver) Lookup(ctx context.Context, name string) *Location {
	key := strings.ToLower(strings.TrimSpace(name))
	for _, e := range gazetteer {
		if e.key == key {
			loc := e.loc
			return &loc
		}
	}
	if r.externalEnabled {
		return r.geocodeExternal(ctx, name)
	}
	return nil
}

// nominatimResult is the subset of the Nominatim response we read.
type nominatimResult struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Address     struct {
		Country string `json:"country"`
	} `json:"address"`
}

func (r *Resolver) geocodeExternal(ctx context.Context, name string) *Location {
	q := url.Values{}
	q.Set("q", name)
	q.Set("format", "json")
	q.Set("limit", "1")
	q.Set("addressdetails", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.geocodeEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		r.logger.Warn("building geocoding request failed", "location", name, "error", err)
		return nil
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("external geocoding failed", "location", name, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.logger.Warn("external geocoding returned non-OK status",
			"location", name, "status", resp.StatusCode)
		return nil
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		r.logger.Warn("decoding geocoding response failed", "location", name, "error", err)
		return nil
	}
	if len(results) == 0 {
		return nil
	}

	first := results[0]
	var lat, lon float64
	if _, err := fmt.Sscanf(first.Lat, "%f", &lat); err != nil {
		r.logger.Warn("invalid latitude in geocoding response", "location", name, "lat", first.Lat)
		return nil
	}
	if _, err := fmt.Sscanf(first.Lon, "%f", &lon); err != nil {
		r.logger.Warn("invalid longitude in geocoding response", "location", name, "lon", first.Lon)
		return nil
	}

	display := first.DisplayName
	if display == "" {
		display = name
	}
	return &Location{Name: display, Latitude: lat, Longitude: lon, Country: first.Address.Country}
}

// ProximityCondition builds a SQL WHERE fragment selecting rows within
// radiusKm of loc, using the spherical law of cosines over the cycles
// table's latitude/longitude columns. Distance is in kilometers (Earth
// radius 6371 km).
func ProximityCondition(loc Location, radiusKm float64) string {
	return strings.TrimSpace(fmt.Sprintf(`(
    6371 * acos(
        cos(radians(%[1]g)) *
        cos(radians(cycles.latitude)) *
        cos(radians(cycles.longitude) - radians(%[2]g)) +
        sin(radians(%[1]g)) *
        sin(radians(cycles.latitude))
    )
) <= %[3]g`, loc.Latitude, loc.Longitude, radiusKm))
}

// QueryContext is the structured result of scanning a query for locations.
type QueryContext struct {
	Location     Location
	RadiusKm     float64
	ContextBlock string
}

// EnhanceQuery scans the query for gazetteer place names. On the first hit
// it returns the query unchanged plus a context block describing the
// location, the proximity condition, an approximate bounding box, and
// guidance for retrying without the geographic constraint. No hit returns
// (query, nil).
func (r *Resolver) EnhanceQuery(query string) (string, *QueryContext) {
	lower := strings.ToLower(query)

	for _, e := range gazetteer {
		if !strings.Contains(lower, e.key) {
			continue
		}
		loc := e.loc
		radius := r.radiusKm
		condition := ProximityCondition(loc, radius)

		latRange := radius / kmPerDegreeLatitude
		lonRange := radius / (kmPerDegreeLatitude * math.Abs(math.Cos(loc.Latitude*math.Pi/180)))

		var b strings.Builder
		fmt.Fprintf(&b, "LOCATION CONTEXT DETECTED:\n")
		fmt.Fprintf(&b, "User mentioned: %s\n", e.key)
		fmt.Fprintf(&b, "Coordinates: %g°N, %g°E\n", loc.Latitude, loc.Longitude)
		fmt.Fprintf(&b, "SQL proximity condition for within %gkm:\n%s\n\n", radius, condition)
		fmt.Fprintf(&b, "Bounding box for debugging:\n")
		fmt.Fprintf(&b, "Latitude range: %.2f to %.2f\n", loc.Latitude-latRange, loc.Latitude+latRange)
		fmt.Fprintf(&b, "Longitude range: %.2f to %.2f\n\n", loc.Longitude-lonRange, loc.Longitude+lonRange)
		fmt.Fprintf(&b, "If the proximity-constrained query returns no rows, retry the query without the geographic constraint and mention the widened scope in the answer.\n")

		return query, &QueryContext{Location: loc, RadiusKm: radius, ContextBlock: b.String()}
	}

	return query, nil
}

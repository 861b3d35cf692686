package geo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/floatchat/floatchat/internal/log"
)

func TestLookup_Gazetteer(t *testing.T) {
	r := NewResolver(log.NewNop(), WithExternalGeocoding(false))

	loc := r.Lookup(context.Background(), "Mumbai")
	if loc == nil {
		t.Fatal("Lookup(Mumbai) = nil, want gazetteer hit")
	}
	if loc.Latitude != 19.0760 || loc.Longitude != 72.8777 {
		t.Errorf("Mumbai = (%f, %f), want (19.0760, 72.8777)", loc.Latitude, loc.Longitude)
	}
	if loc.Country != "India" {
		t.Errorf("country = %q, want India", loc.Country)
	}

	if got := r.Lookup(context.Background(), "  BAY OF BENGAL "); got == nil {
		t.Error("Lookup should be case and whitespace insensitive")
	}
}

func TestLookup_UnknownWithoutExternal(t *testing.T) {
	r := NewResolver(log.NewNop(), WithExternalGeocoding(false))

	if got := r.Lookup(context.Background(), "atlantis"); got != nil {
		t.Errorf("Lookup(atlantis) = %+v, want nil", got)
	}
}

func TestLookup_ExternalFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if ua := req.Header.Get("User-Agent"); !strings.Contains(ua, "FloatChat") {
			t.Errorf("User-Agent = %q, want FloatChat identifier", ua)
		}
		if q := req.URL.Query().Get("q"); q != "Reykjavik" {
			t.Errorf("q = %q, want Reykjavik", q)
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{{
			"display_name": "Reykjavik, Iceland",
			"lat":          "64.1466",
			"lon":          "-21.9426",
			"address":      map[string]string{"country": "Iceland"},
		}})
	}))
	defer srv.Close()

	r := NewResolver(log.NewNop(), WithGeocodeEndpoint(srv.URL))

	loc := r.Lookup(context.Background(), "Reykjavik")
	if loc == nil {
		t.Fatal("Lookup = nil, want external result")
	}
	if loc.Name != "Reykjavik, Iceland" {
		t.Errorf("name = %q, want display_name", loc.Name)
	}
	if loc.Latitude != 64.1466 || loc.Longitude != -21.9426 {
		t.Errorf("coordinates = (%f, %f)", loc.Latitude, loc.Longitude)
	}
	if loc.Country != "Iceland" {
		t.Errorf("country = %q, want Iceland", loc.Country)
	}
}

func TestLookup_ExternalFailureIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := NewResolver(log.NewNop(), WithGeocodeEndpoint(srv.URL))

	if got := r.Lookup(context.Background(), "anywhere"); got != nil {
		t.Errorf("Lookup with failing geocoder = %+v, want nil", got)
	}
}

func TestProximityCondition(t *testing.T) {
	cond := ProximityCondition(Location{Name: "Mumbai", Latitude: 19.076, Longitude: 72.8777}, 500)

	for _, want := range []string{"6371", "acos", "cycles.latitude", "cycles.longitude", "<= 500"} {
		if !strings.Contains(cond, want) {
			t.Errorf("condition missing %q:\n%s", want, cond)
		}
	}
}

func TestEnhanceQuery_Mumbai(t *testing.T) {
	r := NewResolver(log.NewNop(), WithExternalGeocoding(false))

	query := "Show me temperature near Mumbai"
	got, qc := r.EnhanceQuery(query)

	if got != query {
		t.Errorf("query modified: %q", got)
	}
	if qc == nil {
		t.Fatal("EnhanceQuery = nil context, want Mumbai hit")
	}
	if qc.Location.Latitude != 19.0760 || qc.Location.Longitude != 72.8777 {
		t.Errorf("location = (%f, %f), want (19.076, 72.8777)",
			qc.Location.Latitude, qc.Location.Longitude)
	}
	for _, want := range []string{"19.076", "72.8777", "Bounding box", "retry the query without the geographic constraint"} {
		if !strings.Contains(qc.ContextBlock, want) {
			t.Errorf("context block missing %q", want)
		}
	}
}

func TestEnhanceQuery_FirstMatchWins(t *testing.T) {
	r := NewResolver(log.NewNop(), WithExternalGeocoding(false))

	// Both "pacific" and "tropical pacific" are substrings; the earlier
	// gazetteer entry must win.
	_, qc := r.EnhanceQuery("salinity in the tropical pacific")
	if qc == nil {
		t.Fatal("EnhanceQuery = nil context")
	}
	if qc.Location.Name != "Pacific Ocean" {
		t.Errorf("location = %q, want Pacific Ocean (first gazetteer match)", qc.Location.Name)
	}
}

func TestEnhanceQuery_NoLocation(t *testing.T) {
	r := NewResolver(log.NewNop(), WithExternalGeocoding(false))

	query := "average temperature below 1000 dbar"
	got, qc := r.EnhanceQuery(query)
	if got != query || qc != nil {
		t.Errorf("EnhanceQuery(%q) = (%q, %+v), want unchanged and nil", query, got, qc)
	}
}

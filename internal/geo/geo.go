// Package geo resolves French postal codes to city names through the IGN
// geocoding service. Resolution is best effort: any failure, including an
// invalid postal code, degrades to a sentinel so lead delivery never
// blocks on geocoding.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"time"
)

// NotSpecified is returned whenever a city cannot be resolved.
const NotSpecified = "Not specified"

// DefaultBaseURL is the public IGN geocoding endpoint.
const DefaultBaseURL = "https://data.geopf.fr/geocodage"

const requestTimeout = 8 * time.Second

// cacheTTL bounds how long a resolved city is reused. Postal code to city
// assignments change rarely; a week keeps upstream traffic near zero.
const cacheTTL = 7 * 24 * time.Hour

var postalCodeRe = regexp.MustCompile(`^\d{5}$`)

// Cache stores resolved cities keyed by postal code. Implementations are
// best effort on both sides: a miss or a failed store never surfaces.
type Cache interface {
	Get(ctx context.Context, postalCode string) (string, bool)
	Set(ctx context.Context, postalCode, city string)
}

// Resolver queries the geocoding service with a shared cache in front.
type Resolver struct {
	client  *http.Client
	baseURL string
	cache   Cache
}

// NewResolver creates a resolver against baseURL. An empty baseURL selects
// the public IGN service.
func NewResolver(baseURL string, cache Cache) *Resolver {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Resolver{
		client:  &http.Client{Timeout: requestTimeout},
		baseURL: baseURL,
		cache:   cache,
	}
}

type geocodeResponse struct {
	Features []struct {
		Properties struct {
			City string `json:"city"`
		} `json:"properties"`
	} `json:"features"`
}

// ResolveCity maps a five-digit postal code to its city name. Invalid
// codes, upstream errors and empty results all yield the sentinel.
func (r *Resolver) ResolveCity(ctx context.Context, postalCode string) string {
	if !postalCodeRe.MatchString(postalCode) {
		return NotSpecified
	}

	if r.cache != nil {
		if city, ok := r.cache.Get(ctx, postalCode); ok {
			return city
		}
	}

	city, err := r.lookup(ctx, postalCode)
	if err != nil {
		log.Printf("geo: lookup for %s failed: %v", postalCode, err)
		return NotSpecified
	}

	if r.cache != nil {
		r.cache.Set(ctx, postalCode, city)
	}
	return city
}

func (r *Resolver) lookup(ctx context.Context, postalCode string) (string, error) {
	query := url.Values{}
	query.Set("q", postalCode)
	query.Set("index", "address")
	query.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/search?"+query.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geocode status %d", resp.StatusCode)
	}

	var body geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode geocode response: %w", err)
	}
	if len(body.Features) == 0 || body.Features[0].Properties.City == "" {
		return "", fmt.Errorf("no result for %s", postalCode)
	}
	return body.Features[0].Properties.City, nil
}

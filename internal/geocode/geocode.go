// Package geocode resolves coordinates to a human-readable place name for
// prompt context. The default client talks to the BigDataCloud reverse
// geocoding endpoint, which requires no API key for client-side lookups.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the public reverse geocoding endpoint used when no
// override is configured.
const DefaultBaseURL = "https://api.bigdatacloud.net/data/reverse-geocode-client"

// Place is a coarse human-readable location.
type Place struct {
	City    string
	Region  string
	Country string
}

// String renders the place as "City, Region, Country", skipping empty parts.
func (p Place) String() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{p.City, p.Region, p.Country} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// Geocoder resolves coordinates to a place.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (Place, error)
}

// Client is a Geocoder backed by an HTTP reverse geocoding service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a geocoding client. An empty baseURL selects
// [DefaultBaseURL].
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// geocodeResponse is the JSON response of the reverse geocoding endpoint.
type geocodeResponse struct {
	City                 string `json:"city"`
	Locality             string `json:"locality"`
	PrincipalSubdivision string `json:"principalSubdivision"`
	CountryName          string `json:"countryName"`
}

func (c *Client) ReverseGeocode(ctx context.Context, lat, lng float64) (Place, error) {
	params := url.Values{
		"latitude":         {strconv.FormatFloat(lat, 'f', -1, 64)},
		"longitude":        {strconv.FormatFloat(lng, 'f', -1, 64)},
		"localityLanguage": {"en"},
	}

	reqURL := c.baseURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Place{}, fmt.Errorf("geocode: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Place{}, fmt.Errorf("geocode: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Place{}, fmt.Errorf("geocode: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var gr geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return Place{}, fmt.Errorf("geocode: decode response: %w", err)
	}

	city := gr.City
	if city == "" {
		city = gr.Locality
	}
	return Place{
		City:    city,
		Region:  gr.PrincipalSubdivision,
		Country: gr.CountryName,
	}, nil
}

var _ Geocoder = (*Client)(nil)

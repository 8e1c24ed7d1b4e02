package sedas

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	sedashttp "github.com/SatelliteApplicationsCatapult/sedas-go/internal/http"
)

// Sensor types accepted by the search endpoint.
const (
	SensorAll     = "All"
	SensorSAR     = "SAR"
	SensorOptical = "Optical"
)

// searchQuery collects the optional parts of a catalogue search.
type searchQuery struct {
	sensor        string
	satelliteName string
	sourceGroup   string
	filters       map[string]any
}

// SearchOption refines a catalogue search.
type SearchOption func(*searchQuery)

// WithSensor restricts the search to one sensor type. See the Sensor
// constants; the default is SensorAll.
func WithSensor(sensor string) SearchOption {
	return func(q *searchQuery) {
		q.sensor = sensor
	}
}

// WithSatelliteName restricts the search to a single satellite, for
// example "Sentinel-1A".
func WithSatelliteName(name string) SearchOption {
	return func(q *searchQuery) {
		q.satelliteName = name
	}
}

// WithSourceGroup restricts the search to a named group of data sources.
func WithSourceGroup(group string) SearchOption {
	return func(q *searchQuery) {
		q.sourceGroup = group
	}
}

// WithFilter adds a product filter to the search, for example
// ("sarProductType", "SLC") or ("maxCloudPercent", 50). The accepted
// filters are listed at
// https://geobrowser.satapps.org/docs/json_ProductFilters.html.
func WithFilter(name string, value any) SearchOption {
	return func(q *searchQuery) {
		q.filters[name] = value
	}
}

// Search queries the catalogue for products intersecting the given WKT
// polygon between start and stop, both ISO8601 timestamps such as
// "2020-04-01T00:00:00Z".
func (c *Client) Search(ctx context.Context, wkt, start, stop string, opts ...SearchOption) (*SearchResult, error) {
	q := searchQuery{
		sensor:  SensorAll,
		filters: map[string]any{},
	}
	for _, opt := range opts {
		opt(&q)
	}

	body := map[string]any{
		"sensorFilters": map[string]string{"type": q.sensor},
		"filters":       q.filters,
		"aoiWKT":        wkt,
		"start":         start,
		"stop":          stop,
	}
	if q.satelliteName != "" {
		body["satelliteName"] = q.satelliteName
	}
	if q.sourceGroup != "" {
		body["sourceGroup"] = q.sourceGroup
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("sedas: encode search: %w", err)
	}

	resp, err := c.call(ctx, http.MethodPost, c.baseURL+"search", payload)
	if err != nil {
		return nil, fmt.Errorf("sedas: search: %w", err)
	}
	defer resp.Body.Close()

	if err := sedashttp.CheckStatus(resp.StatusCode); err != nil {
		return nil, fmt.Errorf("sedas: search: %w", err)
	}

	var result SearchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("sedas: decode search response: %w", err)
	}
	return &result, nil
}

// SearchSAR queries the catalogue for SAR products only.
func (c *Client) SearchSAR(ctx context.Context, wkt, start, stop string, opts ...SearchOption) (*SearchResult, error) {
	return c.Search(ctx, wkt, start, stop, append(opts, WithSensor(SensorSAR))...)
}

// SearchOptical queries the catalogue for optical products only.
func (c *Client) SearchOptical(ctx context.Context, wkt, start, stop string, opts ...SearchOption) (*SearchResult, error) {
	return c.Search(ctx, wkt, start, stop, append(opts, WithSensor(SensorOptical))...)
}

// SearchProduct looks up catalogue entries by their supplier identifiers.
func (c *Client) SearchProduct(ctx context.Context, supplierIDs ...string) (*SearchResult, error) {
	ids := url.QueryEscape(strings.Join(supplierIDs, ","))

	resp, err := c.call(ctx, http.MethodGet, c.baseURL+"search/products?ids="+ids, nil)
	if err != nil {
		return nil, fmt.Errorf("sedas: search products: %w", err)
	}
	defer resp.Body.Close()

	if err := sedashttp.CheckStatus(resp.StatusCode); err != nil {
		return nil, fmt.Errorf("sedas: search products: %w", err)
	}

	var result SearchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("sedas: decode search response: %w", err)
	}
	return &result, nil
}

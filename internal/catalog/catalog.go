// SPDX-License-Identifier: MPL-2.0

package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	// DefaultEndpoint is the Unity services GraphQL endpoint.
	DefaultEndpoint = "https://services.unity.com/graphql"

	// DefaultUserAgent is sent with catalog queries. The Unity services reject
	// some generic clients, so this mirrors the download User-Agent.
	DefaultUserAgent = "Unity web player"

	// DefaultPageSize is the number of entries requested per family.
	DefaultPageSize = 300

	// maxResponseBytes bounds a catalog response (10 MB).
	maxResponseBytes = 10 << 20

	schemaURL = "inmemory://unity-release-catalog.json"

	releaseQuery = `query GetRelease($limit: Int, $skip: Int, $version: String!, $stream: [UnityReleaseStream!]) {
  getUnityReleases(
    limit: $limit
    skip: $skip
    stream: $stream
    version: $version
    entitlements: [XLTS]
  ) {
    totalCount
    edges {
      node {
        version
        entitlements
        releaseDate
        unityHubDeepLink
        stream
        __typename
      }
      __typename
    }
    __typename
  }
}`
)

// DefaultFamilies are the major-version families queried when none are configured.
var DefaultFamilies = []int{5, 2017, 2018, 2019, 2020, 2021, 2022, 2023, 6, 7}

// ErrSchemaMismatch is returned when a catalog response no longer matches the
// expected shape.
var ErrSchemaMismatch = errors.New("catalog response format changed")

//go:embed schema.json
var responseSchema string

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, strings.NewReader(responseSchema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile(schemaURL)
})

type (
	// Catalog queries the Unity release catalog and turns it into a
	// deduplicated list of versions.
	Catalog struct {
		httpClient *http.Client
		endpoint   string
		userAgent  string
		pageSize   int
		stableOnly bool
		latestOnly bool
		logger     *log.Logger
	}

	// Option configures a Catalog during construction.
	Option func(*Catalog)

	// StatusError is returned when the catalog answers with a non-2xx status.
	StatusError struct {
		Family     int
		StatusCode int
	}

	graphQLRequest struct {
		OperationName string           `json:"operationName"`
		Query         string           `json:"query"`
		Variables     graphQLVariables `json:"variables"`
	}

	graphQLVariables struct {
		Limit   int    `json:"limit"`
		Version string `json:"version"`
	}

	releasesResponse struct {
		Data struct {
			GetUnityReleases struct {
				Edges []struct {
					Node struct {
						Version          *string `json:"version"`
						UnityHubDeepLink *string `json:"unityHubDeepLink"`
					} `json:"node"`
				} `json:"edges"`
			} `json:"getUnityReleases"`
		} `json:"data"`
	}

	// rawEntry is a catalog node before parsing.
	rawEntry struct {
		version  string
		deepLink string
	}
)

// Error describes the failing family and status.
func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog query for family %d: unexpected status %d", e.Family, e.StatusCode)
}

// WithHTTPClient sets the HTTP client used for catalog queries.
func WithHTTPClient(c *http.Client) Option {
	return func(cat *Catalog) {
		cat.httpClient = c
	}
}

// WithEndpoint overrides the GraphQL endpoint, primarily for test servers.
func WithEndpoint(endpoint string) Option {
	return func(cat *Catalog) {
		cat.endpoint = endpoint
	}
}

// WithUserAgent sets the User-Agent header sent with every query.
func WithUserAgent(ua string) Option {
	return func(cat *Catalog) {
		cat.userAgent = ua
	}
}

// WithPageSize sets the number of entries requested per family.
func WithPageSize(n int) Option {
	return func(cat *Catalog) {
		if n > 0 {
			cat.pageSize = n
		}
	}
}

// WithStableOnly controls whether non-final builds (alpha, beta) are dropped.
func WithStableOnly(stable bool) Option {
	return func(cat *Catalog) {
		cat.stableOnly = stable
	}
}

// WithLatestOnly controls whether only the highest build number per release
// line is kept.
func WithLatestOnly(latest bool) Option {
	return func(cat *Catalog) {
		cat.latestOnly = latest
	}
}

// WithLogger sets the logger used for discarded-entry diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(cat *Catalog) {
		cat.logger = l
	}
}

// New creates a Catalog. Defaults: endpoint=DefaultEndpoint,
// userAgent=DefaultUserAgent, pageSize=300, stable and latest-only filtering on.
func New(opts ...Option) *Catalog {
	c := &Catalog{
		httpClient: http.DefaultClient,
		endpoint:   DefaultEndpoint,
		userAgent:  DefaultUserAgent,
		pageSize:   DefaultPageSize,
		stableOnly: true,
		latestOnly: true,
		logger:     log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch queries every family in order and returns the parsed versions.
// Versions appear in family order, then in catalog response order. When
// latest-only filtering is on, a later entry with the same Key replaces the
// earlier one in place if its build number is strictly greater.
//
// Entries that cannot be parsed are discarded silently. Transport failures,
// non-2xx responses and schema mismatches are errors.
func (c *Catalog) Fetch(ctx context.Context, families []int) ([]Version, error) {
	var result []Version
	index := make(map[Key]int)

	for _, family := range families {
		entries, err := c.query(ctx, family)
		if err != nil {
			return nil, err
		}

		for _, e := range entries {
			v, ok := c.parseEntry(e)
			if !ok {
				continue
			}

			if c.latestOnly {
				if i, seen := index[v.Key()]; seen {
					if result[i].BuildNumber < v.BuildNumber {
						result[i] = v
					}
					continue
				}
				index[v.Key()] = len(result)
			}
			result = append(result, v)
		}
	}

	return result, nil
}

// parseEntry applies the per-entry contract: deep link id extraction, strict
// version parsing and the stable filter.
func (c *Catalog) parseEntry(e rawEntry) (Version, bool) {
	slash := strings.LastIndex(e.deepLink, "/")
	if slash == -1 {
		c.logger.Debug("discarding catalog entry without build id", "version", e.version, "link", e.deepLink)
		return Version{}, false
	}

	v, err := ParseVersion(e.version, e.deepLink[slash+1:])
	if err != nil {
		c.logger.Debug("discarding unparseable catalog entry", "version", e.version, "error", err)
		return Version{}, false
	}

	if c.stableOnly && !v.IsStable() {
		return Version{}, false
	}
	return v, true
}

// query posts the release query for one family and returns its raw entries.
func (c *Catalog) query(ctx context.Context, family int) ([]rawEntry, error) {
	payload, err := json.Marshal(graphQLRequest{
		OperationName: "GetRelease",
		Query:         releaseQuery,
		Variables: graphQLVariables{
			Limit:   c.pageSize,
			Version: strconv.Itoa(family),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding catalog query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating catalog request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	c.logger.Debug("querying release catalog", "family", family)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog query for family %d: %w", family, err)
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Family: family, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("catalog query for family %d: reading response: %w", family, err)
	}

	entries, err := decodeResponse(body)
	if err != nil {
		return nil, fmt.Errorf("catalog query for family %d: %w", family, err)
	}
	return entries, nil
}

// decodeResponse validates body against the embedded schema and extracts the
// release nodes.
func decodeResponse(body []byte) ([]rawEntry, error) {
	schema, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	var generic any
	if err := json.Unmarshal(body, &generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	if err := schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}

	var resp releasesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}

	edges := resp.Data.GetUnityReleases.Edges
	entries := make([]rawEntry, 0, len(edges))
	for _, edge := range edges {
		var e rawEntry
		if edge.Node.Version != nil {
			e.version = *edge.Node.Version
		}
		if edge.Node.UnityHubDeepLink != nil {
			e.deepLink = *edge.Node.UnityHubDeepLink
		}
		entries = append(entries, e)
	}
	return entries, nil
}

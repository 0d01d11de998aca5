// SPDX-License-Identifier: MPL-2.0

package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the REST API root.
	DefaultBaseURL = "https://api.github.com"

	// DefaultUploadURL is the host release assets are uploaded to.
	DefaultUploadURL = "https://uploads.github.com"

	// DefaultUserAgent identifies the generator to the API.
	DefaultUserAgent = "MelonLoader.UnityDependencies"

	// perPage is the page size used for list endpoints.
	perPage = 100

	// maxPages bounds pagination. At 100 per page this covers 5000 tags.
	maxPages = 50

	// maxJSONResponseBytes is the upper bound on JSON API response size (10 MB).
	maxJSONResponseBytes = 10 << 20
)

// ErrNotFound is returned when the API answers 404 for a lookup.
var ErrNotFound = errors.New("not found")

type (
	// RateLimitError is returned when the GitHub API rate limit is exceeded.
	RateLimitError struct {
		Limit     int
		Remaining int
		ResetAt   time.Time
	}

	// APIError is returned for any other unexpected status.
	APIError struct {
		Method     string
		Path       string
		StatusCode int
		Message    string
	}

	// Client talks to the GitHub REST API for one repository.
	Client struct {
		httpClient   *http.Client
		uploadClient *http.Client
		owner      string
		repo       string
		baseURL    string
		uploadURL  string
		token      string
		userAgent  string
	}

	// Option configures a Client during construction.
	Option func(*Client)

	apiErrorBody struct {
		Message string `json:"message"`
	}
)

// Error formats the rate limit details as a human-readable message.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("GitHub API rate limit exceeded (%d remaining, resets at %s)",
		e.Remaining, e.ResetAt.UTC().Format("15:04 UTC"))
}

// Error includes the API message when there is one.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// WithHTTPClient sets a custom HTTP client, useful for tests or proxy configurations.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Client) {
		g.httpClient = c
	}
}

// WithUploadHTTPClient sets the client used for asset uploads. Uploads stream
// large bodies, so this client should not carry the overall Timeout used for
// JSON calls. When unset, uploads use http.DefaultClient.
func WithUploadHTTPClient(c *http.Client) Option {
	return func(g *Client) {
		g.uploadClient = c
	}
}

// WithBaseURL overrides the GitHub API base URL, primarily for test servers.
func WithBaseURL(base string) Option {
	return func(g *Client) {
		g.baseURL = strings.TrimRight(base, "/")
	}
}

// WithUploadURL overrides the asset upload host.
func WithUploadURL(base string) Option {
	return func(g *Client) {
		g.uploadURL = strings.TrimRight(base, "/")
	}
}

// WithToken sets the token sent as a Bearer credential.
func WithToken(token string) Option {
	return func(g *Client) {
		g.token = token
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(g *Client) {
		g.userAgent = ua
	}
}

// WithRepo sets the repository owner and name.
func WithRepo(owner, repo string) Option {
	return func(g *Client) {
		g.owner = owner
		g.repo = repo
	}
}

// NewClient creates a Client. The repository must be set with WithRepo.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient:   http.DefaultClient,
		uploadClient: http.DefaultClient,
		baseURL:      DefaultBaseURL,
		uploadURL:    DefaultUploadURL,
		userAgent:    DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Repo returns "owner/repo".
func (c *Client) Repo() string {
	return c.owner + "/" + c.repo
}

func (c *Client) repoURL(format string, args ...any) string {
	return fmt.Sprintf("%s/repos/%s/%s", c.baseURL, url.PathEscape(c.owner), url.PathEscape(c.repo)) +
		fmt.Sprintf(format, args...)
}

// doRequest creates and executes an HTTP request with common GitHub API headers.
func (c *Client) doRequest(ctx context.Context, hc *http.Client, method, reqURL string, body io.Reader, contentType string, size int64) (
	*http.Response, error,
) {
	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if size > 0 {
		req.ContentLength = size
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", c.userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	// Only attach the token when the request targets a configured GitHub host.
	if c.token != "" && c.isGitHubHost(req.URL) {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	return resp, nil
}

// doJSON sends in (when non-nil) as JSON and decodes a response with one of
// the accepted statuses into out (when non-nil). It returns the response
// headers for pagination.
func (c *Client) doJSON(ctx context.Context, method, reqURL string, in, out any, accepted ...int) (http.Header, error) {
	var body io.Reader
	var contentType string
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}

	resp, err := c.doRequest(ctx, c.httpClient, method, reqURL, body, contentType, 0)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }() // response body fully consumed below

	if err := checkStatus(resp, method, accepted); err != nil {
		return nil, err
	}

	if out != nil {
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONResponseBytes)).Decode(out); err != nil {
			return nil, fmt.Errorf("%s %s: decoding response: %w", method, redactURL(reqURL), err)
		}
	}
	return resp.Header, nil
}

// checkStatus maps a response to nil, a RateLimitError or an APIError.
func checkStatus(resp *http.Response, method string, accepted []int) error {
	for _, code := range accepted {
		if resp.StatusCode == code {
			return nil
		}
	}

	if rlErr := checkRateLimit(resp); rlErr != nil {
		return rlErr
	}

	var apiBody apiErrorBody
	// Best-effort decode; many error bodies are empty.
	_ = json.NewDecoder(io.LimitReader(resp.Body, maxJSONResponseBytes)).Decode(&apiBody) //nolint:errcheck // Diagnostic only.

	apiErr := &APIError{
		Method:     method,
		Path:       resp.Request.URL.Path,
		StatusCode: resp.StatusCode,
		Message:    apiBody.Message,
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ErrNotFound, apiErr)
	}
	return apiErr
}

// checkRateLimit inspects the X-RateLimit-* response headers and returns a
// RateLimitError when the remaining quota is zero. It does not inspect the
// HTTP status code; only the header values are examined.
func checkRateLimit(resp *http.Response) error {
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return nil
	}

	rem, err := strconv.Atoi(remaining)
	if err != nil || rem > 0 {
		return nil //nolint:nilerr // Non-numeric header is non-fatal.
	}

	limit, _ := strconv.Atoi(resp.Header.Get("X-RateLimit-Limit"))                 //nolint:errcheck // Best-effort header parsing.
	resetUnix, _ := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64) //nolint:errcheck // Best-effort header parsing.

	return &RateLimitError{
		Limit:     limit,
		Remaining: 0,
		ResetAt:   time.Unix(resetUnix, 0),
	}
}

// parseLinkHeader extracts the URL for the "next" page from a GitHub API Link header.
// Returns an empty string if no next page exists.
//
// Example header: <https://api.github.com/...?page=2>; rel="next", <...>; rel="last"
func parseLinkHeader(header string) string {
	for part := range strings.SplitSeq(header, ",") {
		part = strings.TrimSpace(part)
		if !strings.Contains(part, `rel="next"`) {
			continue
		}
		start := strings.Index(part, "<")
		end := strings.Index(part, ">")
		if start >= 0 && end > start {
			return part[start+1 : end]
		}
	}
	return ""
}

// isGitHubHost reports whether reqURL targets the configured API or upload
// host, so the token can be attached safely.
func (c *Client) isGitHubHost(reqURL *url.URL) bool {
	for _, base := range []string{c.baseURL, c.uploadURL} {
		u, err := url.Parse(base)
		if err != nil {
			continue
		}
		if strings.EqualFold(reqURL.Host, u.Host) {
			return true
		}
	}
	return false
}

// redactURL strips query parameters and fragments from a URL for safe inclusion
// in error messages.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

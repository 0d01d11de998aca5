// SPDX-License-Identifier: MPL-2.0

package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/melonloader/unitydeps/internal/publish"
)

type (
	githubRelease struct {
		ID      int64  `json:"id"`
		TagName string `json:"tag_name"`
		Name    string `json:"name"`
		Draft   bool   `json:"draft"`
		HTMLURL string `json:"html_url"`
	}

	githubTag struct {
		Name string `json:"name"`
	}

	githubBranch struct {
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	}

	createRefRequest struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	}

	createReleaseRequest struct {
		TagName string `json:"tag_name"`
		Name    string `json:"name"`
		Body    string `json:"body"`
		Draft   bool   `json:"draft"`
	}

	updateReleaseRequest struct {
		Draft bool `json:"draft"`
	}
)

var _ publish.ReleaseService = (*Client)(nil)

// ListReleaseTags returns the tag names of every release, drafts included
// (drafts are only visible to authenticated callers with push access).
func (c *Client) ListReleaseTags(ctx context.Context) ([]string, error) {
	var tags []string
	err := c.paginate(ctx, c.repoURL("/releases?per_page=%d", perPage), func() any {
		return &[]githubRelease{}
	}, func(page any) {
		for _, r := range *page.(*[]githubRelease) {
			tags = append(tags, r.TagName)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("listing releases: %w", err)
	}
	return tags, nil
}

// ListTags returns every git tag name of the repository.
func (c *Client) ListTags(ctx context.Context) ([]string, error) {
	var tags []string
	err := c.paginate(ctx, c.repoURL("/tags?per_page=%d", perPage), func() any {
		return &[]githubTag{}
	}, func(page any) {
		for _, t := range *page.(*[]githubTag) {
			tags = append(tags, t.Name)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	return tags, nil
}

// paginate follows Link headers up to maxPages, decoding each page into a
// fresh value from newPage and handing it to collect.
func (c *Client) paginate(ctx context.Context, pageURL string, newPage func() any, collect func(any)) error {
	for page := 0; page < maxPages && pageURL != ""; page++ {
		out := newPage()
		hdr, err := c.doJSON(ctx, http.MethodGet, pageURL, nil, out, http.StatusOK)
		if err != nil {
			return err
		}
		collect(out)
		pageURL = parseLinkHeader(hdr.Get("Link"))
	}
	return nil
}

// BranchHead returns the commit SHA at the tip of branch.
func (c *Client) BranchHead(ctx context.Context, branch string) (string, error) {
	var b githubBranch
	if _, err := c.doJSON(ctx, http.MethodGet, c.repoURL("/branches/%s", url.PathEscape(branch)), nil, &b, http.StatusOK); err != nil {
		return "", fmt.Errorf("getting branch %s: %w", branch, err)
	}
	if b.Commit.SHA == "" {
		return "", fmt.Errorf("getting branch %s: response has no commit sha", branch)
	}
	return b.Commit.SHA, nil
}

// CreateTag creates the lightweight tag refs/tags/{tag} at sha. An existing
// ref is reported as publish.ErrReferenceExists.
func (c *Client) CreateTag(ctx context.Context, tag, sha string) error {
	_, err := c.doJSON(ctx, http.MethodPost, c.repoURL("/git/refs"),
		createRefRequest{Ref: "refs/tags/" + tag, SHA: sha}, nil, http.StatusCreated)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity &&
			apiErr.Message == "Reference already exists" {
			return fmt.Errorf("%w: %w", publish.ErrReferenceExists, err)
		}
		return fmt.Errorf("creating tag %s: %w", tag, err)
	}
	return nil
}

// CreateRelease creates a release for an existing tag.
func (c *Client) CreateRelease(ctx context.Context, d publish.Draft) (*publish.Release, error) {
	var gr githubRelease
	_, err := c.doJSON(ctx, http.MethodPost, c.repoURL("/releases"), createReleaseRequest{
		TagName: d.Tag,
		Name:    d.Name,
		Body:    d.Body,
		Draft:   d.Draft,
	}, &gr, http.StatusCreated)
	if err != nil {
		return nil, fmt.Errorf("creating release %s: %w", d.Tag, err)
	}
	return toRelease(gr), nil
}

// UploadAsset streams a.Body to the upload host as a release asset.
func (c *Client) UploadAsset(ctx context.Context, r *publish.Release, a publish.Asset) error {
	uploadURL := fmt.Sprintf("%s/repos/%s/%s/releases/%d/assets?name=%s",
		c.uploadURL, url.PathEscape(c.owner), url.PathEscape(c.repo), r.ID, url.QueryEscape(a.Name))

	contentType := a.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	resp, err := c.doRequest(ctx, c.uploadClient, http.MethodPost, uploadURL, a.Body, contentType, a.Size)
	if err != nil {
		return fmt.Errorf("uploading %s: %w", a.Name, err)
	}
	defer func() { _ = resp.Body.Close() }() // response body only inspected on error

	if err := checkStatus(resp, http.MethodPost, []int{http.StatusCreated}); err != nil {
		return fmt.Errorf("uploading %s: %w", a.Name, err)
	}
	return nil
}

// PublishRelease clears the draft flag of r.
func (c *Client) PublishRelease(ctx context.Context, r *publish.Release) error {
	var gr githubRelease
	_, err := c.doJSON(ctx, http.MethodPatch, c.repoURL("/releases/%d", r.ID),
		updateReleaseRequest{Draft: false}, &gr, http.StatusOK)
	if err != nil {
		return fmt.Errorf("publishing release %s: %w", r.Tag, err)
	}
	r.Draft = gr.Draft
	r.HTMLURL = gr.HTMLURL
	return nil
}

func toRelease(gr githubRelease) *publish.Release {
	return &publish.Release{
		ID:      gr.ID,
		Tag:     gr.TagName,
		HTMLURL: gr.HTMLURL,
		Draft:   gr.Draft,
	}
}

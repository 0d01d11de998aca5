// SPDX-License-Identifier: MPL-2.0

package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type node struct {
	Version  any `json:"version"`
	DeepLink any `json:"unityHubDeepLink"`
}

// releasesJSON renders a catalog response for the given nodes.
func releasesJSON(t *testing.T, nodes []node) []byte {
	t.Helper()

	edges := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		edges = append(edges, map[string]any{
			"node": map[string]any{
				"version":          n.Version,
				"unityHubDeepLink": n.DeepLink,
				"stream":           "LTS",
				"__typename":       "UnityRelease",
			},
			"__typename": "UnityReleaseOffsetEdge",
		})
	}
	body, err := json.Marshal(map[string]any{
		"data": map[string]any{
			"getUnityReleases": map[string]any{
				"totalCount": len(nodes),
				"edges":      edges,
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return body
}

func stable(version, id string) node {
	return node{Version: version, DeepLink: "unityhub://" + version + "/" + id}
}

// newCatalogServer serves responses keyed by the requested family and records
// the decoded request bodies.
func newCatalogServer(t *testing.T, byFamily map[string][]node) (*httptest.Server, *[]graphQLRequest) {
	t.Helper()

	var mu sync.Mutex
	var requests []graphQLRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		requests = append(requests, req)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(releasesJSON(t, byFamily[req.Variables.Version]))
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func shortNames(vs []Version) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.ShortName())
	}
	return out
}

func TestFetch_KeepsHighestBuildNumber(t *testing.T) {
	t.Parallel()

	srv, _ := newCatalogServer(t, map[string][]node{
		"2021": {
			stable("2021.3.5f6", "six"),
			stable("2021.3.4f1", "four"),
			stable("2021.3.5f9", "nine"),
			stable("2021.3.5f7", "seven"),
		},
	})

	got, err := New(WithEndpoint(srv.URL)).Fetch(context.Background(), []int{2021})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	want := []string{"2021.3.5f9", "2021.3.4f1"}
	if fmt.Sprint(shortNames(got)) != fmt.Sprint(want) {
		t.Fatalf("versions = %v, want %v", shortNames(got), want)
	}
	if got[0].ID != "nine" {
		t.Errorf("ID = %q, want %q", got[0].ID, "nine")
	}
}

func TestFetch_DiscardsUnparseableEntries(t *testing.T) {
	t.Parallel()

	srv, _ := newCatalogServer(t, map[string][]node{
		"2022": {
			{Version: "2022.3.1f1", DeepLink: "no-slash-here"},
			{Version: "2022.3.2f1c1", DeepLink: "unityhub://2022.3.2f1c1/abc"},
			{Version: nil, DeepLink: "unityhub://x/abc"},
			{Version: "2022.3.3f1", DeepLink: nil},
			{Version: "2022.3.4f1", DeepLink: "unityhub://2022.3.4f1/"},
			stable("2022.3.5f1", "ok"),
		},
	})

	got, err := New(WithEndpoint(srv.URL)).Fetch(context.Background(), []int{2022})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if names := shortNames(got); len(names) != 1 || names[0] != "2022.3.5f1" {
		t.Fatalf("versions = %v, want [2022.3.5f1]", names)
	}
}

func TestFetch_StableFilter(t *testing.T) {
	t.Parallel()

	nodes := map[string][]node{
		"2023": {
			stable("2023.1.0a5", "alpha"),
			stable("2023.1.0b2", "beta"),
			stable("2023.1.0f1", "final"),
		},
	}

	t.Run("stable only", func(t *testing.T) {
		t.Parallel()
		srv, _ := newCatalogServer(t, nodes)
		got, err := New(WithEndpoint(srv.URL)).Fetch(context.Background(), []int{2023})
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if names := shortNames(got); fmt.Sprint(names) != "[2023.1.0f1]" {
			t.Errorf("versions = %v", names)
		}
	})

	t.Run("all build types", func(t *testing.T) {
		t.Parallel()
		srv, _ := newCatalogServer(t, nodes)
		got, err := New(WithEndpoint(srv.URL), WithStableOnly(false)).Fetch(context.Background(), []int{2023})
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if len(got) != 3 {
			t.Errorf("versions = %v, want 3 entries", shortNames(got))
		}
	})
}

func TestFetch_LatestOnlyDisabledKeepsDuplicates(t *testing.T) {
	t.Parallel()

	srv, _ := newCatalogServer(t, map[string][]node{
		"2021": {stable("2021.3.5f6", "a"), stable("2021.3.5f9", "b")},
	})

	got, err := New(WithEndpoint(srv.URL), WithLatestOnly(false)).Fetch(context.Background(), []int{2021})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if fmt.Sprint(shortNames(got)) != "[2021.3.5f6 2021.3.5f9]" {
		t.Errorf("versions = %v", shortNames(got))
	}
}

func TestFetch_FamilyOrderAndCrossFamilyDedup(t *testing.T) {
	t.Parallel()

	srv, requests := newCatalogServer(t, map[string][]node{
		"2019": {stable("2019.4.40f1", "a")},
		"6":    {stable("6000.0.1f1", "b"), stable("2019.4.40f1", "dup")},
		"2020": {stable("2020.3.48f1", "c")},
	})

	got, err := New(WithEndpoint(srv.URL), WithPageSize(50)).Fetch(context.Background(), []int{2019, 2020, 6})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	want := "[2019.4.40f1 2020.3.48f1 6000.0.1f1]"
	if fmt.Sprint(shortNames(got)) != want {
		t.Errorf("versions = %v, want %s", shortNames(got), want)
	}
	if got[0].ID != "a" {
		t.Errorf("equal build number must not replace the earlier record, got ID %q", got[0].ID)
	}

	if len(*requests) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(*requests))
	}
	for i, family := range []string{"2019", "2020", "6"} {
		req := (*requests)[i]
		if req.Variables.Version != family {
			t.Errorf("request %d family = %q, want %q", i, req.Variables.Version, family)
		}
		if req.Variables.Limit != 50 {
			t.Errorf("request %d limit = %d, want 50", i, req.Variables.Limit)
		}
		if req.OperationName != "GetRelease" || !strings.Contains(req.Query, "entitlements: [XLTS]") {
			t.Errorf("request %d has unexpected query: %s", i, req.OperationName)
		}
	}
}

func TestFetch_RequestHeaders(t *testing.T) {
	t.Parallel()

	var gotUA, gotCT, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotCT = r.Header.Get("Content-Type")
		gotMethod = r.Method
		_, _ = w.Write(releasesJSON(t, nil))
	}))
	defer srv.Close()

	if _, err := New(WithEndpoint(srv.URL)).Fetch(context.Background(), []int{5}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %s, want POST", gotMethod)
	}
	if gotUA != DefaultUserAgent {
		t.Errorf("User-Agent = %q, want %q", gotUA, DefaultUserAgent)
	}
	if gotCT != "application/json" {
		t.Errorf("Content-Type = %q", gotCT)
	}
}

func TestFetch_NonSuccessStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(WithEndpoint(srv.URL)).Fetch(context.Background(), []int{2018})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if statusErr.Family != 2018 || statusErr.StatusCode != http.StatusBadGateway {
		t.Errorf("unexpected status error: %+v", statusErr)
	}
}

func TestFetch_SchemaMismatch(t *testing.T) {
	t.Parallel()

	bodies := map[string]string{
		"missing data":     `{"errors":[{"message":"boom"}]}`,
		"edges not array":  `{"data":{"getUnityReleases":{"edges":{}}}}`,
		"version not text": `{"data":{"getUnityReleases":{"edges":[{"node":{"version":42,"unityHubDeepLink":"a/b"}}]}}}`,
		"not json":         `<html>maintenance</html>`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			_, err := New(WithEndpoint(srv.URL)).Fetch(context.Background(), []int{2017})
			if !errors.Is(err, ErrSchemaMismatch) {
				t.Fatalf("expected ErrSchemaMismatch, got %v", err)
			}
		})
	}
}

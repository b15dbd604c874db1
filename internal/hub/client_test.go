package hub

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/internal/collab"
	apperrors "github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...ClientOption) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "hf_test", 5*time.Second, opts...)
}

func TestClient_ListRepositories_Paginates(t *testing.T) {
	var srvURL string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/models", r.URL.Path)
		assert.Equal(t, "Bearer hf_test", r.Header.Get("Authorization"))

		if r.URL.Query().Get("cursor") == "" {
			assert.Equal(t, "downloads", r.URL.Query().Get("sort"))
			assert.Equal(t, "-1", r.URL.Query().Get("direction"))
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/models?cursor=abc>; rel="next"`, srvURL))
			fmt.Fprint(w, `[{"id":"org/a"},{"modelId":"legacy-model"},{"id":""}]`)
			return
		}
		fmt.Fprint(w, `[{"id":"org/b"},{"id":"org/c"},{"id":"org/d"}]`)
	})
	srvURL = client.endpoint

	ids, err := client.ListRepositories(context.Background(), "downloads", -1, 4)
	require.NoError(t, err)
	assert.Equal(t, []collab.RepositoryID{"org/a", "legacy-model", "org/b", "org/c"}, ids)
}

func TestClient_ListRepositories_Failure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}, WithKind("space"))

	_, err := client.ListRepositories(context.Background(), "likes", -1, 10)

	var catalogErr *apperrors.ErrCatalogFailed
	require.True(t, stderrors.As(err, &catalogErr))
	assert.Equal(t, "space", catalogErr.Kind)
}

func TestClient_ListCommits_FollowsPages(t *testing.T) {
	var srvURL string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/models/org/name-with-dash/commits/main", r.URL.Path)
		if r.URL.Query().Get("p") == "" {
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/models/org/name-with-dash/commits/main?p=1>; rel="next"`, srvURL))
			fmt.Fprint(w, `[{"id":"c2","authors":[{"user":"alice"},{"user":"bob"}]}]`)
			return
		}
		fmt.Fprint(w, `[{"id":"c1","authors":[{"user":"bob"},{"user":""}]},{"id":"c0","authors":[]}]`)
	})
	srvURL = client.endpoint

	commits, err := client.ListCommits(context.Background(), "org/name-with-dash")
	require.NoError(t, err)
	assert.Equal(t, []collab.Commit{
		{ID: "c2", Authors: []collab.AuthorHandle{"alice", "bob"}},
		{ID: "c1", Authors: []collab.AuthorHandle{"bob"}},
		{ID: "c0"},
	}, commits)
}

func TestClient_ListCommits_Errors(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		status     int
		retryable  bool
		retryAfter time.Duration
	}{
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "7")
				w.Header().Set("X-RateLimit-Limit", "1000")
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.WriteHeader(http.StatusTooManyRequests)
			},
			status:     http.StatusTooManyRequests,
			retryable:  true,
			retryAfter: 7 * time.Second,
		},
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":"Repository not found"}`, http.StatusNotFound)
			},
			status: http.StatusNotFound,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			status:    http.StatusBadGateway,
			retryable: true,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"not":"a list"}`)
			},
			status: 0,
			// a decode failure is reported as a transport-level failure
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.handler)

			_, err := client.ListCommits(context.Background(), "org/a")

			var fetchErr *apperrors.FetchError
			require.True(t, stderrors.As(err, &fetchErr), "got %v", err)
			assert.Equal(t, "org/a", fetchErr.Repository)
			assert.Equal(t, tt.status, fetchErr.StatusCode)
			assert.Equal(t, tt.retryable, apperrors.IsRetryable(err))
			assert.Equal(t, tt.retryAfter, fetchErr.RetryAfter)
		})
	}
}

func TestNextLink(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{header: "", want: ""},
		{header: `<https://hub/api/models?cursor=x>; rel="next"`, want: "https://hub/api/models?cursor=x"},
		{header: `<https://hub/a>; rel="prev", <https://hub/b>; rel="next"`, want: "https://hub/b"},
		{header: `<https://hub/a>; rel="last"`, want: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, nextLink(tt.header), tt.header)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 30*time.Second, parseRetryAfter("30", now))
	assert.Equal(t, 90*time.Second, parseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, parseRetryAfter("", now))
	assert.Zero(t, parseRetryAfter("soon", now))
}

func TestSelectTopPercent(t *testing.T) {
	assert.Equal(t, 15316, SelectTopPercent(EstimatedTotalModels, 1))
	assert.Equal(t, 1, SelectTopPercent(10, 1))
	assert.Equal(t, 10, SelectTopPercent(1000, 1))
}

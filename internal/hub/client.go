package hub

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

	"go.uber.org/zap"

	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/internal/collab"
	apperrors "github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/pkg/errors"
	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/pkg/logger"
)

const (
	// DefaultEndpoint is the public hub
	DefaultEndpoint = "https://huggingface.co"
	// DefaultRevision is the branch whose history is read
	DefaultRevision = "main"

	userAgent = "collabnet/1.0"
	// upper bound on a single error body kept for the failure reason
	maxErrorBody = 512
)

// Client talks to the hub REST API. It serves both as the repository catalog
// and as the commit-history source.
type Client struct {
	endpoint   string
	token      string
	kind       string
	revision   string
	httpClient *http.Client
	logger     *zap.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithKind selects the repository kind: model, space or dataset
func WithKind(kind string) ClientOption {
	return func(c *Client) {
		if kind != "" {
			c.kind = kind
		}
	}
}

// WithRevision selects the branch whose commits are listed
func WithRevision(rev string) ClientOption {
	return func(c *Client) {
		if rev != "" {
			c.revision = rev
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a hub client. token may be empty for public data.
func NewClient(endpoint, token string, timeout time.Duration, opts ...ClientOption) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		token:      token,
		kind:       "model",
		revision:   DefaultRevision,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("hub"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Kind returns the repository kind this client lists
func (c *Client) Kind() string {
	return c.kind
}

type repoInfo struct {
	ID      string `json:"id"`
	ModelID string `json:"modelId"`
}

// ListRepositories returns up to limit repository ids ranked by sortBy.
// direction is -1 for descending, 1 for ascending.
func (c *Client) ListRepositories(ctx context.Context, sortBy string, direction, limit int) ([]collab.RepositoryID, error) {
	q := url.Values{}
	q.Set("sort", sortBy)
	q.Set("direction", strconv.Itoa(direction))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("full", "true")
	next := fmt.Sprintf("%s/api/%ss?%s", c.endpoint, c.kind, q.Encode())

	c.logger.Info("Listing repositories",
		zap.String("kind", c.kind),
		zap.String("sort", sortBy),
		zap.Int("limit", limit),
	)

	ids := make([]collab.RepositoryID, 0, limit)
	for next != "" && len(ids) < limit {
		var page []repoInfo
		link, err := c.getJSON(ctx, next, &page)
		if err != nil {
			return nil, apperrors.NewCatalogFailed(c.kind, err)
		}
		for _, r := range page {
			id := r.ID
			if id == "" {
				id = r.ModelID
			}
			if id == "" {
				continue
			}
			ids = append(ids, collab.RepositoryID(id))
			if len(ids) == limit {
				break
			}
		}
		if len(page) == 0 {
			break
		}
		next = link
	}

	c.logger.Info("Repositories listed", zap.Int("count", len(ids)))
	return ids, nil
}

type commitInfo struct {
	ID      string `json:"id"`
	Authors []struct {
		User string `json:"user"`
	} `json:"authors"`
}

// ListCommits returns the commit history of repo, newest first, following
// pagination until the last page.
func (c *Client) ListCommits(ctx context.Context, repo collab.RepositoryID) ([]collab.Commit, error) {
	next := fmt.Sprintf("%s/api/%ss/%s/commits/%s", c.endpoint, c.kind, escapeRepo(repo), url.PathEscape(c.revision))

	var commits []collab.Commit
	for next != "" {
		var page []commitInfo
		link, err := c.getJSON(ctx, next, &page)
		if err != nil {
			return nil, asFetchError(repo, err)
		}
		for _, ci := range page {
			cm := collab.Commit{ID: ci.ID}
			for _, a := range ci.Authors {
				if a.User != "" {
					cm.Authors = append(cm.Authors, collab.AuthorHandle(a.User))
				}
			}
			commits = append(commits, cm)
		}
		next = link
	}
	return commits, nil
}

// statusError is an unsuccessful HTTP response
type statusError struct {
	code       int
	body       string
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	if e.body == "" {
		return http.StatusText(e.code)
	}
	return fmt.Sprintf("%s: %s", http.StatusText(e.code), e.body)
}

// getJSON decodes one page into v and returns the next page URL, if any
func (c *Client) getJSON(ctx context.Context, rawURL string, v interface{}) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		serr := &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
		if resp.StatusCode == http.StatusTooManyRequests {
			serr.retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
			c.checkRateLimits(rawURL, resp.Header)
		}
		return "", serr
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	return nextLink(resp.Header.Get("Link")), nil
}

func (c *Client) checkRateLimits(rawURL string, h http.Header) {
	if h.Get("X-RateLimit-Limit") == "" {
		c.logger.Warn("Rate limited, no rate limit information available in headers", zap.String("url", rawURL))
		return
	}
	c.logger.Warn("Rate limited",
		zap.String("url", rawURL),
		zap.String("limit", h.Get("X-RateLimit-Limit")),
		zap.String("remaining", h.Get("X-RateLimit-Remaining")),
		zap.String("retry_after", h.Get("Retry-After")),
	)
}

func asFetchError(repo collab.RepositoryID, err error) error {
	if serr, ok := err.(*statusError); ok {
		if serr.code == http.StatusTooManyRequests {
			return apperrors.NewRateLimited(string(repo), serr.retryAfter)
		}
		return apperrors.NewFetchError(string(repo), serr.code, serr)
	}
	return apperrors.NewFetchError(string(repo), 0, err)
}

// escapeRepo escapes each path segment but keeps the owner/name separator
func escapeRepo(repo collab.RepositoryID) string {
	parts := strings.Split(string(repo), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// nextLink extracts the rel="next" target of an RFC 8288 Link header
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		segs := strings.Split(part, ";")
		if len(segs) < 2 {
			continue
		}
		target := strings.TrimSpace(segs[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, param := range segs[1:] {
			param = strings.TrimSpace(param)
			if param == `rel="next"` || param == "rel=next" {
				return target[1 : len(target)-1]
			}
		}
	}
	return ""
}

// parseRetryAfter accepts delta-seconds or an HTTP date
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

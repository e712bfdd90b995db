package jira

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// searchFields is the field set requested for every issue page.
const searchFields = "summary,description,status,priority,assignee,reporter,created,updated,comment,attachment"

// Client is a rate-limited, retry-capable Jira REST client.
type Client struct {
	config      *Config
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *log.Logger

	// baseTimeout is the per-attempt timeout for metadata requests; fetch
	// timeouts for attachment bodies scale with size and attempt.
	baseTimeout time.Duration
}

// NewClient validates the configuration and builds a client.
func NewClient(config *Config, logger *log.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{
		config:      config,
		httpClient:  &http.Client{},
		rateLimiter: rate.NewLimiter(rate.Limit(config.RateLimit), 5),
		logger:      logger,
		baseTimeout: 30 * time.Second,
	}, nil
}

func (c *Client) authHeader() string {
	credentials := base64.StdEncoding.EncodeToString([]byte(c.config.Email + ":" + c.config.APIToken))
	return "Basic " + credentials
}

// get performs one rate-limited, retried GET and returns the body.
func (c *Client) get(ctx context.Context, path string, query url.Values, timeout time.Duration, header http.Header) ([]byte, error) {
	fullURL := strings.TrimSuffix(c.config.BaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		fullURL = path
	}
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		body, err := c.doOnce(ctx, fullURL, timeout*time.Duration(attempt+1), header)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return nil, err
		}
		c.logger.Printf("jira: attempt %d/%d for %s failed: %v", attempt+1, c.config.MaxRetries+1, path, err)

		backoff := time.Duration(1<<uint(attempt)) * 500 * time.Millisecond
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doOnce(ctx context.Context, fullURL string, timeout time.Duration, header http.Header) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader())
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 400 {
		msg := string(body)
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	return body, nil
}

// GetProject fetches project info, validating that the key exists and the
// credentials can see it.
func (c *Client) GetProject(ctx context.Context, key string) (*Project, error) {
	body, err := c.get(ctx, "/rest/api/2/project/"+url.PathEscape(key), nil, c.baseTimeout, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch project %s: %w", key, err)
	}
	var project Project
	if err := json.Unmarshal(body, &project); err != nil {
		return nil, fmt.Errorf("parse project: %w", err)
	}
	return &project, nil
}

// SearchIssues pages through every issue of the project in creation order
// and hands each page to fn together with the reported total. fn returning
// an error stops the iteration.
func (c *Client) SearchIssues(ctx context.Context, projectKey string, fn func(page []*Issue, total int) error) error {
	jql := fmt.Sprintf("project = %s ORDER BY created ASC", projectKey)
	startAt := 0
	for {
		query := url.Values{}
		query.Set("jql", jql)
		query.Set("startAt", strconv.Itoa(startAt))
		query.Set("maxResults", strconv.Itoa(c.config.FetchSize))
		query.Set("fields", searchFields)

		body, err := c.get(ctx, "/rest/api/2/search", query, c.baseTimeout, nil)
		if err != nil {
			return fmt.Errorf("search issues: %w", err)
		}
		var page SearchResult
		if err := json.Unmarshal(body, &page); err != nil {
			return fmt.Errorf("parse search result: %w", err)
		}

		if err := fn(page.Issues, page.Total); err != nil {
			return err
		}

		startAt += len(page.Issues)
		if startAt >= page.Total || len(page.Issues) == 0 {
			return nil
		}
	}
}

// FetchAttachment downloads attachment bytes from contentURL. A non-negative
// end requests the half-open byte range [start, end); end < 0 requests the
// whole file. The per-attempt timeout grows with the requested size and is
// further scaled per retry inside get.
func (c *Client) FetchAttachment(ctx context.Context, contentURL string, start, end int64) ([]byte, error) {
	var header http.Header
	size := int64(0)
	if end >= 0 {
		header = http.Header{}
		header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end-1))
		size = end - start
	}

	timeout := c.baseTimeout + time.Duration(size/(512*1024))*time.Second
	body, err := c.get(ctx, contentURL, nil, timeout, header)
	if err != nil {
		return nil, fmt.Errorf("fetch attachment: %w", err)
	}
	return body, nil
}

func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	// Network-level and timeout failures are wrapped plain errors.
	return !strings.Contains(err.Error(), "create request")
}

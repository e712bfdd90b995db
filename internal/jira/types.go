package jira

import (
	"encoding/json"
	"fmt"
)

// Config holds Jira connection configuration.
type Config struct {
	// BaseURL is the Jira instance URL (e.g. https://yoursite.atlassian.net).
	BaseURL string

	// Email and APIToken form the Atlassian basic-auth pair.
	Email    string
	APIToken string

	// FetchSize is the page size for issue search requests.
	FetchSize int

	// MaxRetries bounds retries of transient failures (429, 5xx, network).
	MaxRetries int

	// RateLimit is the request budget per second against the remote API.
	RateLimit float64
}

// DefaultFetchSize is the default number of issues per search page.
const DefaultFetchSize = 50

// MaxFetchSize is the Jira API hard limit per page.
const MaxFetchSize = 100

// Validate checks required fields and clamps the fetch size.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("jira: base URL is required")
	}
	if c.Email == "" {
		return fmt.Errorf("jira: email is required")
	}
	if c.APIToken == "" {
		return fmt.Errorf("jira: API token is required")
	}
	if c.FetchSize <= 0 {
		c.FetchSize = DefaultFetchSize
	}
	if c.FetchSize > MaxFetchSize {
		c.FetchSize = MaxFetchSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 10
	}
	return nil
}

// Project represents a Jira project.
type Project struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
	Self string `json:"self"`
}

// User represents a Jira user.
type User struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
}

// Status represents an issue status.
type Status struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Priority represents an issue priority.
type Priority struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Comment represents one issue comment.
type Comment struct {
	ID      string `json:"id"`
	Author  *User  `json:"author,omitempty"`
	Body    string `json:"body,omitempty"`
	Created string `json:"created,omitempty"`
}

// CommentBlock is the embedded comment container on an issue.
type CommentBlock struct {
	Total    int        `json:"total"`
	Comments []*Comment `json:"comments"`
}

// Attachment is the metadata of a file attached to an issue. Size is kept
// loosely typed because some instances return it as a string; use Bytes.
type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     any    `json:"size"`
	Content  string `json:"content"`
}

// Bytes returns the declared attachment size, or 0 when the size field is
// missing or unparseable.
func (a *Attachment) Bytes() int64 {
	switch v := a.Size.(type) {
	case float64:
		return int64(v)
	case string:
		var n int64
		if _, err := fmt.Sscan(v, &n); err != nil {
			return 0
		}
		return n
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// IssueFields contains the issue field values requested by the export.
type IssueFields struct {
	Summary     string        `json:"summary"`
	Description string        `json:"description"`
	Status      *Status       `json:"status,omitempty"`
	Priority    *Priority     `json:"priority,omitempty"`
	Assignee    *User         `json:"assignee,omitempty"`
	Reporter    *User         `json:"reporter,omitempty"`
	Created     string        `json:"created,omitempty"`
	Updated     string        `json:"updated,omitempty"`
	Comment     *CommentBlock `json:"comment,omitempty"`
	Attachment  []*Attachment `json:"attachment,omitempty"`
}

// Issue represents a Jira issue.
type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Fields IssueFields `json:"fields"`
}

// SearchResult represents a JQL search response page.
type SearchResult struct {
	StartAt    int      `json:"startAt"`
	MaxResults int      `json:"maxResults"`
	Total      int      `json:"total"`
	Issues     []*Issue `json:"issues"`
}

// APIError represents a non-2xx response from Jira.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("jira: HTTP %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the error is worth another attempt.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

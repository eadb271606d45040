package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultPageSize = 100

// Client talks to the workspace API over HTTP with cursor pagination.
type Client struct {
	http     *resty.Client
	pageSize int
}

var _ Provider = (*Client)(nil)

// NewClient builds a workspace API client. token may be empty for
// unauthenticated deployments; pageSize <= 0 falls back to the default.
func NewClient(baseURL, token string, pageSize int) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(2 * time.Minute)
	if token != "" {
		c.SetAuthToken(token)
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Client{http: c, pageSize: pageSize}
}

// page is the upstream list envelope shared by every collection endpoint.
type page[T any] struct {
	Results    []T     `json:"results"`
	NextCursor *string `json:"nextCursor"`
	HasMore    bool    `json:"hasMore"`
}

func fetchAll[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var out []T
	cursor := ""
	for {
		req := c.http.R().
			SetContext(ctx).
			SetQueryParam("limit", strconv.Itoa(c.pageSize))
		if cursor != "" {
			req.SetQueryParam("cursor", cursor)
		}
		resp, err := req.Get(path)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", path, err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("source %s: status %d: %s", path, resp.StatusCode(), resp.String())
		}
		var p page[T]
		if err := json.Unmarshal(resp.Body(), &p); err != nil {
			return nil, fmt.Errorf("source %s: decode: %w", path, err)
		}
		out = append(out, p.Results...)
		if !p.HasMore || p.NextCursor == nil || *p.NextCursor == "" {
			return out, nil
		}
		cursor = *p.NextCursor
	}
}

func (c *Client) FetchProjects(ctx context.Context) ([]Project, error) {
	return fetchAll[Project](ctx, c, "/v1/projects")
}

func (c *Client) FetchTasks(ctx context.Context) ([]Task, error) {
	return fetchAll[Task](ctx, c, "/v1/tasks")
}

func (c *Client) FetchTodos(ctx context.Context) ([]Todo, error) {
	return fetchAll[Todo](ctx, c, "/v1/todos")
}

func (c *Client) FetchMembers(ctx context.Context) ([]Member, error) {
	return fetchAll[Member](ctx, c, "/v1/members")
}

func (c *Client) FetchConversations(ctx context.Context) ([]Conversation, error) {
	return fetchAll[Conversation](ctx, c, "/v1/conversations")
}

func (c *Client) FetchCompletedTasks(ctx context.Context) ([]CompletedTask, error) {
	return fetchAll[CompletedTask](ctx, c, "/v1/tasks/completed")
}

// Ping probes the cheapest collection endpoint with a single-item page.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("limit", "1").
		Get("/v1/members")
	if err != nil {
		return fmt.Errorf("source ping: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("source ping: status %d", resp.StatusCode())
	}
	return nil
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mschirtzinger/todosync/internal/remote"
	"github.com/mschirtzinger/todosync/internal/todo"
)

// DefaultTimeout bounds a single request when the caller sets no timeout.
const DefaultTimeout = 10 * time.Second

// Client is a remote.Service backed by a Handler on another host.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ remote.Service = (*Client)(nil)

// NewClient creates a client for the server at baseURL. A zero timeout uses
// DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Insert(ctx context.Context, item *todo.Item) (*todo.Item, error) {
	// The local key never leaves the device.
	body := item.Clone()
	body.LocalID = ""
	body.ID = ""

	var created todo.Item
	if err := c.do(ctx, http.MethodPost, "/items", body, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) Update(ctx context.Context, item *todo.Item) (*todo.Item, error) {
	body := item.Clone()
	body.LocalID = ""

	var updated todo.Item
	if err := c.do(ctx, http.MethodPut, "/items/"+url.PathEscape(item.ID), body, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *Client) Delete(ctx context.Context, id, version string) error {
	path := "/items/" + url.PathEscape(id) + "?version=" + url.QueryEscape(version)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) Get(ctx context.Context, id string) (*todo.Item, error) {
	var item todo.Item
	if err := c.do(ctx, http.MethodGet, "/items/"+url.PathEscape(id), nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *Client) QuerySince(ctx context.Context, query string, since time.Time, filter todo.Filter) ([]*todo.Item, error) {
	var items []*todo.Item
	req := QueryRequest{Query: query, Since: since, Filter: filter}
	if err := c.do(ctx, http.MethodPost, "/items/query", req, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Health reports whether the server answers /health.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s %s: %v", remote.ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	// Successful bodies are streamed without a cap: a full pull returns the
	// whole table in one response.
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("malformed response from %s %s: %w", method, path, err)
		}
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", remote.ErrUnavailable, err)
	}

	var errResp ErrorResponse
	_ = json.Unmarshal(data, &errResp)
	if errResp.Error == "" {
		errResp.Error = strings.TrimSpace(string(data))
	}

	switch {
	case resp.StatusCode == http.StatusConflict && errResp.Server != nil:
		return &remote.VersionConflictError{Server: errResp.Server}
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", errResp.Error, remote.ErrNotFound)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: server error (status %d): %s", remote.ErrUnavailable, resp.StatusCode, errResp.Error)
	default:
		return fmt.Errorf("request rejected (status %d): %s", resp.StatusCode, errResp.Error)
	}
}

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/colthorp/healthsync-go/internal/core"
)

// APIError is returned when the remote database returns an error response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Client is a Backend over a PostgREST-style HTTP API.
//
// Failed calls are terminal: there is no retry loop, and timeouts come from
// the underlying http.Client.
type Client struct {
	baseURL    string
	apiKey     string
	token      string
	httpClient *http.Client
	log        *logrus.Entry
}

// ClientConfig holds Client settings.
type ClientConfig struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
	Logger     *logrus.Entry
}

// NewClient creates an HTTP backend.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("remote URL is required (set %s)", core.RemoteURLEnvVar)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = core.DiscardLogger()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: cfg.HTTPClient,
		log:        cfg.Logger,
	}, nil
}

// SetAccessToken sets the bearer token of the signed-in user. An empty
// token falls back to the API key.
func (c *Client) SetAccessToken(token string) {
	c.token = token
}

// Fetch implements Backend.
func (c *Client) Fetch(ctx context.Context, q Query) ([]Row, error) {
	params := filterParams(q.Filters)
	params.Set("select", "*")
	if q.Order != nil {
		dir := "asc"
		if q.Order.Desc {
			dir = "desc"
		}
		params.Set("order", q.Order.Column+"."+dir)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	return c.do(ctx, http.MethodGet, q.Collection, params, nil, "")
}

// Write implements Backend.
func (c *Client) Write(ctx context.Context, m Mutation) (Row, error) {
	var (
		method string
		params = url.Values{}
		body   interface{}
		prefer = "return=representation"
	)
	switch m.Op {
	case OpInsert:
		method, body = http.MethodPost, m.Payload
	case OpUpsert:
		method, body = http.MethodPost, m.Payload
		prefer = "resolution=merge-duplicates," + prefer
		if m.ConflictKey != "" {
			params.Set("on_conflict", m.ConflictKey)
		}
	case OpUpdate:
		method, body = http.MethodPatch, m.Payload
		params = filterParams(m.Match)
	case OpDelete:
		method = http.MethodDelete
		params = filterParams(m.Match)
	default:
		return nil, fmt.Errorf("remote: unsupported operation %q", m.Op)
	}

	rows, err := c.do(ctx, method, m.Collection, params, body, prefer)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

func filterParams(filters []Filter) url.Values {
	params := url.Values{}
	for _, f := range filters {
		params.Add(f.Column, fmt.Sprintf("%s.%v", f.Op, f.Value))
	}
	return params
}

func (c *Client) do(ctx context.Context, method, collection string, params url.Values, body interface{}, prefer string) ([]Row, error) {
	urlStr := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, collection)
	if len(params) > 0 {
		urlStr += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	bearer := c.token
	if bearer == "" {
		bearer = c.apiKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	c.log.WithField("url", urlStr).Debugf("%s", method)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	c.log.WithFields(logrus.Fields{"status": resp.StatusCode, "bytes": len(respBody)}).Debug("response")

	if len(bytes.TrimSpace(respBody)) == 0 {
		return nil, nil
	}
	var rows []Row
	if err := json.Unmarshal(respBody, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return rows, nil
}

// Package remote is the HTTP client of the conversation and message data
// service. The service speaks json-server conventions: _page/_limit
// pagination, _sort/_order, *_like filters and an X-Total-Count header.
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

	"github.com/matheus3301/inbox/internal/model"
)

// TotalCountHeader carries the size of the full result set of a paged list.
const TotalCountHeader = "X-Total-Count"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 8 << 20

// Config configures a Client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// HTTPClient is used for all requests. If nil, a client with Timeout is used.
	HTTPClient *http.Client
}

// Client talks to the data service.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote: base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("remote: invalid base url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
	}, nil
}

// Page is one page of a list endpoint.
type Page[T any] struct {
	Items []T
	Total int
}

// PageRequest selects a page. Page numbers start at 1.
type PageRequest struct {
	Page  int
	Limit int
}

func (p PageRequest) apply(q url.Values) {
	page := p.Page
	if page < 1 {
		page = 1
	}
	q.Set("_page", strconv.Itoa(page))
	if p.Limit > 0 {
		q.Set("_limit", strconv.Itoa(p.Limit))
	}
}

// ListConversations returns the conversations of email, newest first.
func (c *Client) ListConversations(ctx context.Context, email string, page PageRequest) (Page[model.Conversation], error) {
	q := url.Values{}
	q.Set("participants_like", email)
	q.Set("_sort", "timestamp")
	q.Set("_order", "desc")
	page.apply(q)

	var out []model.Conversation
	total, err := c.list(ctx, "/conversations", q, &out)
	return Page[model.Conversation]{Items: out, Total: total}, err
}

// FindConversation returns the conversation between a and b, or nil.
func (c *Client) FindConversation(ctx context.Context, a, b string) (*model.Conversation, error) {
	q := url.Values{}
	q.Add("participants_like", model.Participants(a, b))
	q.Add("participants_like", model.Participants(b, a))

	var out []model.Conversation
	if _, err := c.list(ctx, "/conversations", q, &out); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Involves(a, b) {
			return &out[i], nil
		}
	}
	return nil, nil
}

// CreateConversation creates a conversation and returns it with its server id.
func (c *Client) CreateConversation(ctx context.Context, d model.Draft) (model.Conversation, error) {
	var out model.Conversation
	err := c.do(ctx, http.MethodPost, "/conversations", nil, d, &out)
	return out, err
}

// EditConversation updates a conversation's last message.
func (c *Client) EditConversation(ctx context.Context, id model.ID, d model.Draft) (model.Conversation, error) {
	var out model.Conversation
	err := c.do(ctx, http.MethodPatch, "/conversations/"+strconv.FormatInt(int64(id), 10), nil, d, &out)
	return out, err
}

// ListMessages returns the messages of a conversation, newest first.
func (c *Client) ListMessages(ctx context.Context, conversationID model.ID, page PageRequest) (Page[model.Message], error) {
	q := url.Values{}
	q.Set("conversationId", strconv.FormatInt(int64(conversationID), 10))
	q.Set("_sort", "timestamp")
	q.Set("_order", "desc")
	page.apply(q)

	var out []model.Message
	total, err := c.list(ctx, "/messages", q, &out)
	return Page[model.Message]{Items: out, Total: total}, err
}

// CreateMessage stores a message and returns it with its server id.
func (c *Client) CreateMessage(ctx context.Context, m model.Message) (model.Message, error) {
	var out model.Message
	err := c.do(ctx, http.MethodPost, "/messages", nil, m, &out)
	return out, err
}

// FindUser returns the registered user with email, or nil.
func (c *Client) FindUser(ctx context.Context, email string) (*model.User, error) {
	q := url.Values{}
	q.Set("email", email)

	var out []model.User
	if _, err := c.list(ctx, "/users", q, &out); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Email == email {
			return &out[i], nil
		}
	}
	return nil, nil
}

func (c *Client) list(ctx context.Context, path string, query url.Values, out any) (int, error) {
	resp, body, err := c.send(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return 0, fmt.Errorf("remote: decode %s: %w", path, err)
	}
	total := -1
	if h := resp.Header.Get(TotalCountHeader); h != "" {
		n, err := strconv.Atoi(h)
		if err != nil {
			return 0, fmt.Errorf("remote: bad %s %q: %w", TotalCountHeader, h, err)
		}
		total = n
	}
	return total, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	_, body, err := c.send(ctx, method, path, query, in)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("remote: decode %s %s: %w", method, path, err)
	}
	return nil
}

// send performs a request and returns the body of a 2xx response. Other
// statuses return an *Error.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, in any) (*http.Response, []byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return nil, nil, fmt.Errorf("remote: encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, nil, fmt.Errorf("remote: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("remote: read %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, &Error{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Message:    errorMessage(body, resp.Status),
		}
	}
	return resp, body, nil
}

// errorMessage extracts {"error": "..."} from a body, falling back to the
// raw text or the status line.
func errorMessage(body []byte, status string) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return status
}

package kaiketsu

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

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Kaiketsu server (e.g. "http://localhost:8080").
	BaseURL string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	// Note that a triage run can take tens of seconds when the language
	// model is slow; raise this for ProcessBatch.
	Timeout time.Duration
}

// Client is an HTTP client for the Kaiketsu support triage API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: baseURL,
		client:  httpClient,
	}
}

// ProcessTicket submits one ticket and runs the full triage pipeline,
// returning the classification, escalation decision, and resolution.
func (c *Client) ProcessTicket(ctx context.Context, req TicketRequest) (*TriageResult, error) {
	var resp TriageResult
	if err := c.post(ctx, "/v1/tickets", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProcessBatch submits up to 50 tickets for concurrent triage. Results are
// positionally aligned with the request; one ticket's failure doesn't fail
// the batch.
func (c *Client) ProcessBatch(ctx context.Context, tickets []TicketRequest) ([]BatchResult, error) {
	body := map[string]any{"tickets": tickets}
	var resp struct {
		Results []BatchResult `json:"results"`
	}
	if err := c.post(ctx, "/v1/tickets/batch", body, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// GetTicket fetches a ticket with its decision and resolution.
func (c *Client) GetTicket(ctx context.Context, ticketID uuid.UUID) (*TicketDetail, error) {
	var resp TicketDetail
	if err := c.get(ctx, "/v1/tickets/"+ticketID.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RecordFeedback reports whether a resolution helped, feeding the article
// statistics that bias future retrieval.
func (c *Client) RecordFeedback(ctx context.Context, req FeedbackRequest) error {
	return c.post(ctx, "/v1/feedback", req, nil)
}

// CreateArticle adds a knowledge-base article. The server embeds and
// indexes it in the background; the article is immediately usable through
// lexical search.
func (c *Client) CreateArticle(ctx context.Context, req ArticleRequest) (*Article, error) {
	var resp Article
	if err := c.post(ctx, "/v1/articles", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetArticle fetches one knowledge-base article.
func (c *Client) GetArticle(ctx context.Context, articleID uuid.UUID) (*Article, error) {
	var resp Article
	if err := c.get(ctx, "/v1/articles/"+articleID.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListArticlesOptions are optional filters for ListArticles.
type ListArticlesOptions struct {
	Category string
	Limit    int
	Offset   int
}

// ListArticles returns knowledge-base articles, optionally filtered by
// category.
func (c *Client) ListArticles(ctx context.Context, opts *ListArticlesOptions) ([]Article, error) {
	params := url.Values{}
	if opts != nil {
		if opts.Category != "" {
			params.Set("category", opts.Category)
		}
		if opts.Limit > 0 {
			params.Set("limit", strconv.Itoa(opts.Limit))
		}
		if opts.Offset > 0 {
			params.Set("offset", strconv.Itoa(opts.Offset))
		}
	}
	path := "/v1/articles"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp struct {
		Articles []Article `json:"articles"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Articles, nil
}

// DeleteArticle removes an article from the knowledge base and the vector
// index.
func (c *Client) DeleteArticle(ctx context.Context, articleID uuid.UUID) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v1/articles/"+articleID.String(), nil)
	if err != nil {
		return fmt.Errorf("kaiketsu: create request: %w", err)
	}
	return c.doRequest(req, nil)
}

// Health returns the server's component health report. A degraded status
// means the vector index is down and retrieval runs lexical-only.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var resp Health
	err := c.get(ctx, "/health", &resp)
	if err != nil {
		// A 503 still carries the health body; surface it when parseable.
		if apiErr, ok := err.(*Error); ok && apiErr.StatusCode == http.StatusServiceUnavailable {
			var down Health
			if jsonErr := json.Unmarshal([]byte(apiErr.Message), &down); jsonErr == nil && down.Status != "" {
				return &down, nil
			}
		}
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("kaiketsu: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("kaiketsu: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("kaiketsu: create request: %w", err)
	}

	return c.doRequest(req, dest)
}

func (c *Client) doRequest(req *http.Request, dest any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("kaiketsu: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("kaiketsu: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if dest == nil || len(bodyBytes) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return fmt.Errorf("kaiketsu: decode response: %w", err)
	}
	return nil
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.RequestID = envelope.RequestID
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}

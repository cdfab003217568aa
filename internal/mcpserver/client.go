package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the CareHub API.
type Config struct {
	APIURL       string // Base URL, e.g. "http://localhost:8080"
	SessionToken string // superadmin session token, "cs_..."
}

// Client is a pure HTTP client for the CareHub admin API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new API client.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// envelope is the platform's response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Reason  string `json:"reason"`
	} `json:"error"`
}

// doRequest makes a GET request and returns the unwrapped data payload.
func (c *Client) doRequest(ctx context.Context, path string, query url.Values, header http.Header) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SessionToken)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if jsonErr := json.Unmarshal(body, &env); jsonErr != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("decode response: %w", jsonErr)
	}
	if resp.StatusCode >= 400 || !env.Success {
		if env.Error != nil && env.Error.Message != "" {
			if env.Error.Reason != "" {
				return nil, fmt.Errorf("API error (%d %s/%s): %s", resp.StatusCode, env.Error.Code, env.Error.Reason, env.Error.Message)
			}
			return nil, fmt.Errorf("API error (%d %s): %s", resp.StatusCode, env.Error.Code, env.Error.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}
	return env.Data, nil
}

// PlatformMRR returns MRR across every organization.
func (c *Client) PlatformMRR(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, "/api/admin/billing/mrr", nil, nil)
}

// ReportParams selects a billing report.
type ReportParams struct {
	OrganizationID string
	Days           int
	From, To       string
	ProductID      string
}

// BillingReport returns the revenue report for one organization or the platform.
func (c *Client) BillingReport(ctx context.Context, p ReportParams) (json.RawMessage, error) {
	q := url.Values{}
	if p.OrganizationID != "" {
		q.Set("organizationId", p.OrganizationID)
	}
	if p.Days > 0 {
		q.Set("days", strconv.Itoa(p.Days))
	}
	if p.From != "" {
		q.Set("from", p.From)
	}
	if p.To != "" {
		q.Set("to", p.To)
	}
	if p.ProductID != "" {
		q.Set("productId", p.ProductID)
	}
	return c.doRequest(ctx, "/api/admin/reports/billing", q, nil)
}

// ListOrganizations searches organizations.
func (c *Client) ListOrganizations(ctx context.Context, search, status string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if search != "" {
		q.Set("q", search)
	}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, "/api/admin/organizations", q, nil)
}

// OrganizationSubscription returns one organization's subscription snapshot.
// The request acts on the organization through the selection header.
func (c *Client) OrganizationSubscription(ctx context.Context, orgID string, refresh bool) (json.RawMessage, error) {
	q := url.Values{}
	if refresh {
		q.Set("refresh", "true")
	}
	h := http.Header{}
	h.Set("X-Organization-ID", orgID)
	return c.doRequest(ctx, "/api/billing/subscription", q, h)
}

// ListAuditLogs returns audit entries, optionally for one organization.
func (c *Client) ListAuditLogs(ctx context.Context, orgID, action string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if orgID != "" {
		q.Set("organizationId", orgID)
	}
	if action != "" {
		q.Set("action", action)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, "/api/admin/audit-logs", q, nil)
}

package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleGetPlatformMRR reports platform MRR.
func (h *Handlers) HandleGetPlatformMRR(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.PlatformMRR(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get MRR: %v", err)), nil
	}
	text, err := formatMRR(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse MRR: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetBillingReport fetches a billing report.
func (h *Handlers) HandleGetBillingReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p := ReportParams{
		OrganizationID: req.GetString("organization_id", ""),
		Days:           req.GetInt("days", 0),
		From:           req.GetString("from", ""),
		To:             req.GetString("to", ""),
		ProductID:      req.GetString("product_id", ""),
	}
	raw, err := h.client.BillingReport(ctx, p)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get billing report: %v", err)), nil
	}
	text, err := formatReport(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse report: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListOrganizations searches organizations.
func (h *Handlers) HandleListOrganizations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListOrganizations(ctx,
		req.GetString("query", ""),
		req.GetString("status", ""),
		req.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list organizations: %v", err)), nil
	}
	text, err := formatOrganizations(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse organizations: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetOrganizationSubscription shows one organization's subscription.
func (h *Handlers) HandleGetOrganizationSubscription(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orgID := req.GetString("organization_id", "")
	if orgID == "" {
		return mcp.NewToolResultError("organization_id is required"), nil
	}
	raw, err := h.client.OrganizationSubscription(ctx, orgID, req.GetBool("refresh", false))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get subscription: %v", err)), nil
	}
	text, err := formatSubscription(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse subscription: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListAuditLogs lists audit entries.
func (h *Handlers) HandleListAuditLogs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListAuditLogs(ctx,
		req.GetString("organization_id", ""),
		req.GetString("action", ""),
		req.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list audit logs: %v", err)), nil
	}
	text, err := formatAuditLogs(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse audit logs: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// ---------- formatting ----------

type mrrView struct {
	MRR                 int64            `json:"mrr"`
	ByCurrency          map[string]int64 `json:"byCurrency"`
	ActiveSubscriptions int              `json:"activeSubscriptions"`
}

func formatMRR(raw json.RawMessage) (string, error) {
	var m mrrView
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString("Platform MRR:\n")
	if len(m.ByCurrency) == 0 {
		sb.WriteString("  (no recurring revenue)\n")
	}
	for _, cur := range sortedKeys(m.ByCurrency) {
		fmt.Fprintf(&sb, "  %s\n", money(m.ByCurrency[cur], cur))
	}
	fmt.Fprintf(&sb, "Active subscriptions: %d\n", m.ActiveSubscriptions)
	return sb.String(), nil
}

type reportView struct {
	OrganizationID string `json:"organizationId"`
	Window         struct {
		From string `json:"from"`
		To   string `json:"to"`
	} `json:"window"`
	Currency         string `json:"currency"`
	RevenueByProduct []struct {
		ProductName string `json:"productName"`
		Revenue     int64  `json:"revenue"`
		Invoices    int    `json:"invoices"`
	} `json:"revenueByProduct"`
	TotalRevenue int64 `json:"totalRevenue"`
	RecentEvents []struct {
		Type        string `json:"type"`
		TenantID    string `json:"organizationId"`
		ProductName string `json:"productName"`
		Amount      int64  `json:"amount"`
		Currency    string `json:"currency"`
		OccurredAt  string `json:"occurredAt"`
	} `json:"recentEvents"`
	StatusHistogram       map[string]int `json:"statusHistogram"`
	ActiveSubscriptions   int            `json:"activeSubscriptions"`
	TrialingSubscriptions int            `json:"trialingSubscriptions"`
	MRR                   mrrView        `json:"mrr"`
}

func formatReport(raw json.RawMessage) (string, error) {
	var r reportView
	if err := json.Unmarshal(raw, &r); err != nil {
		return "", err
	}
	var sb strings.Builder
	scope := "all organizations"
	if r.OrganizationID != "" {
		scope = r.OrganizationID
	}
	fmt.Fprintf(&sb, "Billing report for %s\n", scope)
	fmt.Fprintf(&sb, "Window: %s to %s\n\n", r.Window.From, r.Window.To)

	fmt.Fprintf(&sb, "Revenue: %s\n", money(r.TotalRevenue, r.Currency))
	for _, p := range r.RevenueByProduct {
		fmt.Fprintf(&sb, "  %s: %s (%d invoices)\n", p.ProductName, money(p.Revenue, r.Currency), p.Invoices)
	}

	fmt.Fprintf(&sb, "\nSubscriptions: %d active, %d trialing\n", r.ActiveSubscriptions, r.TrialingSubscriptions)
	for _, s := range sortedKeys(r.StatusHistogram) {
		fmt.Fprintf(&sb, "  %s: %d\n", s, r.StatusHistogram[s])
	}
	for _, cur := range sortedKeys(r.MRR.ByCurrency) {
		fmt.Fprintf(&sb, "MRR: %s\n", money(r.MRR.ByCurrency[cur], cur))
	}

	if len(r.RecentEvents) > 0 {
		sb.WriteString("\nRecent events:\n")
		for _, e := range r.RecentEvents {
			fmt.Fprintf(&sb, "  %s %s %s %s\n", e.OccurredAt, e.Type, e.ProductName, money(e.Amount, e.Currency))
		}
	}
	return sb.String(), nil
}

func formatOrganizations(raw json.RawMessage) (string, error) {
	var resp struct {
		Organizations []struct {
			ID               string `json:"id"`
			Name             string `json:"name"`
			Slug             string `json:"slug"`
			Plan             string `json:"plan"`
			Status           string `json:"status"`
			StripeCustomerID string `json:"stripeCustomerId"`
		} `json:"organizations"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Organizations) == 0 {
		return "No organizations found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d organization(s):\n\n", len(resp.Organizations))
	for i, o := range resp.Organizations {
		fmt.Fprintf(&sb, "%d. %s (%s) [%s]\n", i+1, o.Name, o.ID, o.Slug)
		billing := "no billing customer"
		if o.StripeCustomerID != "" {
			billing = "customer " + o.StripeCustomerID
		}
		fmt.Fprintf(&sb, "   plan=%s status=%s %s\n", o.Plan, o.Status, billing)
	}
	return sb.String(), nil
}

func formatSubscription(raw json.RawMessage) (string, error) {
	var snap struct {
		OrganizationID string `json:"organizationId"`
		Current        *struct {
			ExternalID       string `json:"externalId"`
			Status           string `json:"status"`
			Plan             string `json:"plan"`
			ProductName      string `json:"productName"`
			Amount           string `json:"amount"`
			Currency         string `json:"currency"`
			Interval         string `json:"interval"`
			CurrentPeriodEnd string `json:"currentPeriodEnd"`
		} `json:"current"`
		Subscriptions []json.RawMessage `json:"subscriptions"`
		MRR           mrrView           `json:"mrr"`
		LastSyncedAt  string            `json:"lastSyncedAt"`
		Stale         bool              `json:"stale"`
		StaleReason   string            `json:"staleReason"`
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Organization %s\n", snap.OrganizationID)
	if c := snap.Current; c != nil {
		fmt.Fprintf(&sb, "Current: %s (%s) status=%s plan=%s\n", c.ProductName, c.ExternalID, c.Status, c.Plan)
		fmt.Fprintf(&sb, "  %s %s per %s, period ends %s\n", c.Amount, strings.ToUpper(c.Currency), c.Interval, c.CurrentPeriodEnd)
	} else {
		sb.WriteString("Current: none\n")
	}
	fmt.Fprintf(&sb, "Subscriptions on record: %d\n", len(snap.Subscriptions))
	for _, cur := range sortedKeys(snap.MRR.ByCurrency) {
		fmt.Fprintf(&sb, "MRR: %s\n", money(snap.MRR.ByCurrency[cur], cur))
	}
	if snap.LastSyncedAt != "" {
		fmt.Fprintf(&sb, "Last synced: %s\n", snap.LastSyncedAt)
	}
	if snap.Stale {
		fmt.Fprintf(&sb, "WARNING: data may be stale (%s)\n", snap.StaleReason)
	}
	return sb.String(), nil
}

func formatAuditLogs(raw json.RawMessage) (string, error) {
	var page struct {
		Entries []struct {
			TenantID     string         `json:"tenantId"`
			ActorEmail   string         `json:"actorEmail"`
			ActorID      string         `json:"actorId"`
			Action       string         `json:"action"`
			ResourceType string         `json:"resourceType"`
			ResourceID   string         `json:"resourceId"`
			Metadata     map[string]any `json:"metadata"`
			CreatedAt    string         `json:"createdAt"`
		} `json:"entries"`
		HasMore bool `json:"hasMore"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return "", err
	}
	if len(page.Entries) == 0 {
		return "No audit entries found.", nil
	}

	var sb strings.Builder
	for _, e := range page.Entries {
		actor := e.ActorEmail
		if actor == "" {
			actor = e.ActorID
		}
		fmt.Fprintf(&sb, "%s %s by %s on %s %s", e.CreatedAt, e.Action, actor, e.ResourceType, e.ResourceID)
		if e.TenantID != "" {
			fmt.Fprintf(&sb, " (org %s)", e.TenantID)
		}
		sb.WriteString("\n")
		if len(e.Metadata) > 0 {
			meta, _ := json.Marshal(e.Metadata)
			fmt.Fprintf(&sb, "  %s\n", formatJSON(meta))
		}
	}
	if page.HasMore {
		sb.WriteString("(more entries available)\n")
	}
	return sb.String(), nil
}

// money renders minor units as a decimal amount.
func money(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign, minor = "-", -minor
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, strings.ToUpper(currency))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatJSON(raw json.RawMessage) string {
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return string(raw)
	}
	return compact.String()
}

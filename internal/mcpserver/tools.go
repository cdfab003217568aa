package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the CareHub ops MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetPlatformMRR = mcp.NewTool("get_platform_mrr",
	mcp.WithDescription(
		"Get CareHub's monthly recurring revenue across all organizations, "+
			"broken down by currency, with the count of active subscriptions. Amounts are in minor units (cents)."),
)

var ToolGetBillingReport = mcp.NewTool("get_billing_report",
	mcp.WithDescription(
		"Get a billing report: revenue by product, recent billing events, subscription status counts and MRR. "+
			"Omit organization_id for the platform-wide report."),
	mcp.WithString("organization_id",
		mcp.Description("Organization ID (e.g. 'org_...'). Omit for all organizations.")),
	mcp.WithNumber("days",
		mcp.Description("Window length in days ending now (default 30, max 366). Ignored when from is set.")),
	mcp.WithString("from",
		mcp.Description("Window start, RFC3339 or YYYY-MM-DD")),
	mcp.WithString("to",
		mcp.Description("Window end (exclusive), RFC3339 or YYYY-MM-DD")),
	mcp.WithString("product_id",
		mcp.Description("Only include events for this billing product ID")),
)

var ToolListOrganizations = mcp.NewTool("list_organizations",
	mcp.WithDescription(
		"Search CareHub organizations (clinics). Shows plan, status and whether a billing customer is linked."),
	mcp.WithString("query",
		mcp.Description("Case-insensitive match on organization name or slug")),
	mcp.WithString("status",
		mcp.Description("Filter by status"),
		mcp.Enum("active", "suspended")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of organizations to return (default 50)")),
)

var ToolGetOrganizationSubscription = mcp.NewTool("get_organization_subscription",
	mcp.WithDescription(
		"Get an organization's current subscription, subscription history and sync freshness. "+
			"Access is recorded in the organization's audit log."),
	mcp.WithString("organization_id",
		mcp.Required(),
		mcp.Description("Organization ID (e.g. 'org_...')")),
	mcp.WithBoolean("refresh",
		mcp.Description("Pull fresh data from the billing provider before answering")),
)

var ToolListAuditLogs = mcp.NewTool("list_audit_logs",
	mcp.WithDescription(
		"List recent audit log entries, newest first. Optionally restrict to one organization or one action "+
			"(e.g. 'member.added', 'organization.suspended')."),
	mcp.WithString("organization_id",
		mcp.Description("Organization ID to restrict to")),
	mcp.WithString("action",
		mcp.Description("Exact action name to filter on")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of entries (default 50, max 200)")),
)

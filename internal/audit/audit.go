// Package audit records who did what to which resource. The trail is
// append-only: stores expose Append and List and nothing else.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/carehub/platform/internal/pagination"
)

var ErrInvalidEntry = errors.New("audit: entry requires action and resource type")

// Actions recorded across the platform.
const (
	ActionOrganizationCreated     = "organization.created"
	ActionOrganizationUpdated     = "organization.updated"
	ActionOrganizationSuspended   = "organization.suspended"
	ActionOrganizationUnsuspended = "organization.unsuspended"
	ActionImpersonatedAccess      = "tenant.impersonated_access"

	ActionMemberAdded       = "member.added"
	ActionMemberRoleChanged = "member.role_changed"
	ActionMemberRemoved     = "member.removed"

	ActionFeatureFlagEnabled  = "feature_flag.enabled"
	ActionFeatureFlagDisabled = "feature_flag.disabled"
	ActionFeatureFlagCleared  = "feature_flag.cleared"

	ActionUserCreated   = "user.created"
	ActionSessionIssued = "session.issued"

	ActionSubscriptionSynced = "subscription.synced"
	ActionReconcileTriggered = "billing.reconcile_triggered"

	ActionUploadCreated = "upload.created"
)

// Resource types.
const (
	ResourceOrganization = "organization"
	ResourceMember       = "member"
	ResourceUser         = "user"
	ResourceFeatureFlag  = "feature_flag"
	ResourceSubscription = "subscription"
	ResourceUpload       = "upload"
	ResourceSession      = "session"
)

// Entry is one immutable audit record.
type Entry struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenantId,omitempty"`
	ActorID      string         `json:"actorId"`
	ActorEmail   string         `json:"actorEmail,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resourceType"`
	ResourceID   string         `json:"resourceId,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	IPAddress    string         `json:"ipAddress,omitempty"`
	UserAgent    string         `json:"userAgent,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Query filters List. Results are newest first.
type Query struct {
	TenantID string
	ActorID  string
	Action   string
	Cursor   *pagination.Cursor
	Limit    int
}

// Store is the append-only persistence contract.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	List(ctx context.Context, q Query) ([]*Entry, error)
}

func (q Query) matches(e *Entry) bool {
	if q.TenantID != "" && e.TenantID != q.TenantID {
		return false
	}
	if q.ActorID != "" && e.ActorID != q.ActorID {
		return false
	}
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	return q.Cursor.After(e.CreatedAt, e.ID)
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return pagination.DefaultLimit
	}
	// callers ask for one extra row to detect another page
	if q.Limit > pagination.MaxLimit+1 {
		return pagination.MaxLimit + 1
	}
	return q.Limit
}

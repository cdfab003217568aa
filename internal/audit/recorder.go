package audit

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/carehub/platform/internal/auth"
	"github.com/carehub/platform/internal/idgen"
	"github.com/carehub/platform/internal/logging"
	"github.com/carehub/platform/internal/metrics"
)

// EventAuditEntry is the realtime event type for new entries.
const EventAuditEntry = "audit_entry"

// appendTimeout bounds a write detached from the caller's cancellation.
const appendTimeout = 5 * time.Second

// Publisher fans entries out to live subscribers.
type Publisher interface {
	Publish(eventType, tenantID string, payload any)
}

// Recorder writes audit entries. A failed write never fails the caller's
// operation: it is logged and counted.
type Recorder struct {
	store     Store
	publisher Publisher
	now       func() time.Time
}

// NewRecorder creates a recorder backed by store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// WithPublisher attaches a live feed. Call during wiring only.
func (r *Recorder) WithPublisher(p Publisher) *Recorder {
	r.publisher = p
	return r
}

type requestMetaKey struct{}

type requestMeta struct {
	ip, userAgent string
}

// Middleware stashes the caller's IP and user agent in the request context
// so Record can attach them from service code.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		meta := requestMeta{ip: c.ClientIP(), userAgent: c.Request.UserAgent()}
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), requestMetaKey{}, meta))
		c.Next()
	}
}

// By returns an entry attributed to the caller, scoped to the caller's tenant.
func By(ac *auth.Context, action, resourceType, resourceID string) Entry {
	e := Entry{Action: action, ResourceType: resourceType, ResourceID: resourceID}
	if ac != nil {
		e.ActorID, e.ActorEmail, e.TenantID = ac.UserID, ac.Email, ac.TenantID
	}
	return e
}

// Record appends e, filling ID, CreatedAt and request metadata when empty.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if meta, ok := ctx.Value(requestMetaKey{}).(requestMeta); ok {
		if e.IPAddress == "" {
			e.IPAddress = meta.ip
		}
		if e.UserAgent == "" {
			e.UserAgent = meta.userAgent
		}
	}
	if e.ID == "" {
		e.ID = idgen.WithPrefix(idgen.PrefixAudit)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}

	if e.Action == "" || e.ResourceType == "" {
		r.fail(ctx, e, ErrInvalidEntry)
		return
	}
	// The primary write has already happened; a client disconnect must not
	// drop its audit entry.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()
	if err := r.store.Append(writeCtx, &e); err != nil {
		r.fail(ctx, e, err)
		return
	}
	if r.publisher != nil {
		r.publisher.Publish(EventAuditEntry, e.TenantID, e)
	}
}

// RecordRequest is Record with actor, IP and user agent taken from the request.
func (r *Recorder) RecordRequest(c *gin.Context, e Entry) {
	if ac := auth.GetContext(c); ac != nil {
		if e.ActorID == "" {
			e.ActorID = ac.UserID
			e.ActorEmail = ac.Email
		}
		if e.TenantID == "" {
			e.TenantID = ac.TenantID
		}
	}
	if e.IPAddress == "" {
		e.IPAddress = c.ClientIP()
	}
	if e.UserAgent == "" {
		e.UserAgent = c.Request.UserAgent()
	}
	r.Record(c.Request.Context(), e)
}

func (r *Recorder) fail(ctx context.Context, e Entry, err error) {
	metrics.AuditWriteFailuresTotal.Inc()
	logging.L(ctx).Error("audit write failed",
		"action", e.Action,
		"resource_type", e.ResourceType,
		"resource_id", e.ResourceID,
		"audit_tenant_id", e.TenantID,
		"error", err,
	)
}

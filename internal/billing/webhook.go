package billing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/carehub/platform/internal/apperr"
	"github.com/carehub/platform/internal/idgen"
	"github.com/carehub/platform/internal/logging"
	"github.com/carehub/platform/internal/metrics"
	"github.com/carehub/platform/internal/respond"
	"github.com/carehub/platform/internal/subscription"
	"github.com/carehub/platform/internal/traces"
)

const webhookBodyLimit = 1 << 20

// Applier upserts a provider subscription into local state.
type Applier interface {
	Apply(ctx context.Context, sub *subscription.Subscription) (*subscription.Subscription, error)
}

// TenantResolver maps a provider customer to its tenant.
type TenantResolver interface {
	TenantForCustomer(ctx context.Context, customerID string) (string, error)
	Exists(ctx context.Context, tenantID string) (bool, error)
}

// SubscriptionLookup finds a locally mirrored subscription.
type SubscriptionLookup interface {
	GetByExternalID(ctx context.Context, externalID string) (*subscription.Subscription, error)
}

// Publisher fans new events out to live subscribers.
type Publisher interface {
	Publish(eventType, tenantID string, payload any)
}

// WebhookHandler ingests signed Stripe webhooks.
type WebhookHandler struct {
	secret    string
	events    Store
	tracker   Applier
	tenants   TenantResolver
	subs      SubscriptionLookup
	publisher Publisher
	now       func() time.Time
}

// NewWebhookHandler creates a webhook handler. An empty secret makes every
// delivery fail with CONFIG_ERROR.
func NewWebhookHandler(secret string, events Store, tracker Applier, tenants TenantResolver, subs SubscriptionLookup) *WebhookHandler {
	return &WebhookHandler{
		secret:  strings.TrimSpace(secret),
		events:  events,
		tracker: tracker,
		tenants: tenants,
		subs:    subs,
		now:     time.Now,
	}
}

// WithPublisher attaches a live feed. Call during wiring only.
func (h *WebhookHandler) WithPublisher(p Publisher) *WebhookHandler {
	h.publisher = p
	return h
}

// RegisterRoutes mounts the unauthenticated webhook endpoint.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/stripe", h.Handle)
}

// invoice is the subset of a Stripe invoice the event log needs.
type invoice struct {
	ID           string            `json:"id"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	AmountPaid   int64             `json:"amount_paid"`
	AmountDue    int64             `json:"amount_due"`
	Currency     string            `json:"currency"`
	Metadata     map[string]string `json:"metadata"`
	Lines        struct {
		Data []struct {
			Price *struct {
				ID      string `json:"id"`
				Product string `json:"product"`
			} `json:"price"`
		} `json:"data"`
	} `json:"lines"`
}

// Handle handles POST /api/webhooks/stripe
func (h *WebhookHandler) Handle(c *gin.Context) {
	if h.secret == "" {
		respond.Error(c, apperr.Config("Stripe webhook secret is not configured"))
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, webhookBodyLimit)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respond.Error(c, apperr.BadRequest("Failed to read request body"))
		return
	}
	sig := c.GetHeader("Stripe-Signature")
	if strings.TrimSpace(sig) == "" {
		respond.Error(c, apperr.BadRequest("Missing Stripe signature"))
		return
	}
	event, err := webhook.ConstructEventWithOptions(payload, sig, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		metrics.BillingEventsTotal.WithLabelValues("unknown", "invalid_signature").Inc()
		respond.Error(c, apperr.BadRequest("Invalid Stripe signature"))
		return
	}

	ctx, span := traces.StartSpan(c.Request.Context(), "billing.webhook", traces.EventType(string(event.Type)))
	result, err := h.process(ctx, &event)
	traces.End(span, err)
	if err != nil {
		logging.L(ctx).Error("stripe webhook processing failed",
			"event_id", event.ID, "type", event.Type, "error", err)
		metrics.BillingEventsTotal.WithLabelValues(string(event.Type), "error").Inc()
		respond.Error(c, err)
		return
	}
	metrics.BillingEventsTotal.WithLabelValues(string(event.Type), result).Inc()

	respond.OK(c, http.StatusOK, gin.H{
		"received":  true,
		"duplicate": result == "duplicate",
		"ignored":   result == "ignored" || result == "unresolved",
	})
}

// process records one verified event and returns the metric result label.
func (h *WebhookHandler) process(ctx context.Context, event *stripe.Event) (string, error) {
	ev := &Event{
		ExternalID: event.ID,
		Type:       string(event.Type),
		OccurredAt: unix(event.Created),
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = h.now().UTC()
	}

	var metadata map[string]string
	switch {
	case strings.HasPrefix(ev.Type, "customer.subscription."):
		var s stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return "", apperr.BadRequest("Malformed subscription payload")
		}
		sub := mapSubscription(&s)
		metadata = s.Metadata
		ev.CustomerID, ev.SubscriptionID = sub.CustomerID, sub.ExternalID
		ev.ProductID, ev.ProductName = sub.ProductID, sub.ProductName
		ev.Currency = sub.Currency
		ev.Amount = subscription.MonthlyAmount(sub)

		tenantID, err := h.resolveTenant(ctx, ev.CustomerID, metadata)
		if err != nil {
			return "", err
		}
		if tenantID == "" {
			logging.L(ctx).Warn("stripe webhook for unknown customer", "event_id", event.ID, "customer_id", ev.CustomerID)
			return "unresolved", nil
		}
		ev.TenantID, sub.TenantID = tenantID, tenantID

		if _, err := h.tracker.Apply(ctx, sub); err != nil {
			if !errors.Is(err, subscription.ErrInvalidTransition) && !errors.Is(err, subscription.ErrInvalidStatus) {
				return "", apperr.Internal(err)
			}
			// Out-of-order delivery: keep the event, leave the record alone.
			logging.L(ctx).Warn("stripe webhook transition rejected",
				"event_id", event.ID, "subscription_id", sub.ExternalID, "error", err)
		}

	case ev.Type == EventInvoicePaid || ev.Type == EventInvoicePaymentFailed:
		var inv invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return "", apperr.BadRequest("Malformed invoice payload")
		}
		metadata = inv.Metadata
		ev.CustomerID, ev.SubscriptionID = inv.Customer, inv.Subscription
		ev.Currency = strings.ToLower(inv.Currency)
		ev.Amount = inv.AmountPaid
		if ev.Type == EventInvoicePaymentFailed {
			ev.Amount = inv.AmountDue
		}
		for _, line := range inv.Lines.Data {
			if line.Price != nil && line.Price.Product != "" {
				ev.ProductID = line.Price.Product
				break
			}
		}
		if inv.Subscription != "" {
			if local, err := h.subs.GetByExternalID(ctx, inv.Subscription); err == nil {
				if ev.ProductID == "" {
					ev.ProductID = local.ProductID
				}
				if ev.ProductID == local.ProductID {
					ev.ProductName = local.ProductName
				}
			}
		}
		tenantID, err := h.resolveTenant(ctx, ev.CustomerID, metadata)
		if err != nil {
			return "", err
		}
		ev.TenantID = tenantID

	default:
		return "ignored", nil
	}

	ev.ID = idgen.WithPrefix(idgen.PrefixBillingEvent)
	ev.CreatedAt = h.now().UTC()
	if err := h.events.Append(ctx, ev); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			return "duplicate", nil
		}
		return "", apperr.Internal(err)
	}
	if h.publisher != nil {
		h.publisher.Publish(LiveEventType, ev.TenantID, ev)
	}
	return "recorded", nil
}

// resolveTenant prefers the stored customer mapping, falling back to the
// tenant_id metadata set when the customer was created. Metadata naming an
// organization this deployment does not know resolves to "".
func (h *WebhookHandler) resolveTenant(ctx context.Context, customerID string, metadata map[string]string) (string, error) {
	if customerID != "" {
		id, err := h.tenants.TenantForCustomer(ctx, customerID)
		switch {
		case err == nil:
			return id, nil
		case !apperr.Is(err, apperr.KindNotFound):
			return "", err
		}
	}
	id := strings.TrimSpace(metadata["tenant_id"])
	if id == "" {
		return "", nil
	}
	ok, err := h.tenants.Exists(ctx, id)
	if err != nil {
		return "", err
	}
	if !ok {
		logging.L(ctx).Warn("stripe metadata names unknown organization", "organization_id", id, "customer_id", customerID)
		return "", nil
	}
	return id, nil
}

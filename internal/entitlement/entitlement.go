// Package entitlement decides what an organization may do.
//
// A feature is evaluated in a fixed order: platform kill switch, then the
// organization's explicit override, then the plan default. Numeric limits
// are hard ceilings checked against current usage.
package entitlement

import (
	"context"
	"fmt"
	"strings"

	"github.com/carehub/platform/internal/apperr"
	"github.com/carehub/platform/internal/metrics"
)

// Denial reasons.
const (
	ReasonFeatureUnavailable = "feature_unavailable"
	ReasonFeatureDisabled    = "feature_disabled"
	ReasonNotInPlan          = "feature_not_in_plan"
	ReasonUnknownFeature     = "unknown_feature"
	ReasonLimitExceeded      = "plan_limit_exceeded"
)

// Decision sources.
const (
	SourceKillSwitch = "kill_switch"
	SourceOverride   = "override"
	SourcePlan       = "plan"
)

// Decision is the outcome of a feature check.
type Decision struct {
	Feature Feature `json:"feature"`
	Allowed bool    `json:"allowed"`
	Source  string  `json:"source"`
	Reason  string  `json:"reason,omitempty"`
}

// LimitDecision is the outcome of a numeric limit check.
type LimitDecision struct {
	Limit     Limit  `json:"limit"`
	Allowed   bool   `json:"allowed"`
	Max       int64  `json:"max"` // 0 = unlimited
	Current   int64  `json:"current"`
	Requested int64  `json:"requested"`
	Reason    string `json:"reason,omitempty"`
}

// Evaluate is the pure feature decision.
func Evaluate(plan Plan, overrides map[Feature]bool, killed map[Feature]bool, f Feature) Decision {
	if !ValidFeature(f) {
		return Decision{Feature: f, Allowed: false, Source: SourcePlan, Reason: ReasonUnknownFeature}
	}
	if killed[f] {
		return Decision{Feature: f, Allowed: false, Source: SourceKillSwitch, Reason: ReasonFeatureUnavailable}
	}
	if v, ok := overrides[f]; ok {
		d := Decision{Feature: f, Allowed: v, Source: SourceOverride}
		if !v {
			d.Reason = ReasonFeatureDisabled
		}
		return d
	}
	d := Decision{Feature: f, Allowed: ConfigFor(plan).Features[f], Source: SourcePlan}
	if !d.Allowed {
		d.Reason = ReasonNotInPlan
	}
	return d
}

// EvaluateLimit is the pure limit decision: current+delta must not exceed max.
func EvaluateLimit(plan Plan, l Limit, current, delta int64) LimitDecision {
	ceiling := ConfigFor(plan).Limits[l]
	d := LimitDecision{Limit: l, Max: ceiling, Current: current, Requested: delta, Allowed: true}
	if ceiling > 0 && current+delta > ceiling {
		d.Allowed = false
		d.Reason = ReasonLimitExceeded
	}
	return d
}

// PlanSource returns an organization's current plan.
type PlanSource interface {
	TenantPlan(ctx context.Context, tenantID string) (Plan, error)
}

// OverrideSource returns an organization's explicit feature overrides.
type OverrideSource interface {
	Overrides(ctx context.Context, tenantID string) (map[Feature]bool, error)
}

// UsageFunc reports current consumption of one limit.
type UsageFunc func(ctx context.Context, tenantID string) (int64, error)

// Evaluator combines plan, overrides, kill switches and usage.
type Evaluator struct {
	plans     PlanSource
	overrides OverrideSource
	killed    map[Feature]bool
	usage     map[Limit]UsageFunc
}

// NewEvaluator creates an evaluator. Kill switch names are matched
// case-insensitively; unknown names are ignored.
func NewEvaluator(plans PlanSource, overrides OverrideSource, killSwitches []string) *Evaluator {
	killed := make(map[Feature]bool)
	for _, k := range killSwitches {
		f := Feature(strings.ToLower(strings.TrimSpace(k)))
		if ValidFeature(f) {
			killed[f] = true
		}
	}
	return &Evaluator{
		plans:     plans,
		overrides: overrides,
		killed:    killed,
		usage:     make(map[Limit]UsageFunc),
	}
}

// WithUsage registers the usage source for a limit. Call during wiring only.
func (e *Evaluator) WithUsage(l Limit, fn UsageFunc) *Evaluator {
	e.usage[l] = fn
	return e
}

// KillSwitches returns the features disabled platform-wide.
func (e *Evaluator) KillSwitches() []Feature {
	var out []Feature
	for _, f := range AllFeatures {
		if e.killed[f] {
			out = append(out, f)
		}
	}
	return out
}

// CheckFeature evaluates a feature for a tenant.
func (e *Evaluator) CheckFeature(ctx context.Context, tenantID string, f Feature) (Decision, error) {
	plan, overrides, err := e.load(ctx, tenantID)
	if err != nil {
		return Decision{}, err
	}
	return Evaluate(plan, overrides, e.killed, f), nil
}

// RequireFeature returns a FORBIDDEN error carrying the denial reason.
func (e *Evaluator) RequireFeature(ctx context.Context, tenantID string, f Feature) error {
	d, err := e.CheckFeature(ctx, tenantID, f)
	if err != nil {
		return err
	}
	if d.Allowed {
		return nil
	}
	metrics.EntitlementDenialsTotal.WithLabelValues(string(f), d.Reason).Inc()
	return apperr.Forbidden(denialMessage(d)).WithReason(d.Reason)
}

// CheckLimit evaluates whether delta more units of l fit under the plan.
func (e *Evaluator) CheckLimit(ctx context.Context, tenantID string, l Limit, delta int64) (LimitDecision, error) {
	plan, err := e.plans.TenantPlan(ctx, tenantID)
	if err != nil {
		return LimitDecision{}, err
	}
	current, err := e.currentUsage(ctx, tenantID, l)
	if err != nil {
		return LimitDecision{}, err
	}
	return EvaluateLimit(plan, l, current, delta), nil
}

// RequireLimit returns a FORBIDDEN plan_limit_exceeded error when delta does not fit.
func (e *Evaluator) RequireLimit(ctx context.Context, tenantID string, l Limit, delta int64) error {
	d, err := e.CheckLimit(ctx, tenantID, l, delta)
	if err != nil {
		return err
	}
	if d.Allowed {
		return nil
	}
	metrics.EntitlementDenialsTotal.WithLabelValues(string(l), d.Reason).Inc()
	return apperr.Forbidden(fmt.Sprintf("Plan limit for %s reached (%d of %d)", l, d.Current, d.Max)).WithReason(d.Reason)
}

// Summary is the full entitlement picture for one organization.
type Summary struct {
	TenantID     string                  `json:"tenantId"`
	Plan         Plan                    `json:"plan"`
	Features     map[Feature]Decision    `json:"features"`
	Limits       map[Limit]LimitDecision `json:"limits"`
	KillSwitches []Feature               `json:"killSwitches,omitempty"`
}

// Summary evaluates every feature and limit for a tenant.
func (e *Evaluator) Summary(ctx context.Context, tenantID string) (*Summary, error) {
	plan, overrides, err := e.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	s := &Summary{
		TenantID:     tenantID,
		Plan:         plan,
		Features:     make(map[Feature]Decision, len(AllFeatures)),
		Limits:       make(map[Limit]LimitDecision, len(AllLimits)),
		KillSwitches: e.KillSwitches(),
	}
	for _, f := range AllFeatures {
		s.Features[f] = Evaluate(plan, overrides, e.killed, f)
	}
	for _, l := range AllLimits {
		current, err := e.currentUsage(ctx, tenantID, l)
		if err != nil {
			return nil, err
		}
		s.Limits[l] = EvaluateLimit(plan, l, current, 0)
	}
	return s, nil
}

func (e *Evaluator) load(ctx context.Context, tenantID string) (Plan, map[Feature]bool, error) {
	plan, err := e.plans.TenantPlan(ctx, tenantID)
	if err != nil {
		return "", nil, err
	}
	var overrides map[Feature]bool
	if e.overrides != nil {
		overrides, err = e.overrides.Overrides(ctx, tenantID)
		if err != nil {
			return "", nil, fmt.Errorf("entitlement: load overrides: %w", err)
		}
	}
	return plan, overrides, nil
}

func (e *Evaluator) currentUsage(ctx context.Context, tenantID string, l Limit) (int64, error) {
	fn, ok := e.usage[l]
	if !ok {
		return 0, nil
	}
	n, err := fn(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("entitlement: usage %s: %w", l, err)
	}
	return n, nil
}

func denialMessage(d Decision) string {
	switch d.Reason {
	case ReasonFeatureUnavailable:
		return fmt.Sprintf("%s is temporarily unavailable", d.Feature)
	case ReasonFeatureDisabled:
		return fmt.Sprintf("%s is disabled for this organization", d.Feature)
	case ReasonUnknownFeature:
		return fmt.Sprintf("Unknown feature %q", d.Feature)
	default:
		return fmt.Sprintf("Your plan does not include %s", d.Feature)
	}
}

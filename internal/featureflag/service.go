package featureflag

import (
	"context"
	"errors"
	"time"

	"github.com/carehub/platform/internal/apperr"
	"github.com/carehub/platform/internal/audit"
	"github.com/carehub/platform/internal/auth"
	"github.com/carehub/platform/internal/entitlement"
	"github.com/carehub/platform/internal/logging"
	"github.com/carehub/platform/internal/tenant"
)

// Service sets and clears overrides with auditing.
type Service struct {
	store    Store
	tenants  tenant.Store
	recorder *audit.Recorder
	now      func() time.Time
}

// NewService creates a feature flag service.
func NewService(store Store, tenants tenant.Store, rec *audit.Recorder) *Service {
	return &Service{store: store, tenants: tenants, recorder: rec, now: time.Now}
}

// Result reports the stored flag and whether this call changed it.
type Result struct {
	Flag    *Flag `json:"flag"`
	Changed bool  `json:"changed"`
}

// Set stores an override. Setting the value already stored changes nothing
// and records no audit entry.
func (s *Service) Set(ctx context.Context, ac *auth.Context, tenantID string, key entitlement.Feature, enabled bool) (*Result, error) {
	if !entitlement.ValidFeature(key) {
		return nil, apperr.BadRequest("flagKey: unknown feature").WithReason(entitlement.ReasonUnknownFeature)
	}
	if _, err := s.tenants.Get(ctx, tenantID); err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			return nil, apperr.NotFound("Organization not found")
		}
		return nil, err
	}

	now := s.now().UTC()
	f := &Flag{TenantID: tenantID, Key: key, Enabled: enabled, SetBy: ac.UserID, CreatedAt: now, UpdatedAt: now}
	changed, err := s.store.Upsert(ctx, f)
	if err != nil {
		return nil, err
	}
	stored, err := s.store.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if !changed {
		return &Result{Flag: stored, Changed: false}, nil
	}

	action := audit.ActionFeatureFlagDisabled
	if enabled {
		action = audit.ActionFeatureFlagEnabled
	}
	e := audit.By(ac, action, audit.ResourceFeatureFlag, string(key))
	e.TenantID = tenantID
	e.Metadata = map[string]any{"flagKey": string(key), "enabled": enabled}
	s.recorder.Record(ctx, e)

	logging.L(ctx).Info("feature flag set", "organization_id", tenantID, "flag", key, "enabled", enabled)
	return &Result{Flag: stored, Changed: true}, nil
}

// Clear removes an override so the plan default applies again.
func (s *Service) Clear(ctx context.Context, ac *auth.Context, tenantID string, key entitlement.Feature) error {
	if err := s.store.Delete(ctx, tenantID, key); err != nil {
		if errors.Is(err, ErrFlagNotFound) {
			return apperr.NotFound("Feature flag not found")
		}
		return err
	}
	e := audit.By(ac, audit.ActionFeatureFlagCleared, audit.ResourceFeatureFlag, string(key))
	e.TenantID = tenantID
	e.Metadata = map[string]any{"flagKey": string(key)}
	s.recorder.Record(ctx, e)
	return nil
}

// List returns overrides for one tenant, or all when tenantID is empty.
func (s *Service) List(ctx context.Context, tenantID string) ([]*Flag, error) {
	return s.store.List(ctx, tenantID)
}

// Overrides implements entitlement.OverrideSource.
func (s *Service) Overrides(ctx context.Context, tenantID string) (map[entitlement.Feature]bool, error) {
	flags, err := s.store.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make(map[entitlement.Feature]bool, len(flags))
	for _, f := range flags {
		out[f.Key] = f.Enabled
	}
	return out, nil
}

var _ entitlement.OverrideSource = (*Service)(nil)

// Package featureflag stores per-organization feature overrides. An
// override beats the plan default in both directions; platform kill
// switches still beat the override.
package featureflag

import (
	"context"
	"errors"
	"time"

	"github.com/carehub/platform/internal/entitlement"
)

var ErrFlagNotFound = errors.New("featureflag: not found")

// Flag is one (tenant, feature) override.
type Flag struct {
	TenantID  string              `json:"organizationId"`
	Key       entitlement.Feature `json:"flagKey"`
	Enabled   bool                `json:"enabled"`
	SetBy     string              `json:"setBy"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// Store persists overrides. Upsert reports whether the stored value changed;
// writing the value already stored is a no-op.
type Store interface {
	Upsert(ctx context.Context, f *Flag) (changed bool, err error)
	Get(ctx context.Context, tenantID string, key entitlement.Feature) (*Flag, error)
	Delete(ctx context.Context, tenantID string, key entitlement.Feature) error
	List(ctx context.Context, tenantID string) ([]*Flag, error) // "" lists every tenant
}

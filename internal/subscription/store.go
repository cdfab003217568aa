package subscription

import "context"

// Store persists subscriptions and per-tenant sync state.
type Store interface {
	GetByExternalID(ctx context.Context, externalID string) (*Subscription, error)
	// Save inserts or replaces the record keyed by ExternalID.
	Save(ctx context.Context, s *Subscription) error
	ListByTenant(ctx context.Context, tenantID string) ([]*Subscription, error)
	ListAll(ctx context.Context) ([]*Subscription, error)

	GetSyncState(ctx context.Context, tenantID string) (*SyncState, error) // nil when never attempted
	SaveSyncState(ctx context.Context, st *SyncState) error
}

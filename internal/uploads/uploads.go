// Package uploads accepts organization files, verifies their content and
// stores them in object storage.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carehub/platform/internal/entitlement"
)

var ErrUploadNotFound = errors.New("uploads: not found")

// Kind is an upload category.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

const mib = int64(1) << 20

// Policy is what one kind accepts.
type Policy struct {
	Kind     Kind
	Feature  entitlement.Feature
	MaxBytes int64
	Allowed  []string // MIME types; image/svg+xml is never listed
}

// Policies maps each kind to its policy.
var Policies = map[Kind]Policy{
	KindImage: {
		Kind:     KindImage,
		Feature:  entitlement.FeatureFileUploads,
		MaxBytes: 10 * mib,
		Allowed:  []string{"image/jpeg", "image/png", "image/gif", "image/webp"},
	},
	KindVideo: {
		Kind:     KindVideo,
		Feature:  entitlement.FeatureVideoUploads,
		MaxBytes: 200 * mib,
		Allowed:  []string{"video/mp4", "video/quicktime", "video/webm"},
	},
}

func (p Policy) allows(mimeType string) bool {
	for _, a := range p.Allowed {
		if a == mimeType {
			return true
		}
	}
	return false
}

// Upload is the metadata of one stored file.
type Upload struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"organizationId"`
	Kind         Kind      `json:"kind"`
	Key          string    `json:"key"`
	ContentType  string    `json:"contentType"`
	Size         int64     `json:"size"`
	OriginalName string    `json:"originalName"`
	UploadedBy   string    `json:"uploadedBy"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ObjectKey builds organizations/{tenant}/{kind}s/{yyyy}/{mm}/{id}{ext}.
func ObjectKey(tenantID string, kind Kind, at time.Time, id, ext string) string {
	at = at.UTC()
	return fmt.Sprintf("organizations/%s/%ss/%04d/%02d/%s%s", tenantID, kind, at.Year(), int(at.Month()), id, ext)
}

// Store persists upload metadata.
type Store interface {
	Create(ctx context.Context, u *Upload) error
	// List returns a tenant's uploads, newest first.
	List(ctx context.Context, tenantID string, limit int) ([]*Upload, error)
	SumBytes(ctx context.Context, tenantID string) (int64, error)
}

// StorageUsage adapts a Store to the storage_bytes limit.
func StorageUsage(s Store) entitlement.UsageFunc {
	return s.SumBytes
}

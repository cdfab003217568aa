package uploads

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/carehub/platform/internal/apperr"
	"github.com/carehub/platform/internal/audit"
	"github.com/carehub/platform/internal/auth"
	"github.com/carehub/platform/internal/entitlement"
	"github.com/carehub/platform/internal/idgen"
	"github.com/carehub/platform/internal/logging"
	"github.com/carehub/platform/internal/metrics"
	"github.com/carehub/platform/internal/traces"
)

// sniffLen is how many leading bytes are inspected for the real type.
const sniffLen = 3072

// Rejection reasons.
const (
	ReasonUnsupportedKind = "unsupported_kind"
	ReasonEmptyFile       = "empty_file"
	ReasonFileTooLarge    = "file_too_large"
	ReasonUnsupportedType = "unsupported_media_type"
	ReasonSVGNotAllowed   = "svg_not_allowed"
	ReasonContentMismatch = "content_type_mismatch"
)

// File is an incoming upload.
type File struct {
	Name         string
	DeclaredType string
	Size         int64
	Body         io.Reader
}

// Service validates and stores uploads.
type Service struct {
	objects  ObjectStore
	store    Store
	ev       *entitlement.Evaluator
	recorder *audit.Recorder
	now      func() time.Time
}

// NewService creates an upload service.
func NewService(objects ObjectStore, store Store, ev *entitlement.Evaluator, rec *audit.Recorder) *Service {
	return &Service{objects: objects, store: store, ev: ev, recorder: rec, now: time.Now}
}

// Upload checks f against the kind's policy and the tenant's entitlements,
// then stores it under a generated key.
func (s *Service) Upload(ctx context.Context, ac *auth.Context, kind Kind, f File) (up *Upload, err error) {
	ctx, span := traces.StartSpan(ctx, "uploads.upload", traces.TenantID(ac.TenantID), traces.UploadKind(string(kind)))
	defer func() {
		traces.End(span, err)
		result := "stored"
		switch {
		case err == nil:
		case apperr.Is(err, apperr.KindInternal), apperr.Is(err, apperr.KindUnavailable):
			result = "error"
		default:
			result = "rejected"
		}
		metrics.UploadsTotal.WithLabelValues(string(kind), result).Inc()
	}()

	policy, ok := Policies[kind]
	if !ok {
		return nil, apperr.NotFound("Unknown upload kind").WithReason(ReasonUnsupportedKind)
	}
	if err := s.ev.RequireFeature(ctx, ac.TenantID, policy.Feature); err != nil {
		return nil, err
	}
	if f.Size <= 0 {
		return nil, apperr.BadRequest("File is empty").WithReason(ReasonEmptyFile)
	}
	if f.Size > policy.MaxBytes {
		return nil, apperr.BadRequest("File exceeds the size limit for " + string(kind) + " uploads").WithReason(ReasonFileTooLarge)
	}

	declared, _, perr := mime.ParseMediaType(f.DeclaredType)
	if perr != nil {
		declared = ""
	}
	if declared == "image/svg+xml" {
		return nil, apperr.BadRequest("SVG files are not accepted").WithReason(ReasonSVGNotAllowed)
	}
	if !policy.allows(declared) {
		return nil, apperr.BadRequest("Unsupported content type " + f.DeclaredType).WithReason(ReasonUnsupportedType)
	}
	if err := s.ev.RequireLimit(ctx, ac.TenantID, entitlement.LimitStorageBytes, f.Size); err != nil {
		return nil, err
	}

	head := make([]byte, sniffLen)
	n, rerr := io.ReadFull(f.Body, head)
	if rerr != nil && !errors.Is(rerr, io.ErrUnexpectedEOF) && !errors.Is(rerr, io.EOF) {
		return nil, apperr.BadRequest("Failed to read file")
	}
	head = head[:n]
	detected := mimetype.Detect(head)
	sniffed := ""
	for _, a := range policy.Allowed {
		if detected.Is(a) {
			sniffed = a
			break
		}
	}
	if sniffed == "" || family(sniffed) != family(declared) {
		logging.L(ctx).Warn("upload content rejected",
			"organization_id", ac.TenantID, "declared", declared, "detected", detected.String())
		return nil, apperr.BadRequest("File content does not match an allowed " + string(kind) + " type").WithReason(ReasonContentMismatch)
	}

	now := s.now().UTC()
	id := idgen.WithPrefix(idgen.PrefixUpload)
	up = &Upload{
		ID:           id,
		TenantID:     ac.TenantID,
		Kind:         kind,
		Key:          ObjectKey(ac.TenantID, kind, now, id, detected.Extension()),
		ContentType:  sniffed,
		Size:         f.Size,
		OriginalName: f.Name,
		UploadedBy:   ac.UserID,
		CreatedAt:    now,
	}

	body := io.MultiReader(bytes.NewReader(head), io.LimitReader(f.Body, f.Size-int64(n)))
	if err := s.objects.Put(ctx, up.Key, up.ContentType, body, f.Size); err != nil {
		return nil, apperr.Unavailable("Object storage is unavailable", err)
	}
	if err := s.store.Create(ctx, up); err != nil {
		if derr := s.objects.Delete(ctx, up.Key); derr != nil {
			logging.L(ctx).Error("failed to remove orphaned object", "key", up.Key, "error", derr)
		}
		return nil, apperr.Internal(err)
	}
	metrics.UploadBytesTotal.WithLabelValues(string(kind)).Add(float64(f.Size))

	e := audit.By(ac, audit.ActionUploadCreated, audit.ResourceUpload, up.ID)
	e.Metadata = map[string]any{"kind": kind, "key": up.Key, "size": up.Size, "contentType": up.ContentType}
	s.recorder.Record(ctx, e)
	return up, nil
}

// List returns the caller's organization uploads.
func (s *Service) List(ctx context.Context, ac *auth.Context, limit int) ([]*Upload, error) {
	ups, err := s.store.List(ctx, ac.TenantID, limit)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if ups == nil {
		ups = []*Upload{}
	}
	return ups, nil
}

func family(mimeType string) string {
	if i := strings.IndexByte(mimeType, '/'); i > 0 {
		return mimeType[:i]
	}
	return mimeType
}

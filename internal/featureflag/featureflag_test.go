package featureflag

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carehub/platform/internal/apperr"
	"github.com/carehub/platform/internal/audit"
	"github.com/carehub/platform/internal/auth"
	"github.com/carehub/platform/internal/entitlement"
	"github.com/carehub/platform/internal/tenant"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const orgID = "org_00000000000000000000000000000001"

type fixture struct {
	svc     *Service
	tenants *tenant.MemoryStore
	audit   *audit.MemoryStore
	root    *auth.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		tenants: tenant.NewMemoryStore(),
		audit:   audit.NewMemoryStore(),
		root:    &auth.Context{UserID: "usr_root", Email: "root@carehub.example", IsSuperadmin: true},
	}
	now := time.Now()
	require.NoError(t, f.tenants.Create(context.Background(), &tenant.Tenant{
		ID: orgID, Name: "Org One", Slug: "org-one", Plan: entitlement.PlanFree,
		Status: tenant.StatusActive, CreatedAt: now, UpdatedAt: now,
	}))
	f.svc = NewService(NewMemoryStore(), f.tenants, audit.NewRecorder(f.audit))
	return f
}

func (f *fixture) auditActions(t *testing.T) []string {
	t.Helper()
	entries, err := f.audit.List(context.Background(), audit.Query{TenantID: orgID})
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func TestSet_CreatesFlagAndAuditEntry(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Set(context.Background(), f.root, orgID, entitlement.FeatureAIScribe, true)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.True(t, res.Flag.Enabled)
	assert.Equal(t, "usr_root", res.Flag.SetBy)

	entries, _ := f.audit.List(context.Background(), audit.Query{TenantID: orgID})
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionFeatureFlagEnabled, entries[0].Action)
	assert.Equal(t, "ai_scribe", entries[0].ResourceID)
}

func TestSet_IdempotentForSameValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Set(ctx, f.root, orgID, entitlement.FeatureAIScribe, true)
	require.NoError(t, err)
	res, err := f.svc.Set(ctx, f.root, orgID, entitlement.FeatureAIScribe, true)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, []string{audit.ActionFeatureFlagEnabled}, f.auditActions(t))

	res, err = f.svc.Set(ctx, f.root, orgID, entitlement.FeatureAIScribe, false)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, []string{audit.ActionFeatureFlagDisabled, audit.ActionFeatureFlagEnabled}, f.auditActions(t))
}

func TestSet_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Set(ctx, f.root, orgID, "hyperdrive", true)
	assert.Equal(t, entitlement.ReasonUnknownFeature, apperr.As(err).Reason)

	_, err = f.svc.Set(ctx, f.root, "org_00000000000000000000000000000002", entitlement.FeatureAIScribe, true)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestOverridesFeedEvaluator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := entitlement.NewEvaluator(tenant.NewDirectory(f.tenants, nil), f.svc, []string{"telehealth"})

	_, err := f.svc.Set(ctx, f.root, orgID, entitlement.FeatureAIScribe, true)
	require.NoError(t, err)
	_, err = f.svc.Set(ctx, f.root, orgID, entitlement.FeatureTelehealth, true)
	require.NoError(t, err)

	assert.NoError(t, ev.RequireFeature(ctx, orgID, entitlement.FeatureAIScribe), "override enables on free plan")

	err = ev.RequireFeature(ctx, orgID, entitlement.FeatureTelehealth)
	assert.Equal(t, entitlement.ReasonFeatureUnavailable, apperr.As(err).Reason, "kill switch wins")

	require.NoError(t, f.svc.Clear(ctx, f.root, orgID, entitlement.FeatureAIScribe))
	err = ev.RequireFeature(ctx, orgID, entitlement.FeatureAIScribe)
	assert.Equal(t, entitlement.ReasonNotInPlan, apperr.As(err).Reason)

	err = f.svc.Clear(ctx, f.root, orgID, entitlement.FeatureAIScribe)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestHandler_SetTwiceOverHTTP(t *testing.T) {
	f := newFixture(t)
	r := gin.New()
	NewHandler(f.svc).RegisterAdminRoutes(r.Group("/api/admin", func(c *gin.Context) {
		auth.SetContext(c, f.root)
		c.Next()
	}))

	body := []byte(`{"organizationId":"` + orgID + `","flagKey":"ai_scribe","enabled":true}`)
	for i, wantChanged := range []bool{true, false} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/admin/feature-flags", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, "call %d", i+1)

		var resp struct {
			Success bool   `json:"success"`
			Data    Result `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, wantChanged, resp.Data.Changed)
	}
	assert.Len(t, f.auditActions(t), 1)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/admin/feature-flags",
		bytes.NewReader([]byte(`{"organizationId":"`+orgID+`","flagKey":"ai_scribe"}`)))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code, "enabled is required")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/feature-flags?organizationId="+orgID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/admin/feature-flags/"+orgID+"/ai_scribe", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_RejectsMalformedFlagKey(t *testing.T) {
	f := newFixture(t)
	r := gin.New()
	NewHandler(f.svc).RegisterAdminRoutes(r.Group("/api/admin", func(c *gin.Context) {
		auth.SetContext(c, f.root)
		c.Next()
	}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/admin/feature-flags",
		bytes.NewReader([]byte(`{"organizationId":"`+orgID+`","flagKey":"AI Scribe","enabled":true}`)))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "flagKey")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/admin/feature-flags/"+orgID+"/AI_Scribe", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_flag_key")
	assert.Empty(t, f.auditActions(t))
}

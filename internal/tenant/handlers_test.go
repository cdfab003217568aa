package tenant

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carehub/platform/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newRouter mounts the handler behind a stub that installs ac as the caller.
func newRouter(f *fixture, ac *auth.Context) *gin.Engine {
	w := httptest.NewRecorder()
	_, router := gin.CreateTestContext(w)
	api := router.Group("/api", func(c *gin.Context) {
		auth.SetContext(c, ac)
		c.Next()
	})
	h := NewHandler(f.svc)
	h.RegisterRoutes(api)
	h.RegisterAdminRoutes(api.Group("/admin", auth.RequireSuperadmin()))
	return router
}

func do(t *testing.T, r *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func errorCode(resp map[string]any) string {
	e, _ := resp["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestGetOrganization(t *testing.T) {
	f := newFixture(t)
	w, resp := do(t, newRouter(f, f.ownerAC), http.MethodGet, "/api/organization", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["success"])
	data := resp["data"].(map[string]any)
	assert.Equal(t, f.tenant.ID, data["id"])
	assert.Equal(t, "free", data["plan"])
}

func TestUpdateOrganization_RequiresManagePermission(t *testing.T) {
	f := newFixture(t)
	member := &auth.Context{UserID: f.owner.ID, TenantID: f.tenant.ID, Role: auth.RoleMember}

	w, resp := do(t, newRouter(f, member), http.MethodPatch, "/api/organization", map[string]string{"name": "Renamed"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(resp))

	w, resp = do(t, newRouter(f, f.ownerAC), http.MethodPatch, "/api/organization", map[string]string{"name": "Renamed"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Renamed", resp["data"].(map[string]any)["name"])
}

func TestMembersEndpoints(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f, f.ownerAC)
	nurse := f.addUser(t, "nurse@clinic.example")

	w, _ := do(t, r, http.MethodPost, "/api/organization/members", map[string]string{"userId": nurse.ID})
	require.Equal(t, http.StatusCreated, w.Code)

	w, resp := do(t, r, http.MethodPost, "/api/organization/members", map[string]string{"userId": nurse.ID})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", errorCode(resp))

	w, resp = do(t, r, http.MethodGet, "/api/organization/members", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), resp["data"].(map[string]any)["count"])

	w, resp = do(t, r, http.MethodPatch, "/api/organization/members/"+nurse.ID, map[string]string{"role": "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "admin", resp["data"].(map[string]any)["role"])

	w, _ = do(t, r, http.MethodPatch, "/api/organization/members/"+nurse.ID, map[string]string{"role": "janitor"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, http.MethodDelete, "/api/organization/members/"+nurse.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, r, http.MethodDelete, "/api/organization/members/not-an-id", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRoutes_RequireSuperadmin(t *testing.T) {
	f := newFixture(t)
	w, _ := do(t, newRouter(f, f.ownerAC), http.MethodGet, "/api/admin/organizations", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminCreateAndList(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f, f.root)

	w, resp := do(t, r, http.MethodPost, "/api/admin/organizations", map[string]string{
		"name":        "Lakeside Pediatrics",
		"plan":        "starter",
		"ownerUserId": f.owner.ID,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	data := resp["data"].(map[string]any)
	assert.Equal(t, "lakeside-pediatrics", data["slug"])
	assert.Equal(t, "starter", data["plan"])

	w, resp = do(t, r, http.MethodPost, "/api/admin/organizations", map[string]string{"name": "No Owner"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "BAD_REQUEST", errorCode(resp))

	w, resp = do(t, r, http.MethodGet, "/api/admin/organizations?q=lakeside", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), resp["data"].(map[string]any)["count"])
}

func TestAdminSuspendUnsuspend(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f, f.root)

	w, resp := do(t, r, http.MethodPost, "/api/admin/organization/suspend", map[string]string{
		"organizationId": f.tenant.ID,
		"reason":         "unpaid invoices",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "suspended", resp["data"].(map[string]any)["status"])

	for i := 0; i < 2; i++ {
		w, resp = do(t, r, http.MethodPost, "/api/admin/organization/unsuspend", map[string]string{
			"organizationId": f.tenant.ID,
		})
		require.Equal(t, http.StatusOK, w.Code, "unsuspend call %d", i+1)
		assert.Equal(t, "active", resp["data"].(map[string]any)["status"])
	}

	got, err := f.store.Get(context.Background(), f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)

	w, _ = do(t, r, http.MethodPost, "/api/admin/organization/unsuspend", map[string]string{"organizationId": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

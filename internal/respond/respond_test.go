package respond

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carehub/platform/internal/apperr"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestOK(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	OK(c, http.StatusCreated, gin.H{"id": "org_1"})

	assert.Equal(t, http.StatusCreated, w.Code)
	env := decode(t, w)
	assert.True(t, env.Success)
	assert.Nil(t, env.Error)
	assert.Equal(t, "org_1", env.Data.(map[string]any)["id"])
}

func TestError_Classified(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	Error(c, apperr.Forbidden("Plan does not include this").WithReason("feature_not_in_plan"))

	assert.Equal(t, http.StatusForbidden, w.Code)
	env := decode(t, w)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)
	assert.Equal(t, "feature_not_in_plan", env.Error.Reason)
}

func TestError_UnclassifiedHidesDetailByDefault(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	Error(c, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	env := decode(t, w)
	assert.Equal(t, "INTERNAL_ERROR", env.Error.Code)
	assert.Empty(t, env.Error.Detail)
	assert.NotContains(t, w.Body.String(), "password")
}

func TestError_DebugIncludesDetail(t *testing.T) {
	r := gin.New()
	r.Use(DebugMiddleware(true))
	r.GET("/", func(c *gin.Context) {
		Error(c, apperr.Unavailable("Billing provider unavailable", errors.New("timeout")))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	env := decode(t, w)
	assert.Equal(t, "SERVICE_UNAVAILABLE", env.Error.Code)
	assert.Equal(t, "timeout", env.Error.Detail)
}

func TestAbort_StopsChain(t *testing.T) {
	r := gin.New()
	r.Use(func(c *gin.Context) { Abort(c, apperr.Unauthorized("Authentication required")) })
	reached := false
	r.GET("/", func(c *gin.Context) { reached = true })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, reached)
}

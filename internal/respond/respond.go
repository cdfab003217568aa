// Package respond writes the platform's JSON response envelope.
//
//	success: {"success": true,  "data": ...}
//	failure: {"success": false, "error": {"code": ..., "message": ..., "reason": ...}}
package respond

import (
	"github.com/gin-gonic/gin"

	"github.com/carehub/platform/internal/apperr"
	"github.com/carehub/platform/internal/logging"
)

// contextKeyDebug marks requests whose error responses may include internal detail.
const contextKeyDebug = "respond.debug"

// ErrorBody is the error half of the envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Envelope is the full response shape. Exported for tests and API clients.
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// DebugMiddleware enables internal error detail in responses. Install it
// only outside production.
func DebugMiddleware(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if enabled {
			c.Set(contextKeyDebug, true)
		}
		c.Next()
	}
}

// OK writes a success envelope.
func OK(c *gin.Context, status int, data any) {
	c.JSON(status, Envelope{Success: true, Data: data})
}

// Error writes a failure envelope. Unclassified errors are logged in full
// and reported to the caller as INTERNAL_ERROR.
func Error(c *gin.Context, err error) {
	c.JSON(status(c, err))
}

// Abort is Error followed by c.Abort, for middleware.
func Abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(status(c, err))
}

func status(c *gin.Context, err error) (int, Envelope) {
	e := apperr.As(err)
	body := &ErrorBody{
		Code:    string(e.Kind),
		Message: e.Message,
		Reason:  e.Reason,
	}

	if e.Kind == apperr.KindInternal || e.Kind == apperr.KindUnavailable {
		logging.L(c.Request.Context()).Error("request failed",
			"kind", e.Kind,
			"path", c.Request.URL.Path,
			"error", err,
		)
	}
	if e.Err != nil && c.GetBool(contextKeyDebug) {
		body.Detail = e.Err.Error()
	}

	return e.Status(), Envelope{Success: false, Error: body}
}

package response

import (
	"nextgen/pkg/errors"
	"nextgen/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Body is the wire shape returned by the run endpoint.
// Output is a pointer so that an empty program output is still emitted on success.
type Body struct {
	Status    string  `json:"status"`
	Output    *string `json:"output,omitempty"`
	Stderr    string  `json:"stderr,omitempty"`
	Truncated bool    `json:"truncated,omitempty"`
	Message   string  `json:"message,omitempty"`
}

// SuccessBody builds a success body.
func SuccessBody(output, stderr string, truncated bool) Body {
	return Body{
		Status:    StatusSuccess,
		Output:    &output,
		Stderr:    stderr,
		Truncated: truncated,
	}
}

// ErrorBody builds an error body carrying a caller-safe message.
func ErrorBody(message string) Body {
	return Body{Status: StatusError, Message: message}
}

// JSON writes a body with the given HTTP status.
func JSON(c *gin.Context, httpStatus int, body Body) {
	c.JSON(httpStatus, body)
}

// Error sends an error response derived from err.
// Only validation and throttling messages are echoed; everything else gets
// the code's default text so internal details never reach the caller.
func Error(c *gin.Context, err error) {
	customErr := errors.GetError(err)
	if customErr.Code.IsInternal() {
		logger.Error(c.Request.Context(), "request error",
			zap.Int("code", int(customErr.Code)),
			zap.String("message", customErr.Error()),
			zap.String("field", customErr.Field),
			zap.String("stack", customErr.Stack),
		)
		JSON(c, customErr.Code.HTTPStatus(), ErrorBody(customErr.Code.Message()))
		return
	}

	logger.Warn(c.Request.Context(), "request rejected",
		zap.Int("code", int(customErr.Code)),
		zap.String("message", customErr.Error()),
	)
	JSON(c, customErr.Code.HTTPStatus(), ErrorBody(customErr.Error()))
}

// BadRequest sends a 400 bad request error
func BadRequest(c *gin.Context, message string) {
	Error(c, errors.BadRequest(message))
}

// AbortWithError aborts the request and sends error response
func AbortWithError(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}

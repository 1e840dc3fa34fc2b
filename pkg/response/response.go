package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tm-inbox-console/internal/dto"
	appErrors "github.com/noah-isme/tm-inbox-console/pkg/errors"
)

// JSON sends a success response. Inbox payloads are not wrapped in an envelope.
func JSON(c *gin.Context, status int, data interface{}) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(status, data)
}

// OK responds with HTTP 200.
func OK(c *gin.Context, data interface{}) {
	JSON(c, http.StatusOK, data)
}

// Error sends the structured API error body the console parses into RequestErrors.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(appErr.Status, dto.APIError{
		OK:        false,
		Status:    appErr.Status,
		Error:     http.StatusText(appErr.Status),
		Code:      appErr.Code,
		Message:   appErr.Message,
		Path:      c.Request.URL.Path,
		Timestamp: time.Now().UTC(),
	})
}

// NoContent sends a 204 response.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

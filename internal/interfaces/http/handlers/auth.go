package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// BearerAuth gates a route group behind the PROXY_API_KEY bearer token
// (spec §6: "Bearer auth"). An empty expected key disables the check
// entirely — useful for local development, matching the teacher's
// permissive-when-unconfigured convention elsewhere in the corpus.
func BearerAuth(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if expected == "" {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header || token != expected {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"message": "missing or invalid API key",
					"type":    "invalid_request_error",
				},
			})
			return
		}

		c.Next()
	}
}

package middleware

import (
	"github.com/gin-gonic/gin"
)

// csp forbids every resource type; the registry only serves JSON and artifacts.
const csp = "default-src 'none'; frame-ancestors 'none'"

// SecurityHeaders sets security-related response headers. Responses may
// carry license details, so they are never cached.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Content-Security-Policy", csp)
		c.Header("Cache-Control", "no-store")

		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}

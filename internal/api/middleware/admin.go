// Package middleware provides HTTP middleware for the registry API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// LicenseScheme is the Authorization scheme customers send their token with.
const LicenseScheme = "License"

// AdminAuth requires a bearer token matching the bcrypt hash. An empty hash
// disables every admin route.
func AdminAuth(tokenHash string, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "admin_auth").Logger()
	hash := []byte(tokenHash)

	return func(c *gin.Context) {
		if len(hash) == 0 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin API is disabled"})
			return
		}

		token, ok := credential(c, "Bearer")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin token required"})
			return
		}
		if err := bcrypt.CompareHashAndPassword(hash, []byte(token)); err != nil {
			log.Warn().Str("client_ip", c.ClientIP()).Str("path", c.FullPath()).Msg("rejected admin token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin token"})
			return
		}
		c.Next()
	}
}

// LicenseToken returns the token from an "Authorization: License <token>" header.
func LicenseToken(c *gin.Context) (string, bool) {
	return credential(c, LicenseScheme)
}

func credential(c *gin.Context, scheme string) (string, bool) {
	header := c.GetHeader("Authorization")
	prefix, value, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(prefix, scheme) {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

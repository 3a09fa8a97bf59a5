package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/giftvault/giftvault/internal/security"
	"github.com/giftvault/giftvault/internal/util"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// APIKeyHeader is the alternative to a bearer token for operator keys.
const APIKeyHeader = "X-API-Key"

// AdminKeyMiddleware guards operator routes with static API keys. A configured
// key may be plain text or a bcrypt hash. An empty key list rejects every request.
func AdminKeyMiddleware(keys []string) gin.HandlerFunc {
	var plain [][]byte
	var hashed []string
	for _, key := range keys {
		key = strings.TrimSpace(key)
		switch {
		case key == "":
		case security.IsHashedAPIKey(key):
			hashed = append(hashed, key)
		default:
			plain = append(plain, []byte(key))
		}
	}
	if len(plain)+len(hashed) == 0 {
		log.Warn("admin api keys not configured; operator routes are disabled")
	}
	return func(c *gin.Context) {
		presented := presentedKey(c.Request)
		if presented == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing API key"})
			return
		}
		if matchKey(plain, hashed, presented) {
			c.Set("apiKey", util.HideSecret(presented))
			c.Next()
			return
		}
		log.WithFields(log.Fields{"key": util.HideSecret(presented), "path": c.FullPath()}).Warn("rejected operator api key")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
	}
}

func matchKey(plain [][]byte, hashed []string, presented string) bool {
	for _, key := range plain {
		if subtle.ConstantTimeCompare(key, []byte(presented)) == 1 {
			return true
		}
	}
	for _, hash := range hashed {
		if security.CheckAPIKey(hash, presented) {
			return true
		}
	}
	return false
}

func presentedKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

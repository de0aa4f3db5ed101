package cors

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	allowHeaders = "Authorization, Content-Type, X-Requested-With, X-Request-ID"
	allowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	maxAge       = "600"
)

// New returns a CORS middleware for the billing API. An empty origin list
// allows every origin, which is the development default.
func New(allowedOrigins []string) gin.HandlerFunc {
	allowed := newOriginSet(allowedOrigins)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case origin != "" && allowed.contains(origin):
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		case origin == "" && allowed.empty():
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Vary", "Origin")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", allowHeaders)
		c.Writer.Header().Set("Access-Control-Allow-Methods", allowMethods)
		c.Writer.Header().Set("Access-Control-Max-Age", maxAge)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

type originSet map[string]struct{}

func newOriginSet(origins []string) originSet {
	set := make(originSet, len(origins))
	for _, origin := range origins {
		set[strings.TrimRight(origin, "/")] = struct{}{}
	}
	return set
}

func (s originSet) empty() bool {
	return len(s) == 0
}

func (s originSet) contains(origin string) bool {
	if s.empty() {
		return true
	}
	_, ok := s[strings.TrimRight(origin, "/")]
	return ok
}

package observability

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// PrometheusHandler mounts the exporter's scrape handler on a gin route.
// Without a handler the route answers 503 so scrapers see the outage.
func PrometheusHandler(handler http.Handler) gin.HandlerFunc {
	if handler == nil {
		return func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "metrics handler not initialized",
			})
		}
	}
	return gin.WrapH(handler)
}

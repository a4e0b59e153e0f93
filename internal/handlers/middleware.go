package handlers

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
)

// LoopbackOnly rejects callers that are not on the local machine. It looks
// at the socket address only, never at forwarding headers.
func LoopbackOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := net.ParseIP(c.RemoteIP())
		if ip == nil || !ip.IsLoopback() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Sessions can only be changed from this machine."})
			return
		}
		c.Next()
	}
}

package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LocalhostOnly middleware - only allow localhost or whitelisted IPs access
type LocalhostOnly struct {
	logger     *logrus.Logger
	allowedIPs []string // IPs or CIDR ranges
}

// NewLocalhostOnly creates the localhost access restriction middleware
func NewLocalhostOnly(logger *logrus.Logger, allowedIPs []string) *LocalhostOnly {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LocalhostOnly{logger: logger, allowedIPs: allowedIPs}
}

// Restrict rejects requests from outside localhost and the whitelist
func (l *LocalhostOnly) Restrict() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if !l.isAllowedIP(clientIP) {
			l.logger.WithFields(logrus.Fields{
				"client_ip":  clientIP,
				"path":       c.Request.URL.Path,
				"method":     c.Request.Method,
				"user_agent": c.GetHeader("User-Agent"),
			}).Warn("Reject non-whitelisted access to admin API")

			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"code":    "IP_NOT_ALLOWED",
				"message": "This API is only accessible from allowed IP addresses",
			})
			return
		}
		c.Next()
	}
}

func (l *LocalhostOnly) isAllowedIP(ip string) bool {
	if isLocalhost(ip) {
		return true
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, allowed := range l.allowedIPs {
		allowed = strings.TrimSpace(allowed)
		if strings.Contains(allowed, "/") {
			if _, network, err := net.ParseCIDR(allowed); err == nil && network.Contains(parsed) {
				return true
			}
			continue
		}
		if allowedIP := net.ParseIP(allowed); allowedIP != nil && allowedIP.Equal(parsed) {
			return true
		}
	}
	return false
}

// isLocalhost Check if IP is localhost
func isLocalhost(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}

package handlers

import (
	"net/http"
	"strconv"

	"credit-backend/internal/clients"

	"github.com/gin-gonic/gin"
)

// HealthCheck one dependency probe
type HealthCheck func() error

// HealthCheckHandler GET /health. Every probe must pass for a 200.
func HealthCheckHandler(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		c.JSON(status, gin.H{
			"status":  overall,
			"service": "credit-backend",
			"checks":  results,
		})
	}
}

// CacheStatsProvider exposes ABI cache counters of one chain gateway
type CacheStatsProvider interface {
	CacheStats() clients.ABICacheStats
}

// ABICacheStatsHandler GET /api/v1/chain/:chainId/abi-cache
func ABICacheStatsHandler(gateways map[uint64]CacheStatsProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		chainID, err := strconv.ParseUint(c.Param("chainId"), 10, 64)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, "VALIDATION_ERROR", "chainId must be a positive integer", nil)
			return
		}
		gateway, ok := gateways[chainID]
		if !ok {
			respondWithError(c, http.StatusNotFound, "NOT_FOUND", "chain is not configured", nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"chain_id": chainID,
			"data":     gateway.CacheStats(),
		})
	}
}

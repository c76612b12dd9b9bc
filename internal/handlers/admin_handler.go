package handlers

import (
	"context"
	"net/http"

	"credit-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ChainSyncer runs one backfill pass on demand
type ChainSyncer interface {
	SyncOnce(ctx context.Context) (*services.SyncResult, error)
}

// ManualSyncHandler POST /admin/chain/sync
func ManualSyncHandler(syncer ChainSyncer, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if syncer == nil {
			respondWithError(c, http.StatusServiceUnavailable, "SYNC_DISABLED", "chain sync is not running", nil)
			return
		}
		result, err := syncer.SyncOnce(c.Request.Context())
		if err != nil {
			logger.WithError(err).Error("manual chain sync failed")
			respondWithError(c, http.StatusBadGateway, "SYNC_FAILED", err.Error(), result)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    result,
		})
	}
}

package httpapi

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter builds the gin engine with the API routes. The webhook endpoint
// stays outside /v1: its contract belongs to the provider, not to API
// consumers.
func NewRouter(h Handlers, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(log))

	r.POST("/webhooks/provider", h.ProviderWebhook)

	v1 := r.Group("/v1")
	{
		batches := v1.Group("/batch-calls")
		batches.POST("/:campaignId/start", h.StartBatch)
		batches.GET("/:campaignId/status/:batchCallId", h.BatchStatus)
		batches.POST("/:campaignId/stop/:batchCallId", h.StopBatch)
		batches.POST("/:campaignId/resync/:batchCallId", h.ResyncBatch)
	}

	return r
}

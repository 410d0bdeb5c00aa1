package formskit

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MountAuthRoutes registers /auth/google, /auth/google/callback, and the
// liveness probe.
func MountAuthRoutes(router gin.IRouter, broker *CredentialBroker, metrics MetricsRecorder, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}

	router.GET("/", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"status": "Forms MCP running"})
	})

	router.GET("/auth/google", func(contextGin *gin.Context) {
		userID := ResolveUserID(contextGin.Query("user_id"))
		metrics.Increment("auth.begin")
		contextGin.Redirect(http.StatusFound, broker.AuthorizationURL(userID))
	})

	router.GET("/auth/google/callback", func(contextGin *gin.Context) {
		// Google probes the callback without a code; answer neutrally and
		// touch nothing.
		code := contextGin.Query("code")
		if code == "" {
			metrics.Increment("auth.callback.waiting")
			contextGin.JSON(http.StatusOK, gin.H{"status": "waiting for google authorization"})
			return
		}

		userID := ResolveUserID(contextGin.Query("state"))

		record, exchangeErr := broker.Exchange(contextGin.Request.Context(), code)
		if exchangeErr != nil {
			metrics.Increment("auth.callback.exchange_failed")
			logger.Warn("authorization code exchange failed",
				zap.String("code", "auth.callback.exchange_failed"),
				zap.String("user", userID),
				zap.Error(exchangeErr))
			contextGin.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "token_exchange_failed"})
			return
		}

		if _, storeErr := broker.StoreAuthorization(contextGin.Request.Context(), userID, record); storeErr != nil {
			metrics.Increment("auth.callback.store_failed")
			logger.Error("credential save failed",
				zap.String("code", "auth.callback.store_failed"),
				zap.String("user", userID),
				zap.Error(storeErr))
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "credential_store_unavailable"})
			return
		}

		metrics.Increment("auth.callback.connected")
		logger.Info("forms connected",
			zap.String("code", "auth.callback.connected"),
			zap.String("user", userID))
		contextGin.JSON(http.StatusOK, gin.H{"status": "forms connected successfully", "user": userID})
	})
}

package http

import (
	"github.com/gin-gonic/gin"
	"github.com/richardliu001/payment-core/internal/config"
	"github.com/richardliu001/payment-core/internal/service"
	"go.uber.org/zap"
)

func NewRouter(svc *service.PaymentService, rec *service.Reconciler, rl config.RateLimitConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(rl.RPS, rl.Burst, "/v1/webhooks/psp"))
	RegisterHandlers(r, svc, rec)
	return r
}

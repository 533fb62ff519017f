package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/payment-core/internal/provider"
	"github.com/richardliu001/payment-core/internal/repo"
	"github.com/richardliu001/payment-core/internal/service"
	"github.com/richardliu001/payment-core/internal/webhook"
	"github.com/shopspring/decimal"
)

func RegisterHandlers(r *gin.Engine, svc *service.PaymentService, rec *service.Reconciler) {
	v1 := r.Group("/v1")
	{
		v1.POST("/payments", initiateHandler(svc))
		v1.GET("/payments/:id", getPaymentHandler(svc))
		v1.GET("/payments/:id/status", getStatusHandler(svc))
		v1.POST("/webhooks/psp", webhookHandler(rec))
	}
}

type initiateReq struct {
	OrderRef string `json:"order_ref" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
	Currency string `json:"currency" binding:"required"`
}

func initiateHandler(svc *service.PaymentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req initiateReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		id, err := svc.InitiatePayment(c, req.OrderRef, amt, req.Currency)
		switch {
		case err == nil:
			c.JSON(http.StatusCreated, gin.H{"payment_id": id, "status": "authorized"})
		case errors.Is(err, service.ErrDuplicatePayment):
			c.JSON(http.StatusOK, gin.H{"payment_id": id, "duplicate": true})
		case errors.Is(err, service.ErrInvalidAmount),
			errors.Is(err, service.ErrInvalidOrderRef),
			errors.Is(err, service.ErrUnsupportedCurrency):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, provider.ErrProviderUnavailable):
			// payment is pending: poll or wait for the webhook
			c.JSON(http.StatusAccepted, gin.H{"payment_id": id, "status": "pending"})
		case errors.Is(err, provider.ErrIntentRejected), errors.Is(err, provider.ErrProviderError):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"payment_id": id, "error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	}
}

func getPaymentHandler(svc *service.PaymentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := svc.GetPayment(c, c.Param("id"))
		if err != nil {
			if errors.Is(err, service.ErrPaymentNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

func getStatusHandler(svc *service.PaymentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := svc.GetStatus(c, c.Param("id"))
		if err != nil {
			if errors.Is(err, service.ErrPaymentNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": status})
	}
}

func webhookHandler(rec *service.Reconciler) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "read body"})
			return
		}
		sig := c.GetHeader("X-Psp-Signature")
		err = rec.HandleCallback(c, payload, sig)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"received": true})
		case errors.Is(err, webhook.ErrSignatureInvalid):
			// non-2xx so the provider retries through its own backoff
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		case errors.Is(err, webhook.ErrMalformedEvent):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrPaymentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, repo.ErrStatusConflict):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	}
}

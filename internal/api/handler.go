package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"carvo/internal/apperr"
	"carvo/internal/models"
	"carvo/internal/service"
	"carvo/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessCheck reports whether a dependency is reachable
type ReadinessCheck func(ctx context.Context) error

// Services are the business services behind the HTTP surface
type Services struct {
	Orders      *service.OrderService
	Payments    *service.PaymentService
	Settlements *service.SettlementService
	Invoices    *service.InvoiceService
	Ledger      *service.LedgerService
}

// Handler contains HTTP handlers
type Handler struct {
	orders      *service.OrderService
	payments    *service.PaymentService
	settlements *service.SettlementService
	invoices    *service.InvoiceService
	ledger      *service.LedgerService
	auth        AuthConfig
	checks      map[string]ReadinessCheck
}

// NewHandler creates a new HTTP handler. checks may be nil.
func NewHandler(svc Services, auth AuthConfig, checks map[string]ReadinessCheck) *Handler {
	return &Handler{
		orders:      svc.Orders,
		payments:    svc.Payments,
		settlements: svc.Settlements,
		invoices:    svc.Invoices,
		ledger:      svc.Ledger,
		auth:        auth,
		checks:      checks,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	registerValidators()

	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.POST("/payments/webhook", h.paymentWebhook)

	authed := v1.Group("", AuthMiddleware(h.auth))
	{
		authed.POST("/orders", RequireRole(models.RoleCustomer), h.createOrder)
		authed.GET("/orders/:id", h.getOrder)
		authed.POST("/orders/:id/cancel", h.cancelOrder)
		authed.PUT("/orders/:id/status",
			RequireRole(models.RoleSeller, models.RoleDeliveryAgent, models.RoleAdmin), h.updateOrderStatus)

		authed.POST("/payments/create", RequireRole(models.RoleCustomer), h.createPayment)
		authed.POST("/payments/confirm", RequireRole(models.RoleCustomer), h.confirmPayment)

		authed.POST("/invoices/:orderId/generate", h.generateInvoice)
		authed.GET("/invoices/:orderId", h.getInvoice)

		authed.GET("/transactions/me", h.myTransactions)
		authed.POST("/transactions/withdraw",
			RequireRole(models.RoleServiceProvider, models.RoleSeller), h.withdraw)
	}

	admin := authed.Group("/admin", RequireRole(models.RoleAdmin))
	{
		admin.PUT("/orders/:id/assign", h.assignDelivery)
		admin.POST("/payments/:id/verify", h.verifyPayment)
		admin.PUT("/quotations/:id/status", h.updateQuotationStatus)
		admin.PUT("/bookings/:id/status", h.updateBookingStatus)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck runs every registered dependency check
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"checks": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// pathID parses a positive integer path parameter, writing a 400 on failure
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, apperr.Validation("invalid %s", name))
		return 0, false
	}
	return id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"charterpay/internal/infra/config"
	"charterpay/internal/infra/obs"
)

type PaymentHTTP interface {
	Initiate(c *gin.Context)
	Get(c *gin.Context)
	GetByBooking(c *gin.Context)
	AdjustPrice(c *gin.Context)
	Capture(c *gin.Context)
	Cancel(c *gin.Context)
	Poll(c *gin.Context)
}

type WebhookHTTP interface {
	AsyncOrderCallback(c *gin.Context)
}

type Handlers struct {
	Payment  PaymentHTTP
	Webhook  WebhookHTTP
	Operator gin.HandlerFunc
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "Idempotency-Key"},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}))

	registerSwaggerRoutes(router)

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)

	if h.Webhook != nil {
		// Callbacks authenticate by signature, not by bearer token.
		router.POST("/webhooks/asyncorder", h.Webhook.AsyncOrderCallback)
	}

	api := router.Group("/api/v1")
	if h.Payment != nil {
		api.POST("/payments", h.Payment.Initiate)
		api.GET("/payments/:id", h.Payment.Get)
		api.GET("/bookings/:id/payment", h.Payment.GetByBooking)
		// Customers may walk away from their own payment, so cancel stays
		// outside the operator group.
		api.POST("/payments/:id/cancel", h.Payment.Cancel)

		privileged := api.Group("")
		if h.Operator != nil {
			privileged.Use(h.Operator)
		}
		privileged.POST("/payments/:id/adjust-price", h.Payment.AdjustPrice)
		privileged.POST("/payments/:id/capture", h.Payment.Capture)
		privileged.POST("/payments/:id/poll", h.Payment.Poll)
	}

	return &http.Server{Addr: cfg.HTTPAddr, Handler: router}
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}

package ginserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gin "github.com/gin-gonic/gin"

	"charterpay/internal/infra/config"
	"charterpay/internal/infra/obs"
)

type stubPaymentHTTP struct{}

func (stubPaymentHTTP) Initiate(c *gin.Context)     { c.Status(http.StatusOK) }
func (stubPaymentHTTP) Get(c *gin.Context)          { c.Status(http.StatusOK) }
func (stubPaymentHTTP) GetByBooking(c *gin.Context) { c.Status(http.StatusOK) }
func (stubPaymentHTTP) AdjustPrice(c *gin.Context)  { c.Status(http.StatusOK) }
func (stubPaymentHTTP) Capture(c *gin.Context)      { c.Status(http.StatusOK) }
func (stubPaymentHTTP) Cancel(c *gin.Context)       { c.Status(http.StatusOK) }
func (stubPaymentHTTP) Poll(c *gin.Context)         { c.Status(http.StatusOK) }

// Only price adjustment, capture and poll require an operator token.
// Initiating, reading and cancelling a payment are customer actions.
func TestNewServer_OperatorScope(t *testing.T) {
	deny := func(c *gin.Context) { c.AbortWithStatus(http.StatusUnauthorized) }
	srv := NewServer(config.Config{Env: "test", HTTPAddr: ":0"}, obs.Middleware{}, obs.HealthHandlers{}, Handlers{
		Payment:  stubPaymentHTTP{},
		Operator: deny,
	})

	cases := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodPost, "/api/v1/payments", http.StatusOK},
		{http.MethodGet, "/api/v1/payments/p1", http.StatusOK},
		{http.MethodGet, "/api/v1/bookings/b1/payment", http.StatusOK},
		{http.MethodPost, "/api/v1/payments/p1/cancel", http.StatusOK},
		{http.MethodPost, "/api/v1/payments/p1/adjust-price", http.StatusUnauthorized},
		{http.MethodPost, "/api/v1/payments/p1/capture", http.StatusUnauthorized},
		{http.MethodPost, "/api/v1/payments/p1/poll", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		name := tc.method + " " + strings.TrimPrefix(tc.path, "/api/v1")
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

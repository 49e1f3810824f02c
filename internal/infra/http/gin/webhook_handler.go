package ginserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"charterpay/internal/app/reconcile"
)

// WebhookHandler receives settlement callbacks from the async order gateway.
// It always acknowledges with 200 so the gateway does not hammer us with
// redeliveries; any processing problem is logged and, for transient failures,
// resolved later by redelivery or an operator poll.
type WebhookHandler struct {
	Reconciler *reconcile.Reconciler
	Logger     *slog.Logger
}

const maxCallbackBody = 64 << 10

func (h WebhookHandler) AsyncOrderCallback(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		h.log(slog.LevelWarn, "callback body read failed", "error", err)
		c.Status(http.StatusOK)
		return
	}
	signature := c.GetHeader("X-Signature")

	applied, err := h.Reconciler.Ingest(c.Request.Context(), body, signature)
	switch {
	case errors.Is(err, reconcile.ErrBadSignature):
		h.log(slog.LevelWarn, "callback signature rejected", "request_id", c.GetString("request_id"))
	case errors.Is(err, reconcile.ErrMalformedPayload):
		h.log(slog.LevelWarn, "callback payload malformed", "error", err)
	case err != nil:
		h.log(slog.LevelError, "callback processing failed", "error", err)
	default:
		h.log(slog.LevelDebug, "callback processed", "applied", applied)
	}
	c.Status(http.StatusOK)
}

func (h WebhookHandler) log(level slog.Level, msg string, args ...any) {
	if h.Logger == nil {
		return
	}
	h.Logger.Log(context.Background(), level, msg, args...)
}

var _ WebhookHTTP = WebhookHandler{}

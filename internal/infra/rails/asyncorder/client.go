package asyncorder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"charterpay/internal/app/policies"
)

// Client talks to the asynchronous order gateway. Orders settle out-of-band:
// this client only opens them and reads their current status back.
type Client struct {
	HTTP    *http.Client
	BaseURL string
	APIKey  string
	Logger  *slog.Logger
}

type createOrderRequest struct {
	PriceAmount     string `json:"price_amount"`
	PriceCurrency   string `json:"price_currency"`
	ReceiveCurrency string `json:"receive_currency"`
	OrderID         string `json:"order_id"`
	CallbackURL     string `json:"callback_url"`
	SuccessURL      string `json:"success_url,omitempty"`
	CancelURL       string `json:"cancel_url,omitempty"`
}

type orderResponse struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	PaymentURL      string `json:"payment_url,omitempty"`
	ExpiresAt       string `json:"expires_at,omitempty"`
	ReceiveAmount   string `json:"receive_amount,omitempty"`
	ReceiveCurrency string `json:"receive_currency,omitempty"`
}

func (c *Client) CreateOrder(ctx context.Context, req policies.CreateOrderRequest) (policies.OrderOpened, error) {
	payload := createOrderRequest{
		PriceAmount:     formatMinorUnits(req.Amount.Amount),
		PriceCurrency:   req.Amount.Currency,
		ReceiveCurrency: req.ReceiveCurrency,
		OrderID:         req.Reference,
		CallbackURL:     req.CallbackURL,
		SuccessURL:      req.SuccessURL,
		CancelURL:       req.CancelURL,
	}
	var resp orderResponse
	if err := c.call(ctx, http.MethodPost, "/orders", payload, &resp); err != nil {
		return policies.OrderOpened{}, err
	}
	if resp.ID == "" {
		return policies.OrderOpened{}, fmt.Errorf("%w: empty order id", policies.ErrRailUnavailable)
	}
	opened := policies.OrderOpened{OrderID: resp.ID, PaymentURL: resp.PaymentURL}
	if resp.ExpiresAt != "" {
		if t, err := time.Parse(time.RFC3339, resp.ExpiresAt); err == nil {
			opened.ExpiresAt = t
		}
	}
	return opened, nil
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (policies.OrderSnapshot, error) {
	var resp orderResponse
	if err := c.call(ctx, http.MethodGet, "/orders/"+orderID, nil, &resp); err != nil {
		return policies.OrderSnapshot{}, err
	}
	return policies.OrderSnapshot{
		OrderID:         resp.ID,
		Status:          resp.Status,
		SettledAmount:   resp.ReceiveAmount,
		SettledCurrency: resp.ReceiveCurrency,
	}, nil
}

func (c *Client) call(ctx context.Context, method, path string, payload any, out any) error {
	if c == nil || c.HTTP == nil {
		return errors.New("asyncorder: http client not configured")
	}
	if c.BaseURL == "" {
		return errors.New("asyncorder: base url not configured")
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	request, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+path, body)
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		request.Header.Set("X-API-Key", c.APIKey)
	}

	resp, err := c.HTTP.Do(request)
	if err != nil {
		c.logError("order gateway request failed", method, path, err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %v", policies.ErrRailUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("%w: status %d: %s", policies.ErrRailUnavailable, resp.StatusCode, string(snippet))
		c.logError("order gateway unavailable", method, path, err)
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := &policies.RejectedError{Code: fmt.Sprintf("http_%d", resp.StatusCode), Message: string(snippet)}
		c.logError("order gateway rejected", method, path, err)
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.logError("order gateway decode failed", method, path, err)
		return fmt.Errorf("%w: %v", policies.ErrRailUnavailable, err)
	}
	return nil
}

// formatMinorUnits renders minor units as a decimal string with two places,
// which is what the gateway expects for fiat price amounts.
func formatMinorUnits(amount int64) string {
	major := amount / 100
	minor := amount % 100
	if minor < 0 {
		minor = -minor
	}
	return strconv.FormatInt(major, 10) + "." + fmt.Sprintf("%02d", minor)
}

func (c *Client) logError(msg, method, path string, err error) {
	if c.Logger == nil {
		return
	}
	c.Logger.Error(msg, "method", method, "path", path, "error", err)
}

var _ policies.AsyncOrderRail = (*Client)(nil)

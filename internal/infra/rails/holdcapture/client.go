package holdcapture

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"charterpay/internal/app/policies"
	"charterpay/internal/domain/shared/money"
)

// Client talks to the hold-and-capture processor over HTTP. 5xx responses and
// transport failures map to the transient class, 4xx responses to the
// terminal one.
type Client struct {
	HTTP    *http.Client
	BaseURL string
	APIKey  string
	Logger  *slog.Logger
}

type createHoldRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type holdResponse struct {
	HoldID      string `json:"hold_id"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

type updateHoldRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (c *Client) CreateHold(ctx context.Context, amount money.Money, metadata map[string]string) (policies.HoldOpened, error) {
	var resp holdResponse
	err := c.call(ctx, http.MethodPost, "/holds", "", createHoldRequest{
		Amount:   amount.Amount,
		Currency: amount.Currency,
		Metadata: metadata,
	}, &resp)
	if err != nil {
		return policies.HoldOpened{}, err
	}
	if resp.HoldID == "" {
		return policies.HoldOpened{}, fmt.Errorf("%w: empty hold id", policies.ErrRailUnavailable)
	}
	return policies.HoldOpened{ExternalID: resp.HoldID, CustomerHandoff: resp.RedirectURL}, nil
}

func (c *Client) UpdateHoldAmount(ctx context.Context, externalID string, amount money.Money) error {
	return c.call(ctx, http.MethodPatch, "/holds/"+externalID, "", updateHoldRequest{
		Amount:   amount.Amount,
		Currency: amount.Currency,
	}, nil)
}

func (c *Client) CaptureHold(ctx context.Context, externalID, idempotencyKey string) error {
	return c.call(ctx, http.MethodPost, "/holds/"+externalID+"/capture", idempotencyKey, nil, nil)
}

func (c *Client) VoidHold(ctx context.Context, externalID, idempotencyKey string) error {
	return c.call(ctx, http.MethodPost, "/holds/"+externalID+"/void", idempotencyKey, nil, nil)
}

func (c *Client) Refund(ctx context.Context, externalID, idempotencyKey string) error {
	return c.call(ctx, http.MethodPost, "/holds/"+externalID+"/refund", idempotencyKey, nil, nil)
}

func (c *Client) call(ctx context.Context, method, path, idempotencyKey string, payload any, out any) error {
	if c == nil || c.HTTP == nil {
		return errors.New("holdcapture: http client not configured")
	}
	if c.BaseURL == "" {
		return errors.New("holdcapture: base url not configured")
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
		request.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if idempotencyKey != "" {
		request.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.HTTP.Do(request)
	if err != nil {
		c.logError("hold rail request failed", method, path, err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %v", policies.ErrRailUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("%w: status %d: %s", policies.ErrRailUnavailable, resp.StatusCode, string(snippet))
		c.logError("hold rail unavailable", method, path, err)
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := &policies.RejectedError{Code: fmt.Sprintf("http_%d", resp.StatusCode), Message: string(snippet)}
		c.logError("hold rail rejected", method, path, err)
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.logError("hold rail decode failed", method, path, err)
		return fmt.Errorf("%w: %v", policies.ErrRailUnavailable, err)
	}
	return nil
}

func (c *Client) logError(msg, method, path string, err error) {
	if c.Logger == nil {
		return
	}
	c.Logger.Error(msg, "method", method, "path", path, "error", err)
}

var _ policies.HoldRail = (*Client)(nil)

package asyncorder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"charterpay/internal/app/policies"
	"charterpay/internal/domain/shared/money"
)

func newTestClient(srv *httptest.Server) *Client {
	return &Client{HTTP: srv.Client(), BaseURL: srv.URL, APIKey: "gw-key"}
}

func TestClient_CreateOrder(t *testing.T) {
	t.Run("opens an order with decimal fiat amounts", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/orders" {
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			}
			if key := r.Header.Get("X-API-Key"); key != "gw-key" {
				t.Errorf("api key header = %q", key)
			}
			var req createOrderRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode request: %v", err)
			}
			if req.PriceAmount != "2500.00" || req.PriceCurrency != "EUR" {
				t.Errorf("price = %s %s", req.PriceAmount, req.PriceCurrency)
			}
			if req.ReceiveCurrency != "BTC" || req.OrderID != "CHT-2026-0001" {
				t.Errorf("request = %+v", req)
			}
			if req.CallbackURL == "" {
				t.Error("callback url missing")
			}
			_ = json.NewEncoder(w).Encode(orderResponse{
				ID:         "order_5",
				Status:     "pending",
				PaymentURL: "https://gateway.example/pay/5",
				ExpiresAt:  "2026-03-14T11:00:00Z",
			})
		}))
		defer srv.Close()

		opened, err := newTestClient(srv).CreateOrder(context.Background(), policies.CreateOrderRequest{
			Amount:          money.Must(250000, "EUR"),
			ReceiveCurrency: "BTC",
			Reference:       "CHT-2026-0001",
			CallbackURL:     "https://charterpay.example/webhooks/asyncorder",
		})
		if err != nil {
			t.Fatalf("CreateOrder: %v", err)
		}
		if opened.OrderID != "order_5" || opened.PaymentURL != "https://gateway.example/pay/5" {
			t.Errorf("opened = %+v", opened)
		}
		want := time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC)
		if !opened.ExpiresAt.Equal(want) {
			t.Errorf("expires at = %s, want %s", opened.ExpiresAt, want)
		}
	})

	t.Run("empty order id is treated as transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(orderResponse{Status: "pending"})
		}))
		defer srv.Close()

		_, err := newTestClient(srv).CreateOrder(context.Background(), policies.CreateOrderRequest{Amount: money.Must(100, "EUR")})
		if !errors.Is(err, policies.ErrRailUnavailable) {
			t.Errorf("err = %v, want ErrRailUnavailable", err)
		}
	})

	t.Run("4xx maps to the terminal class", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"unsupported currency"}`, http.StatusUnprocessableEntity)
		}))
		defer srv.Close()

		_, err := newTestClient(srv).CreateOrder(context.Background(), policies.CreateOrderRequest{Amount: money.Must(100, "EUR")})
		var rejected *policies.RejectedError
		if !errors.As(err, &rejected) {
			t.Fatalf("err = %v, want RejectedError", err)
		}
		if rejected.Code != "http_422" {
			t.Errorf("code = %s, want http_422", rejected.Code)
		}
	})

	t.Run("5xx maps to the transient class", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := newTestClient(srv).CreateOrder(context.Background(), policies.CreateOrderRequest{Amount: money.Must(100, "EUR")})
		if !policies.IsTransient(err) {
			t.Errorf("err = %v, want transient", err)
		}
	})
}

func TestClient_GetOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/orders/order_5" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(orderResponse{
			ID: "order_5", Status: "paid", ReceiveAmount: "0.0831", ReceiveCurrency: "BTC",
		})
	}))
	defer srv.Close()

	snap, err := newTestClient(srv).GetOrder(context.Background(), "order_5")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if snap.OrderID != "order_5" || snap.Status != "paid" {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.SettledAmount != "0.0831" || snap.SettledCurrency != "BTC" {
		t.Errorf("settled = %s %s", snap.SettledAmount, snap.SettledCurrency)
	}
}

func TestFormatMinorUnits(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{250000, "2500.00"},
		{100, "1.00"},
		{1, "0.01"},
		{99, "0.99"},
		{101, "1.01"},
	}
	for _, tc := range cases {
		if got := formatMinorUnits(tc.in); got != tc.want {
			t.Errorf("formatMinorUnits(%d) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

package paystack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:     srv.URL,
		SecretKey:   "sk_test_secret",
		Currency:    "NGN",
		CallbackURL: "https://shop.example.com/checkout/callback",
	}, srv.Client())
}

func TestClient_Initialize(t *testing.T) {
	t.Run("sends minor units and returns checkout url", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/transaction/initialize" {
				t.Errorf("expected /transaction/initialize, got %s", r.URL.Path)
			}
			if r.Method != http.MethodPost {
				t.Errorf("expected POST, got %s", r.Method)
			}
			if got := r.Header.Get("Authorization"); got != "Bearer sk_test_secret" {
				t.Errorf("unexpected authorization header %q", got)
			}

			var body initializeBody
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Amount != 15000000 {
				t.Errorf("expected amount 15000000, got %d", body.Amount)
			}
			if body.Currency != "NGN" || body.Reference != "ord_1" {
				t.Errorf("unexpected body %+v", body)
			}
			if body.CallbackURL != "https://shop.example.com/checkout/callback" {
				t.Errorf("unexpected callback url %q", body.CallbackURL)
			}
			if body.Metadata["order_id"] != "order-1" {
				t.Errorf("expected order_id metadata, got %v", body.Metadata)
			}

			_, _ = w.Write([]byte(`{"status":true,"message":"Authorization URL created","data":{
				"authorization_url":"https://checkout.paystack.com/0peioxfhpn","access_code":"0peioxfhpn","reference":"ord_1"}}`))
		})

		result, err := client.Initialize(context.Background(), InitializeRequest{
			Email:     "ada@example.com",
			Amount:    decimal.RequireFromString("150000.00"),
			Reference: "ord_1",
			OrderID:   "order-1",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.AuthorizationURL != "https://checkout.paystack.com/0peioxfhpn" {
			t.Errorf("unexpected authorization url %q", result.AuthorizationURL)
		}
		if result.Reference != "ord_1" {
			t.Errorf("unexpected reference %q", result.Reference)
		}
	})

	t.Run("rejects sub-kobo amounts before calling out", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("gateway should not be called")
		})

		_, err := client.Initialize(context.Background(), InitializeRequest{
			Email:  "ada@example.com",
			Amount: decimal.RequireFromString("10.005"),
		})
		if !errors.Is(err, ErrGateway) {
			t.Errorf("expected gateway error, got %v", err)
		}
	})

	t.Run("maps status false to error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":false,"message":"Invalid key"}`))
		})

		_, err := client.Initialize(context.Background(), InitializeRequest{
			Email:  "ada@example.com",
			Amount: decimal.NewFromInt(100),
		})

		var gwErr *Error
		if !errors.As(err, &gwErr) {
			t.Fatalf("expected *Error, got %v", err)
		}
		if gwErr.Message != "Invalid key" {
			t.Errorf("unexpected message %q", gwErr.Message)
		}
	})
}

func TestClient_Verify(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus VerifyStatus
		wantAmount int64
		wantErr    bool
	}{
		{
			name:       "success",
			status:     http.StatusOK,
			body:       `{"status":true,"data":{"status":"success","reference":"ref_1","amount":500000,"currency":"NGN","paid_at":"2024-05-01T12:00:00.000Z"}}`,
			wantStatus: VerifySuccess,
			wantAmount: 500000,
		},
		{
			name:       "failed",
			status:     http.StatusOK,
			body:       `{"status":true,"data":{"status":"failed","reference":"ref_1","amount":500000}}`,
			wantStatus: VerifyFailed,
			wantAmount: 500000,
		},
		{
			name:       "reversed counts as failed",
			status:     http.StatusOK,
			body:       `{"status":true,"data":{"status":"reversed","reference":"ref_1","amount":500000}}`,
			wantStatus: VerifyFailed,
			wantAmount: 500000,
		},
		{
			name:       "abandoned is still pending",
			status:     http.StatusOK,
			body:       `{"status":true,"data":{"status":"abandoned","reference":"ref_1","amount":500000,"paid_at":null}}`,
			wantStatus: VerifyPending,
			wantAmount: 500000,
		},
		{
			name:    "unknown status",
			status:  http.StatusOK,
			body:    `{"status":true,"data":{"status":"mystery","reference":"ref_1"}}`,
			wantErr: true,
		},
		{
			name:    "success without amount",
			status:  http.StatusOK,
			body:    `{"status":true,"data":{"status":"success","reference":"ref_1"}}`,
			wantErr: true,
		},
		{
			name:    "missing data",
			status:  http.StatusOK,
			body:    `{"status":true,"message":"ok"}`,
			wantErr: true,
		},
		{
			name:    "not found",
			status:  http.StatusNotFound,
			body:    `{"status":false,"message":"Transaction reference not found"}`,
			wantErr: true,
		},
		{
			name:    "upstream outage",
			status:  http.StatusBadGateway,
			body:    `<html>bad gateway</html>`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/transaction/verify/ref_1" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			result, err := client.Verify(context.Background(), "ref_1")
			if tt.wantErr {
				if !errors.Is(err, ErrGateway) {
					t.Errorf("expected gateway error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Status != tt.wantStatus {
				t.Errorf("expected status %s, got %s", tt.wantStatus, result.Status)
			}
			if result.AmountMinor != tt.wantAmount {
				t.Errorf("expected amount %d, got %d", tt.wantAmount, result.AmountMinor)
			}
		})
	}
}

func TestClient_VerifyTransportError(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://localhost:99999", SecretKey: "sk"}, &http.Client{})

	_, err := client.Verify(context.Background(), "ref_1")
	if !errors.Is(err, ErrGateway) {
		t.Errorf("expected gateway error, got %v", err)
	}
}

func TestClient_VerifySignature(t *testing.T) {
	client := NewClient(Config{SecretKey: "sk_test_secret"}, nil)
	body := []byte(`{"event":"charge.success","data":{"reference":"ref_1","amount":500000}}`)

	if err := client.VerifySignature(body, Sign("sk_test_secret", body)); err != nil {
		t.Errorf("expected valid signature, got %v", err)
	}

	cases := map[string]string{
		"empty":        "",
		"not hex":      "zz",
		"wrong secret": Sign("sk_other", body),
		"tampered":     Sign("sk_test_secret", append(body, ' ')),
	}
	for name, sig := range cases {
		if err := client.VerifySignature(body, sig); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("%s: expected ErrInvalidSignature, got %v", name, err)
		}
	}
}

package paystack

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultBaseURL  = "https://api.paystack.co"
	SignatureHeader = "X-Paystack-Signature"

	maxResponseBytes = 1 << 20
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

type Config struct {
	BaseURL   string
	SecretKey string
	// WebhookSecret signs webhook payloads. Paystack uses the secret key, so
	// an empty value falls back to SecretKey.
	WebhookSecret string
	Currency      string
	CallbackURL   string
	Timeout       time.Duration
}

type VerifyStatus string

const (
	VerifySuccess VerifyStatus = "success"
	VerifyFailed  VerifyStatus = "failed"
	VerifyPending VerifyStatus = "pending"
)

type InitializeRequest struct {
	Email     string
	Amount    decimal.Decimal
	Reference string
	OrderID   string
	Metadata  map[string]any
}

type InitializeResult struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

type VerifyResult struct {
	Status          VerifyStatus
	AmountMinor     int64
	Reference       string
	Currency        string
	GatewayResponse string
	PaidAt          string
}

type Client struct {
	cfg    Config
	client *http.Client
}

func NewClient(cfg Config, client *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.WebhookSecret == "" {
		cfg.WebhookSecret = cfg.SecretKey
	}
	if client == nil {
		client = &http.Client{}
	}
	if client.Timeout == 0 && cfg.Timeout > 0 {
		c := *client
		c.Timeout = cfg.Timeout
		client = &c
	}
	return &Client{cfg: cfg, client: client}
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type customField struct {
	DisplayName  string `json:"display_name"`
	VariableName string `json:"variable_name"`
	Value        string `json:"value"`
}

type initializeBody struct {
	Email       string         `json:"email"`
	Amount      int64          `json:"amount"`
	Currency    string         `json:"currency,omitempty"`
	Reference   string         `json:"reference,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	const op = "initialize"

	amount, err := ToMinorUnits(req.Amount)
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}

	metadata := make(map[string]any, len(req.Metadata)+2)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.OrderID != "" {
		metadata["order_id"] = req.OrderID
		metadata["custom_fields"] = []customField{
			{DisplayName: "Order ID", VariableName: "order_id", Value: req.OrderID},
		}
	}

	body := initializeBody{
		Email:       req.Email,
		Amount:      amount,
		Currency:    c.cfg.Currency,
		Reference:   req.Reference,
		CallbackURL: c.cfg.CallbackURL,
		Metadata:    metadata,
	}

	var data initializeData
	if err := c.do(ctx, op, http.MethodPost, "/transaction/initialize", body, &data); err != nil {
		return nil, err
	}

	if data.AuthorizationURL == "" || data.Reference == "" {
		return nil, &Error{Op: op, Message: "response missing authorization_url or reference"}
	}

	return &InitializeResult{
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Reference:        data.Reference,
	}, nil
}

type verifyData struct {
	Status          string `json:"status"`
	Reference       string `json:"reference"`
	Amount          *int64 `json:"amount"`
	Currency        string `json:"currency"`
	GatewayResponse string `json:"gateway_response"`
	PaidAt          string `json:"paid_at"`
}

func (c *Client) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	const op = "verify"

	if reference == "" {
		return nil, &Error{Op: op, Message: "empty reference"}
	}

	var data verifyData
	if err := c.do(ctx, op, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &data); err != nil {
		return nil, err
	}

	status, ok := mapTransactionStatus(data.Status)
	if !ok {
		return nil, &Error{Op: op, Message: fmt.Sprintf("unknown transaction status %q", data.Status)}
	}
	if data.Reference == "" {
		return nil, &Error{Op: op, Message: "response missing reference"}
	}
	if status == VerifySuccess && data.Amount == nil {
		return nil, &Error{Op: op, Message: "successful transaction without amount"}
	}

	result := &VerifyResult{
		Status:          status,
		Reference:       data.Reference,
		Currency:        data.Currency,
		GatewayResponse: data.GatewayResponse,
		PaidAt:          data.PaidAt,
	}
	if data.Amount != nil {
		result.AmountMinor = *data.Amount
	}

	return result, nil
}

func mapTransactionStatus(s string) (VerifyStatus, bool) {
	switch s {
	case "success":
		return VerifySuccess, true
	case "failed", "reversed":
		return VerifyFailed, true
	case "abandoned", "ongoing", "pending", "processing", "queued":
		return VerifyPending, true
	}
	return "", false
}

// VerifySignature checks the webhook signature header against an HMAC-SHA512
// of the raw request body.
func (c *Client) VerifySignature(body []byte, signature string) error {
	if c.cfg.WebhookSecret == "" || signature == "" {
		return ErrInvalidSignature
	}

	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha512.New, []byte(c.cfg.WebhookSecret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}

	return nil
}

// Sign returns the signature header value for body. Used by tests and local
// tooling that replays webhooks.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &Error{Op: op, Err: fmt.Errorf("marshal request: %w", err)}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: env.Message}
	}
	if decodeErr != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", decodeErr)}
	}
	if !env.Status {
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: env.Message}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: "response missing data"}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode data: %w", err)}
	}

	return nil
}

// Package phonepe is a small client for the PhonePe standard checkout API:
// initiating a pay-page transaction, querying its status and verifying the
// server-to-server callback.
//
// Every request and callback is authenticated with a salted checksum:
//
//	X-VERIFY = hex(sha256(payload + path + saltKey)) + "###" + saltIndex
package phonepe

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Response codes that matter to reconciliation. Anything else is a failure.
const (
	CodeSuccess = "PAYMENT_SUCCESS"
	CodePending = "PAYMENT_PENDING"
)

// DefaultBaseURL is the sandbox host.
const DefaultBaseURL = "https://api-preprod.phonepe.com/apis/pg-sandbox"

const payPath = "/pg/v1/pay"

// MaxTransactionIDLength is the longest merchant transaction id accepted.
const MaxTransactionIDLength = 35

var (
	// ErrInvalidChecksum means the X-VERIFY value did not match the payload.
	ErrInvalidChecksum = errors.New("phonepe checksum mismatch")
	// ErrMalformedCallback means the callback envelope could not be decoded.
	ErrMalformedCallback = errors.New("phonepe callback malformed")
)

// Config holds merchant credentials.
type Config struct {
	MerchantID string
	SaltKey    string
	SaltIndex  string
	BaseURL    string
}

// Client talks to the gateway. It is safe for concurrent use.
type Client struct {
	merchantID string
	saltKey    string
	saltIndex  string
	baseURL    string
	httpClient *http.Client
}

// APIError is returned for non-2xx gateway responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("phonepe api status %d: %s", e.StatusCode, e.Body)
}

// PayRequest describes a transaction to start on the hosted pay page.
type PayRequest struct {
	MerchantTransactionID string
	MerchantUserID        string
	Amount                int64 // paise
	RedirectURL           string
	CallbackURL           string
	MobileNumber          string
}

// PayResponse carries the pay page the user must be sent to.
type PayResponse struct {
	Code                  string
	MerchantTransactionID string
	RedirectURL           string
}

// TransactionStatus is the decoded body of a callback or a status query.
type TransactionStatus struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		MerchantID            string `json:"merchantId"`
		MerchantTransactionID string `json:"merchantTransactionId"`
		TransactionID         string `json:"transactionId"`
		Amount                int64  `json:"amount"`
		State                 string `json:"state"`
		ResponseCode          string `json:"responseCode"`
	} `json:"data"`
}

type payPayload struct {
	MerchantID            string            `json:"merchantId"`
	MerchantTransactionID string            `json:"merchantTransactionId"`
	MerchantUserID        string            `json:"merchantUserId"`
	Amount                int64             `json:"amount"`
	RedirectURL           string            `json:"redirectUrl"`
	RedirectMode          string            `json:"redirectMode"`
	CallbackURL           string            `json:"callbackUrl"`
	MobileNumber          string            `json:"mobileNumber,omitempty"`
	PaymentInstrument     paymentInstrument `json:"paymentInstrument"`
}

type paymentInstrument struct {
	Type string `json:"type"`
}

type payEnvelope struct {
	Request string `json:"request"`
}

type payResponseEnvelope struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		MerchantTransactionID string `json:"merchantTransactionId"`
		InstrumentResponse    struct {
			Type         string `json:"type"`
			RedirectInfo struct {
				URL    string `json:"url"`
				Method string `json:"method"`
			} `json:"redirectInfo"`
		} `json:"instrumentResponse"`
	} `json:"data"`
}

type callbackEnvelope struct {
	Response string `json:"response"`
}

// NewClient creates a client. A nil httpClient gets a 15 second timeout.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		merchantID: strings.TrimSpace(cfg.MerchantID),
		saltKey:    cfg.SaltKey,
		saltIndex:  cfg.SaltIndex,
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

var (
	sharedOnce   sync.Once
	sharedClient *Client
)

// Shared returns the process-wide client, building it from cfg on the first
// call. Later calls return the same client and ignore cfg.
func Shared(cfg Config) *Client {
	sharedOnce.Do(func() {
		sharedClient = NewClient(cfg, nil)
	})
	return sharedClient
}

// MerchantID returns the configured merchant id.
func (c *Client) MerchantID() string {
	return c.merchantID
}

// ToPaise converts a rupee amount to integer paise, rounding half away from zero.
func ToPaise(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// Pay starts a transaction and returns the hosted pay page URL.
func (c *Client) Pay(ctx context.Context, in PayRequest) (*PayResponse, error) {
	if in.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %d", in.Amount)
	}
	if in.MerchantTransactionID == "" || len(in.MerchantTransactionID) > MaxTransactionIDLength {
		return nil, fmt.Errorf("merchant transaction id must be 1-%d characters", MaxTransactionIDLength)
	}

	raw, err := json.Marshal(payPayload{
		MerchantID:            c.merchantID,
		MerchantTransactionID: in.MerchantTransactionID,
		MerchantUserID:        in.MerchantUserID,
		Amount:                in.Amount,
		RedirectURL:           in.RedirectURL,
		RedirectMode:          "REDIRECT",
		CallbackURL:           in.CallbackURL,
		MobileNumber:          in.MobileNumber,
		PaymentInstrument:     paymentInstrument{Type: "PAY_PAGE"},
	})
	if err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	body, err := json.Marshal(payEnvelope{Request: encoded})
	if err != nil {
		return nil, err
	}

	respBody, err := c.do(ctx, http.MethodPost, payPath, body, c.Checksum(encoded+payPath))
	if err != nil {
		return nil, err
	}

	var resp payResponseEnvelope
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode pay response: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("phonepe pay rejected: %s (%s)", resp.Code, resp.Message)
	}
	redirect := resp.Data.InstrumentResponse.RedirectInfo.URL
	if redirect == "" {
		return nil, fmt.Errorf("pay response missing redirect url")
	}

	return &PayResponse{
		Code:                  resp.Code,
		MerchantTransactionID: resp.Data.MerchantTransactionID,
		RedirectURL:           redirect,
	}, nil
}

// Status queries the gateway for the current state of a transaction.
func (c *Client) Status(ctx context.Context, merchantTransactionID string) (*TransactionStatus, error) {
	pathPart := fmt.Sprintf("/pg/v1/status/%s/%s",
		url.PathEscape(c.merchantID), url.PathEscape(strings.TrimSpace(merchantTransactionID)))

	body, err := c.do(ctx, http.MethodGet, pathPart, nil, c.Checksum(pathPart))
	if err != nil {
		return nil, err
	}

	var status TransactionStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	return &status, nil
}

// VerifyCallback checks the X-VERIFY header against the callback body and
// decodes the transaction status it carries.
func (c *Client) VerifyCallback(body []byte, xVerify string) (*TransactionStatus, error) {
	var env callbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Response == "" {
		return nil, ErrMalformedCallback
	}

	if !c.ValidChecksum(env.Response, xVerify) {
		return nil, ErrInvalidChecksum
	}

	decoded, err := base64.StdEncoding.DecodeString(env.Response)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	var status TransactionStatus
	if err := json.Unmarshal(decoded, &status); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	if status.Data.MerchantTransactionID == "" {
		return nil, fmt.Errorf("%w: missing merchantTransactionId", ErrMalformedCallback)
	}
	return &status, nil
}

func (c *Client) do(ctx context.Context, method, pathPart string, payload []byte, xVerify string) ([]byte, error) {
	var bodyReader io.Reader
	if len(payload) > 0 {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+pathPart, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-VERIFY", xVerify)
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	} else {
		req.Header.Set("X-MERCHANT-ID", c.merchantID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("phonepe request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("⚠️  PhonePe %s %s returned %d", method, pathPart, resp.StatusCode)
		return body, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

package phonepe

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

const (
	testSalt     = "099eb0cd-02cf-4e2a-8aca-3e6c6aff0399"
	testIndex    = "1"
	testMerchant = "MERCHANTUAT"
)

func testClient(baseURL string) *Client {
	return NewClient(Config{
		MerchantID: testMerchant,
		SaltKey:    testSalt,
		SaltIndex:  testIndex,
		BaseURL:    baseURL,
	}, nil)
}

func TestChecksum(t *testing.T) {
	c := testClient("")

	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{
			name:    "callback response",
			payload: "eyJjb2RlIjoiUEFZTUVOVF9TVUNDRVNTIn0=",
			want:    "b29ffeda813be88d0433497af57df363edc484c9d675286257a00dea6c7be1d5###1",
		},
		{
			name:    "status path",
			payload: "/pg/v1/status/MERCHANTUAT/T123",
			want:    "5fc33badbf07a2ed06a2a91aae09047bc0a479f9948a7e91caeca040c34e80f0###1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Checksum(tt.payload); got != tt.want {
				t.Errorf("Checksum() = %q, want %q", got, tt.want)
			}
		})
	}
}

// callbackBody builds a gateway callback for the given status and returns
// the body together with its valid X-VERIFY header.
func callbackBody(t *testing.T, c *Client, status map[string]interface{}) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(status)
	if err != nil {
		t.Fatalf("marshal status: %v", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)
	body, _ := json.Marshal(map[string]string{"response": encoded})
	return body, c.Checksum(encoded)
}

func TestVerifyCallback(t *testing.T) {
	c := testClient("")
	body, header := callbackBody(t, c, map[string]interface{}{
		"success": true,
		"code":    CodeSuccess,
		"message": "Your payment is successful.",
		"data": map[string]interface{}{
			"merchantId":            testMerchant,
			"merchantTransactionId": "T123",
			"transactionId":         "T2306121234",
			"amount":                49900,
			"state":                 "COMPLETED",
			"responseCode":          "SUCCESS",
		},
	})

	status, err := c.VerifyCallback(body, header)
	if err != nil {
		t.Fatalf("VerifyCallback() error = %v", err)
	}
	if status.Code != CodeSuccess || status.Data.MerchantTransactionID != "T123" {
		t.Errorf("unexpected status: %+v", status)
	}
	if status.Data.TransactionID != "T2306121234" || status.Data.Amount != 49900 {
		t.Errorf("unexpected data: %+v", status.Data)
	}
}

func TestVerifyCallback_Rejects(t *testing.T) {
	c := testClient("")
	body, header := callbackBody(t, c, map[string]interface{}{
		"code": CodeSuccess,
		"data": map[string]interface{}{"merchantTransactionId": "T123"},
	})

	tampered, _ := callbackBody(t, c, map[string]interface{}{
		"code": CodeSuccess,
		"data": map[string]interface{}{"merchantTransactionId": "T999"},
	})

	tests := []struct {
		name    string
		body    []byte
		header  string
		wantErr error
	}{
		{"tampered body", tampered, header, ErrInvalidChecksum},
		{"wrong salt index", body, header[:len(header)-1] + "2", ErrInvalidChecksum},
		{"missing header", body, "", ErrInvalidChecksum},
		{"not json", []byte("response=abc"), header, ErrMalformedCallback},
		{"empty envelope", []byte(`{}`), header, ErrMalformedCallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.VerifyCallback(tt.body, tt.header)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("VerifyCallback() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerifyCallback_NoSaltConfigured(t *testing.T) {
	withSalt := testClient("")
	body, header := callbackBody(t, withSalt, map[string]interface{}{
		"code": CodeSuccess,
		"data": map[string]interface{}{"merchantTransactionId": "T123"},
	})

	noSalt := NewClient(Config{MerchantID: testMerchant, SaltIndex: testIndex}, nil)
	if _, err := noSalt.VerifyCallback(body, header); !errors.Is(err, ErrInvalidChecksum) {
		t.Errorf("VerifyCallback() error = %v, want ErrInvalidChecksum", err)
	}
}

func TestPay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/pg/v1/pay" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var env payEnvelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		if got, want := r.Header.Get("X-VERIFY"), checksum(env.Request+"/pg/v1/pay", testSalt, testIndex); got != want {
			t.Fatalf("X-VERIFY = %q, want %q", got, want)
		}

		raw, err := base64.StdEncoding.DecodeString(env.Request)
		if err != nil {
			t.Fatalf("decode request: %v", err)
		}
		var payload payPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if payload.MerchantID != testMerchant || payload.Amount != 49900 || payload.PaymentInstrument.Type != "PAY_PAGE" {
			t.Fatalf("unexpected payload: %+v", payload)
		}

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"code":    "PAYMENT_INITIATED",
			"data": map[string]interface{}{
				"merchantTransactionId": payload.MerchantTransactionID,
				"instrumentResponse": map[string]interface{}{
					"type": "PAY_PAGE",
					"redirectInfo": map[string]interface{}{
						"url":    "https://mercury-uat.phonepe.com/transact/abc",
						"method": "GET",
					},
				},
			},
		})
	}))
	defer srv.Close()

	resp, err := testClient(srv.URL).Pay(context.Background(), PayRequest{
		MerchantTransactionID: "T123",
		MerchantUserID:        "U1",
		Amount:                49900,
		RedirectURL:           "https://example.com/return",
		CallbackURL:           "https://example.com/callback",
	})
	if err != nil {
		t.Fatalf("Pay() error = %v", err)
	}
	if resp.RedirectURL != "https://mercury-uat.phonepe.com/transact/abc" {
		t.Errorf("RedirectURL = %q", resp.RedirectURL)
	}
	if resp.MerchantTransactionID != "T123" {
		t.Errorf("MerchantTransactionID = %q", resp.MerchantTransactionID)
	}
}

func TestPay_RejectsBadInput(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	if _, err := c.Pay(context.Background(), PayRequest{MerchantTransactionID: "T1", Amount: 0}); err == nil {
		t.Error("Pay() expected error for zero amount")
	}
	long := "T" + string(make([]byte, MaxTransactionIDLength))
	if _, err := c.Pay(context.Background(), PayRequest{MerchantTransactionID: long, Amount: 100}); err == nil {
		t.Error("Pay() expected error for long transaction id")
	}
	if called {
		t.Error("gateway was called for invalid input")
	}
}

func TestPay_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"code":"BAD_REQUEST"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Pay(context.Background(), PayRequest{MerchantTransactionID: "T1", Amount: 100})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Pay() error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", apiErr.StatusCode)
	}
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/pg/v1/status/MERCHANTUAT/T123" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-MERCHANT-ID"); got != testMerchant {
			t.Fatalf("X-MERCHANT-ID = %q", got)
		}
		if got := r.Header.Get("X-VERIFY"); got != "5fc33badbf07a2ed06a2a91aae09047bc0a479f9948a7e91caeca040c34e80f0###1" {
			t.Fatalf("X-VERIFY = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"code":    "PAYMENT_ERROR",
			"message": "Payment Failed",
			"data": map[string]interface{}{
				"merchantId":            testMerchant,
				"merchantTransactionId": "T123",
				"state":                 "FAILED",
			},
		})
	}))
	defer srv.Close()

	status, err := testClient(srv.URL).Status(context.Background(), "T123")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Code != "PAYMENT_ERROR" || status.Data.State != "FAILED" {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestShared_ReturnsSameClient(t *testing.T) {
	a := Shared(Config{MerchantID: "A"})
	b := Shared(Config{MerchantID: "B"})
	if a != b {
		t.Error("Shared() returned different clients")
	}
	if b.MerchantID() != "A" {
		t.Errorf("MerchantID() = %q, want the first config to win", b.MerchantID())
	}
}

func TestToPaise(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"499", 49900},
		{"499.99", 49999},
		{"0.015", 2},
		{"12.3", 1230},
	}
	for _, tt := range tests {
		if got := ToPaise(decimal.RequireFromString(tt.in)); got != tt.want {
			t.Errorf("ToPaise(%s) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/Shimizu-Technology/pdf-desk-api/internal/database"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/middleware"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/models"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/pdftest"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/services/payment"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/services/phonepe"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/services/render"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// paymentStore is an in-memory payment.Store.
type paymentStore struct {
	mu      sync.Mutex
	pending map[string]*models.PendingPayment
	orders  map[string]*models.Order
}

func newPaymentStore() *paymentStore {
	return &paymentStore{
		pending: make(map[string]*models.PendingPayment),
		orders:  make(map[string]*models.Order),
	}
}

func (s *paymentStore) CreatePendingPayment(_ context.Context, p *models.PendingPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.pending[p.TransactionID] = &cp
	return nil
}

func (s *paymentStore) GetPendingPayment(_ context.Context, txnID string) (*models.PendingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[txnID]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *paymentStore) FinalizePayment(_ context.Context, o *models.Order) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[o.TransactionID]
	if !ok || p.Status != models.PaymentCreated {
		return false, nil
	}
	p.Status = models.PaymentSuccess
	o.ID = fmt.Sprintf("ord-%d", len(s.orders)+1)
	cp := *o
	s.orders[o.TransactionID] = &cp
	return true, nil
}

func (s *paymentStore) FailPayment(_ context.Context, txnID, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[txnID]
	if !ok || p.Status != models.PaymentCreated {
		return false, nil
	}
	p.Status = models.PaymentFailed
	p.FailureReason = reason
	return true, nil
}

func (s *paymentStore) GetOrderByTransaction(_ context.Context, txnID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[txnID]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

const testSalt = "handler-test-salt"

// paymentRouter serves the payment routes with user as the signed-in user.
// gatewayURL is where Pay and Status requests go.
func paymentRouter(store *paymentStore, gatewayURL string, user *models.User) (*gin.Engine, *phonepe.Client) {
	client := phonepe.NewClient(phonepe.Config{
		MerchantID: "MERCHANTUAT",
		SaltKey:    testSalt,
		SaltIndex:  "1",
		BaseURL:    gatewayURL,
	}, nil)
	h := &Handler{
		Payments:    payment.New(store, client, nil, "https://api.example.com"),
		FrontendURL: "https://app.example.com",
	}

	r := gin.New()
	r.POST("/api/v1/payments/callback", h.PaymentCallback)
	r.GET("/api/v1/payments/:txn/return", h.PaymentReturn)

	authed := r.Group("/api/v1", func(c *gin.Context) {
		middleware.SetUser(c, user)
		c.Next()
	})
	authed.POST("/payments", h.CreatePayment)
	authed.GET("/payments/:txn", h.GetPayment)
	return r, client
}

func callback(t *testing.T, c *phonepe.Client, txnID, code string, amount int64) ([]byte, string) {
	t.Helper()
	raw, _ := json.Marshal(map[string]interface{}{
		"success": code == phonepe.CodeSuccess,
		"code":    code,
		"data": map[string]interface{}{
			"merchantId":            "MERCHANTUAT",
			"merchantTransactionId": txnID,
			"transactionId":         "PP" + txnID,
			"amount":                amount,
		},
	})
	encoded := base64.StdEncoding.EncodeToString(raw)
	body, _ := json.Marshal(map[string]string{"response": encoded})
	return body, c.Checksum(encoded)
}

func seedPending(store *paymentStore, txnID, userID string) {
	store.pending[txnID] = &models.PendingPayment{
		TransactionID: txnID,
		UserID:        userID,
		Items:         models.OrderItems{{Name: "Print", Quantity: 1, UnitPrice: decimal.NewFromInt(89)}},
		Amount:        decimal.NewFromInt(89),
		Status:        models.PaymentCreated,
	}
}

func postCallback(r *gin.Engine, body []byte, xVerify string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if xVerify != "" {
		req.Header.Set("X-VERIFY", xVerify)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPaymentCallback(t *testing.T) {
	user := &models.User{ID: "user-1"}
	store := newPaymentStore()
	seedPending(store, "T1", user.ID)
	r, client := paymentRouter(store, "http://gateway.invalid", user)

	t.Run("tampered body is rejected", func(t *testing.T) {
		body, header := callback(t, client, "T1", phonepe.CodeSuccess, 8900)
		tampered := bytes.Replace(body, []byte(`"response":"`), []byte(`"response":"x`), 1)

		w := postCallback(r, tampered, header)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400; body: %s", w.Code, w.Body.String())
		}
		if store.pending["T1"].Status != models.PaymentCreated || len(store.orders) != 0 {
			t.Error("rejected callback mutated state")
		}
	})

	t.Run("missing checksum is rejected", func(t *testing.T) {
		body, _ := callback(t, client, "T1", phonepe.CodeSuccess, 8900)
		if w := postCallback(r, body, ""); w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})

	t.Run("unknown transaction", func(t *testing.T) {
		body, header := callback(t, client, "T-unknown", phonepe.CodeSuccess, 8900)
		if w := postCallback(r, body, header); w.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", w.Code)
		}
	})

	t.Run("success creates one order and redelivery is a no-op", func(t *testing.T) {
		body, header := callback(t, client, "T1", phonepe.CodeSuccess, 8900)

		w := postCallback(r, body, header)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
		}
		var first payment.Outcome
		if err := json.Unmarshal(w.Body.Bytes(), &first); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if first.Status != models.PaymentSuccess || first.Duplicate || first.Order == nil {
			t.Errorf("first outcome = %+v", first)
		}

		w = postCallback(r, body, header)
		if w.Code != http.StatusOK {
			t.Fatalf("redelivery status = %d, want 200", w.Code)
		}
		var second payment.Outcome
		_ = json.Unmarshal(w.Body.Bytes(), &second)
		if !second.Duplicate || second.Status != models.PaymentSuccess {
			t.Errorf("redelivery outcome = %+v", second)
		}
		if len(store.orders) != 1 {
			t.Errorf("orders = %d, want 1", len(store.orders))
		}
	})
}

func TestPaymentCallback_FailureCodeCreatesNoOrder(t *testing.T) {
	user := &models.User{ID: "user-1"}
	store := newPaymentStore()
	seedPending(store, "T2", user.ID)
	r, client := paymentRouter(store, "http://gateway.invalid", user)

	body, header := callback(t, client, "T2", "PAYMENT_ERROR", 8900)
	w := postCallback(r, body, header)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if store.pending["T2"].Status != models.PaymentFailed {
		t.Errorf("status = %s, want Failed", store.pending["T2"].Status)
	}
	if len(store.orders) != 0 {
		t.Errorf("orders = %d, want 0", len(store.orders))
	}
}

func TestCreatePayment_RejectsNonPositiveAmount(t *testing.T) {
	var gatewayCalls int32
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&gatewayCalls, 1)
	}))
	defer gw.Close()

	store := newPaymentStore()
	r, _ := paymentRouter(store, gw.URL, &models.User{ID: "user-1"})

	for _, amount := range []string{"0", "-10", "0.004"} {
		t.Run(amount, func(t *testing.T) {
			body := fmt.Sprintf(`{
				"items": [{"name": "Print", "quantity": 1, "unit_price": %[1]s}],
				"address": {"name": "Asha", "phone": "9999999999", "line1": "12 MG Road",
					"city": "Pune", "state": "MH", "postal_code": "411001"},
				"amount": %[1]s}`, amount)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", bytes.NewBufferString(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400; body: %s", w.Code, w.Body.String())
			}
		})
	}

	if atomic.LoadInt32(&gatewayCalls) != 0 {
		t.Error("gateway was called for a non-positive amount")
	}
	if len(store.pending) != 0 {
		t.Error("pending payment was stored for a non-positive amount")
	}
}

func TestCreatePayment_RedirectsToGateway(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"code":    "PAYMENT_INITIATED",
			"data": map[string]interface{}{
				"instrumentResponse": map[string]interface{}{
					"redirectInfo": map[string]interface{}{"url": "https://pay.example/abc"},
				},
			},
		})
	}))
	defer gw.Close()

	store := newPaymentStore()
	r, _ := paymentRouter(store, gw.URL, &models.User{ID: "user-1"})

	body := `{
		"items": [{"name": "Print", "quantity": 2, "unit_price": 12.5}],
		"address": {"name": "Asha", "phone": "9999999999", "line1": "12 MG Road",
			"city": "Pune", "state": "MH", "postal_code": "411001"},
		"amount": 25}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body: %s", w.Code, w.Body.String())
	}
	var resp models.CreatePaymentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RedirectURL != "https://pay.example/abc" || resp.Status != models.PaymentCreated {
		t.Errorf("response = %+v", resp)
	}
	if _, ok := store.pending[resp.TransactionID]; !ok {
		t.Error("pending payment not stored")
	}
}

func TestGetPayment_OwnerOnly(t *testing.T) {
	store := newPaymentStore()
	seedPending(store, "T3", "someone-else")
	r, _ := paymentRouter(store, "http://gateway.invalid", &models.User{ID: "user-1"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/T3", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestPaymentReturn_RedirectsToFrontend(t *testing.T) {
	r, _ := paymentRouter(newPaymentStore(), "http://gateway.invalid", &models.User{ID: "user-1"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/T9/return", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if got := w.Header().Get("Location"); got != "https://app.example.com/payment/status?txn=T9" {
		t.Errorf("Location = %q", got)
	}
}

// multipartRequest builds a POST with each file under field.
func multipartRequest(t *testing.T, path, field string, files map[string][]byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		fw, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		_, _ = fw.Write(data)
	}
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func toolsRouter() *gin.Engine {
	h := &Handler{Rasterizer: render.New(1.0, 40_000_000)}
	r := gin.New()
	r.POST("/pdf/render", h.RenderPDF)
	r.POST("/pdf/merge", h.MergePDF)
	r.POST("/pdf/compress", h.CompressPDF)
	return r
}

func TestRenderPDF_OneImagePerPage(t *testing.T) {
	doc := pdftest.Build(pdftest.TextPage("one"), pdftest.TextPage("two"), pdftest.TextPage("three"))
	req := multipartRequest(t, "/pdf/render", "file", map[string][]byte{"doc.pdf": doc}, nil)
	w := httptest.NewRecorder()
	toolsRouter().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	var resp models.RenderResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PageCount != 3 || len(resp.Pages) != 3 {
		t.Fatalf("page_count = %d, pages = %d, want 3", resp.PageCount, len(resp.Pages))
	}
	for i, p := range resp.Pages {
		if p.Page != i+1 {
			t.Errorf("pages[%d].page = %d, want %d", i, p.Page, i+1)
		}
		if p.ContentType != "image/png" || p.Width != 612 || p.Height != 792 {
			t.Errorf("pages[%d] = %s %dx%d", i, p.ContentType, p.Width, p.Height)
		}
		if _, err := base64.StdEncoding.DecodeString(p.Data); err != nil {
			t.Errorf("pages[%d].data is not base64: %v", i, err)
		}
	}
}

func TestRenderPDF_BadInput(t *testing.T) {
	doc := pdftest.Build(pdftest.TextPage("one"))

	tests := []struct {
		name   string
		files  map[string][]byte
		fields map[string]string
	}{
		{"not a pdf", map[string][]byte{"doc.pdf": []byte("hello")}, nil},
		{"wrong extension", map[string][]byte{"doc.txt": doc}, nil},
		{"scale too large", map[string][]byte{"doc.pdf": doc}, map[string]string{"scale": "9"}},
		{"scale NaN", map[string][]byte{"doc.pdf": doc}, map[string]string{"scale": "NaN"}},
		{"scale Inf", map[string][]byte{"doc.pdf": doc}, map[string]string{"scale": "+Inf"}},
		{"unknown format", map[string][]byte{"doc.pdf": doc}, map[string]string{"format": "gif"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := multipartRequest(t, "/pdf/render", "file", tt.files, tt.fields)
			w := httptest.NewRecorder()
			toolsRouter().ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestMergePDF(t *testing.T) {
	a := pdftest.Build(pdftest.TextPage("a1"), pdftest.TextPage("a2"))
	b := pdftest.Build(pdftest.TextPage("b1"))

	t.Run("needs two files", func(t *testing.T) {
		req := multipartRequest(t, "/pdf/merge", "files", map[string][]byte{"a.pdf": a}, nil)
		w := httptest.NewRecorder()
		toolsRouter().ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("merges", func(t *testing.T) {
		req := multipartRequest(t, "/pdf/merge", "files", map[string][]byte{"a.pdf": a, "b.pdf": b}, nil)
		w := httptest.NewRecorder()
		toolsRouter().ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/pdf" {
			t.Errorf("Content-Type = %q", ct)
		}
		if got := w.Header().Get("X-Page-Count"); got != "3" {
			t.Errorf("X-Page-Count = %q, want 3", got)
		}
	})
}

func TestCompressPDF_ReportsSizes(t *testing.T) {
	doc := pdftest.Build(pdftest.TextPage("one"), pdftest.TextPage("two"))
	req := multipartRequest(t, "/pdf/compress", "file", map[string][]byte{"report.pdf": doc}, nil)
	w := httptest.NewRecorder()
	toolsRouter().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-Original-Size"); got != fmt.Sprint(len(doc)) {
		t.Errorf("X-Original-Size = %q, want %d", got, len(doc))
	}
	if w.Header().Get("X-Compressed-Size") != fmt.Sprint(w.Body.Len()) {
		t.Errorf("X-Compressed-Size = %q, body is %d bytes", w.Header().Get("X-Compressed-Size"), w.Body.Len())
	}
	if cd := w.Header().Get("Content-Disposition"); cd != `attachment; filename="report-compressed.pdf"` {
		t.Errorf("Content-Disposition = %q", cd)
	}
}

func TestUploadPrintDocument_NoStorage(t *testing.T) {
	h := &Handler{}
	r := gin.New()
	r.POST("/print/documents", h.UploadPrintDocument)

	req := multipartRequest(t, "/print/documents", "file",
		map[string][]byte{"doc.pdf": pdftest.Build(pdftest.TextPage("x"))}, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

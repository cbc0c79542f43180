package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/fish-market/internal/adapter/blob"
	"github.com/rl1809/fish-market/internal/adapter/storage"
	"github.com/rl1809/fish-market/internal/core/domain"
	"github.com/rl1809/fish-market/internal/core/service"
	"github.com/rl1809/fish-market/internal/metrics"
)

const (
	testSecret   = "test-secret"
	testMaxSlip  = 1024
	pngSignature = "\x89PNG\r\n\x1a\n"
)

type testServer struct {
	t        *testing.T
	db       *storage.SQLAdapter
	verifier *TokenVerifier
	routes   http.Handler
	grpc     *GRPCHandler
	slipDir  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "handler.db") + "?_pragma=busy_timeout(5000)&_time_format=sqlite"
	sqlDB, err := storage.OpenDB(storage.DriverSQLite, dsn)
	require.NoError(t, err)
	require.NoError(t, storage.RunMigrations(sqlDB, storage.DriverSQLite))
	t.Cleanup(func() { sqlDB.Close() })
	db := storage.NewSQLAdapter(sqlDB)

	ctx := context.Background()
	for _, item := range []domain.CatalogItem{
		{ID: "salmon", Name: "Salmon", Price: decimal.RequireFromString("12.50"), Stock: 10, Description: "fresh from the morning catch"},
		{ID: "tuna", Name: "Tuna", Price: decimal.RequireFromString("8.00"), Stock: 3, Description: "fresh from the morning catch"},
	} {
		require.NoError(t, db.SaveItem(ctx, item))
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	slips, err := blob.NewLocalSlipStorage(t.TempDir())
	require.NoError(t, err)

	carts := storage.NewMemoryCartRepository()
	cache := storage.NewRedisCartCache(rdb, nil)
	m := metrics.New(prometheus.NewRegistry())

	catalogSvc := service.NewCatalogService(db)
	cartSvc := service.NewCartService(db, carts, cache, nil)
	checkoutSvc := service.NewCheckoutService(service.CheckoutDeps{
		Catalog:     db,
		Carts:       carts,
		Payments:    db,
		Slips:       slips,
		Idempotency: storage.NewRedisAdapter(rdb),
		Cache:       cache,
		Metrics:     m,
	}, testMaxSlip)
	paymentSvc := service.NewPaymentService(db, slips, nil, nil)
	verifier := NewTokenVerifier(testSecret)

	h := NewHTTPHandler(HTTPDeps{
		Catalog:  catalogSvc,
		Carts:    cartSvc,
		Checkout: checkoutSvc,
		Payments: paymentSvc,
		Verifier: verifier,
		Metrics:  m,
		SlipDir:  slips.Dir(),
	})

	return &testServer{
		t:        t,
		db:       db,
		verifier: verifier,
		routes:   h.Routes(),
		grpc:     NewGRPCHandler(cartSvc, checkoutSvc, paymentSvc, nil),
		slipDir:  slips.Dir(),
	}
}

func (s *testServer) token(subject, role string) string {
	s.t.Helper()
	tok, err := s.verifier.Issue(subject, role, 0)
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) do(method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	s.t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.routes.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) doJSON(method, path, token string, payload any) *httptest.ResponseRecorder {
	s.t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(s.t, err)
	return s.do(method, path, token, bytes.NewReader(body), "application/json")
}

type slipPart struct {
	field, filename, contentType string
	data                         []byte
}

func png(size int) slipPart {
	data := append([]byte(pngSignature), bytes.Repeat([]byte{0}, size)...)
	return slipPart{field: "paymentSlip", filename: "slip.png", contentType: "image/png", data: data}
}

func (s *testServer) checkout(token, customerID, idempotencyKey string, parts ...slipPart) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(s.t, mw.WriteField("customerId", customerID))
	for _, p := range parts {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, p.field, p.filename))
		hdr.Set("Content-Type", p.contentType)
		w, err := mw.CreatePart(hdr)
		require.NoError(s.t, err)
		_, err = w.Write(p.data)
		require.NoError(s.t, err)
	}
	require.NoError(s.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/payments/checkout", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	rec := httptest.NewRecorder()
	s.routes.ServeHTTP(rec, req)
	return rec
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndCatalog(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/catalog/items", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	items := decodeBody[[]domain.CatalogItem](t, rec)
	require.Len(t, items, 2)
	assert.Equal(t, "Salmon", items[0].Name)

	rec = s.do(http.MethodGet, "/api/catalog/items/tuna", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decodeBody[domain.CatalogItem](t, rec).Stock)

	rec = s.do(http.MethodGet, "/api/catalog/items/shark", "", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ProductNotFound", errorOf(t, rec).Code)
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)
	add := map[string]any{"customerId": "c1", "productId": "salmon", "quantity": 1}

	rec := s.doJSON(http.MethodPost, "/api/cart", "", add)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", errorOf(t, rec).Code)

	forged, err := NewTokenVerifier("other-secret").Issue("c1", RoleCustomer, 0)
	require.NoError(t, err)
	rec = s.doJSON(http.MethodPost, "/api/cart", forged, add)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.doJSON(http.MethodPost, "/api/cart", s.token("c2", RoleCustomer), add)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Forbidden", errorOf(t, rec).Code)

	rec = s.doJSON(http.MethodPost, "/api/cart", s.token("c1", RoleCustomer), add)
	assert.Equal(t, http.StatusOK, rec.Code)

	// admins may act for any customer
	rec = s.do(http.MethodGet, "/api/cart/c1", s.token("staff", RoleAdmin), nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/payments/all", s.token("c1", RoleCustomer), nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTokenVerifier_RejectsUnknownRole(t *testing.T) {
	v := NewTokenVerifier(testSecret)
	tok, err := v.Issue("c1", "owner", 0)
	require.NoError(t, err)

	_, err = v.Verify(tok)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	tok, err = v.Issue("c1", RoleAdmin, 0)
	require.NoError(t, err)
	p, err := v.Verify(tok)
	require.NoError(t, err)
	assert.True(t, p.IsAdmin())
}

func TestCartEndpoints(t *testing.T) {
	s := newTestServer(t)
	tok := s.token("c1", RoleCustomer)

	rec := s.doJSON(http.MethodPost, "/api/cart", tok, map[string]any{"customerId": "c1", "productId": "salmon", "quantity": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cart := decodeBody[domain.Cart](t, rec)
	assert.Equal(t, []domain.CartLine{{ProductID: "salmon", Quantity: 2}}, cart.Items)

	rec = s.doJSON(http.MethodPost, "/api/cart", tok, map[string]any{"customerId": "c1", "productId": "tuna", "quantity": 4})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := errorOf(t, rec)
	assert.Equal(t, "QuantityExceedsStock", body.Code)
	assert.Equal(t, "Quantity exceeds stock for Tuna. Available: 3", body.Error)
	details, ok := body.Details.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 3, details["available"])

	rec = s.doJSON(http.MethodPost, "/api/cart", tok, map[string]any{"customerId": "c1", "productId": "salmon", "quantity": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ValidationError", errorOf(t, rec).Code)

	rec = s.doJSON(http.MethodPost, "/api/cart", tok, map[string]any{"customerId": "c1", "productId": "shark", "quantity": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ProductNotFound", errorOf(t, rec).Code)

	rec = s.doJSON(http.MethodPut, "/api/cart", tok, map[string]any{"customerId": "c1", "productId": "salmon"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.doJSON(http.MethodPut, "/api/cart", tok, map[string]any{"customerId": "c1", "productId": "tuna", "quantity": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ItemNotInCart", errorOf(t, rec).Code)

	rec = s.doJSON(http.MethodPost, "/api/cart", tok, map[string]any{"customerId": "c1", "productId": "tuna", "quantity": 1})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/cart/c1", tok, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[domain.CartView](t, rec)
	require.Len(t, view.Items, 2)
	assert.True(t, decimal.RequireFromString("33").Equal(view.TotalBill), view.TotalBill.String())

	rec = s.do(http.MethodDelete, "/api/cart/c1/tuna", tok, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodDelete, "/api/cart/c1/tuna", tok, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodDelete, "/api/cart/c1", tok, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodGet, "/api/cart/c1", tok, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[domain.CartView](t, rec).Items)

	rec = s.do(http.MethodGet, "/api/cart/nobody", s.token("nobody", RoleCustomer), nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "CartNotFound", errorOf(t, rec).Code)
}

func TestCheckoutEndpoint(t *testing.T) {
	s := newTestServer(t)
	tok := s.token("c1", RoleCustomer)
	admin := s.token("staff", RoleAdmin)
	ctx := context.Background()

	rec := s.doJSON(http.MethodPost, "/api/cart", tok, map[string]any{"customerId": "c1", "productId": "salmon", "quantity": 2})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.checkout(tok, "c1", "order-1", png(64))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeBody[CheckoutHTTPResponse](t, rec)
	require.True(t, resp.Success)
	require.NotNil(t, resp.Data)
	assert.Equal(t, domain.PaymentStatusPending, resp.Data.Status)
	assert.True(t, decimal.RequireFromString("25").Equal(resp.Data.Total), resp.Data.Total.String())
	assert.True(t, strings.HasPrefix(resp.Data.PaymentSlip, blob.URLPrefix))

	item, err := s.db.GetItem(ctx, "salmon")
	require.NoError(t, err)
	assert.Equal(t, 8, item.Stock)

	// same key again is rejected before the empty cart is noticed
	rec = s.checkout(tok, "c1", "order-1", png(64))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DuplicateRequest", errorOf(t, rec).Code)

	rec = s.checkout(tok, "c1", "", png(64))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "EmptyCart", errorOf(t, rec).Code)

	// the stored slip is visible to admins only
	rec = s.do(http.MethodGet, resp.Data.PaymentSlip, admin, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), pngSignature))
	rec = s.do(http.MethodGet, resp.Data.PaymentSlip, tok, nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(http.MethodGet, blob.URLPrefix, admin, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.checkout(s.token("c2", RoleCustomer), "c1", "", png(64))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCheckoutEndpoint_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		parts  []slipPart
		status int
		code   string
	}{
		{"missing slip", nil, http.StatusBadRequest, "MissingPaymentSlip"},
		{"gif slip", []slipPart{{field: "paymentSlip", filename: "slip.gif", contentType: "image/gif", data: []byte("GIF89a")}}, http.StatusBadRequest, "UnsupportedFileType"},
		{"extension mismatch", []slipPart{{field: "paymentSlip", filename: "slip.exe", contentType: "image/png", data: []byte(pngSignature)}}, http.StatusBadRequest, "UnsupportedFileType"},
		{"too large", []slipPart{png(testMaxSlip + 1)}, http.StatusBadRequest, "PaymentSlipTooLarge"},
		{"two files", []slipPart{png(8), png(8)}, http.StatusBadRequest, "ValidationError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			tok := s.token("c1", RoleCustomer)
			rec := s.doJSON(http.MethodPost, "/api/cart", tok, map[string]any{"customerId": "c1", "productId": "tuna", "quantity": 1})
			require.Equal(t, http.StatusOK, rec.Code)

			rec = s.checkout(tok, "c1", "", tt.parts...)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, errorOf(t, rec).Code)

			item, err := s.db.GetItem(context.Background(), "tuna")
			require.NoError(t, err)
			assert.Equal(t, 3, item.Stock)
		})
	}
}

func TestCheckoutEndpoint_NotMultipart(t *testing.T) {
	s := newTestServer(t)
	rec := s.doJSON(http.MethodPost, "/api/payments/checkout", s.token("c1", RoleCustomer), map[string]string{"customerId": "c1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ValidationError", errorOf(t, rec).Code)
}

func TestCheckoutEndpoint_ProductRemovedFromCatalog(t *testing.T) {
	s := newTestServer(t)
	tok := s.token("c1", RoleCustomer)
	rec := s.doJSON(http.MethodPost, "/api/cart", tok, map[string]any{"customerId": "c1", "productId": "tuna", "quantity": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, s.db.DeleteItem(context.Background(), "tuna"))

	rec = s.checkout(tok, "c1", "", png(8))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ProductNotFound", errorOf(t, rec).Code)
}

func TestPaymentEndpoints(t *testing.T) {
	s := newTestServer(t)
	tok := s.token("c1", RoleCustomer)
	admin := s.token("staff", RoleAdmin)

	rec := s.doJSON(http.MethodPost, "/api/cart", tok, map[string]any{"customerId": "c1", "productId": "salmon", "quantity": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.checkout(tok, "c1", "", png(8))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	payment := decodeBody[CheckoutHTTPResponse](t, rec).Data

	rec = s.do(http.MethodGet, "/api/payments/c1", tok, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]domain.PaymentRecord](t, rec), 1)

	rec = s.do(http.MethodGet, "/api/payments/c2", tok, nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodGet, "/api/payments/search/c1?status=verified", tok, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = s.do(http.MethodGet, "/api/payments/search/c1?date=yesterday", tok, nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/payments/all", admin, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]domain.PaymentRecord](t, rec), 1)

	rec = s.do(http.MethodGet, "/api/payments/search/all?status=pending", admin, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]domain.PaymentRecord](t, rec), 1)

	path := "/api/payments/" + payment.ID
	rec = s.doJSON(http.MethodPut, path, tok, map[string]string{"status": "verified"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.doJSON(http.MethodPut, path, admin, map[string]string{"status": "shipped"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.doJSON(http.MethodPut, path, admin, map[string]string{"status": "verified"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.PaymentStatusVerified, decodeBody[domain.PaymentRecord](t, rec).Status)

	rec = s.do(http.MethodDelete, path, admin, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoFileExists(t, filepath.Join(s.slipDir, filepath.Base(payment.PaymentSlip)))

	rec = s.do(http.MethodDelete, path, admin, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "PaymentNotFound", errorOf(t, rec).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodGet, "/api/catalog/items", "", nil, "")

	rec := s.do(http.MethodGet, "/metrics", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `fishmarket_http_requests_total{route="/api/catalog/items",status="200"} 1`)
}

func TestStatusMapping(t *testing.T) {
	stockErr := &domain.StockError{ProductName: "Tuna", Available: 1, Err: domain.ErrInsufficientStock}
	tests := []struct {
		err          error
		status       int
		productInput int
	}{
		{domain.ErrInvalidArgument, http.StatusBadRequest, http.StatusBadRequest},
		{domain.ErrProductNotFound, http.StatusNotFound, http.StatusBadRequest},
		{domain.ErrCartNotFound, http.StatusNotFound, http.StatusNotFound},
		{stockErr, http.StatusBadRequest, http.StatusBadRequest},
		{domain.ErrDuplicateRequest, http.StatusConflict, http.StatusConflict},
		{domain.ErrUnauthorized, http.StatusUnauthorized, http.StatusUnauthorized},
		{domain.ErrForbidden, http.StatusForbidden, http.StatusForbidden},
		{fmt.Errorf("%w: db gone", domain.ErrCheckoutFailed), http.StatusInternalServerError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(domain.CodeOf(tt.err), func(t *testing.T) {
			assert.Equal(t, tt.status, httpStatus(tt.err))
			assert.Equal(t, tt.productInput, productInputStatus(tt.err))
		})
	}

	body := errorBody(fmt.Errorf("%w: dial tcp 10.0.0.1:3306", domain.ErrCheckoutFailed))
	assert.Equal(t, "error processing checkout", body.Error)
	assert.Nil(t, body.Details)
}

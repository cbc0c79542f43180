package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/rl1809/fish-market/internal/adapter/blob"
	"github.com/rl1809/fish-market/internal/core/domain"
	"github.com/rl1809/fish-market/internal/core/service"
	"github.com/rl1809/fish-market/internal/metrics"
)

const (
	// room for the customerId field and multipart framing around the slip
	multipartOverhead = 1 << 20
	multipartMemory   = 1 << 20

	idempotencyHeader = "Idempotency-Key"
)

type HTTPHandler struct {
	catalog  *service.CatalogService
	carts    *service.CartService
	checkout *service.CheckoutService
	payments *service.PaymentService
	verifier *TokenVerifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	validate *validator.Validate
	slipDir  string
	timeout  time.Duration
}

type HTTPDeps struct {
	Catalog  *service.CatalogService
	Carts    *service.CartService
	Checkout *service.CheckoutService
	Payments *service.PaymentService
	Verifier *TokenVerifier
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	// SlipDir is served under /uploads/ to admins.
	SlipDir        string
	RequestTimeout time.Duration
}

type CartItemHTTPRequest struct {
	CustomerID string `json:"customerId" validate:"required"`
	ProductID  string `json:"productId" validate:"required"`
	Quantity   int    `json:"quantity" validate:"gte=1"`
}

// SetQuantityHTTPRequest accepts zero or negative quantities, which remove the line.
type SetQuantityHTTPRequest struct {
	CustomerID string `json:"customerId" validate:"required"`
	ProductID  string `json:"productId" validate:"required"`
	Quantity   *int   `json:"quantity" validate:"required"`
}

type UpdatePaymentHTTPRequest struct {
	Status string `json:"status" validate:"required,oneof=pending verified rejected"`
}

type checkoutForm struct {
	CustomerID string `json:"customerId" validate:"required"`
}

type CheckoutHTTPResponse struct {
	Success bool                  `json:"success"`
	Data    *domain.PaymentRecord `json:"data"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

func NewHTTPHandler(deps HTTPDeps) *HTTPHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &HTTPHandler{
		catalog:  deps.Catalog,
		carts:    deps.Carts,
		checkout: deps.Checkout,
		payments: deps.Payments,
		verifier: deps.Verifier,
		metrics:  deps.Metrics,
		logger:   logger,
		validate: v,
		slipDir:  deps.SlipDir,
		timeout:  deps.RequestTimeout,
	}
}

func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	r.Group(func(r chi.Router) {
		if h.timeout > 0 {
			r.Use(middleware.Timeout(h.timeout))
		}

		r.Get("/api/catalog/items", h.ListCatalog)
		r.Get("/api/catalog/items/{id}", h.GetCatalogItem)

		r.Group(func(r chi.Router) {
			r.Use(h.Authenticate)

			r.Post("/api/cart", h.AddToCart)
			r.Put("/api/cart", h.SetCartQuantity)
			r.Get("/api/cart/{customerId}", h.GetCart)
			r.Delete("/api/cart/{customerId}", h.ClearCart)
			r.Delete("/api/cart/{customerId}/{productId}", h.RemoveFromCart)

			r.Post("/api/payments/checkout", h.Checkout)
			// {id} is the customer id on GET and the payment id on PUT and DELETE
			r.Get("/api/payments/{id}", h.ListCustomerPayments)
			r.Get("/api/payments/search/{customerId}", h.SearchCustomerPayments)

			r.Group(func(r chi.Router) {
				r.Use(h.RequireAdmin)
				r.Get("/api/payments/all", h.ListAllPayments)
				r.Get("/api/payments/search/all", h.SearchAllPayments)
				r.Put("/api/payments/{id}", h.UpdatePayment)
				r.Delete("/api/payments/{id}", h.DeletePayment)
				r.Get(blob.URLPrefix+"*", h.ServeSlip)
			})
		})
	})

	return r
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) ListCatalog(w http.ResponseWriter, r *http.Request) {
	items, err := h.catalog.ListAvailable(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *HTTPHandler) GetCatalogItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.catalog.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *HTTPHandler) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req CartItemHTTPRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := authorizeCustomer(r.Context(), req.CustomerID); err != nil {
		h.writeError(w, r, err)
		return
	}

	cart, err := h.carts.AddItem(r.Context(), req.CustomerID, req.ProductID, req.Quantity)
	if err != nil {
		h.writeErrorStatus(w, r, productInputStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *HTTPHandler) SetCartQuantity(w http.ResponseWriter, r *http.Request) {
	var req SetQuantityHTTPRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := authorizeCustomer(r.Context(), req.CustomerID); err != nil {
		h.writeError(w, r, err)
		return
	}

	cart, err := h.carts.SetQuantity(r.Context(), req.CustomerID, req.ProductID, *req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *HTTPHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerId")
	if err := authorizeCustomer(r.Context(), customerID); err != nil {
		h.writeError(w, r, err)
		return
	}

	view, err := h.carts.GetCart(r.Context(), customerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *HTTPHandler) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerId")
	if err := authorizeCustomer(r.Context(), customerID); err != nil {
		h.writeError(w, r, err)
		return
	}

	if _, err := h.carts.RemoveItem(r.Context(), customerID, chi.URLParam(r, "productId")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Item removed from cart"})
}

func (h *HTTPHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerId")
	if err := authorizeCustomer(r.Context(), customerID); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.carts.ClearCart(r.Context(), customerID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Cart cleared"})
}

func (h *HTTPHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.checkout.MaxSlipBytes()+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, multipart.ErrMessageTooLarge) {
			h.writeError(w, r, domain.ErrSlipTooLarge)
			return
		}
		h.writeError(w, r, fmt.Errorf("%w: expected a multipart form", domain.ErrInvalidArgument))
		return
	}
	defer r.MultipartForm.RemoveAll()

	form := checkoutForm{CustomerID: r.FormValue("customerId")}
	if err := h.check(form); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := authorizeCustomer(r.Context(), form.CustomerID); err != nil {
		h.writeError(w, r, err)
		return
	}

	files := 0
	for _, headers := range r.MultipartForm.File {
		files += len(headers)
	}
	if files > 1 {
		h.writeError(w, r, fmt.Errorf("%w: only one payment slip may be uploaded", domain.ErrInvalidArgument))
		return
	}

	req := service.CheckoutRequest{
		CustomerID:     form.CustomerID,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotencyHeader)),
	}
	if headers := r.MultipartForm.File["paymentSlip"]; len(headers) == 1 {
		fh := headers[0]
		f, err := fh.Open()
		if err != nil {
			h.writeError(w, r, fmt.Errorf("open uploaded slip: %w", err))
			return
		}
		defer f.Close()
		req.Slip = &domain.SlipUpload{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Body:        f,
		}
	}

	payment, err := h.checkout.Checkout(r.Context(), req)
	if err != nil {
		h.writeErrorStatus(w, r, productInputStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, CheckoutHTTPResponse{Success: true, Data: payment})
}

func (h *HTTPHandler) ListCustomerPayments(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "id")
	if err := authorizeCustomer(r.Context(), customerID); err != nil {
		h.writeError(w, r, err)
		return
	}

	payments, err := h.payments.ListByCustomer(r.Context(), customerID, domain.PaymentFilter{})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func (h *HTTPHandler) SearchCustomerPayments(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerId")
	if err := authorizeCustomer(r.Context(), customerID); err != nil {
		h.writeError(w, r, err)
		return
	}
	filter, err := queryFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	payments, err := h.payments.ListByCustomer(r.Context(), customerID, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func (h *HTTPHandler) ListAllPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.payments.ListAll(r.Context(), domain.PaymentFilter{})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func (h *HTTPHandler) SearchAllPayments(w http.ResponseWriter, r *http.Request) {
	filter, err := queryFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	payments, err := h.payments.ListAll(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func (h *HTTPHandler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	var req UpdatePaymentHTTPRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	payment, err := h.payments.UpdateStatus(r.Context(), chi.URLParam(r, "id"), domain.PaymentStatus(req.Status))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (h *HTTPHandler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	if err := h.payments.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Payment deleted"})
}

// ServeSlip serves stored payment slips by file name. Directory listings are not exposed.
func (h *HTTPHandler) ServeSlip(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")
	if name == "" || strings.HasSuffix(name, "/") {
		http.NotFound(w, r)
		return
	}
	http.StripPrefix(blob.URLPrefix, http.FileServer(http.Dir(h.slipDir))).ServeHTTP(w, r)
}

func queryFilter(r *http.Request) (domain.PaymentFilter, error) {
	q := r.URL.Query()
	return domain.NewPaymentFilter("", q.Get("status"), q.Get("date"))
}

func (h *HTTPHandler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrInvalidArgument)
	}
	return h.check(dst)
}

func (h *HTTPHandler) check(v any) error {
	err := h.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, strings.Join(msgs, "; "))
}

func (h *HTTPHandler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		h.metrics.ObserveRequest(route, status, elapsed)
		h.logger.Info("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("duration", elapsed),
		)
	})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	h.writeErrorStatus(w, r, httpStatus(err), err)
}

func (h *HTTPHandler) writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, errorBody(err))
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

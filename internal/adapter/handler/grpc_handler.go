package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/fish-market/internal/core/domain"
	"github.com/rl1809/fish-market/internal/core/service"
)

const MarketplaceServiceName = "fishmarket.v1.Marketplace"

// jsonCodec carries plain Go structs. Clients select it with
// grpc.CallContentSubtype(JSONCodecName).
type jsonCodec struct{}

const JSONCodecName = "json"

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return JSONCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type AddItemRequest struct {
	CustomerID string `json:"customerId"`
	ProductID  string `json:"productId"`
	Quantity   int    `json:"quantity"`
}

type GetCartRequest struct {
	CustomerID string `json:"customerId"`
}

type CheckoutRequest struct {
	CustomerID     string `json:"customerId"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
	SlipFilename   string `json:"slipFilename"`
	SlipType       string `json:"slipType"`
	Slip           []byte `json:"slip"`
}

type ListPaymentsRequest struct {
	// empty CustomerID lists every customer and requires the admin role
	CustomerID string `json:"customerId,omitempty"`
	Status     string `json:"status,omitempty"`
	Date       string `json:"date,omitempty"`
}

type CartResponse struct {
	Cart *domain.Cart `json:"cart"`
}

type CartViewResponse struct {
	Cart *domain.CartView `json:"cart"`
}

type PaymentResponse struct {
	Payment *domain.PaymentRecord `json:"payment"`
}

type ListPaymentsResponse struct {
	Payments []domain.PaymentRecord `json:"payments"`
}

type MarketplaceServer interface {
	AddItem(context.Context, *AddItemRequest) (*CartResponse, error)
	GetCart(context.Context, *GetCartRequest) (*CartViewResponse, error)
	Checkout(context.Context, *CheckoutRequest) (*PaymentResponse, error)
	ListPayments(context.Context, *ListPaymentsRequest) (*ListPaymentsResponse, error)
}

func unaryMethod[Req, Resp any](name string, call func(MarketplaceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + MarketplaceServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(MarketplaceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(MarketplaceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var MarketplaceServiceDesc = grpc.ServiceDesc{
	ServiceName: MarketplaceServiceName,
	HandlerType: (*MarketplaceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("AddItem", MarketplaceServer.AddItem),
		unaryMethod("GetCart", MarketplaceServer.GetCart),
		unaryMethod("Checkout", MarketplaceServer.Checkout),
		unaryMethod("ListPayments", MarketplaceServer.ListPayments),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fishmarket/v1/marketplace",
}

func RegisterMarketplaceServer(s grpc.ServiceRegistrar, srv MarketplaceServer) {
	s.RegisterService(&MarketplaceServiceDesc, srv)
}

type GRPCHandler struct {
	carts    *service.CartService
	checkout *service.CheckoutService
	payments *service.PaymentService
	logger   *zap.Logger
}

func NewGRPCHandler(carts *service.CartService, checkout *service.CheckoutService, payments *service.PaymentService, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{carts: carts, checkout: checkout, payments: payments, logger: logger}
}

func (h *GRPCHandler) AddItem(ctx context.Context, req *AddItemRequest) (*CartResponse, error) {
	if err := authorizeCustomer(ctx, req.CustomerID); err != nil {
		return nil, h.toStatus(err)
	}
	cart, err := h.carts.AddItem(ctx, req.CustomerID, req.ProductID, req.Quantity)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return &CartResponse{Cart: cart}, nil
}

func (h *GRPCHandler) GetCart(ctx context.Context, req *GetCartRequest) (*CartViewResponse, error) {
	if err := authorizeCustomer(ctx, req.CustomerID); err != nil {
		return nil, h.toStatus(err)
	}
	view, err := h.carts.GetCart(ctx, req.CustomerID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return &CartViewResponse{Cart: view}, nil
}

func (h *GRPCHandler) Checkout(ctx context.Context, req *CheckoutRequest) (*PaymentResponse, error) {
	if err := authorizeCustomer(ctx, req.CustomerID); err != nil {
		return nil, h.toStatus(err)
	}
	in := service.CheckoutRequest{
		CustomerID:     req.CustomerID,
		IdempotencyKey: req.IdempotencyKey,
	}
	if len(req.Slip) > 0 {
		in.Slip = &domain.SlipUpload{
			Filename:    req.SlipFilename,
			ContentType: req.SlipType,
			Size:        int64(len(req.Slip)),
			Body:        bytes.NewReader(req.Slip),
		}
	}
	payment, err := h.checkout.Checkout(ctx, in)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return &PaymentResponse{Payment: payment}, nil
}

func (h *GRPCHandler) ListPayments(ctx context.Context, req *ListPaymentsRequest) (*ListPaymentsResponse, error) {
	filter, err := domain.NewPaymentFilter("", req.Status, req.Date)
	if err != nil {
		return nil, h.toStatus(err)
	}

	var payments []domain.PaymentRecord
	if req.CustomerID == "" {
		if err := authorizeAdmin(ctx); err != nil {
			return nil, h.toStatus(err)
		}
		payments, err = h.payments.ListAll(ctx, filter)
	} else {
		if err := authorizeCustomer(ctx, req.CustomerID); err != nil {
			return nil, h.toStatus(err)
		}
		payments, err = h.payments.ListByCustomer(ctx, req.CustomerID, filter)
	}
	if err != nil {
		return nil, h.toStatus(err)
	}
	return &ListPaymentsResponse{Payments: payments}, nil
}

func (h *GRPCHandler) toStatus(err error) error {
	code := grpcCode(err)
	if domain.KindOf(err) == domain.KindInternal {
		h.logger.Error("grpc request failed", zap.Error(err))
	}
	return status.Error(code, domain.PublicMessage(err))
}

// AuthInterceptor verifies the bearer token in the authorization metadata.
func AuthInterceptor(verifier *TokenVerifier) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 {
			return nil, status.Error(grpcCode(domain.ErrUnauthorized), "missing bearer token")
		}
		token, err := bearerToken(values[0])
		if err != nil {
			return nil, status.Error(grpcCode(err), err.Error())
		}
		p, err := verifier.Verify(token)
		if err != nil {
			return nil, status.Error(grpcCode(err), domain.ErrUnauthorized.Error())
		}
		return handler(withPrincipal(ctx, p), req)
	}
}

// MarketplaceClient is a thin client over the JSON codec.
type MarketplaceClient struct {
	cc grpc.ClientConnInterface
}

func NewMarketplaceClient(cc grpc.ClientConnInterface) *MarketplaceClient {
	return &MarketplaceClient{cc: cc}
}

func (c *MarketplaceClient) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
	return c.cc.Invoke(ctx, fmt.Sprintf("/%s/%s", MarketplaceServiceName, method), in, out, opts...)
}

func (c *MarketplaceClient) AddItem(ctx context.Context, in *AddItemRequest, opts ...grpc.CallOption) (*CartResponse, error) {
	out := new(CartResponse)
	if err := c.invoke(ctx, "AddItem", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MarketplaceClient) GetCart(ctx context.Context, in *GetCartRequest, opts ...grpc.CallOption) (*CartViewResponse, error) {
	out := new(CartViewResponse)
	if err := c.invoke(ctx, "GetCart", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MarketplaceClient) Checkout(ctx context.Context, in *CheckoutRequest, opts ...grpc.CallOption) (*PaymentResponse, error) {
	out := new(PaymentResponse)
	if err := c.invoke(ctx, "Checkout", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MarketplaceClient) ListPayments(ctx context.Context, in *ListPaymentsRequest, opts ...grpc.CallOption) (*ListPaymentsResponse, error) {
	out := new(ListPaymentsResponse)
	if err := c.invoke(ctx, "ListPayments", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

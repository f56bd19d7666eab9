package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/harinnig/heymateBackend/internal/model"
)

// Verification is a successful payment check.
type Verification struct {
	Reference string
	Amount    float64
}

// Gate confirms out-of-band payments for a request before activation.
type Gate interface {
	// CreateOrder opens a payment order for the request's final amount.
	CreateOrder(ctx context.Context, requestID string, amount float64, method model.PaymentMethod) (Order, error)

	// Verify checks a payment reference against the pending order.
	// Failures wrap model.ErrPayment.
	Verify(ctx context.Context, requestID, paymentRef string) (Verification, error)
}

const orderTTL = 30 * time.Minute

// GatewayGate verifies gateway payments by HMAC signature, the way the
// gateway signs its checkout callbacks: signature = HMAC-SHA256(secret,
// orderID|paymentID). The paymentRef wire format is
// "orderID|paymentID|signature".
type GatewayGate struct {
	keySecret string
	orders    OrderStore
}

func NewGatewayGate(keySecret string, orders OrderStore) *GatewayGate {
	return &GatewayGate{keySecret: keySecret, orders: orders}
}

func (g *GatewayGate) CreateOrder(ctx context.Context, requestID string, amount float64, method model.PaymentMethod) (Order, error) {
	if decimal.NewFromFloat(amount).LessThanOrEqual(decimal.Zero) {
		return Order{}, fmt.Errorf("%w: order amount must be positive", model.ErrPayment)
	}

	now := time.Now().UTC()
	order := Order{
		OrderID:   "order_" + uuid.NewString(),
		RequestID: requestID,
		Amount:    amount,
		Method:    method,
		CreatedAt: now,
		ExpiresAt: now.Add(orderTTL),
	}
	if err := g.orders.Put(ctx, order); err != nil {
		return Order{}, fmt.Errorf("store order: %w", err)
	}
	return order, nil
}

func (g *GatewayGate) Verify(ctx context.Context, requestID, paymentRef string) (Verification, error) {
	parts := strings.SplitN(paymentRef, "|", 3)
	if len(parts) != 3 {
		return Verification{}, fmt.Errorf("%w: malformed payment reference", model.ErrPayment)
	}
	orderID, paymentID, signature := parts[0], parts[1], parts[2]

	order, err := g.orders.GetActive(ctx, requestID)
	if err != nil {
		return Verification{}, fmt.Errorf("%w: no active payment order", model.ErrPayment)
	}
	if order.OrderID != orderID {
		return Verification{}, fmt.Errorf("%w: order mismatch", model.ErrPayment)
	}

	mac := hmac.New(sha256.New, []byte(g.keySecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return Verification{}, fmt.Errorf("%w: invalid signature", model.ErrPayment)
	}

	return Verification{Reference: paymentID, Amount: order.Amount}, nil
}

// CashReference is the synthetic reference recorded when a request
// activates on an agreed cash settlement without a gateway order.
func CashReference() string {
	return fmt.Sprintf("CASH_%d", time.Now().UnixMilli())
}

// CashGate handles non-monetary settlement: nothing to verify, a
// synthetic reference records that cash was agreed.
type CashGate struct{}

func NewCashGate() *CashGate { return &CashGate{} }

func (g *CashGate) CreateOrder(ctx context.Context, requestID string, amount float64, method model.PaymentMethod) (Order, error) {
	now := time.Now().UTC()
	return Order{
		OrderID:   fmt.Sprintf("CASH_PENDING_%d", now.UnixMilli()),
		RequestID: requestID,
		Amount:    amount,
		Method:    model.MethodCash,
		CreatedAt: now,
		ExpiresAt: now.Add(orderTTL),
	}, nil
}

func (g *CashGate) Verify(ctx context.Context, requestID, paymentRef string) (Verification, error) {
	ref := paymentRef
	if ref == "" {
		ref = fmt.Sprintf("MANUAL_%d", time.Now().UnixMilli())
	}
	return Verification{Reference: ref}, nil
}

package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide maps free-form input to a Side, failing on anything else.
func ParseSide(value string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "BUY", "B":
		return SideBuy, nil
	case "SELL", "S":
		return SideSell, nil
	default:
		return "", Ef(KindValidation, "parse_side", "unknown side %q", value)
	}
}

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// ParseOrderType maps free-form input to an OrderType.
func ParseOrderType(value string) (OrderType, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "LIMIT", "L":
		return OrderTypeLimit, nil
	case "MARKET", "M", "MARKET_TO_LIMIT":
		return OrderTypeMarket, nil
	default:
		return "", Ef(KindValidation, "parse_order_type", "unknown order type %q", value)
	}
}

// TimeInForce is the validity window of an order.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
)

// ParseTimeInForce maps free-form input to a TimeInForce.
func ParseTimeInForce(value string) (TimeInForce, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "", "DAY":
		return TIFDay, nil
	case "IOC", "IMMEDIATE_OR_CANCEL":
		return TIFIOC, nil
	case "FOK", "FILL_OR_KILL":
		return TIFFOK, nil
	default:
		return "", Ef(KindValidation, "parse_tif", "unknown time in force %q", value)
	}
}

// OrderStatus is the lifecycle state reported by the broker.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPendingNew      OrderStatus = "PENDING_NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether the order can no longer change.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// OrderLeg is one side of a two-leg MEP operation as previewed. DisplayPrice
// is in human scale, BrokerPrice in the venue's raw scale (bonds x100).
type OrderLeg struct {
	Symbol       string
	Settlement   Settlement
	Side         Side
	Quantity     int64
	DisplayPrice decimal.Decimal
	BrokerPrice  decimal.Decimal
	Notional     decimal.Decimal
}

// OrderRequest is what gets handed to the broker channel.
type OrderRequest struct {
	Ticker      string
	Side        Side
	Type        OrderType
	TimeInForce TimeInForce
	Quantity    int64
	Price       decimal.Decimal
}

// OrderAck is the broker's synchronous response to a new order.
type OrderAck struct {
	ClientOrderID string
	ProprietaryID string
	Status        OrderStatus
	PlacedAt      time.Time
}

// OrderUpdate is an asynchronous execution report from the push feed.
type OrderUpdate struct {
	ClientOrderID string
	Ticker        string
	Side          Side
	Status        OrderStatus
	FilledQty     int64
	LeavesQty     int64
	AvgPrice      decimal.Decimal
	Text          string
	ReceivedAt    time.Time
}

// MepPreview is the full calculation shown before executing a MEP operation.
type MepPreview struct {
	Operation     string
	PesoLeg       OrderLeg
	DollarLeg     OrderLeg
	Rate          decimal.Decimal
	RequestedUSD  decimal.Decimal
	EffectiveUSD  decimal.Decimal
	Commission    decimal.Decimal
	TotalPesos    decimal.Decimal
	DeviationPct  decimal.Decimal
	HighDeviation bool
	QuotedAt      time.Time
}

// MepExecution is the outcome of sending both legs.
type MepExecution struct {
	Preview    MepPreview
	FirstLeg   OrderAck
	SecondLeg  OrderAck
	Partial    bool
	ExecutedAt time.Time
}

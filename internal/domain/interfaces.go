package domain

import (
	"context"
	"time"
)

// Environment selects the broker backend.
type Environment string

const (
	EnvRemarkets Environment = "remarkets"
	EnvLive      Environment = "live"
)

// Credentials authenticate one tenant against the broker.
type Credentials struct {
	User     string
	Password string
	Account  string
	Env      Environment
}

// Token is an authenticated broker token with its server-side expiry.
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Instrument describes one tradable instrument from the broker catalog.
type Instrument struct {
	Ticker   string
	Market   string
	CFICode  string
	Currency string
}

// BrokerChannel is the synchronous side of the broker: auth, catalog, REST
// market data and order entry. Implementations return *Error with the right
// Kind, callers never inspect message text.
type BrokerChannel interface {
	Authenticate(ctx context.Context, creds Credentials) (Token, error)
	Instruments(ctx context.Context, token Token) ([]Instrument, error)
	Snapshot(ctx context.Context, token Token, ticker string, depth int) (Quote, error)
	SendOrder(ctx context.Context, token Token, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, token Token, clientOrderID string) error
	OrderStatus(ctx context.Context, token Token, clientOrderID string) (OrderUpdate, error)
}

// PushHandlers receive asynchronous deliveries from the push feed.
type PushHandlers struct {
	OnQuote func(Quote)
	OnOrder func(OrderUpdate)
	OnError func(error)
}

// PushChannel is the websocket side of the broker. Subscribe is additive;
// Close tears down the connection and stops delivery.
type PushChannel interface {
	Start(ctx context.Context, token Token, handlers PushHandlers) error
	Subscribe(tickers []string) error
	SubscribeOrders(account string) error
	Close() error
}

// PushDialer opens a fresh push channel for one tenant. The quote
// orchestrator re-dials through this after a failed fallback poll.
type PushDialer interface {
	DialPush(env Environment) PushChannel
}

// Clock abstracts time for TTL caches so expiry is testable.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock is the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

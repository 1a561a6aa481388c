package primary

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"mep_go/internal/domain"
	"mep_go/internal/infra"
)

const (
	WSURLRemarkets = "wss://api.remarkets.primary.com.ar/"
	WSURLLive      = "wss://api.primary.com.ar/"

	handshakeTimeout = 10 * time.Second
	readTimeout      = 60 * time.Second
)

// Feed is one websocket connection to the venue's push channel. It
// implements domain.PushChannel. The feed does not reconnect on its own;
// the quote orchestrator decides when a dead feed is worth re-dialing.
type Feed struct {
	wsURL     string
	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	handlers  domain.PushHandlers
	logger    *slog.Logger
}

// NewFeed creates a push feed for the given websocket URL. An empty URL
// selects the remarkets sandbox host.
func NewFeed(wsURL string) *Feed {
	if wsURL == "" {
		wsURL = WSURLRemarkets
	}
	return &Feed{
		wsURL:  wsURL,
		logger: slog.Default().With("module", "primary_feed"),
	}
}

// WSURLFor returns the default push host for an environment.
func WSURLFor(env domain.Environment) string {
	if env == domain.EnvLive {
		return WSURLLive
	}
	return WSURLRemarkets
}

// Dialer opens fresh feeds, one per tenant connection. Implements
// domain.PushDialer.
type Dialer struct {
	WSURL string
}

// DialPush returns an unstarted feed for the environment.
func (d Dialer) DialPush(env domain.Environment) domain.PushChannel {
	wsURL := d.WSURL
	if wsURL == "" {
		wsURL = WSURLFor(env)
	}
	return NewFeed(wsURL)
}

// Start dials the venue and begins delivering messages to the handlers.
// The token authenticates the connection through the X-Auth-Token header.
func (f *Feed) Start(ctx context.Context, token domain.Token, handlers domain.PushHandlers) error {
	ctx, f.cancel = context.WithCancel(ctx)
	f.handlers = handlers

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	header := make(http.Header)
	header.Set("X-Auth-Token", token.Value)

	conn, _, err := dialer.DialContext(ctx, f.wsURL, header)
	if err != nil {
		return domain.E(domain.KindConnectivity, "push_start", "dial failed", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.connected = true
	f.mu.Unlock()

	infra.GlobalMetrics.IncrementPushFeeds()
	f.logger.Info("push feed connected", "url", f.wsURL)

	f.wg.Add(1)
	go f.readLoop(ctx)
	return nil
}

// Subscribe adds level-1 market data subscriptions for the given tickers.
func (f *Feed) Subscribe(tickers []string) error {
	products := make([]wsProduct, len(tickers))
	for i, t := range tickers {
		products[i] = wsProduct{Symbol: t, MarketID: marketID}
	}
	msg := wsSubscribeMD{
		Type:     "smd",
		Level:    1,
		Depth:    1,
		Entries:  []string{"BI", "OF", "LA"},
		Products: products,
	}
	b, _ := json.Marshal(msg)
	if err := f.threadSafeWrite(websocket.TextMessage, b); err != nil {
		return domain.E(domain.KindConnectivity, "push_subscribe", "write failed", err)
	}
	return nil
}

// SubscribeOrders requests execution reports for an account.
func (f *Feed) SubscribeOrders(account string) error {
	var msg wsSubscribeOrders
	msg.Type = "os"
	msg.Account.ID = account
	msg.SnapshotOnlyActive = true

	b, _ := json.Marshal(msg)
	if err := f.threadSafeWrite(websocket.TextMessage, b); err != nil {
		return domain.E(domain.KindConnectivity, "push_subscribe_orders", "write failed", err)
	}
	return nil
}

func (f *Feed) threadSafeWrite(msgType int, data []byte) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.conn == nil {
		return fmt.Errorf("no conn")
	}
	return f.conn.WriteMessage(msgType, data)
}

func (f *Feed) readLoop(ctx context.Context) {
	defer f.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()
		if conn == nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, msg, err := conn.ReadMessage()
		if err != nil {
			f.closeConnection()
			if ctx.Err() == nil && f.handlers.OnError != nil {
				f.handlers.OnError(domain.E(domain.KindConnectivity, "push_read", "connection lost", err))
			}
			return
		}
		f.handleMessage(msg)
	}
}

func (f *Feed) handleMessage(msg []byte) {
	var in wsInbound
	if json.Unmarshal(msg, &in) != nil {
		return
	}

	switch strings.ToLower(in.Type) {
	case "md":
		if f.handlers.OnQuote == nil {
			return
		}
		quote := toQuote(in.InstrumentID.Symbol, in.MarketData)
		quote.Source = domain.SourcePush
		f.handlers.OnQuote(quote)

	case "or":
		if f.handlers.OnOrder == nil {
			return
		}
		side, _ := domain.ParseSide(in.OrderReport.Side)
		f.handlers.OnOrder(domain.OrderUpdate{
			ClientOrderID: in.OrderReport.ClientOrderID,
			Ticker:        in.OrderReport.InstrumentID.Symbol,
			Side:          side,
			Status:        domain.OrderStatus(strings.ToUpper(in.OrderReport.Status)),
			FilledQty:     int64(in.OrderReport.CumQty),
			LeavesQty:     int64(in.OrderReport.LeavesQty),
			AvgPrice:      decimal.NewFromFloat(in.OrderReport.AvgPx),
			Text:          in.OrderReport.Text,
			ReceivedAt:    time.Now(),
		})

	case "error":
		if f.handlers.OnError != nil {
			f.handlers.OnError(domain.E(domain.KindDataUnavailable, "push", in.Description, nil))
		}
	}
}

func (f *Feed) closeConnection() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
		infra.GlobalMetrics.DecrementPushFeeds()
	}
	f.connected = false
}

// Close tears the feed down and waits for the read loop to exit.
func (f *Feed) Close() error {
	if f.cancel != nil {
		f.cancel()
	}
	f.closeConnection()
	f.wg.Wait()
	return nil
}

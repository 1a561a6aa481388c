package primary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"mep_go/internal/domain"
)

// Default API hosts per environment.
const (
	BaseURLRemarkets = "https://api.remarkets.primary.com.ar"
	BaseURLLive      = "https://api.primary.com.ar"

	marketID = "ROFX"
	tokenTTL = 8 * time.Hour
)

// Client is the Primary REST API client (boundary layer). It implements
// domain.BrokerChannel and maps every transport failure to a domain error
// kind so callers never look at message text.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a REST client for the given base URL. An empty baseURL
// selects the remarkets sandbox host.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = BaseURLRemarkets
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		logger: slog.Default().With("module", "primary_client"),
	}
}

// Authenticate exchanges credentials for a token. The venue returns the
// token in the X-Auth-Token response header.
func (c *Client) Authenticate(ctx context.Context, creds domain.Credentials) (domain.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/getToken", nil)
	if err != nil {
		return domain.Token{}, domain.E(domain.KindUnknown, "authenticate", "build request", err)
	}
	req.Header.Set("X-Username", creds.User)
	req.Header.Set("X-Password", creds.Password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Token{}, connectivityErr("authenticate", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return domain.Token{}, domain.E(domain.KindCredential, "authenticate", "invalid user or password", nil)
	case http.StatusForbidden:
		return domain.Token{}, domain.E(domain.KindAuthorization, "authenticate", "account not authorized", nil)
	default:
		return domain.Token{}, domain.Ef(domain.KindUnknown, "authenticate", "unexpected status %d", resp.StatusCode)
	}

	token := resp.Header.Get("X-Auth-Token")
	if token == "" {
		return domain.Token{}, domain.E(domain.KindCredential, "authenticate", "no token in response", nil)
	}

	now := time.Now()
	c.logger.Info("authenticated", "user", creds.User, "env", string(creds.Env))
	return domain.Token{Value: token, IssuedAt: now, ExpiresAt: now.Add(tokenTTL)}, nil
}

// Instruments fetches the full tradable catalog.
func (c *Client) Instruments(ctx context.Context, token domain.Token) ([]domain.Instrument, error) {
	var out instrumentsResponse
	if err := c.getJSON(ctx, token, "/rest/instruments/details", nil, &out); err != nil {
		return nil, err
	}
	if err := out.apiStatus.check("instruments"); err != nil {
		return nil, err
	}

	instruments := make([]domain.Instrument, 0, len(out.Instruments))
	for _, in := range out.Instruments {
		instruments = append(instruments, domain.Instrument{
			Ticker:   in.InstrumentID.Symbol,
			Market:   in.InstrumentID.MarketID,
			CFICode:  in.CFICode,
			Currency: in.Currency,
		})
	}
	return instruments, nil
}

// Snapshot fetches best bid/offer, last, day stats and a book window of
// the given depth for one ticker.
func (c *Client) Snapshot(ctx context.Context, token domain.Token, ticker string, depth int) (domain.Quote, error) {
	if depth < 1 {
		depth = 1
	}
	query := url.Values{
		"marketId": {marketID},
		"symbol":   {ticker},
		"entries":  {"BI,OF,LA,HI,LO,TV"},
		"depth":    {fmt.Sprintf("%d", depth)},
	}

	var out marketDataResponse
	if err := c.getJSON(ctx, token, "/rest/marketdata/get", query, &out); err != nil {
		return domain.Quote{}, err
	}
	if err := out.apiStatus.check("snapshot"); err != nil {
		return domain.Quote{}, err
	}

	quote := toQuote(ticker, out.MarketData)
	quote.Source = domain.SourceRest

	if quote.Bid.IsZero() && quote.Ask.IsZero() {
		return domain.Quote{}, domain.Ef(domain.KindDataUnavailable, "snapshot", "empty book for %s", ticker)
	}
	return quote, nil
}

// toQuote maps a raw market-data payload to a domain quote. Shared between
// the REST snapshot and the push feed.
func toQuote(ticker string, md marketDataPayload) domain.Quote {
	quote := domain.Quote{
		Symbol:     ticker,
		ReceivedAt: time.Now(),
	}
	if len(md.Bids) > 0 {
		quote.Bid = toLevel(md.Bids[0])
		for _, e := range md.Bids {
			quote.BidDepth = append(quote.BidDepth, toLevel(e))
		}
	}
	if len(md.Offers) > 0 {
		quote.Ask = toLevel(md.Offers[0])
		for _, e := range md.Offers {
			quote.AskDepth = append(quote.AskDepth, toLevel(e))
		}
	}
	if md.Last != nil {
		quote.Last = decimal.NewFromFloat(md.Last.Price)
	}
	if md.High != nil {
		quote.High = decimal.NewFromFloat(*md.High)
	}
	if md.Low != nil {
		quote.Low = decimal.NewFromFloat(*md.Low)
	}
	if md.Volume != nil {
		quote.Volume = decimal.NewFromFloat(md.Volume.Size)
	}
	return quote
}

// SendOrder submits a new single order.
func (c *Client) SendOrder(ctx context.Context, token domain.Token, req domain.OrderRequest) (domain.OrderAck, error) {
	query := url.Values{
		"marketId":    {marketID},
		"symbol":      {req.Ticker},
		"orderQty":    {fmt.Sprintf("%d", req.Quantity)},
		"ordType":     {string(req.Type)},
		"side":        {string(req.Side)},
		"timeInForce": {string(req.TimeInForce)},
	}
	if req.Type == domain.OrderTypeLimit {
		query.Set("price", req.Price.String())
	}

	var out orderResponse
	if err := c.getJSON(ctx, token, "/rest/order/newSingleOrder", query, &out); err != nil {
		return domain.OrderAck{}, err
	}
	if err := out.apiStatus.check("send_order"); err != nil {
		return domain.OrderAck{}, err
	}

	c.logger.Info("order accepted",
		"symbol", req.Ticker, "side", string(req.Side), "qty", req.Quantity)
	return domain.OrderAck{
		ClientOrderID: out.Order.ClientID,
		ProprietaryID: out.Order.Proprietary,
		Status:        domain.StatusPendingNew,
		PlacedAt:      time.Now(),
	}, nil
}

// CancelOrder requests cancellation of a working order by client order id.
func (c *Client) CancelOrder(ctx context.Context, token domain.Token, clientOrderID string) error {
	query := url.Values{"clOrdId": {clientOrderID}}

	var out orderResponse
	if err := c.getJSON(ctx, token, "/rest/order/cancelById", query, &out); err != nil {
		return err
	}
	if err := out.apiStatus.check("cancel_order"); err != nil {
		return err
	}

	c.logger.Info("order cancel requested", "clOrdId", clientOrderID)
	return nil
}

// OrderStatus fetches the current state of an order by client order id.
func (c *Client) OrderStatus(ctx context.Context, token domain.Token, clientOrderID string) (domain.OrderUpdate, error) {
	query := url.Values{"clOrdId": {clientOrderID}}

	var out orderStatusResponse
	if err := c.getJSON(ctx, token, "/rest/order/id", query, &out); err != nil {
		return domain.OrderUpdate{}, err
	}
	if err := out.apiStatus.check("order_status"); err != nil {
		return domain.OrderUpdate{}, err
	}

	side, _ := domain.ParseSide(out.Order.Side)
	return domain.OrderUpdate{
		ClientOrderID: out.Order.ClientOrderID,
		Ticker:        out.Order.InstrumentID.Symbol,
		Side:          side,
		Status:        domain.OrderStatus(strings.ToUpper(out.Order.Status)),
		FilledQty:     int64(out.Order.CumQty),
		LeavesQty:     int64(out.Order.LeavesQty),
		AvgPrice:      decimal.NewFromFloat(out.Order.AvgPx),
		Text:          out.Order.Text,
		ReceivedAt:    time.Now(),
	}, nil
}

func toLevel(e entry) domain.PriceLevel {
	return domain.PriceLevel{
		Price: decimal.NewFromFloat(e.Price),
		Size:  decimal.NewFromFloat(e.Size),
	}
}

// check maps the venue's in-body status field to a domain error.
func (s apiStatus) check(op string) error {
	if s.Status == "" || strings.EqualFold(s.Status, "OK") {
		return nil
	}
	msg := s.Description
	if msg == "" {
		msg = s.Message
	}
	return domain.E(domain.KindDataUnavailable, op, msg, nil)
}

// getJSON handles auth header, status mapping and decoding.
func (c *Client) getJSON(ctx context.Context, token domain.Token, path string, query url.Values, out interface{}) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return domain.E(domain.KindUnknown, path, "build request", err)
	}
	req.Header.Set("X-Auth-Token", token.Value)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return connectivityErr(path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return connectivityErr(path, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return domain.E(domain.KindCredential, path, "token rejected", nil)
	case http.StatusForbidden:
		return domain.E(domain.KindAuthorization, path, "not authorized", nil)
	default:
		return domain.Ef(domain.KindUnknown, path, "unexpected status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return domain.E(domain.KindUnknown, path, "decode response", err)
	}
	return nil
}

// connectivityErr classifies transport failures. Timeouts and network
// errors are retriable; everything else is unknown.
func connectivityErr(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return domain.E(domain.KindConnectivity, op, "request failed", err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return domain.E(domain.KindConnectivity, op, "request failed", err)
	}
	return domain.E(domain.KindUnknown, op, "request failed", err)
}

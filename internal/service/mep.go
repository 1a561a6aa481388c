package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"mep_go/internal/domain"
	"mep_go/internal/infra"
	"mep_go/internal/infra/storage"
)

const (
	// OperationBuy converts dollars to pesos: buy the dollar leg, sell
	// the peso leg.
	OperationBuy = "buy"
	// OperationSell converts pesos to dollars: buy the peso leg, sell
	// the dollar leg.
	OperationSell = "sell"

	ratePrecision = 2
)

var (
	defaultCommission = decimal.NewFromFloat(0.005)
	defaultDeviation  = decimal.NewFromFloat(0.10)
	hundred           = decimal.NewFromInt(100)
)

// MepService computes peso/dollar arbitrage rates from bond pairs, sizes
// balanced order pairs for a notional and submits both legs.
type MepService struct {
	quotes   *QuoteService
	sessions *SessionStore
	broker   domain.BrokerChannel
	registry *Registry
	journal  *storage.Journal
	clock    domain.Clock
	logger   *slog.Logger

	commission decimal.Decimal
	deviation  decimal.Decimal
}

// NewMepService wires the engine. journal may be nil when execution
// history is not persisted.
func NewMepService(quotes *QuoteService, sessions *SessionStore, broker domain.BrokerChannel, registry *Registry, journal *storage.Journal) *MepService {
	return &MepService{
		quotes:     quotes,
		sessions:   sessions,
		broker:     broker,
		registry:   registry,
		journal:    journal,
		clock:      domain.SystemClock,
		logger:     slog.Default().With("module", "mep"),
		commission: defaultCommission,
		deviation:  defaultDeviation,
	}
}

// SetFees overrides the per-leg commission and the deviation threshold.
func (m *MepService) SetFees(commission, deviation decimal.Decimal) {
	if commission.IsPositive() || commission.IsZero() {
		m.commission = commission
	}
	if deviation.IsPositive() {
		m.deviation = deviation
	}
}

// resolvePair validates eligibility and returns the two leg symbols.
func resolvePair(baseSymbol string) (pesoSymbol, dollarSymbol string, err error) {
	base := domain.Canonicalize(baseSymbol)
	if strings.HasSuffix(base, "D") && domain.MepCounterpart(base) != "" {
		base = domain.MepCounterpart(base)
	}
	dollar := domain.MepCounterpart(base)
	if dollar == "" {
		return "", "", domain.Ef(domain.KindValidation, "mep", "%s is not MEP eligible", baseSymbol)
	}
	return base, dollar, nil
}

// CalculateRate fetches both legs and derives the implied exchange rate.
// Missing any of the four prices is a hard failure, never a partial rate.
func (m *MepService) CalculateRate(ctx context.Context, tenant, baseSymbol string, settlement domain.Settlement) (domain.MepRate, error) {
	pesoSymbol, dollarSymbol, err := resolvePair(baseSymbol)
	if err != nil {
		return domain.MepRate{}, err
	}

	pair, err := m.quotes.FetchBondPair(ctx, tenant, pesoSymbol, dollarSymbol, settlement)
	if err != nil {
		return domain.MepRate{}, err
	}
	if !pair.Complete() {
		return domain.MepRate{}, domain.Ef(domain.KindDataUnavailable, "calculate_rate",
			"incomplete book for %s/%s@%s", pesoSymbol, dollarSymbol, settlement.Suffix())
	}

	buyRate := pair.Peso.Bid.Price.Div(pair.Dollar.Ask.Price).Round(ratePrecision)
	sellRate := pair.Peso.Ask.Price.Div(pair.Dollar.Bid.Price).Round(ratePrecision)
	spread := sellRate.Sub(buyRate)

	var spreadPct decimal.Decimal
	if !buyRate.IsZero() {
		spreadPct = spread.Div(buyRate).Mul(hundred).Round(ratePrecision)
	}

	return domain.MepRate{
		PesoSymbol:   pesoSymbol,
		DollarSymbol: dollarSymbol,
		Settlement:   settlement,
		BuyRate:      buyRate,
		SellRate:     sellRate,
		Spread:       spread,
		SpreadPct:    spreadPct,
		Pair:         pair,
		CalculatedAt: m.clock.Now(),
	}, nil
}

// PreviewBuy sizes a dollar-to-peso operation for a USD notional: the
// dollar leg is bought at its ask, the peso leg sold at its bid. Both legs
// share the nominal quantity by construction.
func (m *MepService) PreviewBuy(ctx context.Context, tenant string, usdAmount decimal.Decimal, baseSymbol string, settlement domain.Settlement) (domain.MepPreview, error) {
	return m.preview(ctx, tenant, OperationBuy, usdAmount, baseSymbol, settlement)
}

// PreviewSell sizes a peso-to-dollar operation: the peso leg is bought at
// its ask, the dollar leg sold at its bid.
func (m *MepService) PreviewSell(ctx context.Context, tenant string, usdAmount decimal.Decimal, baseSymbol string, settlement domain.Settlement) (domain.MepPreview, error) {
	return m.preview(ctx, tenant, OperationSell, usdAmount, baseSymbol, settlement)
}

func (m *MepService) preview(ctx context.Context, tenant, operation string, usdAmount decimal.Decimal, baseSymbol string, settlement domain.Settlement) (domain.MepPreview, error) {
	if !usdAmount.IsPositive() {
		return domain.MepPreview{}, domain.Ef(domain.KindValidation, "preview", "usd amount must be positive, got %s", usdAmount)
	}

	rate, err := m.CalculateRate(ctx, tenant, baseSymbol, settlement)
	if err != nil {
		return domain.MepPreview{}, err
	}

	var dollarPrice, pesoPrice decimal.Decimal
	var dollarSide, pesoSide domain.Side
	var opRate decimal.Decimal
	if operation == OperationBuy {
		dollarPrice = rate.Pair.Dollar.Ask.Price
		pesoPrice = rate.Pair.Peso.Bid.Price
		dollarSide = domain.SideBuy
		pesoSide = domain.SideSell
		opRate = rate.BuyRate
	} else {
		dollarPrice = rate.Pair.Dollar.Bid.Price
		pesoPrice = rate.Pair.Peso.Ask.Price
		dollarSide = domain.SideSell
		pesoSide = domain.SideBuy
		opRate = rate.SellRate
	}

	// Quantity derives from the dollar leg alone; the peso leg mirrors it.
	qty := usdAmount.Div(dollarPrice).Round(0).IntPart()
	if qty < 1 {
		qty = 1
	}
	qtyDec := decimal.NewFromInt(qty)

	dollarNotional := qtyDec.Mul(dollarPrice)
	pesoNotional := qtyDec.Mul(pesoPrice)
	commission := dollarNotional.Mul(m.commission).Add(pesoNotional.Mul(m.commission))

	// Realized notional can drift from the request on large unit prices.
	// Surface the deviation, never reject.
	deviationPct := dollarNotional.Sub(usdAmount).Div(usdAmount).Abs()
	high := deviationPct.GreaterThan(m.deviation)

	dollarSymbol := rate.DollarSymbol
	pesoSymbol := rate.PesoSymbol

	preview := domain.MepPreview{
		Operation: operation,
		PesoLeg: domain.OrderLeg{
			Symbol:       pesoSymbol,
			Settlement:   settlement,
			Side:         pesoSide,
			Quantity:     qty,
			DisplayPrice: pesoPrice,
			BrokerPrice:  m.quotes.symbols.ToBrokerPrice(pesoSymbol, pesoPrice),
			Notional:     pesoNotional,
		},
		DollarLeg: domain.OrderLeg{
			Symbol:       dollarSymbol,
			Settlement:   settlement,
			Side:         dollarSide,
			Quantity:     qty,
			DisplayPrice: dollarPrice,
			BrokerPrice:  m.quotes.symbols.ToBrokerPrice(dollarSymbol, dollarPrice),
			Notional:     dollarNotional,
		},
		Rate:          opRate,
		RequestedUSD:  usdAmount,
		EffectiveUSD:  dollarNotional,
		Commission:    commission,
		TotalPesos:    pesoNotional,
		DeviationPct:  deviationPct.Mul(hundred).Round(ratePrecision),
		HighDeviation: high,
		QuotedAt:      rate.CalculatedAt,
	}
	return preview, nil
}

// ValidatePair enforces the pair invariants: correct peso/dollar
// counterparts, equal sizes, strictly opposite sides, equal settlement.
func ValidatePair(legA, legB domain.OrderLeg) error {
	if legA.Quantity != legB.Quantity {
		return domain.Ef(domain.KindValidation, "validate_pair",
			"unequal sizes: %d vs %d", legA.Quantity, legB.Quantity)
	}
	if legA.Side == legB.Side {
		return domain.Ef(domain.KindValidation, "validate_pair",
			"both legs are %s, sides must be opposite", legA.Side)
	}
	if legA.Settlement != legB.Settlement {
		return domain.Ef(domain.KindValidation, "validate_pair",
			"mismatched settlement: %s vs %s", legA.Settlement.Suffix(), legB.Settlement.Suffix())
	}
	a := domain.Canonicalize(legA.Symbol)
	b := domain.Canonicalize(legB.Symbol)
	if domain.MepCounterpart(a) != b {
		return domain.Ef(domain.KindValidation, "validate_pair",
			"%s and %s are not a peso/dollar pair", legA.Symbol, legB.Symbol)
	}
	return nil
}

// SupportedPairs lists the tradable peso -> dollar bond pairs.
func (m *MepService) SupportedPairs() map[string]string {
	return domain.MepPairs()
}

// DetectOperation infers whether a validated leg pair is a buy or a sell
// operation from the side of its dollar-denominated leg. Pairs that fail
// validation are rejected with the validation error.
func DetectOperation(legA, legB domain.OrderLeg) (string, error) {
	if err := ValidatePair(legA, legB); err != nil {
		return "", err
	}
	dollar := legA
	if domain.IsDollarLeg(domain.Canonicalize(legB.Symbol)) {
		dollar = legB
	}
	if dollar.Side == domain.SideBuy {
		return OperationBuy, nil
	}
	return OperationSell, nil
}

// Execute submits both legs of a previewed pair as market orders. The
// preview's price fields are never sent; the venue fills at market. A
// failed second leg is reported as a partial execution with NO automatic
// reversal of the already-submitted first leg.
func (m *MepService) Execute(ctx context.Context, tenant string, preview domain.MepPreview) (domain.MepExecution, error) {
	if err := ValidatePair(preview.PesoLeg, preview.DollarLeg); err != nil {
		return domain.MepExecution{}, err
	}

	session, err := m.sessions.Get(tenant)
	if err != nil {
		return domain.MepExecution{}, err
	}

	first, second := preview.PesoLeg, preview.DollarLeg
	if preview.Operation == OperationBuy {
		// Buy the dollar leg before selling the peso leg.
		first, second = preview.DollarLeg, preview.PesoLeg
	}

	firstAck, err := m.submitLeg(ctx, session, first)
	if err != nil {
		return domain.MepExecution{}, err
	}

	execution := domain.MepExecution{
		Preview:    preview,
		FirstLeg:   firstAck,
		ExecutedAt: m.clock.Now(),
	}

	secondAck, err := m.submitLeg(ctx, session, second)
	if err != nil {
		execution.Partial = true
		infra.GlobalMetrics.RecordPartialFailure()
		m.record(tenant, execution)
		m.logger.Error("second leg failed, first leg NOT reversed",
			"tenant", tenant, "first_order", firstAck.ClientOrderID, "error", err)
		return execution, domain.E(domain.KindPartialExecution, "execute",
			"second leg ("+second.Symbol+") failed after first leg was submitted", err)
	}
	execution.SecondLeg = secondAck

	m.record(tenant, execution)
	m.logger.Info("pair executed",
		"tenant", tenant, "operation", preview.Operation,
		"first_order", firstAck.ClientOrderID, "second_order", secondAck.ClientOrderID)
	return execution, nil
}

// submitLeg sends one leg as a market order built from the pair's
// symbol/side/size only.
func (m *MepService) submitLeg(ctx context.Context, session *Session, leg domain.OrderLeg) (domain.OrderAck, error) {
	req := domain.OrderRequest{
		Ticker:      domain.InstrumentTicker(leg.Symbol, leg.Settlement),
		Side:        leg.Side,
		Type:        domain.OrderTypeMarket,
		TimeInForce: domain.TIFDay,
		Quantity:    leg.Quantity,
	}
	ack, err := m.broker.SendOrder(ctx, session.Token, req)
	if err != nil {
		return domain.OrderAck{}, err
	}
	infra.GlobalMetrics.RecordOrderPlaced()
	return ack, nil
}

func (m *MepService) record(tenant string, execution domain.MepExecution) {
	if m.journal == nil {
		return
	}
	rec := &domain.ExecutionRecord{
		Tenant:       tenant,
		Operation:    execution.Preview.Operation,
		PesoSymbol:   execution.Preview.PesoLeg.Symbol,
		DollarSymbol: execution.Preview.DollarLeg.Symbol,
		Settlement:   execution.Preview.PesoLeg.Settlement.Suffix(),
		Quantity:     execution.Preview.PesoLeg.Quantity,
		Rate:         execution.Preview.Rate.String(),
		RequestedUSD: execution.Preview.RequestedUSD.String(),
		TotalPesos:   execution.Preview.TotalPesos.String(),
		Commission:   execution.Preview.Commission.String(),
		FirstOrderID: execution.FirstLeg.ClientOrderID,
		Partial:      execution.Partial,
		ExecutedAt:   execution.ExecutedAt,
	}
	if !execution.Partial {
		rec.SecondOrderID = execution.SecondLeg.ClientOrderID
	}
	if err := m.journal.Record(rec); err != nil {
		m.logger.Warn("journal write failed", "error", err)
	}
}

// History returns the tenant's persisted executions, newest first.
func (m *MepService) History(tenant string, limit int) ([]domain.ExecutionRecord, error) {
	if m.journal == nil {
		return nil, nil
	}
	return m.journal.ByTenant(tenant, limit)
}

// CancelOrder asks the venue to cancel a working order for the tenant.
// Market legs fill too fast to cancel in practice; this covers resting
// limit orders placed outside the paired flow.
func (m *MepService) CancelOrder(ctx context.Context, tenant, clientOrderID string) error {
	session, err := m.sessions.Get(tenant)
	if err != nil {
		return err
	}
	if err := m.broker.CancelOrder(ctx, session.Token, clientOrderID); err != nil {
		return err
	}
	m.logger.Info("order cancel submitted", "tenant", tenant, "clOrdId", clientOrderID)
	return nil
}

// OrderUpdates returns the tenant's recent execution reports from the
// push feed, oldest first.
func (m *MepService) OrderUpdates(tenant string) []domain.OrderUpdate {
	conn, ok := m.registry.Lookup(tenant)
	if !ok {
		return nil
	}
	return conn.OrderUpdates()
}

package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"mep_go/internal/domain"
)

// mepHarness serves the canonical AL30/AL30D book over REST:
// peso bid=855.8 ask=857.0, dollar bid=835.0 ask=840.0 in display scale.
func mepHarness(t *testing.T) (*quoteHarness, *MepService) {
	t.Helper()
	h := newQuoteHarness(t)
	h.broker.snapFn = func(ticker string) (domain.Quote, error) {
		switch ticker {
		case pesoTicker:
			return rawQuote(ticker, 85580, 85700), nil
		case dollarTicker:
			return rawQuote(ticker, 83500, 84000), nil
		}
		return domain.Quote{}, domain.Ef(domain.KindDataUnavailable, "snapshot", "no data for %s", ticker)
	}
	mep := NewMepService(h.quotes, h.sessions, h.broker, h.registry, nil)
	mep.clock = h.clock
	return h, mep
}

func TestMepService_CalculateRate(t *testing.T) {
	_, mep := mepHarness(t)

	rate, err := mep.CalculateRate(context.Background(), "t1", "AL30", domain.SettlementCI)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// buy = 855.8/840.0, sell = 857.0/835.0, both rounded to 2 decimals.
	if !rate.BuyRate.Equal(dec(1.02)) {
		t.Errorf("Expected buy rate 1.02, got %s", rate.BuyRate)
	}
	if !rate.SellRate.Equal(dec(1.03)) {
		t.Errorf("Expected sell rate 1.03, got %s", rate.SellRate)
	}
	if !rate.Spread.Equal(dec(0.01)) {
		t.Errorf("Expected spread 0.01, got %s", rate.Spread)
	}
	if !rate.SpreadPct.Equal(dec(0.98)) {
		t.Errorf("Expected spread pct 0.98, got %s", rate.SpreadPct)
	}
	if rate.PesoSymbol != "AL30" || rate.DollarSymbol != "AL30D" {
		t.Errorf("Unexpected pair %s/%s", rate.PesoSymbol, rate.DollarSymbol)
	}
}

func TestMepService_CalculateRate_DollarLegInput(t *testing.T) {
	_, mep := mepHarness(t)

	// Asking for the dollar leg resolves the same pair.
	rate, err := mep.CalculateRate(context.Background(), "t1", "AL30D", domain.SettlementCI)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if rate.PesoSymbol != "AL30" {
		t.Errorf("Expected peso leg AL30, got %s", rate.PesoSymbol)
	}
}

func TestMepService_CalculateRate_NotEligible(t *testing.T) {
	_, mep := mepHarness(t)

	_, err := mep.CalculateRate(context.Background(), "t1", "GGAL", domain.SettlementCI)
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("Expected validation error, got %v", err)
	}
}

func TestMepService_CalculateRate_MissingPriceHardFails(t *testing.T) {
	h, mep := mepHarness(t)
	h.broker.snapFn = func(ticker string) (domain.Quote, error) {
		if ticker == dollarTicker {
			// One-sided book: ask only.
			return domain.Quote{Symbol: ticker, Ask: level(84000, 10)}, nil
		}
		return rawQuote(ticker, 85580, 85700), nil
	}
	h.dialer.feeds = []*fakePush{{}}

	_, err := mep.CalculateRate(context.Background(), "t1", "AL30", domain.SettlementCI)
	if err == nil {
		t.Fatal("A missing price must be a hard failure, never a partial rate")
	}
}

func TestMepService_PreviewBuy(t *testing.T) {
	h, mep := mepHarness(t)
	// dollar ask = 100 in display scale
	h.broker.snapFn = func(ticker string) (domain.Quote, error) {
		if ticker == dollarTicker {
			return rawQuote(ticker, 9950, 10000), nil
		}
		return rawQuote(ticker, 85580, 85700), nil
	}

	preview, err := mep.PreviewBuy(context.Background(), "t1", dec(1000), "AL30", domain.SettlementCI)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// qty derives from the dollar leg alone: round(1000/100) = 10.
	if preview.DollarLeg.Quantity != 10 || preview.PesoLeg.Quantity != 10 {
		t.Fatalf("Expected qty 10/10, got %d/%d", preview.DollarLeg.Quantity, preview.PesoLeg.Quantity)
	}
	if preview.DollarLeg.Side != domain.SideBuy || preview.PesoLeg.Side != domain.SideSell {
		t.Errorf("Buy operation: dollar leg buys, peso leg sells; got %s/%s",
			preview.DollarLeg.Side, preview.PesoLeg.Side)
	}
	if !preview.EffectiveUSD.Equal(dec(1000)) {
		t.Errorf("Expected effective USD 1000, got %s", preview.EffectiveUSD)
	}
	if preview.HighDeviation {
		t.Error("Exact fill should not flag a deviation")
	}
	// 0.5% of each leg's notional.
	wantCommission := dec(1000).Mul(dec(0.005)).Add(preview.PesoLeg.Notional.Mul(dec(0.005)))
	if !preview.Commission.Equal(wantCommission) {
		t.Errorf("Expected commission %s, got %s", wantCommission, preview.Commission)
	}
	// Broker price is the display price times 100 for bonds.
	if !preview.DollarLeg.BrokerPrice.Equal(dec(10000)) {
		t.Errorf("Expected broker price 10000, got %s", preview.DollarLeg.BrokerPrice)
	}
}

func TestMepService_PreviewSell(t *testing.T) {
	_, mep := mepHarness(t)

	preview, err := mep.PreviewSell(context.Background(), "t1", dec(5000), "AL30", domain.SettlementCI)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// Sell uses the dollar bid: round(5000/835) = 6.
	if preview.DollarLeg.Quantity != 6 {
		t.Fatalf("Expected qty 6, got %d", preview.DollarLeg.Quantity)
	}
	if preview.DollarLeg.Side != domain.SideSell || preview.PesoLeg.Side != domain.SideBuy {
		t.Errorf("Sell operation: dollar leg sells, peso leg buys; got %s/%s",
			preview.DollarLeg.Side, preview.PesoLeg.Side)
	}
	if !preview.Rate.Equal(dec(1.03)) {
		t.Errorf("Sell preview should carry the sell rate, got %s", preview.Rate)
	}
}

func TestMepService_PreviewMinimumQuantity(t *testing.T) {
	_, mep := mepHarness(t)

	// 100 USD buys a fraction of one 840-dollar bond; floor is 1.
	preview, err := mep.PreviewBuy(context.Background(), "t1", dec(100), "AL30", domain.SettlementCI)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if preview.DollarLeg.Quantity != 1 {
		t.Fatalf("Expected minimum qty 1, got %d", preview.DollarLeg.Quantity)
	}
	// Realized notional is 840 vs 100 requested: surfaced, not rejected.
	if !preview.HighDeviation {
		t.Error("A 740% deviation should be flagged")
	}
}

func TestValidatePair(t *testing.T) {
	base := func() (domain.OrderLeg, domain.OrderLeg) {
		peso := domain.OrderLeg{Symbol: "AL30", Settlement: domain.SettlementCI, Side: domain.SideSell, Quantity: 10}
		dollar := domain.OrderLeg{Symbol: "AL30D", Settlement: domain.SettlementCI, Side: domain.SideBuy, Quantity: 10}
		return peso, dollar
	}

	peso, dollar := base()
	if err := ValidatePair(peso, dollar); err != nil {
		t.Fatalf("Valid pair rejected: %v", err)
	}

	peso, dollar = base()
	peso.Quantity = 9
	if err := ValidatePair(peso, dollar); domain.KindOf(err) != domain.KindValidation {
		t.Error("Unequal sizes should be rejected")
	}

	peso, dollar = base()
	dollar.Side = domain.SideSell
	if err := ValidatePair(peso, dollar); domain.KindOf(err) != domain.KindValidation {
		t.Error("Same-side legs should be rejected")
	}

	peso, dollar = base()
	dollar.Settlement = domain.Settlement24hs
	if err := ValidatePair(peso, dollar); domain.KindOf(err) != domain.KindValidation {
		t.Error("Mismatched settlement should be rejected")
	}

	peso, dollar = base()
	dollar.Symbol = "GD30D"
	if err := ValidatePair(peso, dollar); domain.KindOf(err) != domain.KindValidation {
		t.Error("Wrong counterpart symbol should be rejected")
	}
}

func TestMepService_SupportedPairs(t *testing.T) {
	_, mep := mepHarness(t)

	pairs := mep.SupportedPairs()
	if pairs["AL30"] != "AL30D" || pairs["GD30"] != "GD30D" {
		t.Errorf("Expected the bond pair table, got %v", pairs)
	}
	pairs["AL30"] = "mutated"
	if mep.SupportedPairs()["AL30"] != "AL30D" {
		t.Error("SupportedPairs should hand out a copy")
	}
}

func TestDetectOperation(t *testing.T) {
	peso := domain.OrderLeg{Symbol: "AL30", Settlement: domain.SettlementCI, Side: domain.SideSell, Quantity: 10}
	dollar := domain.OrderLeg{Symbol: "AL30D", Settlement: domain.SettlementCI, Side: domain.SideBuy, Quantity: 10}

	op, err := DetectOperation(peso, dollar)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if op != OperationBuy {
		t.Errorf("Bought dollar leg should classify as buy, got %s", op)
	}

	// Leg order must not matter.
	op, err = DetectOperation(dollar, peso)
	if err != nil || op != OperationBuy {
		t.Errorf("Classification should be order independent, got %s (%v)", op, err)
	}

	peso.Side, dollar.Side = domain.SideBuy, domain.SideSell
	op, err = DetectOperation(peso, dollar)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if op != OperationSell {
		t.Errorf("Sold dollar leg should classify as sell, got %s", op)
	}

	dollar.Symbol = "GD30D"
	if _, err := DetectOperation(peso, dollar); domain.KindOf(err) != domain.KindValidation {
		t.Error("Mismatched pair should be rejected before classification")
	}
}

func TestMepService_CancelOrder(t *testing.T) {
	h, mep := mepHarness(t)

	if err := mep.CancelOrder(context.Background(), "t1", "c-9"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(h.broker.cancels) != 1 || h.broker.cancels[0] != "c-9" {
		t.Errorf("Cancel should reach the broker, got %v", h.broker.cancels)
	}
	if err := mep.CancelOrder(context.Background(), "ghost", "c-9"); domain.KindOf(err) != domain.KindCredential {
		t.Error("Cancel without a session should be rejected")
	}
}

func TestMepService_Execute(t *testing.T) {
	h, mep := mepHarness(t)

	preview, err := mep.PreviewBuy(context.Background(), "t1", dec(8400), "AL30", domain.SettlementCI)
	if err != nil {
		t.Fatal(err)
	}

	execution, err := mep.Execute(context.Background(), "t1", preview)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if execution.Partial {
		t.Fatal("Both legs accepted, execution should not be partial")
	}
	if len(h.broker.orders) != 2 {
		t.Fatalf("Expected 2 orders, got %d", len(h.broker.orders))
	}

	// Buy operation submits the dollar leg first, always as a market order
	// without the preview's prices.
	first, second := h.broker.orders[0], h.broker.orders[1]
	if first.Ticker != dollarTicker || first.Side != domain.SideBuy {
		t.Errorf("First order should buy the dollar leg, got %s %s", first.Side, first.Ticker)
	}
	if second.Ticker != pesoTicker || second.Side != domain.SideSell {
		t.Errorf("Second order should sell the peso leg, got %s %s", second.Side, second.Ticker)
	}
	for _, req := range h.broker.orders {
		if req.Type != domain.OrderTypeMarket {
			t.Errorf("Legs must execute as market orders, got %s", req.Type)
		}
		if !req.Price.IsZero() {
			t.Errorf("Market legs must not carry the preview price, got %s", req.Price)
		}
		if req.Quantity != preview.DollarLeg.Quantity {
			t.Errorf("Legs must keep the previewed size, got %d", req.Quantity)
		}
	}
}

func TestMepService_ExecuteSecondLegFailure(t *testing.T) {
	h, mep := mepHarness(t)

	preview, err := mep.PreviewBuy(context.Background(), "t1", dec(8400), "AL30", domain.SettlementCI)
	if err != nil {
		t.Fatal(err)
	}

	h.broker.orderFn = func(req domain.OrderRequest) (domain.OrderAck, error) {
		if len(h.broker.orders) == 2 {
			return domain.OrderAck{}, domain.E(domain.KindConnectivity, "send_order", "timeout", nil)
		}
		return domain.OrderAck{ClientOrderID: "first-leg", Status: domain.StatusPendingNew}, nil
	}

	execution, err := mep.Execute(context.Background(), "t1", preview)
	if domain.KindOf(err) != domain.KindPartialExecution {
		t.Fatalf("Expected partial_execution, got %v", err)
	}
	if !execution.Partial {
		t.Error("Execution should be flagged partial")
	}
	if execution.FirstLeg.ClientOrderID != "first-leg" {
		t.Errorf("First leg ack should be preserved, got %q", execution.FirstLeg.ClientOrderID)
	}
	// No compensating order for the submitted first leg.
	if len(h.broker.orders) != 2 {
		t.Errorf("Expected no reversal order, got %d submissions", len(h.broker.orders))
	}
}

func TestMepService_ExecuteRejectsInvalidPair(t *testing.T) {
	h, mep := mepHarness(t)

	preview, err := mep.PreviewBuy(context.Background(), "t1", dec(8400), "AL30", domain.SettlementCI)
	if err != nil {
		t.Fatal(err)
	}
	preview.PesoLeg.Quantity = 99

	if _, err := mep.Execute(context.Background(), "t1", preview); domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("Expected validation error, got %v", err)
	}
	if len(h.broker.orders) != 0 {
		t.Error("Validation failures must short-circuit before any network call")
	}
}

func TestMepService_PreviewRejectsNonPositiveAmount(t *testing.T) {
	_, mep := mepHarness(t)
	if _, err := mep.PreviewBuy(context.Background(), "t1", decimal.Zero, "AL30", domain.SettlementCI); domain.KindOf(err) != domain.KindValidation {
		t.Errorf("Zero notional should be rejected, got %v", err)
	}
}

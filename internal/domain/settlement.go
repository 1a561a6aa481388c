package domain

import "strings"

// Settlement is the trade settlement cycle for BYMA instruments.
type Settlement string

const (
	// SettlementCI settles same day (broker code T0).
	SettlementCI Settlement = "CI"
	// Settlement24hs settles next business day (broker code T1).
	Settlement24hs Settlement = "24hs"
)

// NormalizeSettlement maps user input to a canonical Settlement.
// Accepts CI/24hs case-insensitively plus the legacy broker codes T0/T1.
// Anything unrecognized (including empty) defaults to CI.
func NormalizeSettlement(value string) Settlement {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "CI", "T0":
		return SettlementCI
	case "24HS", "24H", "24 HORAS", "24-HS", "T1":
		return Settlement24hs
	default:
		return SettlementCI
	}
}

// BrokerCode returns the legacy code the trading channel expects.
func (s Settlement) BrokerCode() string {
	if s == Settlement24hs {
		return "T1"
	}
	return "T0"
}

// Suffix returns the ticker suffix used in full BYMA tickers.
func (s Settlement) Suffix() string {
	if s == Settlement24hs {
		return "24hs"
	}
	return "CI"
}

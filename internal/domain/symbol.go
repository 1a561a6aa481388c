package domain

import "strings"

// aliasMap maps colloquial references to canonical broker symbols.
var aliasMap = map[string]string{
	"YPF":              "YPFD",
	"PAMPA":            "PAMP",
	"BBVA":             "BBAR",
	"BANCO_MACRO":      "BMA",
	"TELECOM":          "TECO2",
	"TELEFONICA":       "TEF",
	"TENARIS":          "TS",
	"GALICIA":          "GGAL",
	"FRANCES":          "BFRA",
	"SUPERVIELLE":      "SUPV",
	"GRUPO_FINANCIERO": "GGAL",
	"ALUAR":            "ALUA",
	"CENTRAL_PUERTO":   "CEPU",
	"EDENOR":           "EDN",
	"TRANSENER":        "TRAN",
	"TRANSPORTADORA":   "TGS",
	"CRESUD":           "CRES",
	"IRSA":             "IRS",
	"MIRGOR":           "MIRG",
	"MOLINOS":          "MOLI",
}

// CurrencySuffixes are the single-letter currency markers appended to bond
// roots (AL30D is the dollar leg of AL30).
var CurrencySuffixes = [...]string{"D", "C", "N", "L"}

var settlementSuffixes = [...]string{" 24HS", " CI", " T0", " T1"}

// RootSymbol extracts the root from a full BYMA ticker.
// "MERV - XMEV - AL30 - 24hs" -> "AL30". Plain symbols come back upper-cased.
func RootSymbol(symbol string) string {
	if symbol == "" {
		return symbol
	}
	s := strings.ToUpper(strings.TrimSpace(symbol))
	parts := strings.Split(s, " - ")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) >= 4 && parts[0] == "MERV" && parts[1] == "XMEV" {
		return parts[2]
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "24HS", "CI", "T0", "T1":
			return parts[0]
		}
	}
	return s
}

// Canonicalize maps user-friendly references to canonical broker symbols.
// Full BYMA tickers reduce to their root; futures (containing "/") are left
// unchanged. The function is total and idempotent; unrecognized plain input
// returns its upper-cased self.
func Canonicalize(symbol string) string {
	if symbol == "" {
		return symbol
	}
	s := strings.ToUpper(strings.TrimSpace(symbol))

	// Never touch futures or explicit derivatives.
	if strings.Contains(s, "/") {
		return s
	}

	base := s
	parts := strings.Split(base, " - ")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) >= 4 && parts[0] == "MERV" && parts[1] == "XMEV" {
		base = parts[2]
	} else {
		for _, suffix := range settlementSuffixes {
			if strings.HasSuffix(base, suffix) {
				base = base[:len(base)-len(suffix)]
				break
			}
		}
	}

	baseAlt := strings.ReplaceAll(base, " ", "_")
	if mapped, ok := aliasMap[base]; ok {
		return mapped
	}
	if mapped, ok := aliasMap[baseAlt]; ok {
		return mapped
	}
	return base
}

// InstrumentTicker builds the full broker ticker for a symbol.
// Futures pass through unchanged; everything else is a BYMA instrument in
// MERV format with the settlement suffix.
func InstrumentTicker(symbol string, settlement Settlement) string {
	s := Canonicalize(symbol)
	if strings.Contains(s, "/") {
		return s
	}
	return "MERV - XMEV - " + s + " - " + settlement.Suffix()
}

// SettlementOf extracts the settlement segment of a full BYMA ticker,
// empty when the ticker does not carry one.
func SettlementOf(symbol string) string {
	parts := strings.Split(strings.TrimSpace(symbol), " - ")
	if len(parts) >= 4 && strings.EqualFold(strings.TrimSpace(parts[0]), "MERV") {
		return strings.TrimSpace(parts[3])
	}
	return ""
}

// mepPairs maps each peso-denominated bond to its dollar counterpart.
var mepPairs = map[string]string{
	"AL30": "AL30D",
	"GD30": "GD30D",
	"AE38": "AE38D",
	"AL35": "AL35D",
	"GD35": "GD35D",
	"AL41": "AL41D",
	"GD41": "GD41D",
	"DICP": "DICPD",
	"CUAP": "CUAPD",
}

// MepPairs returns the peso-bond -> dollar-bond map used for pair validation.
func MepPairs() map[string]string {
	out := make(map[string]string, len(mepPairs))
	for k, v := range mepPairs {
		out[k] = v
	}
	return out
}

// IsMepEligible reports whether a bond (peso or dollar form) can be used for
// a MEP operation.
func IsMepEligible(symbol string) bool {
	base := strings.TrimSuffix(strings.ToUpper(symbol), "D")
	_, ok := mepPairs[base]
	return ok
}

// IsDollarLeg reports whether the symbol is the dollar-denominated side of
// a MEP pair.
func IsDollarLeg(symbol string) bool {
	s := strings.ToUpper(symbol)
	if !strings.HasSuffix(s, "D") {
		return false
	}
	_, ok := mepPairs[s[:len(s)-1]]
	return ok
}

// MepCounterpart returns the paired bond: peso -> dollar and dollar -> peso.
// Empty string when the symbol is not MEP eligible.
func MepCounterpart(symbol string) string {
	s := strings.ToUpper(symbol)
	if strings.HasSuffix(s, "D") {
		base := s[:len(s)-1]
		if _, ok := mepPairs[base]; ok {
			return base
		}
		return ""
	}
	return mepPairs[s]
}

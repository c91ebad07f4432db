package exchange

import (
	"fmt"
	"strings"
)

// Pair is a canonical spot market, independent of any exchange's symbol format.
type Pair struct {
	Base  string
	Quote string
}

// NewPair builds an upper-cased pair.
func NewPair(base, quote string) Pair {
	return Pair{Base: strings.ToUpper(base), Quote: strings.ToUpper(quote)}
}

func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// IsZero reports whether the pair is unset.
func (p Pair) IsZero() bool {
	return p.Base == "" || p.Quote == ""
}

// knownQuotes is ordered so longer suffixes win (FDUSD before USD).
var knownQuotes = []string{"FDUSD", "USDT", "USDC", "BUSD", "TUSD", "DAI", "USD", "EUR", "TRY", "BTC", "ETH", "BNB"}

// ParseSymbol converts exchange-specific symbols such as BTCUSDT, BTC-USDT,
// BTC/USDT or BTC-USDT-SWAP to a canonical pair.
func ParseSymbol(symbol string) (Pair, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.TrimSuffix(s, "-SWAP")
	s = strings.TrimSuffix(s, "-PERP")

	for _, sep := range []string{"/", "-", "_"} {
		if parts := strings.Split(s, sep); len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			return NewPair(parts[0], parts[1]), nil
		}
	}

	for _, q := range knownQuotes {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return NewPair(strings.TrimSuffix(s, q), q), nil
		}
	}
	return Pair{}, fmt.Errorf("unrecognized symbol %q", symbol)
}

// MustParseSymbol is ParseSymbol for constants and tests.
func MustParseSymbol(symbol string) Pair {
	p, err := ParseSymbol(symbol)
	if err != nil {
		panic(err)
	}
	return p
}

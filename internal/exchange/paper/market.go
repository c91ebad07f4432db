// Package paper provides in-memory exchange venues so simulation mode can run
// the full execution flow without touching real funds.
package paper

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"

	"cex-arbitrage-go/internal/exchange"
	"github.com/shopspring/decimal"
)

// Operation names used for failure injection and call counting.
const (
	OpGetPrices         = "GetPrices"
	OpGetPrice          = "GetPrice"
	OpGetBalance        = "GetBalance"
	OpPlaceMarketOrder  = "PlaceMarketOrder"
	OpGetDepositAddress = "GetDepositAddress"
	OpWithdrawFee       = "WithdrawFee"
	OpWithdraw          = "Withdraw"
	OpFundingBalance    = "FundingBalance"
	OpMoveToFunding     = "MoveToFunding"
	OpMoveToTrading     = "MoveToTrading"
	OpFuturesOrder      = "PlaceFuturesMarketOrder"
)

type location struct {
	venue string
	asset string
}

// Market is the shared ledger behind all paper venues. Withdrawals from one
// venue are credited to the venue owning the destination address.
type Market struct {
	mu        sync.Mutex
	spot      map[string]map[string]decimal.Decimal
	funding   map[string]map[string]decimal.Decimal
	positions map[string]map[exchange.Pair]decimal.Decimal
	prices    map[string]map[exchange.Pair]decimal.Decimal
	rules     map[string]exchange.SymbolRules
	fees      map[string]decimal.Decimal // asset -> withdrawal fee
	takerFees map[string]decimal.Decimal // venue -> fraction per fill
	// venues whose deposits land in the funding account
	fundingVenues map[string]bool
	addresses     map[string]location
	failures      map[string][]error
	calls         map[string]int
	seq           int
}

func NewMarket() *Market {
	return &Market{
		spot:      make(map[string]map[string]decimal.Decimal),
		funding:   make(map[string]map[string]decimal.Decimal),
		positions: make(map[string]map[exchange.Pair]decimal.Decimal),
		prices:    make(map[string]map[exchange.Pair]decimal.Decimal),
		rules:     make(map[string]exchange.SymbolRules),
		fees:      make(map[string]decimal.Decimal),
		takerFees: make(map[string]decimal.Decimal),
		addresses: make(map[string]location),

		fundingVenues: make(map[string]bool),
		failures:      make(map[string][]error),
		calls:         make(map[string]int),
	}
}

func key(venue string) string {
	return strings.ToLower(venue)
}

func bucket[K comparable](m map[string]map[K]decimal.Decimal, venue string) map[K]decimal.Decimal {
	b, ok := m[key(venue)]
	if !ok {
		b = make(map[K]decimal.Decimal)
		m[key(venue)] = b
	}
	return b
}

// SetBalance sets the spot balance of asset on venue.
func (m *Market) SetBalance(venue, asset string, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket(m.spot, venue)[strings.ToUpper(asset)] = amount
}

// Balance returns the spot balance of asset on venue.
func (m *Market) Balance(venue, asset string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bucket(m.spot, venue)[strings.ToUpper(asset)]
}

// SetPrice sets the fill price of pair on venue.
func (m *Market) SetPrice(venue string, pair exchange.Pair, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket(m.prices, venue)[pair] = price
}

// SetRules sets lot-size rules for a pair on every venue.
func (m *Market) SetRules(pair exchange.Pair, rules exchange.SymbolRules) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[pair.String()] = rules
}

// SetWithdrawFee sets the flat withdrawal fee for asset.
func (m *Market) SetWithdrawFee(asset string, fee decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fees[strings.ToUpper(asset)] = fee
}

// SetTradingFee sets the commission charged on every fill on venue, as a
// fraction of the fill. Buys pay it in the base asset, sells in the quote.
func (m *Market) SetTradingFee(venue string, rate decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.takerFees[key(venue)] = rate
}

// FundingBalance returns the funding account balance of asset on venue.
func (m *Market) FundingBalance(venue, asset string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bucket(m.funding, venue)[strings.ToUpper(asset)]
}

// Position returns the futures position of pair on venue; negative is short.
func (m *Market) Position(venue string, pair exchange.Pair) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bucket(m.positions, venue)[pair]
}

// FailNext makes the next call of op on venue return err.
func (m *Market) FailNext(venue, op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(venue) + ":" + op
	m.failures[k] = append(m.failures[k], err)
}

// Calls returns how many times op was invoked on venue.
func (m *Market) Calls(venue, op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[key(venue)+":"+op]
}

// enter records a call and pops an injected failure. Callers hold m.mu.
func (m *Market) enter(venue, op string) error {
	k := key(venue) + ":" + op
	m.calls[k]++
	if q := m.failures[k]; len(q) > 0 {
		m.failures[k] = q[1:]
		return q[0]
	}
	return nil
}

func (m *Market) nextID(prefix string) string {
	m.seq++
	return prefix + "-" + strconv.Itoa(m.seq)
}

// address derives a stable EVM-shaped deposit address for (venue, asset, network).
func (m *Market) address(venue, asset, network string) string {
	sum := sha256.Sum256([]byte(key(venue) + "|" + asset + "|" + network))
	addr := "0x" + hex.EncodeToString(sum[:20])
	m.addresses[addr] = location{venue: key(venue), asset: asset}
	return addr
}

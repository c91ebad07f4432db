package transfer

import (
	"context"
	"fmt"
	"strings"

	"cex-arbitrage-go/internal/apperror"
	"cex-arbitrage-go/internal/exchange"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Canonical network names.
const (
	NetworkArbitrum = "ARBITRUM"
	NetworkOptimism = "OPTIMISM"
	NetworkBase     = "BASE"
	NetworkBSC      = "BSC"
	NetworkPolygon  = "POLYGON"
	NetworkTRC20    = "TRC20"
	NetworkSolana   = "SOL"
	NetworkEthereum = "ETH"
	NetworkBitcoin  = "BTC"
)

// DefaultPriority lists cheap, fast chains first.
var DefaultPriority = []string{
	NetworkArbitrum,
	NetworkOptimism,
	NetworkBase,
	NetworkBSC,
	NetworkPolygon,
	NetworkTRC20,
	NetworkSolana,
}

// DefaultMultiChainAssets are ERC-20 class assets that exist on several chains
// and so go through the priority list. Other assets use their native chain.
var DefaultMultiChainAssets = []string{"USDT", "USDC", "DAI", "ETH"}

var nativeNetworks = map[string]string{
	"BTC":   NetworkBitcoin,
	"ETH":   NetworkEthereum,
	"SOL":   NetworkSolana,
	"TRX":   NetworkTRC20,
	"BNB":   NetworkBSC,
	"POL":   NetworkPolygon,
	"MATIC": NetworkPolygon,
	"ARB":   NetworkArbitrum,
	"OP":    NetworkOptimism,
}

// NativeNetwork returns the asset's own chain, defaulting to the asset symbol.
func NativeNetwork(asset string) string {
	asset = strings.ToUpper(asset)
	if n, ok := nativeNetworks[asset]; ok {
		return n
	}
	return asset
}

var evmNetworks = map[string]bool{
	NetworkArbitrum: true,
	NetworkOptimism: true,
	NetworkBase:     true,
	NetworkBSC:      true,
	NetworkPolygon:  true,
	NetworkEthereum: true,
}

// IsEVM reports whether deposit addresses on network are 20-byte hex addresses.
func IsEVM(network string) bool {
	return evmNetworks[strings.ToUpper(network)]
}

// ValidateAddress checks the address format where the network's format is known.
func ValidateAddress(network, address string) error {
	if address == "" {
		return apperror.Configuration("empty deposit address on " + network)
	}
	if IsEVM(network) && !common.IsHexAddress(address) {
		return apperror.Configuration(fmt.Sprintf("deposit address %s is not a valid %s address", address, network))
	}
	return nil
}

// Aliases maps canonical network -> exchange -> exchange network identifier.
// "{ASSET}" in an identifier is replaced by the asset symbol.
type Aliases map[string]map[string]string

// DefaultAliases covers Binance and OKX naming.
func DefaultAliases() Aliases {
	return Aliases{
		NetworkArbitrum: {"binance": "ARBITRUM", "okx": "{ASSET}-Arbitrum One"},
		NetworkOptimism: {"binance": "OPTIMISM", "okx": "{ASSET}-Optimism"},
		NetworkBase:     {"binance": "BASE", "okx": "{ASSET}-Base"},
		NetworkBSC:      {"binance": "BSC", "okx": "{ASSET}-BSC"},
		NetworkPolygon:  {"binance": "MATIC", "okx": "{ASSET}-Polygon"},
		NetworkTRC20:    {"binance": "TRX", "okx": "{ASSET}-TRC20"},
		NetworkSolana:   {"binance": "SOL", "okx": "{ASSET}-Solana"},
		NetworkEthereum: {"binance": "ETH", "okx": "{ASSET}-ERC20"},
		NetworkBitcoin:  {"binance": "BTC", "okx": "BTC-Bitcoin"},
	}
}

// Resolve returns the exchange-specific identifier or a configuration error.
func (a Aliases) Resolve(network, exchangeName, asset string) (string, error) {
	byExchange, ok := a[strings.ToUpper(network)]
	if !ok {
		return "", apperror.Configuration(fmt.Sprintf("no network alias for %s", network))
	}
	id, ok := byExchange[strings.ToLower(exchangeName)]
	if !ok {
		return "", apperror.Configuration(fmt.Sprintf("no %s alias for network %s", exchangeName, network), apperror.WithExchange(exchangeName))
	}
	return strings.ReplaceAll(id, "{ASSET}", strings.ToUpper(asset)), nil
}

// Route is a resolved network with both venues' identifiers and the source fee.
type Route struct {
	Network string
	FromID  string
	ToID    string
	Fee     decimal.Decimal
}

// NetworkSelector picks the transfer network for an asset between two venues.
type NetworkSelector struct {
	aliases    Aliases
	configured map[string]string // asset -> canonical network
	priority   []string
	multiChain map[string]bool
	logger     *zap.Logger
}

func NewNetworkSelector(aliases Aliases, configured map[string]string, priority, multiChainAssets []string, logger *zap.Logger) *NetworkSelector {
	if len(priority) == 0 {
		priority = DefaultPriority
	}
	if len(multiChainAssets) == 0 {
		multiChainAssets = DefaultMultiChainAssets
	}
	mc := make(map[string]bool, len(multiChainAssets))
	for _, a := range multiChainAssets {
		mc[strings.ToUpper(a)] = true
	}
	cfg := make(map[string]string, len(configured))
	for asset, n := range configured {
		cfg[strings.ToUpper(asset)] = strings.ToUpper(n)
	}
	return &NetworkSelector{aliases: aliases, configured: cfg, priority: priority, multiChain: mc, logger: logger}
}

// Candidates returns the networks to try in order: configured, priority list
// (multi-chain assets only), native chain.
func (s *NetworkSelector) Candidates(asset string) []string {
	asset = strings.ToUpper(asset)
	var out []string
	seen := make(map[string]bool)
	add := func(n string) {
		if n != "" && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	add(s.configured[asset])
	if s.multiChain[asset] {
		for _, n := range s.priority {
			add(n)
		}
	}
	add(NativeNetwork(asset))
	return out
}

// Select returns the first candidate mapped for both venues on which the source
// accepts withdrawals. A preferred network is used strictly, without fallback.
func (s *NetworkSelector) Select(ctx context.Context, from, to exchange.Adapter, asset, preferred string) (Route, error) {
	if preferred != "" {
		return s.route(ctx, from, to, asset, strings.ToUpper(preferred))
	}

	var lastErr error
	for _, network := range s.Candidates(asset) {
		r, err := s.route(ctx, from, to, asset, network)
		if err == nil {
			return r, nil
		}
		if !apperror.IsKind(err, apperror.KindConfiguration) {
			return Route{}, err
		}
		s.logger.Debug("Network unavailable", zap.String("asset", asset), zap.String("network", network), zap.Error(err))
		lastErr = err
	}
	if lastErr == nil {
		lastErr = apperror.Configuration("no transfer network for " + asset)
	}
	return Route{}, fmt.Errorf("no usable network for %s from %s to %s: %w", asset, from.Name(), to.Name(), lastErr)
}

func (s *NetworkSelector) route(ctx context.Context, from, to exchange.Adapter, asset, network string) (Route, error) {
	fromID, err := s.aliases.Resolve(network, from.Name(), asset)
	if err != nil {
		return Route{}, err
	}
	toID, err := s.aliases.Resolve(network, to.Name(), asset)
	if err != nil {
		return Route{}, err
	}
	fee, err := from.WithdrawFee(ctx, asset, fromID)
	if err != nil {
		return Route{}, err
	}
	return Route{Network: network, FromID: fromID, ToID: toID, Fee: fee}, nil
}

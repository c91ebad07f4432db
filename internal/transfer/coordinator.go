// Package transfer moves assets between exchanges on-chain and confirms receipt
// at the destination before the caller is allowed to sell.
package transfer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cex-arbitrage-go/internal/apperror"
	"cex-arbitrage-go/internal/exchange"
	"cex-arbitrage-go/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config tunes withdrawal confirmation.
type Config struct {
	PollInterval time.Duration
	FastTimeout  time.Duration
	SlowTimeout  time.Duration
	ConfirmRatio decimal.Decimal
	FastNetworks []string
}

// DefaultConfig polls every 30s, waits 8m on rollups and 30m elsewhere.
func DefaultConfig() Config {
	return Config{
		PollInterval: 30 * time.Second,
		FastTimeout:  8 * time.Minute,
		SlowTimeout:  30 * time.Minute,
		ConfirmRatio: decimal.RequireFromString("0.95"),
		FastNetworks: []string{NetworkArbitrum, NetworkOptimism, NetworkBase},
	}
}

// Recorder observes finished transfers.
type Recorder interface {
	ObserveTransfer(network string, elapsed time.Duration, err error)
}

// Coordinator drives a single withdrawal from one exchange to another.
type Coordinator struct {
	cfg      Config
	selector *NetworkSelector
	fast     map[string]bool
	recorder Recorder
	logger   *zap.Logger
}

func NewCoordinator(cfg Config, selector *NetworkSelector, recorder Recorder, logger *zap.Logger) *Coordinator {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.FastTimeout <= 0 {
		cfg.FastTimeout = def.FastTimeout
	}
	if cfg.SlowTimeout <= 0 {
		cfg.SlowTimeout = def.SlowTimeout
	}
	if !cfg.ConfirmRatio.IsPositive() {
		cfg.ConfirmRatio = def.ConfirmRatio
	}
	if len(cfg.FastNetworks) == 0 {
		cfg.FastNetworks = def.FastNetworks
	}
	fast := make(map[string]bool, len(cfg.FastNetworks))
	for _, n := range cfg.FastNetworks {
		fast[strings.ToUpper(n)] = true
	}
	return &Coordinator{
		cfg:      cfg,
		selector: selector,
		fast:     fast,
		recorder: recorder,
		logger:   logger.Named("transfer"),
	}
}

// Timeout returns how long confirmation is awaited on network.
func (c *Coordinator) Timeout(network string) time.Duration {
	if c.fast[strings.ToUpper(network)] {
		return c.cfg.FastTimeout
	}
	return c.cfg.SlowTimeout
}

// Confirmed reports whether increase covers ratio of sent.
func Confirmed(sent, increase, ratio decimal.Decimal) bool {
	if !sent.IsPositive() {
		return false
	}
	return increase.GreaterThanOrEqual(sent.Mul(ratio))
}

// Transfer withdraws req.Amount of req.Asset from `from` to the deposit address
// of `to` and waits for the destination balance to rise. The returned result is
// populated as far as the transfer got, even on error.
func (c *Coordinator) Transfer(ctx context.Context, from, to exchange.Adapter, req models.TransferRequest) (result models.TransferResult, err error) {
	start := time.Now()
	asset := strings.ToUpper(req.Asset)
	result = models.TransferResult{
		Asset:        asset,
		Amount:       req.Amount,
		FromExchange: from.Name(),
		ToExchange:   to.Name(),
	}
	defer func() {
		if c.recorder != nil {
			c.recorder.ObserveTransfer(result.Network, time.Since(start), err)
		}
	}()

	if !req.Amount.IsPositive() {
		return result, apperror.Validation("amount", "transfer amount must be positive")
	}

	route, err := c.selector.Select(ctx, from, to, asset, req.PreferredNetwork)
	if err != nil {
		return result, err
	}
	result.Network = route.Network
	result.Fee = route.Fee

	log := c.logger.With(
		zap.String("asset", asset),
		zap.String("from", from.Name()),
		zap.String("to", to.Name()),
		zap.String("network", route.Network),
	)

	addr, err := to.GetDepositAddress(ctx, asset, route.ToID)
	if err != nil {
		return result, fmt.Errorf("deposit address on %s: %w", to.Name(), err)
	}
	if err := ValidateAddress(route.Network, addr.Address); err != nil {
		return result, err
	}
	result.DepositAddress = addr.Address

	baseline, err := depositBalance(ctx, to, asset)
	if err != nil {
		return result, fmt.Errorf("baseline balance on %s: %w", to.Name(), err)
	}

	sent := req.Amount
	if funding, ok := from.(exchange.FundingAccount); ok {
		// Funding withdrawals charge the fee on top of the amount.
		sent = req.Amount.Sub(route.Fee)
		if !sent.IsPositive() {
			return result, apperror.InsufficientBalance(from.Name(),
				fmt.Sprintf("amount %s does not cover withdrawal fee %s", req.Amount, route.Fee))
		}
		if err := c.moveToFunding(ctx, from.Name(), funding, asset, req.Amount); err != nil {
			return result, err
		}
	}

	wd, err := from.Withdraw(ctx, exchange.WithdrawRequest{
		Asset:    asset,
		Network:  route.FromID,
		Address:  addr.Address,
		Tag:      addr.Tag,
		Amount:   sent,
		Fee:      route.Fee,
		ClientID: strings.ReplaceAll(uuid.NewString(), "-", ""),
	})
	if err != nil {
		return result, fmt.Errorf("withdraw from %s: %w", from.Name(), err)
	}
	result.WithdrawalID = wd.ID
	log.Info("Withdrawal submitted", zap.String("id", wd.ID), zap.Stringer("amount", sent), zap.Stringer("fee", route.Fee))

	received, err := c.awaitArrival(ctx, to, asset, baseline, sent, c.Timeout(route.Network))
	result.Received = received
	if err != nil {
		log.Error("Transfer not confirmed", zap.String("id", wd.ID), zap.Stringer("received", received), zap.Error(err))
		return result, err
	}
	result.Confirmed = true
	log.Info("Transfer confirmed", zap.Stringer("received", received), zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

func (c *Coordinator) moveToFunding(ctx context.Context, name string, funding exchange.FundingAccount, asset string, amount decimal.Decimal) error {
	if err := funding.MoveToFunding(ctx, asset, amount); err != nil {
		return fmt.Errorf("move %s to funding on %s: %w", asset, name, err)
	}
	avail, err := funding.FundingBalance(ctx, asset)
	if err != nil {
		return fmt.Errorf("funding balance on %s: %w", name, err)
	}
	if avail.LessThan(amount) {
		return apperror.InsufficientBalance(name,
			fmt.Sprintf("funding balance %s %s after move, need %s", avail, asset, amount))
	}
	return nil
}

// depositBalance reads the account deposits are credited to: the funding
// account on exchanges that have one, the trading account otherwise.
func depositBalance(ctx context.Context, a exchange.Adapter, asset string) (decimal.Decimal, error) {
	if funding, ok := a.(exchange.FundingAccount); ok {
		return funding.FundingBalance(ctx, asset)
	}
	bal, err := a.GetBalance(ctx, asset)
	if err != nil {
		return decimal.Zero, err
	}
	return bal.Available, nil
}

// awaitArrival polls the destination until the balance rose enough or the
// timeout elapses. Poll errors are logged and polling continues.
func (c *Coordinator) awaitArrival(ctx context.Context, to exchange.Adapter, asset string, baseline, sent decimal.Decimal, timeout time.Duration) (decimal.Decimal, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	received := decimal.Zero
	for {
		select {
		case <-ctx.Done():
			// The withdrawal is already on-chain, so this is never a plain failure.
			return received, apperror.TransferTimeout(fmt.Sprintf(
				"%s %s sent to %s, confirmation interrupted (observed %s); reconcile manually",
				sent, asset, to.Name(), received), apperror.WithCause(ctx.Err()))
		case <-deadline.C:
			return received, apperror.TransferTimeout(fmt.Sprintf(
				"%s %s not confirmed on %s after %s (observed %s); reconcile manually",
				sent, asset, to.Name(), timeout, received))
		case <-ticker.C:
			bal, err := depositBalance(ctx, to, asset)
			if err != nil {
				c.logger.Warn("Balance poll failed", zap.String("exchange", to.Name()), zap.Error(err))
				continue
			}
			received = bal.Sub(baseline)
			if Confirmed(sent, received, c.cfg.ConfirmRatio) {
				return received, nil
			}
			c.logger.Debug("Awaiting deposit", zap.String("exchange", to.Name()),
				zap.Stringer("received", received), zap.Stringer("expected", sent))
		}
	}
}

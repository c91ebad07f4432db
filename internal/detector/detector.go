// Package detector polls exchange prices and publishes ranked cross-exchange
// arbitrage opportunities.
package detector

import (
	"context"
	"sync"
	"time"

	"cex-arbitrage-go/internal/exchange"
	"cex-arbitrage-go/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// State is the detector's position in its cycle.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateComputing
	StatePublished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateComputing:
		return "computing"
	case StatePublished:
		return "published"
	}
	return "unknown"
}

// Config holds the detection parameters. Notional is a fixed standardized
// size so estimates are comparable across symbols; it is not a real balance.
type Config struct {
	Interval     time.Duration
	FetchTimeout time.Duration
	TTL          time.Duration
	Notional     decimal.Decimal
	FeeRate      decimal.Decimal
	MinSpread    decimal.Decimal // percent
	MaxSpread    decimal.Decimal // percent
	MinProfit    decimal.Decimal
	MaxResults   int
	QuoteAsset   string
	Symbols      []string
}

// Recorder receives per-cycle outcomes.
type Recorder interface {
	ObserveDetectorCycle(elapsed time.Duration, opportunities int, failedSources int)
}

// Detector runs the Idle -> Fetching -> Computing -> Published loop.
type Detector struct {
	cfg      Config
	sources  []exchange.Adapter
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
	trigger  chan struct{}

	mu          sync.RWMutex
	state       State
	latest      []models.Opportunity
	publishedAt time.Time
}

// New creates a detector over sources. recorder may be nil.
func New(cfg Config, sources []exchange.Adapter, recorder Recorder, logger *zap.Logger) *Detector {
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	return &Detector{
		cfg:      cfg,
		sources:  sources,
		recorder: recorder,
		logger:   logger.Named("detector"),
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
	}
}

// Run cycles immediately, then on every interval tick or Trigger until ctx is done.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.logger.Info("Starting detector loop",
		zap.Duration("interval", d.cfg.Interval),
		zap.Int("sources", len(d.sources)),
	)
	d.Cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Stopping detector...")
			return
		case <-ticker.C:
			d.Cycle(ctx)
		case <-d.trigger:
			d.Cycle(ctx)
		}
	}
}

// Trigger requests an on-demand cycle. Requests coalesce while one is pending.
func (d *Detector) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// State returns the current cycle state.
func (d *Detector) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Latest returns a copy of the last published opportunities and when they were published.
func (d *Detector) Latest() ([]models.Opportunity, time.Time) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.Opportunity, len(d.latest))
	copy(out, d.latest)
	return out, d.publishedAt
}

func (d *Detector) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// Cycle runs one fetch/compute/publish pass and returns what it published.
func (d *Detector) Cycle(ctx context.Context) []models.Opportunity {
	start := d.now()

	d.setState(StateFetching)
	prices, failed := d.fetch(ctx)

	d.setState(StateComputing)
	opps := d.cfg.Compute(prices, d.now())

	d.mu.Lock()
	d.latest = opps
	d.publishedAt = d.now()
	d.state = StatePublished
	d.mu.Unlock()

	elapsed := d.now().Sub(start)
	if d.recorder != nil {
		d.recorder.ObserveDetectorCycle(elapsed, len(opps), failed)
	}
	d.logger.Info("Detection cycle complete",
		zap.Int("opportunities", len(opps)),
		zap.Int("failed_sources", failed),
		zap.Duration("elapsed", elapsed),
	)
	return opps
}

// fetch queries every source concurrently. A failing or slow source yields an
// empty price set instead of blocking the cycle.
func (d *Detector) fetch(ctx context.Context) (map[string]map[string]decimal.Decimal, int) {
	results := make([]map[string]decimal.Decimal, len(d.sources))
	errs := make([]error, len(d.sources))

	var g errgroup.Group
	for i, src := range d.sources {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(ctx, d.cfg.FetchTimeout)
			defer cancel()

			all, err := src.GetPrices(fctx)
			if err != nil {
				errs[i] = err
				return nil
			}
			set := make(map[string]decimal.Decimal)
			for pair, price := range all {
				if pair.Quote == d.cfg.QuoteAsset {
					set[pair.Base] = price
				}
			}
			results[i] = set
			return nil
		})
	}
	_ = g.Wait()

	prices := make(map[string]map[string]decimal.Decimal, len(d.sources))
	failed := 0
	for i, src := range d.sources {
		if errs[i] != nil {
			failed++
			d.logger.Warn("Price fetch failed", zap.String("exchange", src.Name()), zap.Error(errs[i]))
			prices[src.Name()] = map[string]decimal.Decimal{}
			continue
		}
		prices[src.Name()] = results[i]
	}
	return prices, failed
}

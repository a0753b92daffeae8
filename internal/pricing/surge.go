package pricing

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/example/ride-matchmaking/internal/storage"
)

// DefaultBaseFare is the fare before surge, in the smallest currency unit.
var DefaultBaseFare = decimal.NewFromInt(5000)

var (
	noSupplyMultiplier = decimal.NewFromInt(2)
	maxMultiplier      = decimal.NewFromInt(2)

	// evaluated in order, first ratio bound that is not reached wins
	surgeSteps = []struct {
		below      decimal.Decimal
		multiplier decimal.Decimal
	}{
		{decimal.NewFromInt(1), decimal.RequireFromString("1.0")},
		{decimal.NewFromInt(2), decimal.RequireFromString("1.2")},
		{decimal.NewFromInt(3), decimal.RequireFromString("1.5")},
	}
)

// Counters is the atomic counter surface of the state store.
type Counters interface {
	Incr(ctx context.Context, key string) (int64, error)
	Get(ctx context.Context, key string) (string, error)
}

// Quote is the priced outcome for one request in a region.
type Quote struct {
	Region     string
	Demand     int64
	Supply     int64
	Multiplier decimal.Decimal
	Fare       decimal.Decimal
}

type Engine struct {
	counters Counters
	baseFare decimal.Decimal
}

func NewEngine(counters Counters, baseFare decimal.Decimal) *Engine {
	if !baseFare.IsPositive() {
		baseFare = DefaultBaseFare
	}
	return &Engine{counters: counters, baseFare: baseFare}
}

// RegionKey buckets a coordinate into a cell of one tenth of a degree.
// Coordinates are rounded half-to-even on their shortest decimal form.
func RegionKey(lat, lon float64) string {
	return decimal.NewFromFloat(lat).RoundBank(1).String() + ":" + decimal.NewFromFloat(lon).RoundBank(1).String()
}

func demandKey(region string) string { return "demand:" + region }
func supplyKey(region string) string { return "supply:" + region }

// Multiplier maps a demand/supply pair onto the surge step function.
func Multiplier(demand, supply int64) decimal.Decimal {
	if supply <= 0 {
		return noSupplyMultiplier
	}
	d := decimal.NewFromInt(demand)
	s := decimal.NewFromInt(supply)
	for _, step := range surgeSteps {
		// demand/supply < bound, without dividing
		if d.LessThan(s.Mul(step.below)) {
			return step.multiplier
		}
	}
	return maxMultiplier
}

func (e *Engine) Fare(multiplier decimal.Decimal) decimal.Decimal {
	return e.baseFare.Mul(multiplier)
}

// PriceFor records one unit of demand and supply for the region and prices
// the request from the counters read back afterwards. The two increments
// are independent atomic operations; concurrent requests in the same region
// may observe each other's increments.
func (e *Engine) PriceFor(ctx context.Context, region string) (Quote, error) {
	if _, err := e.counters.Incr(ctx, demandKey(region)); err != nil {
		return Quote{}, fmt.Errorf("increment demand %s: %w", region, err)
	}
	if _, err := e.counters.Incr(ctx, supplyKey(region)); err != nil {
		return Quote{}, fmt.Errorf("increment supply %s: %w", region, err)
	}
	demand, err := e.read(ctx, demandKey(region))
	if err != nil {
		return Quote{}, err
	}
	supply, err := e.read(ctx, supplyKey(region))
	if err != nil {
		return Quote{}, err
	}
	m := Multiplier(demand, supply)
	return Quote{
		Region:     region,
		Demand:     demand,
		Supply:     supply,
		Multiplier: m,
		Fare:       e.Fare(m),
	}, nil
}

func (e *Engine) read(ctx context.Context, key string) (int64, error) {
	v, err := e.counters.Get(ctx, key)
	if errors.Is(err, storage.ErrNil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", key, err)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

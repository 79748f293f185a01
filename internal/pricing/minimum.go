package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/joelkehle/watchvault-pricing/internal/fees"
)

var (
	ErrInvalidCost             = errors.New("invalid cost")
	ErrMarketplaceUnprofitable = errors.New("marketplace unprofitable")
	ErrNoProfitableMarketplace = errors.New("no profitable marketplace in schedule")
)

// Calculator derives break-even prices from a fee schedule. It holds no mutable state.
type Calculator struct {
	schedule *fees.Schedule
}

func NewCalculator(schedule *fees.Schedule) *Calculator {
	if schedule == nil {
		schedule = fees.DefaultSchedule()
	}
	return &Calculator{schedule: schedule}
}

var defaultCalculator = NewCalculator(nil)

// MinimumPrice is the ceiling of the highest break-even price across the default schedule.
func MinimumPrice(unitCost float64) (int64, error) {
	return defaultCalculator.MinimumPrice(unitCost)
}

type BreakEven struct {
	Marketplace fees.Marketplace `json:"marketplace"`
	Price       float64          `json:"break_even"`
	Rounded     int64            `json:"rounded"`
	Skipped     bool             `json:"skipped,omitempty"`
	SkipReason  string           `json:"skip_reason,omitempty"`
}

type Result struct {
	UnitCost     float64          `json:"unit_cost"`
	MinimumPrice int64            `json:"minimum_price"`
	Dominant     fees.Marketplace `json:"dominant_marketplace,omitempty"`
	Breakdown    []BreakEven      `json:"breakdown"`
}

func (c *Calculator) MinimumPrice(unitCost float64) (int64, error) {
	res, err := c.Calculate(unitCost)
	return res.MinimumPrice, err
}

// Calculate returns the minimum price with its per-marketplace breakdown. Marketplaces whose
// combined rate reaches 100% are listed as skipped and never contribute to the maximum.
func (c *Calculator) Calculate(unitCost float64) (Result, error) {
	res := Result{UnitCost: unitCost}
	if err := validateCost(unitCost); err != nil {
		return res, err
	}
	if unitCost == 0 {
		return res, nil
	}
	cost := decimal.NewFromFloat(unitCost)
	best := decimal.Zero
	found := false
	for _, fm := range c.schedule.Models() {
		be, err := breakEven(fm, cost)
		if err != nil {
			res.Breakdown = append(res.Breakdown, BreakEven{Marketplace: fm.Marketplace, Skipped: true, SkipReason: err.Error()})
			continue
		}
		res.Breakdown = append(res.Breakdown, BreakEven{
			Marketplace: fm.Marketplace,
			Price:       be.Round(2).InexactFloat64(),
			Rounded:     be.Ceil().IntPart(),
		})
		if !found || be.GreaterThan(best) {
			best = be
			res.Dominant = fm.Marketplace
			found = true
		}
	}
	if !found {
		return res, ErrNoProfitableMarketplace
	}
	res.MinimumPrice = best.Ceil().IntPart()
	return res, nil
}

// BreakEvenPrice is the unrounded price at which a sale on fm nets exactly unitCost.
func BreakEvenPrice(fm fees.FeeModel, unitCost float64) (float64, error) {
	if err := validateCost(unitCost); err != nil {
		return 0, err
	}
	be, err := breakEven(fm, decimal.NewFromFloat(unitCost))
	if err != nil {
		return 0, err
	}
	return be.InexactFloat64(), nil
}

func breakEven(fm fees.FeeModel, cost decimal.Decimal) (decimal.Decimal, error) {
	keep := decimal.NewFromInt(1).
		Sub(decimal.NewFromFloat(fm.CommissionRate)).
		Sub(decimal.NewFromFloat(fm.PaymentProcessingRate))
	if !keep.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s fees reach %s%%", ErrMarketplaceUnprofitable, fm.Marketplace, decimal.NewFromInt(1).Sub(keep).Shift(2).String())
	}
	return cost.Add(decimal.NewFromFloat(fm.FixedFee)).Div(keep), nil
}

// Margin is what remains of price on fm after fees and unitCost.
func Margin(fm fees.FeeModel, price, unitCost float64) decimal.Decimal {
	p := decimal.NewFromFloat(price)
	fee := p.Mul(decimal.NewFromFloat(fm.CommissionRate).Add(decimal.NewFromFloat(fm.PaymentProcessingRate))).
		Add(decimal.NewFromFloat(fm.FixedFee))
	return p.Sub(fee).Sub(decimal.NewFromFloat(unitCost))
}

func validateCost(unitCost float64) error {
	if math.IsNaN(unitCost) || math.IsInf(unitCost, 0) {
		return fmt.Errorf("%w: cost must be a finite number", ErrInvalidCost)
	}
	if unitCost < 0 {
		return fmt.Errorf("%w: cost %.2f is negative", ErrInvalidCost, unitCost)
	}
	return nil
}

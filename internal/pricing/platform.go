package pricing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// FormulaConfig holds the coefficients produced by the pricing-formula pass. Fee rates are
// fractions of the sale price; multipliers apply to BMV or unit cost.
type FormulaConfig struct {
	EbayFeeRate    float64              `json:"ebay_fee_rate"`
	WhatnotFeeRate float64              `json:"whatnot_fee_rate"`
	EbayBIN        BINMultipliers       `json:"ebay_bin_multipliers"`
	EbayBestOffer  BestOfferMultipliers `json:"ebay_best_offer"`
	Whatnot        WhatnotMultipliers   `json:"whatnot"`
}

type BINMultipliers struct {
	BMVMultiplier  float64 `json:"bmv_multiplier"`
	CostMultiplier float64 `json:"cost_multiplier"`
}

type BestOfferMultipliers struct {
	AutoAcceptMultiplier      float64 `json:"auto_accept_multiplier"`
	CounterMultiplier         float64 `json:"counter_multiplier"`
	AutoDeclineCostMultiplier float64 `json:"auto_decline_cost_multiplier"`
}

type WhatnotMultipliers struct {
	DisplayBMVMultiplier       float64 `json:"display_bmv_multiplier"`
	DisplayCostMultiplier      float64 `json:"display_cost_multiplier"`
	AuctionStartCostMultiplier float64 `json:"auction_start_cost_multiplier"`
}

// DefaultFormulaConfig mirrors the coefficients the formula pass is seeded with.
func DefaultFormulaConfig() FormulaConfig {
	return FormulaConfig{
		EbayFeeRate:    0.15,
		WhatnotFeeRate: 0.129,
		EbayBIN:        BINMultipliers{BMVMultiplier: 0.95, CostMultiplier: 1.25},
		EbayBestOffer:  BestOfferMultipliers{AutoAcceptMultiplier: 0.92, CounterMultiplier: 0.88, AutoDeclineCostMultiplier: 1.10},
		Whatnot:        WhatnotMultipliers{DisplayBMVMultiplier: 1.0, DisplayCostMultiplier: 1.30, AuctionStartCostMultiplier: 1.10},
	}
}

type Quote struct {
	Price        int64   `json:"price"`
	NetProceeds  float64 `json:"net_proceeds"`
	BelowMinimum bool    `json:"below_minimum,omitempty"`
}

type PlatformPrices struct {
	BMV                 float64 `json:"bmv"`
	UnitCost            float64 `json:"unit_cost"`
	MinimumPrice        int64   `json:"minimum_price"`
	EbayBuyItNow        Quote   `json:"ebay_buy_it_now"`
	EbayAutoAccept      Quote   `json:"ebay_auto_accept"`
	EbayCounter         Quote   `json:"ebay_counter"`
	EbayAutoDecline     Quote   `json:"ebay_auto_decline"`
	WhatnotDisplay      Quote   `json:"whatnot_display"`
	WhatnotAuctionStart Quote   `json:"whatnot_auction_start"`
}

// PlatformPrices applies cfg to bmv and unitCost. Every price is rounded up to a whole
// currency unit and flagged when it falls below the calculator's minimum price.
func (c *Calculator) PlatformPrices(cfg FormulaConfig, bmv, unitCost float64) (PlatformPrices, error) {
	out := PlatformPrices{BMV: bmv, UnitCost: unitCost}
	if math.IsNaN(bmv) || math.IsInf(bmv, 0) || bmv < 0 {
		return out, fmt.Errorf("bmv must be a non-negative number")
	}
	minPrice, err := c.MinimumPrice(unitCost)
	if err != nil {
		return out, err
	}
	out.MinimumPrice = minPrice

	b := decimal.NewFromFloat(bmv)
	cost := decimal.NewFromFloat(unitCost)
	scale := func(v decimal.Decimal, m float64) decimal.Decimal { return v.Mul(decimal.NewFromFloat(m)) }

	bin := decimal.Max(scale(b, cfg.EbayBIN.BMVMultiplier), scale(cost, cfg.EbayBIN.CostMultiplier))
	quote := func(price decimal.Decimal, feeRate float64) Quote {
		p := price.Ceil()
		net := p.Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(feeRate)))
		return Quote{
			Price:        p.IntPart(),
			NetProceeds:  net.Round(2).InexactFloat64(),
			BelowMinimum: p.IntPart() < minPrice,
		}
	}
	out.EbayBuyItNow = quote(bin, cfg.EbayFeeRate)
	out.EbayAutoAccept = quote(scale(bin, cfg.EbayBestOffer.AutoAcceptMultiplier), cfg.EbayFeeRate)
	out.EbayCounter = quote(scale(bin, cfg.EbayBestOffer.CounterMultiplier), cfg.EbayFeeRate)
	out.EbayAutoDecline = quote(scale(cost, cfg.EbayBestOffer.AutoDeclineCostMultiplier), cfg.EbayFeeRate)

	display := decimal.Max(scale(b, cfg.Whatnot.DisplayBMVMultiplier), scale(cost, cfg.Whatnot.DisplayCostMultiplier))
	out.WhatnotDisplay = quote(display, cfg.WhatnotFeeRate)
	out.WhatnotAuctionStart = quote(scale(cost, cfg.Whatnot.AuctionStartCostMultiplier), cfg.WhatnotFeeRate)
	return out, nil
}

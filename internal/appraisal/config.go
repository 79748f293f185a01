package appraisal

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/joelkehle/watchvault-pricing/internal/pricing"
)

// Pointer fields distinguish a missing key from a zero value.
type pricingConfigWire struct {
	EbayFeeRate    *float64       `json:"ebay_fee_rate" validate:"required,gte=0,lt=1"`
	WhatnotFeeRate *float64       `json:"whatnot_fee_rate" validate:"required,gte=0,lt=1"`
	EbayBIN        *binWire       `json:"ebay_bin_multipliers" validate:"required"`
	EbayBestOffer  *bestOfferWire `json:"ebay_best_offer" validate:"required"`
	Whatnot        *whatnotWire   `json:"whatnot" validate:"required"`
}

type binWire struct {
	BMVMultiplier  *float64 `json:"bmv_multiplier" validate:"required,gt=0"`
	CostMultiplier *float64 `json:"cost_multiplier" validate:"required,gt=0"`
}

type bestOfferWire struct {
	AutoAcceptMultiplier      *float64 `json:"auto_accept_multiplier" validate:"required,gt=0"`
	CounterMultiplier         *float64 `json:"counter_multiplier" validate:"required,gt=0"`
	AutoDeclineCostMultiplier *float64 `json:"auto_decline_cost_multiplier" validate:"required,gt=0"`
}

type whatnotWire struct {
	DisplayBMVMultiplier       *float64 `json:"display_bmv_multiplier" validate:"required,gt=0"`
	DisplayCostMultiplier      *float64 `json:"display_cost_multiplier" validate:"required,gt=0"`
	AuctionStartCostMultiplier *float64 `json:"auction_start_cost_multiplier" validate:"required,gt=0"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ParsePricingConfig decodes and validates the formula pass output. Any failure wraps
// ErrInvalidPricingConfig and yields no config.
func ParsePricingConfig(raw string) (pricing.FormulaConfig, error) {
	clean := stripCodeFences(raw)
	var w pricingConfigWire
	if err := json.Unmarshal([]byte(clean), &w); err != nil {
		return pricing.FormulaConfig{}, fmt.Errorf("%w: %v", ErrInvalidPricingConfig, err)
	}
	if err := validate.Struct(w); err != nil {
		return pricing.FormulaConfig{}, fmt.Errorf("%w: %s", ErrInvalidPricingConfig, describeValidation(err))
	}
	return pricing.FormulaConfig{
		EbayFeeRate:    *w.EbayFeeRate,
		WhatnotFeeRate: *w.WhatnotFeeRate,
		EbayBIN: pricing.BINMultipliers{
			BMVMultiplier:  *w.EbayBIN.BMVMultiplier,
			CostMultiplier: *w.EbayBIN.CostMultiplier,
		},
		EbayBestOffer: pricing.BestOfferMultipliers{
			AutoAcceptMultiplier:      *w.EbayBestOffer.AutoAcceptMultiplier,
			CounterMultiplier:         *w.EbayBestOffer.CounterMultiplier,
			AutoDeclineCostMultiplier: *w.EbayBestOffer.AutoDeclineCostMultiplier,
		},
		Whatnot: pricing.WhatnotMultipliers{
			DisplayBMVMultiplier:       *w.Whatnot.DisplayBMVMultiplier,
			DisplayCostMultiplier:      *w.Whatnot.DisplayCostMultiplier,
			AuctionStartCostMultiplier: *w.Whatnot.AuctionStartCostMultiplier,
		},
	}, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		if fe.Tag() == "required" {
			parts = append(parts, field+" is required")
			continue
		}
		parts = append(parts, fmt.Sprintf("%s fails %s=%s", field, fe.Tag(), fe.Param()))
	}
	return strings.Join(parts, "; ")
}
